package resource

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/hal/soft"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
	"golang.org/x/sync/errgroup"
)

type resourceSetup struct {
	device    *soft.Device
	allocator *vam.Allocator
	uploader  *upload.Uploader
}

func readySetup(t *testing.T) *resourceSetup {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	allocator, err := vam.New(nil, device, vam.CreateOptions{})
	require.NoError(t, err)

	uploader, err := upload.New(nil, device, allocator, upload.Options{
		RetainedSize: 1024,
		FenceTimeout: time.Second,
	})
	require.NoError(t, err)

	return &resourceSetup{device: device, allocator: allocator, uploader: uploader}
}

func (s *resourceSetup) submit(t *testing.T) {
	require.NoError(t, s.uploader.SubmitUploads(context.Background()))
}

func (s *resourceSetup) teardown(t *testing.T) {
	require.NoError(t, s.uploader.Destroy())
	require.Zero(t, s.allocator.AllocationCount())
	require.NoError(t, s.allocator.Destroy())
}

func TestBufferWriteRead(t *testing.T) {
	setup := readySetup(t)

	buffer, err := NewBuffer(setup.device, setup.allocator, BufferOptions{
		Size:     64,
		Usage:    hal.BufferUsageVertex,
		Location: vam.MemoryLocationCpuToGpu,
		Label:    "vertices",
	})
	require.NoError(t, err)
	require.True(t, buffer.IsHostVisible())
	require.Equal(t, "vertices", setup.allocator.Label(buffer.Handle()))

	require.NoError(t, buffer.Write(8, []byte("hello")))
	readBack := make([]byte, 5)
	require.NoError(t, buffer.Read(8, readBack))
	require.Equal(t, []byte("hello"), readBack)
	require.Equal(t, []byte("hello"), buffer.Buffer().(*soft.Buffer).Contents()[8:13])

	require.Error(t, buffer.Write(60, []byte("hello")))
	require.Error(t, buffer.Write(-1, []byte("h")))

	require.NoError(t, buffer.Destroy())
	require.NoError(t, buffer.Destroy())
	require.Panics(t, func() {
		_ = buffer.Write(0, []byte("late"))
	})

	setup.teardown(t)
}

func TestNewBufferRejectsEmpty(t *testing.T) {
	setup := readySetup(t)

	_, err := NewBuffer(setup.device, setup.allocator, BufferOptions{Label: "empty"})
	require.Error(t, err)
	require.Zero(t, setup.device.LiveObjects("buffer"))

	setup.teardown(t)
}

func TestGpuOnlyBufferUploads(t *testing.T) {
	setup := readySetup(t)

	buffer, err := NewBuffer(setup.device, setup.allocator, BufferOptions{
		Size:     32,
		Usage:    hal.BufferUsageStorage | hal.BufferUsageTransferDst,
		Location: vam.MemoryLocationGpuOnly,
		Label:    "particles",
	})
	require.NoError(t, err)
	require.False(t, buffer.IsHostVisible())

	require.Error(t, buffer.Write(0, []byte{1}))
	require.Error(t, buffer.Read(0, make([]byte, 1)))
	require.Error(t, buffer.Upload(setup.uploader, 30, []byte{1, 2, 3}, upload.BufferTargetStorage))

	require.NoError(t, buffer.Upload(setup.uploader, 4, []byte{1, 2, 3}, upload.BufferTargetStorage))
	setup.submit(t)
	require.Equal(t, []byte{1, 2, 3}, buffer.Buffer().(*soft.Buffer).Contents()[4:7])

	require.NoError(t, buffer.Destroy())
	setup.teardown(t)
}

func TestSubBuffers(t *testing.T) {
	setup := readySetup(t)

	buffer, err := NewBuffer(setup.device, setup.allocator, BufferOptions{
		Size:     256,
		Usage:    hal.BufferUsageUniform,
		Location: vam.MemoryLocationCpuToGpu,
		Label:    "uniforms",
	})
	require.NoError(t, err)

	first, err := buffer.SubBuffer(100, 64)
	require.NoError(t, err)
	require.Equal(t, 0, first.Offset())
	require.Equal(t, 100, first.Size())

	second, err := buffer.SubBuffer(100, 64)
	require.NoError(t, err)
	require.Equal(t, 128, second.Offset())
	require.Same(t, buffer, second.Parent())

	_, err = buffer.SubBuffer(100, 64)
	require.True(t, errors.Is(err, ErrSubBufferExhausted))
	_, err = buffer.SubBuffer(math.MaxInt, 2)
	require.True(t, errors.Is(err, ErrSubBufferExhausted))
	require.Equal(t, 2, buffer.SubBufferCount())

	require.NoError(t, second.Write(4, []byte("camera")))
	readBack := make([]byte, 6)
	require.NoError(t, buffer.Read(132, readBack))
	require.Equal(t, []byte("camera"), readBack)
	require.Error(t, second.Write(98, []byte("camera")))

	require.Panics(t, func() {
		_ = buffer.Destroy()
	})

	first.Release()
	first.Release()
	require.Equal(t, 1, buffer.SubBufferCount())
	require.Panics(t, func() {
		_ = first.Write(0, []byte{1})
	})

	third, err := buffer.SubBuffer(100, 64)
	require.NoError(t, err)
	require.Equal(t, 0, third.Offset())

	third.Release()
	second.Release()
	require.Zero(t, buffer.SubBufferCount())
	require.NoError(t, buffer.Destroy())

	setup.teardown(t)
}

func TestSubBuffersFromManyGoroutines(t *testing.T) {
	setup := readySetup(t)

	buffer, err := NewBuffer(setup.device, setup.allocator, BufferOptions{
		Size:     4096,
		Usage:    hal.BufferUsageStorage,
		Location: vam.MemoryLocationCpuToGpu,
		Label:    "shared",
	})
	require.NoError(t, err)

	var group errgroup.Group
	for worker := 0; worker < 8; worker++ {
		worker := worker
		group.Go(func() error {
			for i := 0; i < 50; i++ {
				sub, err := buffer.SubBuffer(16, 16)
				if err != nil {
					return err
				}
				if sub.Offset()%16 != 0 {
					return errors.Newf("worker %d got unaligned offset %d", worker, sub.Offset())
				}
				err = sub.Write(0, []byte{byte(worker)})
				if err != nil {
					return err
				}
				sub.Release()
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	require.Zero(t, buffer.SubBufferCount())

	require.NoError(t, buffer.Destroy())
	setup.teardown(t)
}

type vertex struct {
	X, Y, Z float32
}

func TestTypedBuffer(t *testing.T) {
	setup := readySetup(t)

	vertices, err := VertexBuffer[vertex](setup.device, setup.allocator, 4, "triangle")
	require.NoError(t, err)
	require.Equal(t, 4, vertices.Len())
	require.Equal(t, 48, vertices.Size())
	require.Equal(t, hal.BufferUsageVertex|hal.BufferUsageTransferDst, vertices.Usage())
	require.Equal(t, vam.MemoryLocationCpuToGpu, vertices.Location())

	triangle := []vertex{{0, 1, 0}, {-1, -1, 0}, {1, -1, 0}}
	require.NoError(t, vertices.WriteAll(triangle))

	readBack := make([]vertex, 2)
	require.NoError(t, vertices.Read(1, readBack))
	require.Equal(t, triangle[1:], readBack)

	require.Error(t, vertices.Write(3, triangle[:2]))

	require.NoError(t, vertices.Destroy())
	setup.teardown(t)
}

func TestTypedBufferConstructors(t *testing.T) {
	setup := readySetup(t)

	type constructor func(hal.Device, *vam.Allocator, int, string) (*TypedBuffer[uint32], error)
	testCases := []struct {
		name     string
		create   constructor
		usage    hal.BufferUsageFlags
		location vam.MemoryLocation
	}{
		{"index", IndexBuffer[uint32], hal.BufferUsageIndex | hal.BufferUsageTransferDst, vam.MemoryLocationCpuToGpu},
		{"storage", StorageBuffer[uint32], hal.BufferUsageStorage | hal.BufferUsageTransferDst, vam.MemoryLocationGpuOnly},
		{"uniform", UniformBuffer[uint32], hal.BufferUsageUniform | hal.BufferUsageTransferDst, vam.MemoryLocationGpuOnly},
		{"shared uniform", SharedUniformBuffer[uint32], hal.BufferUsageUniform, vam.MemoryLocationCpuToGpu},
		{"staging", StagingBuffer[uint32], hal.BufferUsageTransferSrc, vam.MemoryLocationCpuToGpu},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			buffer, err := testCase.create(setup.device, setup.allocator, 16, testCase.name)
			require.NoError(t, err)
			require.Equal(t, 64, buffer.Size())
			require.Equal(t, testCase.usage, buffer.Usage())
			require.Equal(t, testCase.location, buffer.Location())
			require.NoError(t, buffer.Destroy())
		})
	}

	_, err := IndexBuffer[uint32](setup.device, setup.allocator, 0, "empty")
	require.Error(t, err)
	_, err = IndexBuffer[struct{}](setup.device, setup.allocator, 4, "zero-size")
	require.Error(t, err)

	setup.teardown(t)
}

func TestTypedUniformUpload(t *testing.T) {
	setup := readySetup(t)

	uniforms, err := UniformBuffer[uint32](setup.device, setup.allocator, 4, "lights")
	require.NoError(t, err)
	require.Error(t, uniforms.WriteAll([]uint32{1, 2, 3, 4}))

	values := []uint32{7, 8}
	require.NoError(t, uniforms.Upload(setup.uploader, 1, values, upload.BufferTargetUniform))
	setup.submit(t)
	require.Equal(t, asBytes(values), uniforms.Buffer.Buffer().(*soft.Buffer).Contents()[4:12])

	require.NoError(t, uniforms.Destroy())
	setup.teardown(t)
}

func TestTextureUpload(t *testing.T) {
	setup := readySetup(t)

	texture, err := NewTexture(setup.device, setup.allocator, TextureOptions{
		Extent:      hal.Extent2D{Width: 4, Height: 2},
		Format:      hal.FormatR8G8B8A8Unorm,
		Usage:       hal.ImageUsageSampled,
		ArrayLayers: 2,
		Label:       "atlas",
	})
	require.NoError(t, err)
	require.Equal(t, 64, texture.Size())
	require.Equal(t, hal.ImageUsageSampled|hal.ImageUsageTransferDst, texture.Usage())

	data := make([]byte, texture.Size())
	for i := range data {
		data[i] = byte(i)
	}
	require.Error(t, texture.Upload(setup.uploader, data[:32]))

	require.NoError(t, texture.Upload(setup.uploader, data))
	setup.submit(t)

	image := texture.Image().(*soft.Image)
	require.Equal(t, data, image.Contents())
	require.Equal(t, hal.ImageLayoutShaderReadOnlyOptimal, image.Layout())
	require.Equal(t, setup.device.QueueFamilies().Graphics, image.Owner())

	require.NoError(t, texture.Destroy())
	require.NoError(t, texture.Destroy())
	require.Panics(t, func() {
		_ = texture.Upload(setup.uploader, data)
	})
	setup.teardown(t)
}

func TestNewTextureRejectsBadOptions(t *testing.T) {
	setup := readySetup(t)

	_, err := NewTexture(setup.device, setup.allocator, TextureOptions{
		Format: hal.FormatR8G8B8A8Unorm,
		Label:  "no extent",
	})
	require.Error(t, err)

	_, err = NewTexture(setup.device, setup.allocator, TextureOptions{
		Extent: hal.Extent2D{Width: 1, Height: 1},
		Label:  "no format",
	})
	require.Error(t, err)

	setup.teardown(t)
}

func TestMonochrome(t *testing.T) {
	setup := readySetup(t)

	texture, err := Monochrome(setup.device, setup.allocator, setup.uploader, [4]float32{1, 0.5, 0, 1}, "white-ish")
	require.NoError(t, err)
	require.Equal(t, hal.FormatR32G32B32A32Sfloat, texture.Format())
	require.Equal(t, hal.Extent2D{Width: 1, Height: 1}, texture.Extent())
	require.Equal(t, 1, setup.uploader.Enqueued())
	setup.submit(t)

	contents := texture.Image().(*soft.Image).Contents()
	require.Len(t, contents, 16)
	require.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(contents[0:4])))
	require.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(contents[4:8])))

	require.NoError(t, texture.Destroy())
	setup.teardown(t)
}

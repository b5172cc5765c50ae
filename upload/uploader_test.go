package upload

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/hal/soft"
	"github.com/vkngwrapper/freight/vam"
)

type uploaderSetup struct {
	device    *soft.Device
	allocator *vam.Allocator
	uploader  *Uploader
}

func readyUploader(t *testing.T, deviceOptions soft.DeviceOptions, options Options) *uploaderSetup {
	device := soft.NewDevice(nil, deviceOptions)
	allocator, err := vam.New(nil, device, vam.CreateOptions{})
	require.NoError(t, err)

	uploader, err := New(nil, device, allocator, options)
	require.NoError(t, err)

	return &uploaderSetup{
		device:    device,
		allocator: allocator,
		uploader:  uploader,
	}
}

func (s *uploaderSetup) deviceBuffer(t *testing.T, size int, usage hal.BufferUsageFlags) (*soft.Buffer, vam.Handle) {
	buffer, err := s.device.CreateBuffer(hal.BufferCreateInfo{Size: size, Usage: usage | hal.BufferUsageTransferDst, Label: "target"})
	require.NoError(t, err)

	handle, err := s.allocator.AllocateBuffer(buffer, buffer.MemoryRequirements(), vam.MemoryLocationGpuOnly, "target")
	require.NoError(t, err)

	return buffer.(*soft.Buffer), handle
}

func (s *uploaderSetup) deviceImage(t *testing.T, extent hal.Extent3D, layers int) (*soft.Image, vam.Handle) {
	image, err := s.device.CreateImage(hal.ImageCreateInfo{
		Extent:      extent,
		Format:      hal.FormatR8G8B8A8Unorm,
		Usage:       hal.ImageUsageSampled | hal.ImageUsageTransferDst,
		ArrayLayers: layers,
		Label:       "texture",
	})
	require.NoError(t, err)

	handle, err := s.allocator.AllocateImage(image, image.MemoryRequirements(), "texture")
	require.NoError(t, err)

	return image.(*soft.Image), handle
}

func (s *uploaderSetup) teardown(t *testing.T, handles ...vam.Handle) {
	require.NoError(t, s.uploader.Destroy())
	for _, handle := range handles {
		require.NoError(t, s.allocator.Deallocate(handle))
	}
	require.Zero(t, s.allocator.AllocationCount())
	require.NoError(t, s.allocator.Destroy())
}

func smallOptions() Options {
	return Options{
		Retention:    2,
		PoolSize:     3,
		RetainedSize: 1024,
		FenceTimeout: time.Second,
	}
}

func TestUploadBuffer(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	families := setup.device.QueueFamilies()
	dst, handle := setup.deviceBuffer(t, 256, hal.BufferUsageVertex)

	data := []byte("vertex data goes here")
	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 16, data, BufferTargetVertex))
	require.Equal(t, 1, setup.uploader.Enqueued())
	require.Equal(t, 1, setup.uploader.PoolLen())

	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, data, dst.Contents()[16:16+len(data)])
	require.Equal(t, families.Graphics, dst.Owner())

	require.Equal(t, 1, setup.uploader.Frame())
	require.Equal(t, 1, setup.uploader.Slot())
	require.Zero(t, setup.uploader.Enqueued())
	require.Equal(t, 1, setup.device.TransferQueue().(*soft.Queue).Submitted())
	require.Equal(t, 1, setup.device.GraphicsQueue().(*soft.Queue).Submitted())

	setup.teardown(t, handle)
}

func TestUploadBufferAgain(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	families := setup.device.QueueFamilies()
	dst, handle := setup.deviceBuffer(t, 64, hal.BufferUsageUniform)

	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, []byte("first"), BufferTargetUniform))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))

	// The graphics queue owns dst now; a second upload discards and re-transfers it
	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 8, []byte("second"), BufferTargetUniform))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))

	contents := dst.Contents()
	require.Equal(t, []byte("first"), contents[0:5])
	require.Equal(t, []byte("second"), contents[8:14])
	require.Equal(t, families.Graphics, dst.Owner())
	require.Equal(t, 0, setup.uploader.Slot())

	setup.teardown(t, handle)
}

func TestUploadManyInOneBatch(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	dst, handle := setup.deviceBuffer(t, 1024, hal.BufferUsageStorage)

	for i := 0; i < 4; i++ {
		data := make([]byte, 64)
		for j := range data {
			data[j] = byte(i + 1)
		}
		require.NoError(t, setup.uploader.EnqueueBuffer(dst, i*64, data, BufferTargetStorage))
	}
	require.Equal(t, 4, setup.uploader.Enqueued())
	// Each upload in the batch holds its own staging buffer
	require.Equal(t, 4, setup.uploader.PoolLen())

	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))

	contents := dst.Contents()
	for i := 0; i < 4; i++ {
		for j := 0; j < 64; j++ {
			require.Equal(t, byte(i+1), contents[i*64+j])
		}
	}

	setup.teardown(t, handle)
}

func TestUploadImage(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	families := setup.device.QueueFamilies()
	dst, handle := setup.deviceImage(t, hal.Extent3D{Width: 4, Height: 2}, 1)

	data := make([]byte, 4*2*4)
	for i := range data {
		data[i] = byte(i * 3)
	}

	require.NoError(t, setup.uploader.EnqueueImage(dst, data, ImageTargetSampled))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))

	require.Equal(t, data, dst.Contents())
	require.Equal(t, hal.ImageLayoutShaderReadOnlyOptimal, dst.Layout())
	require.Equal(t, families.Graphics, dst.Owner())

	setup.teardown(t, handle)
}

func TestUploadImageLayers(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	dst, handle := setup.deviceImage(t, hal.Extent3D{Width: 2, Height: 2}, 2)

	data := make([]byte, 2*2*4*2)
	for i := range data {
		data[i] = byte(255 - i)
	}

	target := ImageTargetSampled
	target.LayerCount = 2

	// One layer's worth of data is not enough for two layers
	err := setup.uploader.EnqueueImage(dst, data[:16], target)
	require.Error(t, err)
	require.Zero(t, setup.uploader.Enqueued())

	require.NoError(t, setup.uploader.EnqueueImage(dst, data, target))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, data, dst.Contents())

	setup.teardown(t, handle)
}

func TestUploadSharedQueueFamily(t *testing.T) {
	testCases := []struct {
		name     string
		families hal.QueueFamilies
	}{
		{name: "Family0", families: hal.QueueFamilies{Graphics: 0, Transfer: 0}},
		{name: "Family2", families: hal.QueueFamilies{Graphics: 2, Transfer: 2}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			deviceOptions := soft.DefaultDeviceOptions()
			deviceOptions.QueueFamilies = testCase.families
			setup := readyUploader(t, deviceOptions, smallOptions())
			require.Equal(t, testCase.families, setup.device.QueueFamilies())
			require.Same(t, setup.device.GraphicsQueue(), setup.device.TransferQueue())

			buffer, bufferHandle := setup.deviceBuffer(t, 32, hal.BufferUsageIndex)
			image, imageHandle := setup.deviceImage(t, hal.Extent3D{Width: 1, Height: 1}, 1)

			require.NoError(t, setup.uploader.EnqueueBuffer(buffer, 0, []byte{1, 2, 3, 4}, BufferTargetIndex))
			require.NoError(t, setup.uploader.EnqueueImage(image, []byte{9, 8, 7, 6}, ImageTargetSampled))
			require.NoError(t, setup.uploader.SubmitUploads(context.Background()))

			require.Equal(t, []byte{1, 2, 3, 4}, buffer.Contents()[:4])
			require.Equal(t, []byte{9, 8, 7, 6}, image.Contents())
			require.Equal(t, hal.ImageLayoutShaderReadOnlyOptimal, image.Layout())

			// No ownership transfer happens within a single family
			require.Equal(t, hal.QueueFamilyIgnored, buffer.Owner())
			require.Equal(t, hal.QueueFamilyIgnored, image.Owner())

			setup.teardown(t, bufferHandle, imageHandle)
		})
	}
}

func TestSubmitWithNothingEnqueued(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())

	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, 1, setup.uploader.Frame())
	require.Equal(t, 1, setup.uploader.Slot())

	require.NoError(t, setup.uploader.Begin())
	require.NoError(t, setup.uploader.Begin())
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, 2, setup.uploader.Frame())
	require.Equal(t, 0, setup.uploader.Slot())

	require.Zero(t, setup.device.TransferQueue().(*soft.Queue).Submitted())
	require.Zero(t, setup.device.GraphicsQueue().(*soft.Queue).Submitted())

	setup.teardown(t)
}

func TestStagingPoolSettlesAtPoolSize(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	dst, handle := setup.deviceBuffer(t, 4096, hal.BufferUsageVertex)

	data := make([]byte, 100)
	for frame := 0; frame < 4; frame++ {
		for i := 0; i < 5; i++ {
			require.NoError(t, setup.uploader.EnqueueBuffer(dst, i*100, data, BufferTargetVertex))
		}
		require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	}
	require.Greater(t, setup.uploader.PoolLen(), 3)

	for frame := 0; frame < 4; frame++ {
		require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	}
	require.Equal(t, 3, setup.uploader.PoolLen())
	require.Equal(t, 4, setup.allocator.AllocationCount())

	setup.teardown(t, handle)
}

func TestOversizedStagingIsEvicted(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	dst, handle := setup.deviceBuffer(t, 8192, hal.BufferUsageVertex)

	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, make([]byte, 4096), BufferTargetVertex))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, 1, setup.uploader.PoolLen())

	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, 1, setup.uploader.PoolLen())

	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Zero(t, setup.uploader.PoolLen())

	setup.teardown(t, handle)
}

func TestStagingReusedAfterRetention(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	dst, handle := setup.deviceBuffer(t, 256, hal.BufferUsageVertex)

	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, []byte("abc"), BufferTargetVertex))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))

	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 3, []byte("def"), BufferTargetVertex))
	require.Equal(t, 1, setup.uploader.PoolLen())
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, []byte("abcdef"), dst.Contents()[:6])

	setup.teardown(t, handle)
}

func TestUploadOutOfMemoryIsRecoverable(t *testing.T) {
	deviceOptions := soft.DefaultDeviceOptions()
	deviceOptions.MemoryProperties.MemoryHeaps[1].Size = 4096
	setup := readyUploader(t, deviceOptions, smallOptions())
	dst, handle := setup.deviceBuffer(t, 16384, hal.BufferUsageVertex)

	err := setup.uploader.EnqueueBuffer(dst, 0, make([]byte, 8192), BufferTargetVertex)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfMemory))
	require.False(t, hal.IsDeviceError(err))
	require.Zero(t, setup.uploader.Enqueued())

	// The caller can defer the upload and carry on with smaller ones
	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, []byte("fits"), BufferTargetVertex))
	require.NoError(t, setup.uploader.SubmitUploads(context.Background()))
	require.Equal(t, []byte("fits"), dst.Contents()[:4])

	setup.teardown(t, handle)
}

func TestUploadHungDeviceIsDeviceLost(t *testing.T) {
	options := smallOptions()
	options.FenceTimeout = 20 * time.Millisecond
	setup := readyUploader(t, soft.DeviceOptions{}, options)
	dst, _ := setup.deviceBuffer(t, 64, hal.BufferUsageVertex)

	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, []byte("stuck"), BufferTargetVertex))
	setup.device.Hang()

	err := setup.uploader.SubmitUploads(context.Background())
	require.Error(t, err)
	require.True(t, hal.IsDeviceError(err))
	require.True(t, errors.Is(err, hal.ErrDeviceLost))
	require.Zero(t, setup.uploader.Frame())

	require.Panics(t, func() {
		_ = setup.uploader.EnqueueBuffer(dst, 0, []byte("more"), BufferTargetVertex)
	})
}

func TestUploadWaitBoundedByContext(t *testing.T) {
	options := smallOptions()
	options.FenceTimeout = time.Minute
	setup := readyUploader(t, soft.DeviceOptions{}, options)
	dst, _ := setup.deviceBuffer(t, 64, hal.BufferUsageVertex)

	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, []byte("stuck"), BufferTargetVertex))
	setup.device.Hang()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := setup.uploader.SubmitUploads(ctx)
	require.True(t, errors.Is(err, hal.ErrDeviceLost))
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	dst, handle := setup.deviceBuffer(t, 64, hal.BufferUsageVertex)

	require.Error(t, setup.uploader.EnqueueBuffer(dst, 0, nil, BufferTargetVertex))
	require.Error(t, setup.uploader.EnqueueBuffer(dst, 60, make([]byte, 8), BufferTargetVertex))
	require.Error(t, setup.uploader.EnqueueBuffer(dst, -1, make([]byte, 8), BufferTargetVertex))
	require.Zero(t, setup.uploader.Enqueued())
	require.Zero(t, setup.uploader.PoolLen())

	setup.teardown(t, handle)
}

func TestUploaderDestroy(t *testing.T) {
	setup := readyUploader(t, soft.DeviceOptions{}, smallOptions())
	require.Equal(t, 4, setup.device.LiveObjects("commandPool"))
	require.Equal(t, 4, setup.device.LiveObjects("fence"))
	require.Equal(t, 2, setup.device.LiveObjects("semaphore"))

	dst, handle := setup.deviceBuffer(t, 64, hal.BufferUsageVertex)
	require.NoError(t, setup.uploader.EnqueueBuffer(dst, 0, []byte("pending"), BufferTargetVertex))

	require.NoError(t, setup.uploader.Destroy())
	require.NoError(t, setup.uploader.Destroy())

	require.Zero(t, setup.device.LiveObjects("commandPool"))
	require.Zero(t, setup.device.LiveObjects("commandBuffer"))
	require.Zero(t, setup.device.LiveObjects("fence"))
	require.Zero(t, setup.device.LiveObjects("semaphore"))
	require.Equal(t, 1, setup.allocator.AllocationCount())

	require.NoError(t, setup.allocator.Deallocate(handle))
	require.NoError(t, setup.allocator.Destroy())
}

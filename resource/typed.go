package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
)

// TypedBuffer is a Buffer holding a fixed number of T. T must not contain pointers: its memory is
// copied to the device byte for byte.
type TypedBuffer[T any] struct {
	*Buffer
	count int
}

func elementSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func asBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), len(data)*elementSize[T]())
}

// NewTypedBuffer creates a buffer large enough for count elements of T
func NewTypedBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, usage hal.BufferUsageFlags, location vam.MemoryLocation, label string) (*TypedBuffer[T], error) {
	size := elementSize[T]()
	if size == 0 {
		return nil, errors.Newf("attempted to create typed buffer %q of a zero-size element", label)
	}
	if count <= 0 {
		return nil, errors.Newf("attempted to create typed buffer %q with %d elements", label, count)
	}

	buffer, err := NewBuffer(device, allocator, BufferOptions{
		Size:     count * size,
		Usage:    usage,
		Location: location,
		Label:    label,
	})
	if err != nil {
		return nil, err
	}

	return &TypedBuffer[T]{Buffer: buffer, count: count}, nil
}

func IndexBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, label string) (*TypedBuffer[T], error) {
	return NewTypedBuffer[T](device, allocator, count, hal.BufferUsageIndex|hal.BufferUsageTransferDst, vam.MemoryLocationCpuToGpu, label)
}

func VertexBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, label string) (*TypedBuffer[T], error) {
	return NewTypedBuffer[T](device, allocator, count, hal.BufferUsageVertex|hal.BufferUsageTransferDst, vam.MemoryLocationCpuToGpu, label)
}

// StorageBuffer lives in device-local memory and must be filled with Upload
func StorageBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, label string) (*TypedBuffer[T], error) {
	return NewTypedBuffer[T](device, allocator, count, hal.BufferUsageStorage|hal.BufferUsageTransferDst, vam.MemoryLocationGpuOnly, label)
}

// UniformBuffer lives in device-local memory and must be filled with Upload
func UniformBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, label string) (*TypedBuffer[T], error) {
	return NewTypedBuffer[T](device, allocator, count, hal.BufferUsageUniform|hal.BufferUsageTransferDst, vam.MemoryLocationGpuOnly, label)
}

// SharedUniformBuffer is a uniform buffer the host rewrites directly, typically every frame
func SharedUniformBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, label string) (*TypedBuffer[T], error) {
	return NewTypedBuffer[T](device, allocator, count, hal.BufferUsageUniform, vam.MemoryLocationCpuToGpu, label)
}

func StagingBuffer[T any](device hal.Device, allocator *vam.Allocator, count int, label string) (*TypedBuffer[T], error) {
	return NewTypedBuffer[T](device, allocator, count, hal.BufferUsageTransferSrc, vam.MemoryLocationCpuToGpu, label)
}

// Len is the number of elements the buffer holds
func (b *TypedBuffer[T]) Len() int { return b.count }

// Write copies data into the buffer starting at element index
func (b *TypedBuffer[T]) Write(index int, data []T) error {
	return b.Buffer.Write(index*elementSize[T](), asBytes(data))
}

func (b *TypedBuffer[T]) WriteAll(data []T) error {
	return b.Write(0, data)
}

// Read copies len(dst) elements starting at element index into dst
func (b *TypedBuffer[T]) Read(index int, dst []T) error {
	return b.Buffer.Read(index*elementSize[T](), asBytes(dst))
}

// Upload enqueues a staged copy of data into the buffer starting at element index
func (b *TypedBuffer[T]) Upload(uploader Uploader, index int, data []T, target upload.BufferTarget) error {
	return b.Buffer.Upload(uploader, index*elementSize[T](), asBytes(data), target)
}

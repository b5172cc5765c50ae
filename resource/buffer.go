package resource

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils/freelist"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
)

// ErrSubBufferExhausted is returned by Buffer.SubBuffer when no free range of the parent buffer
// can hold the request
var ErrSubBufferExhausted = errors.New("no free range in buffer")

// Uploader records staged copies into device-local resources. *upload.Uploader implements it.
type Uploader interface {
	EnqueueBuffer(dst hal.Buffer, offset int, data []byte, target upload.BufferTarget) error
	EnqueueImage(dst hal.Image, data []byte, target upload.ImageTarget) error
}

type BufferOptions struct {
	Size     int
	Usage    hal.BufferUsageFlags
	Location vam.MemoryLocation
	Label    string
}

// Buffer is a native buffer bound to memory from a vam.Allocator
type Buffer struct {
	allocator *vam.Allocator
	handle    vam.Handle
	buffer    hal.Buffer
	options   BufferOptions

	subLock        sync.Mutex
	subAllocations *freelist.FreeList
}

func NewBuffer(device hal.Device, allocator *vam.Allocator, options BufferOptions) (*Buffer, error) {
	if options.Size <= 0 {
		return nil, errors.Newf("attempted to create buffer %q with non-positive size %d", options.Label, options.Size)
	}

	buffer, err := device.CreateBuffer(hal.BufferCreateInfo{
		Size:  options.Size,
		Usage: options.Usage,
		Label: options.Label,
	})
	if err != nil {
		return nil, hal.NewDeviceError("Buffer::New", err)
	}

	handle, err := allocator.AllocateBuffer(buffer, buffer.MemoryRequirements(), options.Location, options.Label)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	return &Buffer{
		allocator: allocator,
		handle:    handle,
		buffer:    buffer,
		options:   options,
	}, nil
}

func (b *Buffer) Handle() vam.Handle           { return b.handle }
func (b *Buffer) Buffer() hal.Buffer           { return b.buffer }
func (b *Buffer) Size() int                    { return b.options.Size }
func (b *Buffer) Usage() hal.BufferUsageFlags  { return b.options.Usage }
func (b *Buffer) Location() vam.MemoryLocation { return b.options.Location }
func (b *Buffer) Label() string                { return b.options.Label }
func (b *Buffer) IsHostVisible() bool          { return b.allocator.MappedData(b.checkAlive()) != nil }
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(%s, %d bytes)", b.options.Label, b.options.Size)
}

func (b *Buffer) checkRange(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > b.options.Size {
		return errors.Newf("range [%d, %d) is outside %s", offset, offset+length, b)
	}
	return nil
}

func (b *Buffer) checkAlive() vam.Handle {
	if b.handle == vam.NullHandle {
		panic(fmt.Sprintf("attempted to use %s after it was destroyed", b))
	}
	return b.handle
}

// Write copies data into the buffer's host mapping at offset. Buffers in memory the host cannot
// map must be filled with Upload instead.
func (b *Buffer) Write(offset int, data []byte) error {
	handle := b.checkAlive()
	if b.allocator.MappedData(handle) == nil {
		return errors.Newf("%s is not host-visible, upload to it instead", b)
	}
	err := b.checkRange(offset, len(data))
	if err != nil {
		return err
	}

	b.allocator.Write(handle, offset, data)
	return nil
}

// Read copies len(dst) bytes from the buffer's host mapping at offset
func (b *Buffer) Read(offset int, dst []byte) error {
	handle := b.checkAlive()
	if b.allocator.MappedData(handle) == nil {
		return errors.Newf("%s is not host-visible", b)
	}
	err := b.checkRange(offset, len(dst))
	if err != nil {
		return err
	}

	b.allocator.Read(handle, offset, dst)
	return nil
}

// Upload enqueues a staged copy of data into the buffer at offset. The copy is visible to target
// once the uploader's batch has been submitted.
func (b *Buffer) Upload(uploader Uploader, offset int, data []byte, target upload.BufferTarget) error {
	b.checkAlive()
	err := b.checkRange(offset, len(data))
	if err != nil {
		return err
	}

	return uploader.EnqueueBuffer(b.buffer, offset, data, target)
}

// SubBuffer carves an aligned range of size bytes out of the buffer. The range stays reserved
// until the SubBuffer is released. SubBuffer is safe to call from multiple goroutines.
func (b *Buffer) SubBuffer(size int, alignment uint) (*SubBuffer, error) {
	b.checkAlive()

	b.subLock.Lock()
	defer b.subLock.Unlock()

	if b.subAllocations == nil {
		b.subAllocations = freelist.New(b.options.Size)
	}

	id, ok := b.subAllocations.Allocate(size, alignment)
	if !ok {
		return nil, errors.Wrapf(ErrSubBufferExhausted, "%d bytes aligned to %d in %s", size, alignment, b)
	}
	offset, _ := b.subAllocations.Offset(id)

	return &SubBuffer{
		parent: b,
		id:     id,
		offset: offset,
		size:   size,
	}, nil
}

// SubBufferCount is the number of SubBuffers that have not been released
func (b *Buffer) SubBufferCount() int {
	b.subLock.Lock()
	defer b.subLock.Unlock()

	if b.subAllocations == nil {
		return 0
	}
	return b.subAllocations.AllocationCount()
}

func (b *Buffer) freeSubBuffer(id freelist.ID) {
	b.subLock.Lock()
	defer b.subLock.Unlock()

	b.subAllocations.Free(id)
}

// Destroy returns the buffer and its memory to the allocator. Every SubBuffer must be released
// first. Destroying twice does nothing.
func (b *Buffer) Destroy() error {
	if b.handle == vam.NullHandle {
		return nil
	}
	if live := b.SubBufferCount(); live > 0 {
		panic(fmt.Sprintf("attempted to destroy %s while %d sub-buffers are still live", b, live))
	}

	err := b.allocator.Deallocate(b.handle)
	b.handle = vam.NullHandle
	b.buffer = nil
	return err
}

// SubBuffer is a range of a parent Buffer reserved through Buffer.SubBuffer
type SubBuffer struct {
	parent   *Buffer
	id       freelist.ID
	offset   int
	size     int
	released bool
}

func (s *SubBuffer) Parent() *Buffer { return s.parent }
func (s *SubBuffer) Offset() int     { return s.offset }
func (s *SubBuffer) Size() int       { return s.size }

func (s *SubBuffer) checkRange(offset, length int) error {
	if s.released {
		panic(fmt.Sprintf("attempted to use sub-buffer [%d, %d) of %s after it was released", s.offset, s.offset+s.size, s.parent))
	}
	if offset < 0 || length < 0 || offset+length > s.size {
		return errors.Newf("range [%d, %d) is outside a %d byte sub-buffer", offset, offset+length, s.size)
	}
	return nil
}

// Write copies data to offset bytes into the sub-buffer, through the parent's host mapping
func (s *SubBuffer) Write(offset int, data []byte) error {
	err := s.checkRange(offset, len(data))
	if err != nil {
		return err
	}
	return s.parent.Write(s.offset+offset, data)
}

func (s *SubBuffer) Upload(uploader Uploader, offset int, data []byte, target upload.BufferTarget) error {
	err := s.checkRange(offset, len(data))
	if err != nil {
		return err
	}
	return s.parent.Upload(uploader, s.offset+offset, data, target)
}

// Release returns the range to the parent buffer. Releasing twice does nothing.
func (s *SubBuffer) Release() {
	if s.released {
		return
	}
	s.released = true
	s.parent.freeSubBuffer(s.id)
}

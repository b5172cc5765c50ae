package upload

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/vam"
	"golang.org/x/exp/slog"
)

// BufferCreator creates unbound buffers. hal.Device satisfies it.
type BufferCreator interface {
	CreateBuffer(info hal.BufferCreateInfo) (hal.Buffer, error)
}

// StagingBuffer is a host-visible transfer source owned by a StagingPool. It is reference
// counted: the pool never hands it out again, or evicts it, while a reference is held.
type StagingBuffer struct {
	handle   vam.Handle
	buffer   hal.Buffer
	capacity int
	expires  int
	refs     int32
}

func (b *StagingBuffer) Handle() vam.Handle { return b.handle }
func (b *StagingBuffer) Buffer() hal.Buffer { return b.buffer }
func (b *StagingBuffer) Capacity() int      { return b.capacity }

// Expires is the last pool frame in which the buffer is still considered claimed
func (b *StagingBuffer) Expires() int { return b.expires }

func (b *StagingBuffer) References() int {
	return int(atomic.LoadInt32(&b.refs))
}

func (b *StagingBuffer) Retain() {
	atomic.AddInt32(&b.refs, 1)
}

func (b *StagingBuffer) Release() {
	if atomic.AddInt32(&b.refs, -1) < 0 {
		panic(fmt.Sprintf("staging buffer %d released more times than it was retained", b.handle))
	}
}

type PoolOptions struct {
	// Size is the number of idle staging buffers kept across frames
	Size int
	// Retention is the number of frames a staging buffer stays claimed after it is handed out
	Retention int
	// RetainedSize is the minimum capacity of a new staging buffer. Idle buffers larger than
	// this are evicted before any other.
	RetainedSize int
}

// StagingPool recycles staging buffers across frames. A buffer handed out in frame f is claimed
// through frame f+Retention, after which it may be handed out again or evicted by Update.
//
// StagingPool is not safe for concurrent use.
type StagingPool struct {
	logger    *slog.Logger
	creator   BufferCreator
	allocator *vam.Allocator
	options   PoolOptions

	buffers []*StagingBuffer
	frame   int
}

func NewStagingPool(logger *slog.Logger, creator BufferCreator, allocator *vam.Allocator, options PoolOptions) *StagingPool {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	return &StagingPool{
		logger:    logger,
		creator:   creator,
		allocator: allocator,
		options:   options,
	}
}

func (p *StagingPool) Len() int   { return len(p.buffers) }
func (p *StagingPool) Frame() int { return p.frame }

// Next returns a retained staging buffer of at least size bytes. It reuses the first buffer in
// the pool that is large enough, whose claim has expired and that nobody references; otherwise
// it allocates a new buffer of max(size, RetainedSize) bytes. Allocation exhaustion returns an
// error marked ErrOutOfMemory.
func (p *StagingPool) Next(size int) (*StagingBuffer, error) {
	if size <= 0 {
		return nil, errors.Newf("attempted to claim a staging buffer of %d bytes", size)
	}

	for _, buffer := range p.buffers {
		if buffer.capacity >= size && buffer.expires < p.frame && buffer.References() == 0 {
			buffer.expires = p.frame + p.options.Retention
			buffer.Retain()
			return buffer, nil
		}
	}

	capacity := size
	if capacity < p.options.RetainedSize {
		capacity = p.options.RetainedSize
	}

	buffer, err := p.create(capacity)
	if err != nil {
		return nil, err
	}

	buffer.expires = p.frame + p.options.Retention
	buffer.Retain()
	p.buffers = append(p.buffers, buffer)

	p.logger.Debug("StagingPool::Next created buffer",
		slog.Int("Capacity", capacity),
		slog.Int("Frame", p.frame),
		slog.Int("PoolLen", len(p.buffers)))

	return buffer, nil
}

func outOfMemory(err error) bool {
	return errors.Is(err, hal.ErrOutOfDeviceMemory) ||
		errors.Is(err, hal.ErrOutOfHostMemory) ||
		errors.Is(err, hal.ErrTooManyObjects)
}

func (p *StagingPool) create(capacity int) (*StagingBuffer, error) {
	buffer, err := p.creator.CreateBuffer(hal.BufferCreateInfo{
		Size:  capacity,
		Usage: hal.BufferUsageTransferSrc,
		Label: "staging",
	})
	if err != nil {
		if outOfMemory(err) {
			return nil, errors.WithSecondaryError(errors.Wrapf(ErrOutOfMemory, "could not create a %d byte staging buffer", capacity), err)
		}
		return nil, hal.NewDeviceError("StagingPool::Next", err)
	}

	handle, err := p.allocator.AllocateBuffer(buffer, buffer.MemoryRequirements(), vam.MemoryLocationCpuToGpu, "staging")
	if err != nil {
		buffer.Destroy()
		if outOfMemory(err) {
			return nil, errors.WithSecondaryError(errors.Wrapf(ErrOutOfMemory, "could not allocate a %d byte staging buffer", capacity), err)
		}
		return nil, err
	}

	return &StagingBuffer{
		handle:   handle,
		buffer:   buffer,
		capacity: capacity,
	}, nil
}

// Update runs eviction at a frame boundary and then advances the pool's frame. Buffers whose
// claim has not expired, or that are still referenced, are kept. Of the others, buffers larger
// than RetainedSize are dropped, then the oldest are kept until the pool holds Size buffers and
// the rest are dropped.
func (p *StagingPool) Update() error {
	var kept, idle, dropped []*StagingBuffer

	for _, buffer := range p.buffers {
		if buffer.expires > p.frame || buffer.References() > 0 {
			kept = append(kept, buffer)
		} else if buffer.capacity > p.options.RetainedSize {
			dropped = append(dropped, buffer)
		} else {
			idle = append(idle, buffer)
		}
	}

	remaining := p.options.Size - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(idle) {
		remaining = len(idle)
	}
	kept = append(kept, idle[:remaining]...)
	dropped = append(dropped, idle[remaining:]...)

	p.buffers = kept
	p.frame++

	// Every dropped buffer is already out of the pool, so each one is deallocated even when an
	// earlier one fails
	var err error
	for _, buffer := range dropped {
		err = errors.CombineErrors(err, p.allocator.Deallocate(buffer.handle))
	}

	if len(dropped) > 0 {
		p.logger.Debug("StagingPool::Update evicted buffers",
			slog.Int("Evicted", len(dropped)),
			slog.Int("PoolLen", len(p.buffers)))
	}

	return err
}

// Destroy deallocates every buffer in the pool. Buffers still referenced are deallocated too,
// so the caller must have waited for the device first.
func (p *StagingPool) Destroy() error {
	var err error
	for _, buffer := range p.buffers {
		err = errors.CombineErrors(err, p.allocator.Deallocate(buffer.handle))
	}
	p.buffers = nil

	return err
}

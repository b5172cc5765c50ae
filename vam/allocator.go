package vam

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

// Allocator owns every device memory allocation made for buffers and images. Callers refer to
// an allocation and the resource bound to it only through a Handle. Records never leave the
// allocator, so destruction order is controlled in one place.
type Allocator struct {
	useMutex bool
	logger   *slog.Logger
	device   hal.MemoryDevice

	createFlags                 CreateFlags
	preferredLargeHeapBlockSize int

	deviceMemory         *deviceMemoryProperties
	bufferBlockLists     []*memoryBlockList
	imageBlockLists      []*memoryBlockList
	dedicatedAllocations []*dedicatedAllocationList

	handleMutex optionalRWMutex
	allocations *swiss.Map[Handle, *allocation]
	nextHandle  uint64
}

func (a *Allocator) register(alloc *allocation) Handle {
	alloc.handle = Handle(atomic.AddUint64(&a.nextHandle, 1))

	a.handleMutex.Lock()
	defer a.handleMutex.Unlock()

	a.allocations.Put(alloc.handle, alloc)
	return alloc.handle
}

func (a *Allocator) unregister(handle Handle) *allocation {
	a.handleMutex.Lock()
	defer a.handleMutex.Unlock()

	alloc, ok := a.allocations.Get(handle)
	if !ok {
		panic(fmt.Sprintf("attempted to deallocate unknown allocation handle %d", handle))
	}
	a.allocations.Delete(handle)
	return alloc
}

func (a *Allocator) lookup(handle Handle) *allocation {
	a.handleMutex.RLock()
	defer a.handleMutex.RUnlock()

	alloc, ok := a.allocations.Get(handle)
	if !ok {
		panic(fmt.Sprintf("attempted to use unknown allocation handle %d", handle))
	}
	return alloc
}

// AllocationCount is the number of live handles
func (a *Allocator) AllocationCount() int {
	a.handleMutex.RLock()
	defer a.handleMutex.RUnlock()

	return a.allocations.Count()
}

// Deallocate destroys the buffer or image behind handle and frees its memory. The handle is
// invalid afterward. Passing an unknown or already-deallocated handle panics.
func (a *Allocator) Deallocate(handle Handle) error {
	a.logger.Debug("Allocator::Deallocate", slog.Uint64("Handle", uint64(handle)))

	alloc := a.unregister(handle)
	a.destroyResource(alloc)
	err := a.freeMemory(alloc)
	if err != nil {
		return errors.Wrapf(err, "failed to free the memory of allocation %d", handle)
	}

	return nil
}

func (a *Allocator) destroyResource(alloc *allocation) {
	if alloc.buffer != nil {
		alloc.buffer.Destroy()
		alloc.buffer = nil
	}
	if alloc.image != nil {
		alloc.image.Destroy()
		alloc.image = nil
	}
}

// Write copies data into the mapped memory of handle, starting offset bytes in. Writing to an
// allocation that is not host-visible, or past its end, panics.
func (a *Allocator) Write(handle Handle, offset int, data []byte) {
	mapped := a.hostView(handle, offset, len(data), "write to")
	copy(mapped[offset:], data)
}

// Read copies len(dst) bytes of the mapped memory of handle into dst, starting offset bytes in.
// It has the same restrictions as Write.
func (a *Allocator) Read(handle Handle, offset int, dst []byte) {
	mapped := a.hostView(handle, offset, len(dst), "read from")
	copy(dst, mapped[offset:offset+len(dst)])
}

func (a *Allocator) hostView(handle Handle, offset, length int, verb string) []byte {
	alloc := a.lookup(handle)
	mapped := alloc.MappedData()
	if mapped == nil {
		panic(fmt.Sprintf("attempted to %s allocation %d (%s), which is not host-visible", verb, handle, alloc.location))
	}
	if offset < 0 || length < 0 || offset+length > len(mapped) {
		panic(fmt.Sprintf("attempted to %s bytes [%d, %d) of allocation %d, which is only %d bytes", verb, offset, offset+length, handle, len(mapped)))
	}

	return mapped
}

// MappedData returns the persistent host mapping of handle, or nil if it is not host-visible
func (a *Allocator) MappedData(handle Handle) []byte {
	return a.lookup(handle).MappedData()
}

// Buffer returns the buffer bound to handle. It panics if handle is unknown or backs an image.
func (a *Allocator) Buffer(handle Handle) hal.Buffer {
	alloc := a.lookup(handle)
	if alloc.buffer == nil {
		panic(fmt.Sprintf("allocation handle %d does not back a buffer", handle))
	}
	return alloc.buffer
}

// Image returns the image bound to handle. It panics if handle is unknown or backs a buffer.
func (a *Allocator) Image(handle Handle) hal.Image {
	alloc := a.lookup(handle)
	if alloc.image == nil {
		panic(fmt.Sprintf("allocation handle %d does not back an image", handle))
	}
	return alloc.image
}

func (a *Allocator) Label(handle Handle) string {
	return a.lookup(handle).label
}

func (a *Allocator) Location(handle Handle) MemoryLocation {
	return a.lookup(handle).location
}

// Size is the number of bytes of device memory reserved for handle
func (a *Allocator) Size(handle Handle) int {
	return a.lookup(handle).size
}

// MemoryTypeIndex is the device memory type that handle was allocated from
func (a *Allocator) MemoryTypeIndex(handle Handle) int {
	return a.lookup(handle).memoryTypeIndex
}

// IsDedicated reports whether handle owns a whole device allocation rather than part of a block
func (a *Allocator) IsDedicated(handle Handle) bool {
	return a.lookup(handle).allocationType == allocationTypeDedicated
}

// Validate checks the consistency of every block and dedicated list
func (a *Allocator) Validate() error {
	for typeIndex := range a.bufferBlockLists {
		err := a.bufferBlockLists[typeIndex].Validate()
		if err != nil {
			return err
		}
		err = a.imageBlockLists[typeIndex].Validate()
		if err != nil {
			return err
		}
		err = a.dedicatedAllocations[typeIndex].Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// Destroy frees all device memory owned by the allocator. Allocations that are still live are
// logged, their resources destroyed and their memory freed, and an error reporting them is
// returned.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	var leaked []*allocation
	var freeErr error
	a.handleMutex.Lock()
	a.allocations.Iter(func(handle Handle, alloc *allocation) bool {
		leaked = append(leaked, alloc)
		return false
	})
	a.allocations = swiss.NewMap[Handle, *allocation](42)
	a.handleMutex.Unlock()

	for _, alloc := range leaked {
		name := alloc.label
		if name == "" {
			name = "empty"
		}

		a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] allocation was not deallocated",
			slog.Uint64("handle", uint64(alloc.handle)),
			slog.Int("size", alloc.size),
			slog.String("location", alloc.location.String()),
			slog.String("name", name),
		)

		a.destroyResource(alloc)
		freeErr = errors.CombineErrors(freeErr, a.freeMemory(alloc))
	}
	if freeErr != nil {
		return freeErr
	}

	for typeIndex := range a.bufferBlockLists {
		err := a.bufferBlockLists[typeIndex].Destroy()
		if err != nil {
			return err
		}
		err = a.imageBlockLists[typeIndex].Destroy()
		if err != nil {
			return err
		}
	}

	if len(leaked) > 0 {
		return errors.Newf("%d allocations were not deallocated before the allocator was destroyed", len(leaked))
	}

	return nil
}

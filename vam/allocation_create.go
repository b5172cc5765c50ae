package vam

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils"
	"golang.org/x/exp/slog"
)

// AllocateBuffer finds memory suitable for location among the memory types that requirements
// allows, binds it to buffer, and registers both under a new Handle. The Allocator takes
// ownership of buffer: it is destroyed by Deallocate.
//
// Running out of device memory returns a *hal.DeviceError that matches hal.ErrOutOfDeviceMemory
// with errors.Is.
func (a *Allocator) AllocateBuffer(buffer hal.Buffer, requirements hal.MemoryRequirements, location MemoryLocation, label string) (Handle, error) {
	a.logger.Debug("Allocator::AllocateBuffer", slog.Int("Size", requirements.Size), slog.String("Location", location.String()), slog.String("Label", label))

	if buffer == nil {
		return NullHandle, errors.New("attempted to allocate for a nil buffer")
	}

	alloc, err := a.allocate(requirements, location, suballocationBuffer, label)
	if err != nil {
		return NullHandle, err
	}

	err = a.device.BindBufferMemory(buffer, alloc.Memory(), alloc.Offset())
	if err != nil {
		return NullHandle, errors.CombineErrors(
			hal.NewDeviceError("Allocator::AllocateBuffer", err),
			a.freeMemory(alloc),
		)
	}

	alloc.buffer = buffer
	return a.register(alloc), nil
}

// AllocateImage behaves like AllocateBuffer for an optimally-tiled image. Images are always
// placed in MemoryLocationGpuOnly memory.
func (a *Allocator) AllocateImage(image hal.Image, requirements hal.MemoryRequirements, label string) (Handle, error) {
	a.logger.Debug("Allocator::AllocateImage", slog.Int("Size", requirements.Size), slog.String("Label", label))

	if image == nil {
		return NullHandle, errors.New("attempted to allocate for a nil image")
	}

	alloc, err := a.allocate(requirements, MemoryLocationGpuOnly, suballocationImage, label)
	if err != nil {
		return NullHandle, err
	}

	err = a.device.BindImageMemory(image, alloc.Memory(), alloc.Offset())
	if err != nil {
		return NullHandle, errors.CombineErrors(
			hal.NewDeviceError("Allocator::AllocateImage", err),
			a.freeMemory(alloc),
		)
	}

	alloc.image = image
	return a.register(alloc), nil
}

func (a *Allocator) allocate(requirements hal.MemoryRequirements, location MemoryLocation, subType suballocationType, label string) (*allocation, error) {
	alignment := requirements.Alignment
	if alignment == 0 {
		alignment = 1
	}

	err := memutils.CheckPow2(alignment, "hal.MemoryRequirements.Alignment")
	if err != nil {
		return nil, err
	}

	if requirements.Size < 1 {
		return nil, errors.New("provided memory requirement size was not a positive integer")
	}

	memoryBits := requirements.MemoryTypeBits
	memoryTypeIndex, err := a.findMemoryTypeIndex(memoryBits, location)
	if err != nil {
		return nil, err
	}

	for {
		alloc := &allocation{location: location}
		err = a.allocateMemoryOfType(requirements.Size, alignment, memoryTypeIndex, subType, label, alloc)
		if err == nil {
			return alloc, nil
		}

		// Remove memory type index from possibilities
		memoryBits &= ^(1 << memoryTypeIndex)

		nextTypeIndex, findErr := a.findMemoryTypeIndex(memoryBits, location)
		if findErr != nil {
			break
		}
		memoryTypeIndex = nextTypeIndex
	}

	a.logger.Debug("  AllocateMemory FAILED")
	return nil, hal.NewDeviceError("Allocator::allocate", err)
}

func (a *Allocator) blockList(subType suballocationType, memoryTypeIndex int) *memoryBlockList {
	if subType == suballocationImage {
		return a.imageBlockLists[memoryTypeIndex]
	}

	return a.bufferBlockLists[memoryTypeIndex]
}

func (a *Allocator) allocateMemoryOfType(
	size int,
	alignment uint,
	memoryTypeIndex int,
	subType suballocationType,
	label string,
	outAlloc *allocation,
) error {
	a.logger.Debug("Allocator::allocateMemoryOfType", slog.Int("MemoryTypeIndex", memoryTypeIndex), slog.Int("Size", size))

	blockAllocations := a.blockList(subType, memoryTypeIndex)

	// Allocate dedicated memory if requested size is more than half of preferred block size
	dedicatedPreferred := size > blockAllocations.PreferredBlockSize()/2

	// We don't want to create all allocations as dedicated when we're near maximum size, so don't prefer
	// allocations when we're nearing the maximum number of allocations
	maxAllocationCount := a.deviceMemory.Limits().MaxMemoryAllocationCount
	if maxAllocationCount > 0 && a.deviceMemory.AllocationCount() > maxAllocationCount*3/4 {
		dedicatedPreferred = false
	}

	if dedicatedPreferred {
		err := a.allocateDedicatedMemory(size, memoryTypeIndex, subType, label, outAlloc)
		if err == nil {
			a.logger.Debug("  Allocated as DedicatedMemory")
			return nil
		}
	}

	err := blockAllocations.Allocate(size, alignment, label, outAlloc)
	if err == nil {
		return nil
	}

	// Try dedicated memory
	if !dedicatedPreferred {
		err = a.allocateDedicatedMemory(size, memoryTypeIndex, subType, label, outAlloc)
		if err == nil {
			a.logger.Debug("  Allocated as DedicatedMemory")
			return nil
		}
	}

	return err
}

func (a *Allocator) allocateDedicatedMemory(
	size int,
	memoryTypeIndex int,
	subType suballocationType,
	label string,
	outAlloc *allocation,
) (err error) {
	mem, err := a.deviceMemory.AllocateDeviceMemory(memoryTypeIndex, size)
	if err != nil {
		a.logger.Debug("    Allocator::allocateDedicatedMemory FAILED")
		return err
	}

	var mappedData []byte
	if a.deviceMemory.IsMemoryTypeHostVisible(memoryTypeIndex) {
		// Set up our persistent map
		mappedData, err = mem.Map()
		if err != nil {
			a.logger.Debug("    Allocator::allocateDedicatedMemory FAILED")
			a.deviceMemory.FreeDeviceMemory(memoryTypeIndex, size, mem)
			return err
		}
	}

	outAlloc.initDedicatedAllocation(mem, mappedData, memoryTypeIndex, size, subType, label)
	a.deviceMemory.AddAllocation(a.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex), size)
	a.dedicatedAllocations[memoryTypeIndex].Register(outAlloc)

	a.logger.Debug("    Allocated DedicatedMemory", slog.Int("MemoryTypeIndex", memoryTypeIndex))
	return nil
}

func (a *Allocator) freeDedicatedMemory(alloc *allocation) {
	if alloc.allocationType != allocationTypeDedicated {
		panic("attempted to free dedicated memory for a non-dedicated allocation")
	}

	memoryTypeIndex := alloc.memoryTypeIndex
	heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex)

	a.dedicatedAllocations[memoryTypeIndex].Unregister(alloc)

	if alloc.dedicatedData.mappedData != nil {
		alloc.dedicatedData.memory.Unmap()
		alloc.dedicatedData.mappedData = nil
	}

	a.deviceMemory.FreeDeviceMemory(memoryTypeIndex, alloc.size, alloc.dedicatedData.memory)
	a.deviceMemory.RemoveAllocation(heapIndex, alloc.size)
}

// freeMemory returns the memory behind alloc to its block or to the device. It does not touch
// the resource bound to it.
func (a *Allocator) freeMemory(alloc *allocation) error {
	switch alloc.allocationType {
	case allocationTypeBlock:
		return a.blockList(alloc.suballocationType, alloc.memoryTypeIndex).Free(alloc)
	case allocationTypeDedicated:
		a.freeDedicatedMemory(alloc)
		return nil
	default:
		panic(fmt.Sprintf("attempted to free an allocation with invalid type %s", alloc.allocationType))
	}
}

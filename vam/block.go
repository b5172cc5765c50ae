package vam

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils"
	"github.com/vkngwrapper/freight/memutils/freelist"
	"golang.org/x/exp/slog"
)

var blockPool = sync.Pool{
	New: func() any {
		return &deviceMemoryBlock{}
	},
}

// deviceMemoryBlock is one device allocation that many allocations are carved out of. Host-visible
// blocks are mapped for their whole lifetime.
type deviceMemoryBlock struct {
	id              int
	memoryTypeIndex int
	memory          hal.DeviceMemory
	mappedData      []byte
	logger          *slog.Logger

	metadata     *freelist.FreeList
	deviceMemory *deviceMemoryProperties
}

func (b *deviceMemoryBlock) Init(
	logger *slog.Logger,
	deviceMemory *deviceMemoryProperties,
	newMemoryTypeIndex int,
	newMemory hal.DeviceMemory,
	newSize int,
	id int,
) error {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	b.memoryTypeIndex = newMemoryTypeIndex
	b.id = id
	b.memory = newMemory
	b.deviceMemory = deviceMemory
	b.logger = logger
	b.metadata = freelist.New(newSize)
	b.mappedData = nil

	if deviceMemory.IsMemoryTypeHostVisible(newMemoryTypeIndex) {
		data, err := newMemory.Map()
		if err != nil {
			return err
		}
		b.mappedData = data
	}

	return nil
}

func (b *deviceMemoryBlock) Size() int {
	return b.metadata.TotalSize()
}

// Allocate carves size bytes out of the block. It returns false if the block has no free range
// that fits.
func (b *deviceMemoryBlock) Allocate(size int, alignment uint, subType suballocationType, label string, outAlloc *allocation) bool {
	id, ok := b.metadata.AllocateWithUserData(size, alignment, outAlloc)
	if !ok {
		return false
	}

	offset, _ := b.metadata.Offset(id)
	outAlloc.initBlockAllocation(b, id, offset, b.memoryTypeIndex, size, alignment, subType, label)
	memutils.DebugValidate(b)
	return true
}

func (b *deviceMemoryBlock) Free(alloc *allocation) {
	if alloc.blockData.block != b {
		panic("attempted to free an allocation from a block it does not belong to")
	}

	b.metadata.Free(alloc.blockData.id)
	memutils.DebugValidate(b)
}

func (b *deviceMemoryBlock) Destroy() error {
	if !b.metadata.IsEmpty() {
		// Log all remaining allocations
		err := b.metadata.VisitAllRegions(func(id freelist.ID, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.New("some allocations were not freed before the destruction of this memory block!")
	}

	if b.memory == nil {
		panic("attempting to destroy a memory block, but it did not have a backing device memory handle")
	}

	if b.mappedData != nil {
		b.memory.Unmap()
		b.mappedData = nil
	}
	b.deviceMemory.FreeDeviceMemory(b.memoryTypeIndex, b.metadata.TotalSize(), b.memory)

	b.memory = nil
	b.metadata = nil
	return nil
}

func (b *deviceMemoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	name := "empty"
	if alloc, isAllocation := userData.(*allocation); isAllocation && alloc.label != "" {
		name = alloc.label
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("block.id", b.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("name", name),
	)
}

func (b *deviceMemoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.TotalSize() < 1 {
		return errors.New("this memory block's metadata has an invalid size")
	}

	err := b.metadata.VisitAllRegions(func(id freelist.ID, offset, size int, userData any, free bool) error {
		alloc, isAllocation := userData.(*allocation)
		if free && isAllocation {
			return errors.Errorf("an allocation at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || alloc == nil) {
			return errors.Errorf("an allocation at offset %d is marked as allocated but has no allocation object", offset)
		} else if !free && alloc.blockData.offset != offset {
			return errors.Errorf("an allocation at offset %d believes it is at offset %d", offset, alloc.blockData.offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return b.metadata.Validate()
}

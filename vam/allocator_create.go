package vam

import (
	"io"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism, but performance may improve
	// because internal mutexes are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

const (
	// DefaultLargeHeapBlockSize is the value that is used as the PreferredLargeHeapBlockSize when none
	// is provided via CreateOptions. It is equal to 256Mb.
	DefaultLargeHeapBlockSize int = 256 * 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// PreferredLargeHeapBlockSize is the block size to use when allocating from heaps larger
	// than a gigabyte
	PreferredLargeHeapBlockSize int

	// MemoryCallbackOptions is optional. When set, the allocator reports every device memory
	// allocation and free through it
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps reported by the device
	// used to create this Allocator. Each entry must be either the maximum number of bytes
	// that should be allocated from the corresponding device memory heap, or -1 indicating
	// no limit.
	//
	// Heap memory limits will be enforced at runtime (the allocator will go so far as to
	// return an out of memory error when attempting to allocate beyond the limit).
	HeapSizeLimits []int
}

// New creates a new Allocator
//
// logger - Receives debug logs for every allocator operation and error logs for leaked memory.
// May be nil.
//
// device - The device that memory will be allocated from and bound with
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device hal.MemoryDevice, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		useMutex:    useMutex,
		logger:      logger,
		device:      device,
		createFlags: options.Flags,
		handleMutex: optionalRWMutex{enabled: useMutex},
		allocations: swiss.NewMap[Handle, *allocation](42),
	}

	if options.PreferredLargeHeapBlockSize == 0 {
		allocator.preferredLargeHeapBlockSize = DefaultLargeHeapBlockSize
	} else {
		allocator.preferredLargeHeapBlockSize = options.PreferredLargeHeapBlockSize
	}

	var err error
	allocator.deviceMemory, err = newDeviceMemoryProperties(
		device,
		newMemoryCallbacks(allocator, options.MemoryCallbackOptions),
		options.HeapSizeLimits,
	)
	if err != nil {
		return nil, err
	}

	// Initialize memory block lists
	typeCount := allocator.deviceMemory.MemoryTypeCount()
	allocator.bufferBlockLists = make([]*memoryBlockList, typeCount)
	allocator.imageBlockLists = make([]*memoryBlockList, typeCount)
	allocator.dedicatedAllocations = make([]*dedicatedAllocationList, typeCount)

	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		preferredBlockSize := allocator.calculatePreferredBlockSize(typeIndex)
		minAlignment := allocator.deviceMemory.MemoryTypeMinimumAlignment(typeIndex)

		allocator.bufferBlockLists[typeIndex] = &memoryBlockList{}
		allocator.bufferBlockLists[typeIndex].Init(useMutex, logger, allocator.deviceMemory, typeIndex, suballocationBuffer, preferredBlockSize, minAlignment)

		allocator.imageBlockLists[typeIndex] = &memoryBlockList{}
		allocator.imageBlockLists[typeIndex].Init(useMutex, logger, allocator.deviceMemory, typeIndex, suballocationImage, preferredBlockSize, minAlignment)

		allocator.dedicatedAllocations[typeIndex] = &dedicatedAllocationList{}
		allocator.dedicatedAllocations[typeIndex].Init(useMutex)
	}

	return allocator, nil
}

const (
	smallHeapMaxSize int = 1024 * 1024 * 1024 // 1 GB
)

func (a *Allocator) calculatePreferredBlockSize(memTypeIndex int) int {
	heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(memTypeIndex)

	heapSize := a.deviceMemory.MemoryHeapProperties(heapIndex).Size
	rawSize := a.preferredLargeHeapBlockSize
	if heapSize <= smallHeapMaxSize {
		rawSize = heapSize / 8
	}

	return memutils.AlignUp(rawSize, 32)
}

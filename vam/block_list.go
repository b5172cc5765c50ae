package vam

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils"
	"github.com/vkngwrapper/freight/memutils/freelist"
	"golang.org/x/exp/slog"
)

// errBlockListFull is returned internally when no block can take an allocation and no new block
// could be created. The allocator reacts by trying a dedicated allocation or another memory type.
var errBlockListFull = errors.Mark(errors.New("no memory block could satisfy the allocation"), hal.ErrOutOfDeviceMemory)

// memoryBlockList is the set of blocks for a single memory type and a single resource kind.
// Buffers and optimally-tiled images never share a block, so buffer-image granularity never has to
// be considered when placing a suballocation.
type memoryBlockList struct {
	deviceMemory *deviceMemoryProperties
	logger       *slog.Logger

	memoryTypeIndex        int
	suballocationType      suballocationType
	preferredBlockSize     int
	minAllocationAlignment uint

	mutex           optionalRWMutex
	blocks          []*deviceMemoryBlock
	nextBlockId     int
	incrementalSort bool
}

func (l *memoryBlockList) MemoryTypeIndex() int    { return l.memoryTypeIndex }
func (l *memoryBlockList) PreferredBlockSize() int { return l.preferredBlockSize }
func (l *memoryBlockList) BlockCount() int         { return len(l.blocks) }

func (l *memoryBlockList) Init(
	useMutex bool,
	logger *slog.Logger,
	deviceMemory *deviceMemoryProperties,
	memoryTypeIndex int,
	subType suballocationType,
	preferredBlockSize int,
	minAllocationAlignment uint,
) {
	l.logger = logger
	l.deviceMemory = deviceMemory
	l.memoryTypeIndex = memoryTypeIndex
	l.suballocationType = subType
	l.preferredBlockSize = preferredBlockSize
	l.minAllocationAlignment = minAllocationAlignment
	l.incrementalSort = true
	l.mutex.enabled = useMutex
}

func (l *memoryBlockList) Destroy() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for _, block := range l.blocks {
		err := block.Destroy()
		if err != nil {
			return err
		}
		blockPool.Put(block)
	}
	l.blocks = nil
	return nil
}

func (l *memoryBlockList) AddStatistics(stats *memutils.Statistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddStatistics(stats)
	}
}

func (l *memoryBlockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (l *memoryBlockList) IsEmpty() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.blocks) == 0
}

func (l *memoryBlockList) HasNoAllocations() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		if !l.blocks[blockIndex].metadata.IsEmpty() {
			return false
		}
	}

	return true
}

func (l *memoryBlockList) CreateBlock(blockSize int) (int, error) {
	memory, err := l.deviceMemory.AllocateDeviceMemory(l.memoryTypeIndex, blockSize)
	if err != nil {
		return -1, err
	}

	block := blockPool.Get().(*deviceMemoryBlock)
	err = block.Init(l.logger, l.deviceMemory, l.memoryTypeIndex, memory, blockSize, l.nextBlockId)
	if err != nil {
		block.memory = nil
		blockPool.Put(block)
		l.deviceMemory.FreeDeviceMemory(l.memoryTypeIndex, blockSize, memory)
		return -1, errors.Wrapf(err, "failed to map new memory block of memory type %d", l.memoryTypeIndex)
	}
	l.nextBlockId++

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block",
		slog.Int("block.id", block.id),
		slog.Int("MemoryTypeIndex", l.memoryTypeIndex),
		slog.Int("Size", blockSize))

	l.blocks = append(l.blocks, block)
	return len(l.blocks) - 1, nil
}

func (l *memoryBlockList) Remove(block *deviceMemoryBlock) {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		if l.blocks[blockIndex] == block {
			l.blocks = append(l.blocks[0:blockIndex], l.blocks[blockIndex+1:]...)
			return
		}
	}

	panic("attempted to remove a block from a block list that did not belong to it")
}

// Allocate places an allocation of size bytes in an existing block, or in a new block when none
// has room. It fails with errBlockListFull when the request is too large for this list, or when
// the heap budget cannot hold a new block.
func (l *memoryBlockList) Allocate(size int, alignment uint, label string, outAlloc *allocation) error {
	if l.minAllocationAlignment > alignment {
		alignment = l.minAllocationAlignment
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	err := l.allocPage(size, alignment, label, outAlloc)
	if err != nil {
		return err
	}

	heapIndex := l.deviceMemory.MemoryTypeIndexToHeapIndex(l.memoryTypeIndex)
	l.deviceMemory.AddAllocation(heapIndex, size)
	return nil
}

func (l *memoryBlockList) allocPage(size int, alignment uint, label string, outAlloc *allocation) error {
	heapIndex := l.deviceMemory.MemoryTypeIndexToHeapIndex(l.memoryTypeIndex)

	budget := memutils.Budget{}
	l.deviceMemory.HeapBudget(heapIndex, &budget)
	freeMemory := budget.Budget - budget.Usage

	if freeMemory < 0 {
		freeMemory = 0
	}

	// Early reject: requested allocation size is larger than maximum block size for this block list
	if size > l.preferredBlockSize {
		return errBlockListFull
	}

	// 1. Search existing blocks. They are kept roughly sorted by free size, so the first fit is
	// also the fullest block that can take this request.
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		currentBlock := l.blocks[blockIndex]
		if currentBlock == nil {
			panic(fmt.Sprintf("a memory block at index %d is unexpectedly nil", blockIndex))
		}

		if currentBlock.Allocate(size, alignment, l.suballocationType, label, outAlloc) {
			l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing block", slog.Int("block.id", currentBlock.id))
			l.incrementallySortBlocks()
			return nil
		}
	}

	// 2. Try to create a new block
	if freeMemory < size {
		return errBlockListFull
	}

	newBlockSize := l.preferredBlockSize
	newBlockSizeShift := 0
	const MaxNewBlockSizeShift = 3

	maxExistingBlockSize := l.calcMaxBlockSize()
	for i := 0; i < MaxNewBlockSizeShift; i++ {
		smallerNewBlockSize := newBlockSize / 2
		if smallerNewBlockSize > maxExistingBlockSize && smallerNewBlockSize >= size*2 {
			newBlockSize = smallerNewBlockSize
			newBlockSizeShift++
		} else {
			break
		}
	}

	newBlockIndex := 0
	var err error
	if newBlockSize <= freeMemory {
		newBlockIndex, err = l.CreateBlock(newBlockSize)
	} else {
		err = errBlockListFull
	}

	for err != nil && newBlockSizeShift < MaxNewBlockSizeShift {
		smallerNewBlockSize := newBlockSize / 2
		if smallerNewBlockSize < size {
			break
		}

		newBlockSize = smallerNewBlockSize
		newBlockSizeShift++
		if newBlockSize <= freeMemory {
			newBlockIndex, err = l.CreateBlock(newBlockSize)
		}
	}

	if err != nil {
		return err
	}

	block := l.blocks[newBlockIndex]
	if block.Size() < size {
		panic(fmt.Sprintf("created a new block at index %d to hold an allocation of size %d but the created block was somehow only size %d", newBlockIndex, size, block.Size()))
	}

	if !block.Allocate(size, alignment, l.suballocationType, label, outAlloc) {
		return errBlockListFull
	}

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block and returned from it", slog.Int("block.id", block.id))
	l.incrementallySortBlocks()
	return nil
}

// Free returns alloc to its block. When that leaves a block this list no longer needs, the block
// is destroyed; a failure to destroy it is returned after the allocation has been accounted for.
func (l *memoryBlockList) Free(alloc *allocation) error {
	heapIndex := l.deviceMemory.MemoryTypeIndexToHeapIndex(l.memoryTypeIndex)
	blockToDelete := l.freeWithLock(alloc, heapIndex)
	l.deviceMemory.RemoveAllocation(heapIndex, alloc.size)

	if blockToDelete == nil {
		return nil
	}

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty block", slog.Int("block.id", blockToDelete.id))
	err := blockToDelete.Destroy()
	if err != nil {
		return errors.Wrapf(err, "failed to destroy empty block %d of memory type %d", blockToDelete.id, l.memoryTypeIndex)
	}
	blockPool.Put(blockToDelete)
	return nil
}

func (l *memoryBlockList) freeWithLock(alloc *allocation, heapIndex int) (blockToDelete *deviceMemoryBlock) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	block := alloc.blockData.block

	heapBudget := memutils.Budget{}
	l.deviceMemory.HeapBudget(heapIndex, &heapBudget)
	budgetExceeded := heapBudget.Usage >= heapBudget.Budget

	hasEmptyBlockBeforeFree := l.hasEmptyBlock()
	block.Free(alloc)

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Freed from block", slog.Int("MemoryTypeIndex", l.memoryTypeIndex))

	if block.metadata.IsEmpty() && (hasEmptyBlockBeforeFree || budgetExceeded) {
		// The block is empty and we don't need to keep it around
		blockToDelete = block
		l.Remove(block)
	} else if !block.metadata.IsEmpty() && hasEmptyBlockBeforeFree {
		// There is an empty block somewhere we don't need
		lastBlock := l.blocks[len(l.blocks)-1]
		if lastBlock.metadata.IsEmpty() {
			blockToDelete = lastBlock
			l.blocks = l.blocks[:len(l.blocks)-1]
		}
	}

	l.incrementallySortBlocks()

	return blockToDelete
}

func (l *memoryBlockList) hasEmptyBlock() bool {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		if l.blocks[blockIndex].metadata.IsEmpty() {
			return true
		}
	}

	return false
}

// incrementallySortBlocks performs a single step of a bubble sort by ascending free size
func (l *memoryBlockList) incrementallySortBlocks() {
	if !l.incrementalSort {
		return
	}

	for blockIndex := 1; blockIndex < len(l.blocks); blockIndex++ {
		if l.blocks[blockIndex-1].metadata.SumFreeSize() > l.blocks[blockIndex].metadata.SumFreeSize() {
			l.blocks[blockIndex-1], l.blocks[blockIndex] = l.blocks[blockIndex], l.blocks[blockIndex-1]
			return
		}
	}
}

func (l *memoryBlockList) calcMaxBlockSize() int {
	result := 0
	for blockIndex := len(l.blocks) - 1; blockIndex >= 0; blockIndex-- {
		blockSize := l.blocks[blockIndex].Size()
		if blockSize <= result {
			continue
		}

		result = blockSize
		if result >= l.preferredBlockSize {
			return result
		}
	}

	return result
}

func (l *memoryBlockList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex, block := range l.blocks {
		err := block.Validate()
		if err != nil {
			return errors.Wrapf(err, "memory type %d block %d", l.memoryTypeIndex, blockIndex)
		}
	}

	return nil
}

func (l *memoryBlockList) PrintDetailedMap(json *jwriter.ObjectState) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for i := 0; i < len(l.blocks); i++ {
		block := l.blocks[i]

		blockObj := json.Name(strconv.Itoa(block.id)).Object()
		blockObj.Name("Mapped").Bool(block.mappedData != nil)
		block.metadata.PrintDetailedMap(&blockObj, func(obj *jwriter.ObjectState, id freelist.ID, userData any) {
			alloc, isAllocation := userData.(*allocation)
			if isAllocation && alloc != nil {
				alloc.printDetails(obj)
			} else if userData != nil {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
			}
		})
		blockObj.End()
	}
}

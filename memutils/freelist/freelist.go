package freelist

import (
	"fmt"
	"sort"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/freight/memutils"
	"golang.org/x/exp/slices"
)

// ID identifies a single live suballocation within a FreeList. IDs are handed out from a
// monotonic counter and are never reused by the FreeList that produced them.
type ID uint64

// NoAllocation is never returned from a successful Allocate call
const NoAllocation ID = 0

type freeBlock struct {
	offset int
	size   int
}

type suballocation struct {
	offset   int
	size     int
	userData any
}

// FreeList is a first-fit, coalescing interval allocator that carves aligned ranges out of a
// fixed-size region. Free blocks are kept sorted by offset so that releasing a range only needs
// to look at its immediate neighbors to merge.
//
// FreeList is not safe for concurrent use. Consumers sharing one between goroutines must
// serialize access themselves.
type FreeList struct {
	totalSize      int
	allocatedBytes int
	nextID         ID

	blocks      []freeBlock
	allocations *swiss.Map[ID, suballocation]
}

// New creates a FreeList managing totalSize bytes with a single free block spanning all of them
func New(totalSize int) *FreeList {
	if totalSize < 0 {
		panic(fmt.Sprintf("attempted to create a free list with negative size %d", totalSize))
	}

	l := &FreeList{
		totalSize:   totalSize,
		allocations: swiss.NewMap[ID, suballocation](42),
	}
	if totalSize > 0 {
		l.blocks = append(l.blocks, freeBlock{offset: 0, size: totalSize})
	}

	return l
}

// TotalSize is the number of bytes this FreeList was created with
func (l *FreeList) TotalSize() int { return l.totalSize }

// SumFreeSize returns the number of bytes not covered by a live suballocation. This includes
// any padding left behind by alignment.
func (l *FreeList) SumFreeSize() int { return l.totalSize - l.allocatedBytes }

func (l *FreeList) AllocationCount() int { return l.allocations.Count() }

// FreeRegionsCount returns the number of distinct free blocks. Adjacent free ranges are always
// merged, so this is also the number of gaps between live suballocations.
func (l *FreeList) FreeRegionsCount() int { return len(l.blocks) }

func (l *FreeList) IsEmpty() bool { return l.allocations.Count() == 0 }

// Allocate finds the first free block, in offset order, that can hold size bytes starting at an
// offset aligned to alignment. The block is split into an optional leading remainder, the
// allocated span, and an optional trailing remainder. It returns false when no free block fits,
// when size is not positive, or when alignment is not a power of two.
func (l *FreeList) Allocate(size int, alignment uint) (ID, bool) {
	return l.AllocateWithUserData(size, alignment, nil)
}

// AllocateWithUserData behaves like Allocate, and attaches userData to the new suballocation so
// that it is available from UserData and VisitAllRegions
func (l *FreeList) AllocateWithUserData(size int, alignment uint, userData any) (ID, bool) {
	if size <= 0 {
		return NoAllocation, false
	}
	if alignment == 0 {
		alignment = 1
	}
	if memutils.CheckPow2(alignment, "alignment") != nil {
		return NoAllocation, false
	}

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		alignedOffset := memutils.AlignUp(block.offset, alignment)
		padding := alignedOffset - block.offset

		// Compared by subtraction so that a huge size cannot wrap around and appear to fit
		if alignedOffset < block.offset || padding > block.size || size > block.size-padding {
			continue
		}

		var remainders []freeBlock
		if padding > 0 {
			remainders = append(remainders, freeBlock{offset: block.offset, size: padding})
		}
		trailing := block.size - padding - size
		if trailing > 0 {
			remainders = append(remainders, freeBlock{offset: alignedOffset + size, size: trailing})
		}

		l.blocks = slices.Delete(l.blocks, blockIndex, blockIndex+1)
		l.blocks = slices.Insert(l.blocks, blockIndex, remainders...)

		l.nextID++
		id := l.nextID
		l.allocations.Put(id, suballocation{offset: alignedOffset, size: size, userData: userData})
		l.allocatedBytes += size

		memutils.DebugValidate(l)
		return id, true
	}

	return NoAllocation, false
}

// Free returns the range owned by id to the free list and merges it with any free block that
// ends where it begins or begins where it ends. Freeing an unknown or already-freed id is a
// programming error; it does nothing unless built with debug_mem_utils, where it panics.
func (l *FreeList) Free(id ID) {
	alloc, ok := l.allocations.Get(id)
	if !ok {
		memutils.DebugAssert(false, "attempted to free suballocation %d, which is not live in this free list", id)
		return
	}

	l.allocations.Delete(id)
	l.allocatedBytes -= alloc.size

	insertIndex := sort.Search(len(l.blocks), func(i int) bool {
		return l.blocks[i].offset > alloc.offset
	})
	l.blocks = slices.Insert(l.blocks, insertIndex, freeBlock{offset: alloc.offset, size: alloc.size})

	// Merge with the following block first so insertIndex stays valid for the preceding merge
	if insertIndex+1 < len(l.blocks) {
		current := l.blocks[insertIndex]
		next := l.blocks[insertIndex+1]
		if current.offset+current.size == next.offset {
			l.blocks[insertIndex].size += next.size
			l.blocks = slices.Delete(l.blocks, insertIndex+1, insertIndex+2)
		}
	}

	if insertIndex > 0 {
		prev := l.blocks[insertIndex-1]
		current := l.blocks[insertIndex]
		if prev.offset+prev.size == current.offset {
			l.blocks[insertIndex-1].size += current.size
			l.blocks = slices.Delete(l.blocks, insertIndex, insertIndex+1)
		}
	}

	memutils.DebugValidate(l)
}

// Offset returns the offset of a live suballocation, or false if id is unknown or freed
func (l *FreeList) Offset(id ID) (int, bool) {
	alloc, ok := l.allocations.Get(id)
	if !ok {
		return 0, false
	}
	return alloc.offset, true
}

// Size returns the size of a live suballocation, or false if id is unknown or freed
func (l *FreeList) Size(id ID) (int, bool) {
	alloc, ok := l.allocations.Get(id)
	if !ok {
		return 0, false
	}
	return alloc.size, true
}

// UserData returns the value attached to a live suballocation with AllocateWithUserData
func (l *FreeList) UserData(id ID) (any, bool) {
	alloc, ok := l.allocations.Get(id)
	if !ok {
		return nil, false
	}
	return alloc.userData, true
}

func (l *FreeList) SetUserData(id ID, userData any) error {
	alloc, ok := l.allocations.Get(id)
	if !ok {
		return errors.Errorf("suballocation %d is not live in this free list", id)
	}
	alloc.userData = userData
	l.allocations.Put(id, alloc)
	return nil
}

type region struct {
	id       ID
	offset   int
	size     int
	userData any
	free     bool
}

func (l *FreeList) sortedRegions() []region {
	regions := make([]region, 0, len(l.blocks)+l.allocations.Count())
	for _, block := range l.blocks {
		regions = append(regions, region{offset: block.offset, size: block.size, free: true})
	}
	l.allocations.Iter(func(id ID, alloc suballocation) bool {
		regions = append(regions, region{id: id, offset: alloc.offset, size: alloc.size, userData: alloc.userData})
		return false
	})

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].offset < regions[j].offset
	})
	return regions
}

// VisitAllRegions calls handleBlock once for each free block and live suballocation, in offset
// order. Free blocks are reported with NoAllocation. This sorts every region and should be
// kept to diagnostics.
func (l *FreeList) VisitAllRegions(handleBlock func(id ID, offset int, size int, userData any, free bool) error) error {
	for _, r := range l.sortedRegions() {
		err := handleBlock(r.id, r.offset, r.size, r.userData, r.free)
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that free blocks are sorted, non-empty, never adjacent, and that free blocks
// and live suballocations tile the whole region with no overlap
func (l *FreeList) Validate() error {
	freeBytes := 0
	for i, block := range l.blocks {
		if block.size <= 0 {
			return errors.Errorf("free block %d at offset %d has non-positive size %d", i, block.offset, block.size)
		}
		freeBytes += block.size

		if i == 0 {
			continue
		}
		prev := l.blocks[i-1]
		if prev.offset+prev.size > block.offset {
			return errors.Errorf("free block at offset %d overlaps or precedes free block at offset %d", block.offset, prev.offset)
		}
		if prev.offset+prev.size == block.offset {
			return errors.Errorf("free blocks at offsets %d and %d are adjacent and were not merged", prev.offset, block.offset)
		}
	}

	usedBytes := 0
	l.allocations.Iter(func(id ID, alloc suballocation) bool {
		usedBytes += alloc.size
		return false
	})
	if usedBytes != l.allocatedBytes {
		return errors.Errorf("tracked allocated bytes %d do not match the sum of live suballocations %d", l.allocatedBytes, usedBytes)
	}
	if freeBytes+usedBytes != l.totalSize {
		return errors.Errorf("free bytes %d plus allocated bytes %d do not equal total size %d", freeBytes, usedBytes, l.totalSize)
	}

	expectedOffset := 0
	for _, r := range l.sortedRegions() {
		if r.offset != expectedOffset {
			return errors.Errorf("region at offset %d should have started at offset %d", r.offset, expectedOffset)
		}
		expectedOffset += r.size
	}
	if expectedOffset != l.totalSize {
		return errors.Errorf("regions end at offset %d but the free list is size %d", expectedOffset, l.totalSize)
	}

	return nil
}

// AddStatistics sums this free list's usage into stats as a single block
func (l *FreeList) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += l.totalSize
	stats.AllocationCount += l.allocations.Count()
	stats.AllocationBytes += l.allocatedBytes
}

// AddDetailedStatistics sums this free list's usage into stats as a single block, including the
// size of every suballocation and free range
func (l *FreeList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += l.totalSize

	for _, block := range l.blocks {
		stats.RecordUnusedRange(block.size)
	}
	l.allocations.Iter(func(id ID, alloc suballocation) bool {
		stats.RecordAllocation(alloc.size)
		return false
	})
}

// PrintDetailedMap writes this free list's regions into an open json object. printAllocation
// may be nil; when present it is called for each live suballocation to add consumer fields.
func (l *FreeList) PrintDetailedMap(json *jwriter.ObjectState, printAllocation func(json *jwriter.ObjectState, id ID, userData any)) {
	json.Name("TotalBytes").Int(l.totalSize)
	json.Name("UnusedBytes").Int(l.SumFreeSize())
	json.Name("Allocations").Int(l.allocations.Count())
	json.Name("UnusedRanges").Int(len(l.blocks))

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	for _, r := range l.sortedRegions() {
		obj := arrayState.Object()
		obj.Name("Offset").Int(r.offset)
		obj.Name("Size").Int(r.size)
		if r.free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATION")
			obj.Name("Id").Int(int(r.id))
			if printAllocation != nil {
				printAllocation(&obj, r.id, r.userData)
			}
		}
		obj.End()
	}
}

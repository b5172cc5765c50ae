package vam

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils/freelist"
)

// Handle is an opaque identifier for one allocation and the buffer or image bound to it. Handles
// are minted from a monotonic counter and are never reused by the Allocator that produced them.
type Handle uint64

// NullHandle is never returned from a successful allocation
const NullHandle Handle = 0

type allocationType uint32

const (
	allocationTypeNone allocationType = iota
	allocationTypeBlock
	allocationTypeDedicated
)

var allocationTypeMapping = make(map[allocationType]string)

func (t allocationType) String() string {
	return allocationTypeMapping[t]
}

func init() {
	allocationTypeMapping[allocationTypeNone] = "allocationTypeNone"
	allocationTypeMapping[allocationTypeBlock] = "allocationTypeBlock"
	allocationTypeMapping[allocationTypeDedicated] = "allocationTypeDedicated"
}

type blockData struct {
	block  *deviceMemoryBlock
	id     freelist.ID
	offset int
}

type dedicatedData struct {
	memory     hal.DeviceMemory
	mappedData []byte

	prev *allocation
	next *allocation
}

// allocation is the record behind a Handle. Records are only reachable through the allocator's
// handle table.
type allocation struct {
	handle            Handle
	label             string
	location          MemoryLocation
	size              int
	alignment         uint
	memoryTypeIndex   int
	suballocationType suballocationType
	allocationType    allocationType

	buffer hal.Buffer
	image  hal.Image

	blockData     blockData
	dedicatedData dedicatedData
}

func (a *allocation) initBlockAllocation(block *deviceMemoryBlock, id freelist.ID, offset int, memoryTypeIndex int, size int, alignment uint, subType suballocationType, label string) {
	if a.allocationType != allocationTypeNone {
		panic("attempting to init an allocation that has already been initialized")
	}

	a.allocationType = allocationTypeBlock
	a.blockData.block = block
	a.blockData.id = id
	a.blockData.offset = offset
	a.memoryTypeIndex = memoryTypeIndex
	a.size = size
	a.alignment = alignment
	a.suballocationType = subType
	a.label = label
}

func (a *allocation) initDedicatedAllocation(memory hal.DeviceMemory, mappedData []byte, memoryTypeIndex int, size int, subType suballocationType, label string) {
	if a.allocationType != allocationTypeNone {
		panic("attempting to init an allocation that has already been initialized")
	}

	a.allocationType = allocationTypeDedicated
	a.dedicatedData.memory = memory
	a.dedicatedData.mappedData = mappedData
	a.memoryTypeIndex = memoryTypeIndex
	a.size = size
	a.alignment = 1
	a.suballocationType = subType
	a.label = label
}

// Memory returns the device memory the allocation lives in
func (a *allocation) Memory() hal.DeviceMemory {
	switch a.allocationType {
	case allocationTypeBlock:
		return a.blockData.block.memory
	case allocationTypeDedicated:
		return a.dedicatedData.memory
	}

	panic(fmt.Sprintf("invalid allocation type: %s", a.allocationType))
}

// Offset returns the offset of the allocation within Memory()
func (a *allocation) Offset() int {
	switch a.allocationType {
	case allocationTypeBlock:
		return a.blockData.offset
	case allocationTypeDedicated:
		return 0
	}

	panic(fmt.Sprintf("invalid allocation type: %s", a.allocationType))
}

// MappedData returns the host view of this allocation, or nil if the memory is not host-visible
func (a *allocation) MappedData() []byte {
	switch a.allocationType {
	case allocationTypeBlock:
		blockMapped := a.blockData.block.mappedData
		if blockMapped == nil {
			return nil
		}
		return blockMapped[a.blockData.offset : a.blockData.offset+a.size : a.blockData.offset+a.size]
	case allocationTypeDedicated:
		if a.dedicatedData.mappedData == nil {
			return nil
		}
		return a.dedicatedData.mappedData[:a.size:a.size]
	}

	panic(fmt.Sprintf("invalid allocation type: %s", a.allocationType))
}

func (a *allocation) nextDedicatedAlloc() *allocation {
	if a.allocationType != allocationTypeDedicated {
		panic("attempted to get the next dedicated allocation of a block allocation")
	}
	return a.dedicatedData.next
}

func (a *allocation) prevDedicatedAlloc() *allocation {
	if a.allocationType != allocationTypeDedicated {
		panic("attempted to get the previous dedicated allocation of a block allocation")
	}
	return a.dedicatedData.prev
}

func (a *allocation) setNext(alloc *allocation) {
	a.dedicatedData.next = alloc
}

func (a *allocation) setPrev(alloc *allocation) {
	a.dedicatedData.prev = alloc
}

func (a *allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Size").Int(a.size)
	a.printDetails(json)
}

// printDetails writes the fields that a block's suballocation map does not already carry
func (a *allocation) printDetails(json *jwriter.ObjectState) {
	json.Name("Usage").String(a.suballocationType.String())
	json.Name("Location").String(a.location.String())
	json.Name("Handle").Int(int(a.handle))

	if a.label != "" {
		json.Name("Name").String(a.label)
	}
}

package vam

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils"
)

// deviceMemoryProperties wraps the device's memory properties and tracks, per heap, how much
// device memory has been allocated and how much of it has been handed out to callers
type deviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	blockCount []int32
	// Number of user allocations that have actually been doled out for use- this includes the number
	// of dedicated allocations + the number of block suballocations
	allocationCount []int32
	// Size of real allocations that have been made from device memory
	blockBytes []int64
	// Size of user allocations that have actually been doled out for use- this includes the size
	// of dedicated allocations + the size of block suballocations
	allocationBytes []int64

	memoryCount uint32
	heapLimits  []int

	callbacks  *memoryCallbacks
	device     hal.MemoryDevice
	properties hal.MemoryProperties
	limits     hal.Limits
}

func newDeviceMemoryProperties(
	device hal.MemoryDevice,
	callbacks *memoryCallbacks,
	heapSizeLimits []int,
) (*deviceMemoryProperties, error) {
	m := &deviceMemoryProperties{
		callbacks:  callbacks,
		device:     device,
		properties: device.MemoryProperties(),
		limits:     device.Limits(),
	}

	if len(m.properties.MemoryTypes) == 0 || len(m.properties.MemoryHeaps) == 0 {
		return nil, errors.New("the device does not report any memory types or heaps")
	}
	if len(m.properties.MemoryTypes) > 32 {
		return nil, errors.Newf("the device reports %d memory types, but at most 32 can be addressed by memory type bits", len(m.properties.MemoryTypes))
	}

	if m.limits.BufferImageGranularity > 0 {
		err := memutils.CheckPow2(m.limits.BufferImageGranularity, "device bufferImageGranularity")
		if err != nil {
			return nil, err
		}
	}
	if m.limits.NonCoherentAtomSize > 0 {
		err := memutils.CheckPow2(m.limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
		if err != nil {
			return nil, err
		}
	}

	heapCount := m.MemoryHeapCount()
	if len(heapSizeLimits) > 0 && len(heapSizeLimits) != heapCount {
		return nil, errors.Newf("CreateOptions.HeapSizeLimits was provided with %d entries, but the device has %d memory heaps", len(heapSizeLimits), heapCount)
	}

	m.heapLimits = make([]int, heapCount)
	copy(m.heapLimits, heapSizeLimits)

	m.blockCount = make([]int32, heapCount)
	m.allocationCount = make([]int32, heapCount)
	m.blockBytes = make([]int64, heapCount)
	m.allocationBytes = make([]int64, heapCount)

	return m, nil
}

func (m *deviceMemoryProperties) MemoryTypeCount() int {
	return len(m.properties.MemoryTypes)
}

func (m *deviceMemoryProperties) MemoryHeapCount() int {
	return len(m.properties.MemoryHeaps)
}

func (m *deviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.properties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *deviceMemoryProperties) MemoryTypeProperties(memTypeIndex int) hal.MemoryType {
	return m.properties.MemoryTypes[memTypeIndex]
}

func (m *deviceMemoryProperties) MemoryHeapProperties(heapIndex int) hal.MemoryHeap {
	return m.properties.MemoryHeaps[heapIndex]
}

func (m *deviceMemoryProperties) IsMemoryTypeHostVisible(memTypeIndex int) bool {
	return m.properties.MemoryTypes[memTypeIndex].PropertyFlags&hal.MemoryPropertyHostVisible != 0
}

func (m *deviceMemoryProperties) IsMemoryTypeHostNonCoherent(memTypeIndex int) bool {
	flags := m.properties.MemoryTypes[memTypeIndex].PropertyFlags
	return flags&(hal.MemoryPropertyHostVisible|hal.MemoryPropertyHostCoherent) == hal.MemoryPropertyHostVisible
}

func (m *deviceMemoryProperties) MemoryTypeMinimumAlignment(memTypeIndex int) uint {
	if m.IsMemoryTypeHostNonCoherent(memTypeIndex) {
		alignment := uint(m.limits.NonCoherentAtomSize)
		if alignment < 1 {
			return 1
		}
		return alignment
	}

	return 1
}

func (m *deviceMemoryProperties) addBlockAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.blockBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.blockCount[heapIndex], 1)
}

func (m *deviceMemoryProperties) addBlockAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) error {
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return errors.Wrapf(hal.ErrOutOfDeviceMemory, "allocating %d bytes would exceed the %d byte limit of heap %d", allocationSize, maxAllocatable, heapIndex)
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return nil
}

func (m *deviceMemoryProperties) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes budget for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count budget for heapIndex %d went negative", heapIndex))
	}
}

// AllocateDeviceMemory makes a real allocation from the device, enforcing the heap size limit and
// the device's maximum allocation count
func (m *deviceMemoryProperties) AllocateDeviceMemory(memoryTypeIndex int, size int) (memory hal.DeviceMemory, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	if m.limits.MaxMemoryAllocationCount > 0 && int(newDeviceCount) > m.limits.MaxMemoryAllocationCount {
		return nil, errors.Wrapf(hal.ErrTooManyObjects, "the device allows at most %d memory allocations", m.limits.MaxMemoryAllocationCount)
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	heapLimit := m.heapLimits[heapIndex]
	if heapLimit <= 0 {
		m.addBlockAllocation(heapIndex, size)
	} else {
		maxSize := heapLimit
		heapSize := m.properties.MemoryHeaps[heapIndex].Size
		if heapSize < maxSize {
			maxSize = heapSize
		}
		err = m.addBlockAllocationWithBudget(heapIndex, size, maxSize)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			m.removeBlockAllocation(heapIndex, size)
		}
	}()

	memory, err = m.device.AllocateMemory(memoryTypeIndex, size)
	if err != nil {
		return nil, err
	}

	m.callbacks.allocated(memoryTypeIndex, memory, size)

	return memory, nil
}

func (m *deviceMemoryProperties) FreeDeviceMemory(memoryTypeIndex int, size int, memory hal.DeviceMemory) {
	m.callbacks.freed(memoryTypeIndex, memory, size)

	memory.Free()

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.removeBlockAllocation(heapIndex, size)
	// Decrement
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

func (m *deviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

func (m *deviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newSizeVal := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes budget for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.allocationCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count budget for heapIndex %d went negative", heapIndex))
	}
}

// HeapBudget reports the statistics of one heap. The budget is the configured heap limit when one
// was set, otherwise 80% of the heap size.
func (m *deviceMemoryProperties) HeapBudget(heapIndex int, budget *memutils.Budget) {
	budget.Statistics.BlockCount = int(atomic.LoadInt32(&m.blockCount[heapIndex]))
	budget.Statistics.AllocationCount = int(atomic.LoadInt32(&m.allocationCount[heapIndex]))
	budget.Statistics.BlockBytes = int(atomic.LoadInt64(&m.blockBytes[heapIndex]))
	budget.Statistics.AllocationBytes = int(atomic.LoadInt64(&m.allocationBytes[heapIndex]))

	budget.Usage = budget.Statistics.BlockBytes
	budget.Budget = m.properties.MemoryHeaps[heapIndex].Size * 8 / 10
	if limit := m.heapLimits[heapIndex]; limit > 0 && limit < budget.Budget {
		budget.Budget = limit
	}
}

// AllocationCount is the number of live device memory allocations, blocks and dedicated alike
func (m *deviceMemoryProperties) AllocationCount() int {
	return int(atomic.LoadUint32(&m.memoryCount))
}

func (m *deviceMemoryProperties) Limits() hal.Limits {
	return m.limits
}

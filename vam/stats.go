package vam

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/memutils"
)

// AllocatorStatistics breaks down the allocator's memory usage by memory type and by heap
type AllocatorStatistics struct {
	MemoryTypes []memutils.DetailedStatistics
	MemoryHeaps []memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

// CalculateStatistics walks every block and dedicated allocation. It is slow and intended for
// diagnostics.
func (a *Allocator) CalculateStatistics(stats *AllocatorStatistics) {
	typeCount := a.deviceMemory.MemoryTypeCount()
	heapCount := a.deviceMemory.MemoryHeapCount()

	stats.Total.Reset()
	stats.MemoryTypes = make([]memutils.DetailedStatistics, typeCount)
	stats.MemoryHeaps = make([]memutils.DetailedStatistics, heapCount)

	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		typeStats := &stats.MemoryTypes[typeIndex]
		a.bufferBlockLists[typeIndex].AddDetailedStatistics(typeStats)
		a.imageBlockLists[typeIndex].AddDetailedStatistics(typeStats)
		a.dedicatedAllocations[typeIndex].AddDetailedStatistics(typeStats)

		heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex)
		stats.MemoryHeaps[heapIndex].Merge(typeStats)
	}

	for heapIndex := 0; heapIndex < heapCount; heapIndex++ {
		stats.Total.Merge(&stats.MemoryHeaps[heapIndex])
	}
}

// HeapBudgets returns the current usage and budget of every memory heap. It only reads
// counters and is cheap enough to call every frame.
func (a *Allocator) HeapBudgets() []memutils.Budget {
	budgets := make([]memutils.Budget, a.deviceMemory.MemoryHeapCount())
	for heapIndex := range budgets {
		a.deviceMemory.HeapBudget(heapIndex, &budgets[heapIndex])
	}

	return budgets
}

var memoryPropertyNames = []struct {
	flag hal.MemoryPropertyFlags
	name string
}{
	{hal.MemoryPropertyDeviceLocal, "DEVICE_LOCAL"},
	{hal.MemoryPropertyHostVisible, "HOST_VISIBLE"},
	{hal.MemoryPropertyHostCoherent, "HOST_COHERENT"},
	{hal.MemoryPropertyHostCached, "HOST_CACHED"},
}

// BuildStatsString renders the allocator's statistics as a JSON document. With detailed set, every
// block is mapped out with its suballocations and every dedicated allocation is listed.
func (a *Allocator) BuildStatsString(detailed bool) string {
	var stats AllocatorStatistics
	a.CalculateStatistics(&stats)
	budgets := a.HeapBudgets()

	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	general.Name("MemoryHeapCount").Int(a.deviceMemory.MemoryHeapCount())
	general.Name("MemoryTypeCount").Int(a.deviceMemory.MemoryTypeCount())
	general.Name("Flags").String(a.createFlags.String())
	general.End()

	total := root.Name("Total").Object()
	stats.Total.PrintJson(&total)
	total.End()

	memoryInfo := root.Name("MemoryInfo").Object()
	for heapIndex := 0; heapIndex < a.deviceMemory.MemoryHeapCount(); heapIndex++ {
		heap := a.deviceMemory.MemoryHeapProperties(heapIndex)

		heapInfo := memoryInfo.Name("Heap " + strconv.Itoa(heapIndex)).Object()
		heapInfo.Name("Size").Int(heap.Size)
		heapInfo.Name("DeviceLocal").Bool(heap.DeviceLocal)

		budget := heapInfo.Name("Budget").Object()
		budget.Name("BudgetBytes").Int(budgets[heapIndex].Budget)
		budget.Name("UsageBytes").Int(budgets[heapIndex].Usage)
		budget.End()

		heapStats := heapInfo.Name("Stats").Object()
		stats.MemoryHeaps[heapIndex].PrintJson(&heapStats)
		heapStats.End()

		types := heapInfo.Name("MemoryPools").Object()
		for typeIndex := 0; typeIndex < a.deviceMemory.MemoryTypeCount(); typeIndex++ {
			if a.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex) != heapIndex {
				continue
			}

			typeInfo := types.Name("Type " + strconv.Itoa(typeIndex)).Object()
			flagArray := typeInfo.Name("Flags").Array()
			flags := a.deviceMemory.MemoryTypeProperties(typeIndex).PropertyFlags
			for _, property := range memoryPropertyNames {
				if flags&property.flag != 0 {
					flagArray.String(property.name)
				}
			}
			flagArray.End()

			typeStats := typeInfo.Name("Stats").Object()
			stats.MemoryTypes[typeIndex].PrintJson(&typeStats)
			typeStats.End()
			typeInfo.End()
		}
		types.End()
		heapInfo.End()
	}
	memoryInfo.End()

	if detailed {
		pools := root.Name("DefaultPools").Object()
		for typeIndex := 0; typeIndex < a.deviceMemory.MemoryTypeCount(); typeIndex++ {
			typeObj := pools.Name("Type " + strconv.Itoa(typeIndex)).Object()
			typeObj.Name("PreferredBlockSize").Int(a.bufferBlockLists[typeIndex].PreferredBlockSize())

			bufferBlocks := typeObj.Name("BufferBlocks").Object()
			a.bufferBlockLists[typeIndex].PrintDetailedMap(&bufferBlocks)
			bufferBlocks.End()

			imageBlocks := typeObj.Name("ImageBlocks").Object()
			a.imageBlockLists[typeIndex].PrintDetailedMap(&imageBlocks)
			imageBlocks.End()

			dedicated := typeObj.Name("DedicatedAllocations").Array()
			a.dedicatedAllocations[typeIndex].BuildStatsString(&dedicated)
			dedicated.End()

			typeObj.End()
		}
		pools.End()
	}

	root.End()
	return string(writer.Bytes())
}

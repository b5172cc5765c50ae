package memutils_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/memutils"
)

func TestSizeRangeZeroValueIsEmpty(t *testing.T) {
	var spread memutils.SizeRange
	spread.Include(50)
	require.Equal(t, memutils.SizeRange{Count: 1, Min: 50, Max: 50}, spread)

	spread.Include(10)
	spread.Include(70)
	require.Equal(t, memutils.SizeRange{Count: 3, Min: 10, Max: 70}, spread)
}

func TestDetailedStatisticsMerge(t *testing.T) {
	var empty, first, second memutils.DetailedStatistics
	first.BlockCount = 1
	first.BlockBytes = 1000
	first.RecordAllocation(200)
	first.RecordUnusedRange(800)

	second.BlockCount = 1
	second.BlockBytes = 500
	second.RecordAllocation(100)
	second.RecordAllocation(300)
	second.RecordUnusedRange(100)

	var total memutils.DetailedStatistics
	total.Merge(&empty)
	require.Equal(t, memutils.DetailedStatistics{}, total)

	total.Merge(&first)
	total.Merge(&second)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      2,
			BlockBytes:      1500,
			AllocationCount: 3,
			AllocationBytes: 600,
		},
		Allocations:  memutils.SizeRange{Count: 3, Min: 100, Max: 300},
		UnusedRanges: memutils.SizeRange{Count: 2, Min: 100, Max: 800},
	}, total)

	total.Reset()
	require.Equal(t, memutils.DetailedStatistics{}, total)
}

func TestDetailedStatisticsPrintJsonOmitsSingleSpreads(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.BlockCount = 1
	stats.BlockBytes = 100
	stats.RecordAllocation(40)
	stats.RecordUnusedRange(20)
	stats.RecordUnusedRange(40)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	stats.PrintJson(&obj)
	obj.End()

	require.JSONEq(t, `{
		"BlockCount": 1,
		"BlockBytes": 100,
		"AllocationCount": 1,
		"AllocationBytes": 40,
		"UnusedRangeCount": 2,
		"UnusedRangeSizeMin": 20,
		"UnusedRangeSizeMax": 40
	}`, string(writer.Bytes()))
}

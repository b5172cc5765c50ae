package memutils

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a cheap summary of a set of device memory blocks and the allocations made from them.
// Blocks are real device allocations, allocations are the ranges handed out to callers.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Reset() {
	*s = Statistics{}
}

// Merge adds the counters of other into s
func (s *Statistics) Merge(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// PrintJson writes the statistics as fields of an already-open json object
func (s *Statistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
}

// SizeRange counts a series of sizes and keeps the smallest and largest of them. The zero value
// is an empty range, and Min and Max mean nothing until Count is positive.
type SizeRange struct {
	Count int
	Min   int
	Max   int
}

func (r *SizeRange) Include(size int) {
	if r.Count == 0 || size < r.Min {
		r.Min = size
	}
	if r.Count == 0 || size > r.Max {
		r.Max = size
	}
	r.Count++
}

func (r *SizeRange) Merge(other SizeRange) {
	if other.Count == 0 {
		return
	}
	if r.Count == 0 {
		*r = other
		return
	}

	r.Count += other.Count
	r.Min = min(r.Min, other.Min)
	r.Max = max(r.Max, other.Max)
}

// DetailedStatistics extends Statistics with the size spread of allocations and of the free
// ranges between them. Collecting it walks every suballocation, so it is more expensive.
type DetailedStatistics struct {
	Statistics
	Allocations  SizeRange
	UnusedRanges SizeRange
}

func (s *DetailedStatistics) Reset() {
	*s = DetailedStatistics{}
}

func (s *DetailedStatistics) RecordAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	s.Allocations.Include(size)
}

func (s *DetailedStatistics) RecordUnusedRange(size int) {
	s.UnusedRanges.Include(size)
}

func (s *DetailedStatistics) Merge(other *DetailedStatistics) {
	s.Statistics.Merge(&other.Statistics)
	s.Allocations.Merge(other.Allocations)
	s.UnusedRanges.Merge(other.UnusedRanges)
}

// PrintJson writes the statistics as fields of an already-open json object. A size spread is
// only written once it covers more than one range.
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	s.Statistics.PrintJson(json)
	json.Name("UnusedRangeCount").Int(s.UnusedRanges.Count)

	printSpread(json, "AllocationSize", s.Allocations)
	printSpread(json, "UnusedRangeSize", s.UnusedRanges)
}

func printSpread(json *jwriter.ObjectState, prefix string, spread SizeRange) {
	if spread.Count < 2 {
		return
	}
	json.Name(prefix + "Min").Int(spread.Min)
	json.Name(prefix + "Max").Int(spread.Max)
}

// Budget pairs the statistics of one memory heap with its current usage and the
// amount of memory the process may use from it
type Budget struct {
	Statistics Statistics
	Usage      int
	Budget     int
}

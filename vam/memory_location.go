package vam

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
)

// MemoryLocation is the access pattern an allocation is made for. The allocator chooses a memory
// type that best suits the location from those the resource allows.
type MemoryLocation int32

const (
	// MemoryLocationGpuOnly memory is read and written by the device only. It is not mappable unless
	// the only memory type that fits happens to be host-visible.
	MemoryLocationGpuOnly MemoryLocation = iota
	// MemoryLocationCpuToGpu memory is written sequentially by the host and read by the device.
	// Staging buffers and per-frame dynamic data live here.
	MemoryLocationCpuToGpu
	// MemoryLocationGpuToCpu memory is written by the device and read back by the host
	MemoryLocationGpuToCpu
)

var memoryLocationMapping = make(map[MemoryLocation]string)

func (l MemoryLocation) String() string {
	return memoryLocationMapping[l]
}

func init() {
	memoryLocationMapping[MemoryLocationGpuOnly] = "MemoryLocationGpuOnly"
	memoryLocationMapping[MemoryLocationCpuToGpu] = "MemoryLocationCpuToGpu"
	memoryLocationMapping[MemoryLocationGpuToCpu] = "MemoryLocationGpuToCpu"
}

// ErrNoSuitableMemoryType is returned when no memory type allowed by a resource has the
// property flags required by the requested location
var ErrNoSuitableMemoryType = errors.New("no memory type satisfies the requested memory location")

func findMemoryPreferences(location MemoryLocation) (requiredFlags, preferredFlags, notPreferredFlags hal.MemoryPropertyFlags, err error) {
	switch location {
	case MemoryLocationGpuOnly:
		preferredFlags = hal.MemoryPropertyDeviceLocal
		notPreferredFlags = hal.MemoryPropertyHostVisible
	case MemoryLocationCpuToGpu:
		// Write-combined memory: the host writes but never reads it, so caching is wasted
		requiredFlags = hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent
		preferredFlags = hal.MemoryPropertyDeviceLocal
		notPreferredFlags = hal.MemoryPropertyHostCached
	case MemoryLocationGpuToCpu:
		requiredFlags = hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent
		preferredFlags = hal.MemoryPropertyHostCached
	default:
		return 0, 0, 0, errors.Newf("unknown memory location %d", location)
	}

	return requiredFlags, preferredFlags, notPreferredFlags, nil
}

// findMemoryTypeIndex returns the allowed memory type with the fewest missing preferred flags and
// present not-preferred flags. Memory types missing a required flag are never chosen.
func (a *Allocator) findMemoryTypeIndex(memoryTypeBits uint32, location MemoryLocation) (int, error) {
	requiredFlags, preferredFlags, notPreferredFlags, err := findMemoryPreferences(location)
	if err != nil {
		return -1, err
	}

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex := 0; memTypeIndex < a.deviceMemory.MemoryTypeCount(); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := a.deviceMemory.MemoryTypeProperties(memTypeIndex).PropertyFlags
		if requiredFlags&flags != requiredFlags {
			// This memory type is missing required flags
			continue
		}

		missingPreferredFlags := preferredFlags & ^flags
		presentNotPreferredFlags := notPreferredFlags & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, errors.Wrapf(ErrNoSuitableMemoryType, "location %s, memory type bits %#x", location, memoryTypeBits)
	}

	return bestMemoryTypeIndex, nil
}

// FindMemoryTypeIndex returns the memory type index the allocator would choose for the provided
// requirements and location
func (a *Allocator) FindMemoryTypeIndex(requirements hal.MemoryRequirements, location MemoryLocation) (int, error) {
	return a.findMemoryTypeIndex(requirements.MemoryTypeBits, location)
}

package hal

import "github.com/vkngwrapper/core/v2/common"

// MemoryPropertyFlags describes how a memory type may be accessed
type MemoryPropertyFlags int32

var memoryPropertyFlagsMapping = common.NewFlagStringMapping[MemoryPropertyFlags]()

func (f MemoryPropertyFlags) Register(str string) {
	memoryPropertyFlagsMapping.Register(f, str)
}
func (f MemoryPropertyFlags) String() string {
	return memoryPropertyFlagsMapping.FlagsToString(f)
}

const (
	// MemoryPropertyDeviceLocal memory is the most efficient for device access
	MemoryPropertyDeviceLocal MemoryPropertyFlags = 1 << iota
	// MemoryPropertyHostVisible memory can be mapped for host access
	MemoryPropertyHostVisible
	// MemoryPropertyHostCoherent memory does not need explicit flushes or invalidates after host writes
	MemoryPropertyHostCoherent
	// MemoryPropertyHostCached memory is cached on the host, which makes host reads fast
	MemoryPropertyHostCached
)

func init() {
	MemoryPropertyDeviceLocal.Register("MemoryPropertyDeviceLocal")
	MemoryPropertyHostVisible.Register("MemoryPropertyHostVisible")
	MemoryPropertyHostCoherent.Register("MemoryPropertyHostCoherent")
	MemoryPropertyHostCached.Register("MemoryPropertyHostCached")
}

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     int
}

type MemoryHeap struct {
	Size        int
	DeviceLocal bool
}

type MemoryProperties struct {
	MemoryTypes []MemoryType
	MemoryHeaps []MemoryHeap
}

// Limits are the device limits relevant to memory allocation
type Limits struct {
	BufferImageGranularity   int
	NonCoherentAtomSize      int
	MaxMemoryAllocationCount int
}

// MemoryRequirements is the size, alignment, and set of allowed memory types a resource needs
// from its backing memory. Bit i of MemoryTypeBits is set when MemoryProperties.MemoryTypes[i]
// is allowed.
type MemoryRequirements struct {
	Size           int
	Alignment      uint
	MemoryTypeBits uint32
}

// DeviceMemory is a single native memory allocation
type DeviceMemory interface {
	Size() int
	// Map returns a host view of the whole allocation. It is only valid for host-visible memory types.
	Map() ([]byte, error)
	Unmap()
	Free()
}

// MemoryDevice is the part of a device that an allocator needs: memory properties, raw memory
// allocation, and binding memory to resources
type MemoryDevice interface {
	MemoryProperties() MemoryProperties
	Limits() Limits
	AllocateMemory(memoryTypeIndex int, size int) (DeviceMemory, error)
	BindBufferMemory(buffer Buffer, memory DeviceMemory, offset int) error
	BindImageMemory(image Image, memory DeviceMemory, offset int) error
}

package vulkan

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/freight/hal"
)

type DeviceMemory struct {
	device *Device
	memory core1_0.DeviceMemory
	size   int
}

func (m *DeviceMemory) Size() int { return m.size }

func (m *DeviceMemory) Map() ([]byte, error) {
	ptr, res, err := m.memory.Map(0, m.size, 0)
	if err != nil {
		return nil, resultError(res, err)
	}
	return unsafe.Slice((*byte)(ptr), m.size), nil
}

func (m *DeviceMemory) Unmap() { m.memory.Unmap() }
func (m *DeviceMemory) Free()  { m.memory.Free(m.device.callbacks) }

type Buffer struct {
	device *Device
	buffer core1_0.Buffer
	info   hal.BufferCreateInfo
}

func (b *Buffer) VulkanBuffer() core1_0.Buffer { return b.buffer }
func (b *Buffer) Size() int                    { return b.info.Size }
func (b *Buffer) Usage() hal.BufferUsageFlags  { return b.info.Usage }
func (b *Buffer) Label() string                { return b.info.Label }
func (b *Buffer) Destroy()                     { b.buffer.Destroy(b.device.callbacks) }

func (b *Buffer) MemoryRequirements() hal.MemoryRequirements {
	return memoryRequirements(b.buffer.MemoryRequirements())
}

// Image is either created by Device.CreateImage or owned by a swapchain. Swapchain images are
// never destroyed directly.
type Image struct {
	device *Device
	image  core1_0.Image
	extent hal.Extent3D
	format hal.Format
	owned  bool
}

func (i *Image) VulkanImage() core1_0.Image { return i.image }
func (i *Image) Extent() hal.Extent3D       { return i.extent }
func (i *Image) Format() hal.Format         { return i.format }

func (i *Image) MemoryRequirements() hal.MemoryRequirements {
	return memoryRequirements(i.image.MemoryRequirements())
}

func (i *Image) Destroy() {
	if i.owned {
		i.image.Destroy(i.device.callbacks)
	}
}

func memoryRequirements(requirements *core1_0.MemoryRequirements) hal.MemoryRequirements {
	return hal.MemoryRequirements{
		Size:           requirements.Size,
		Alignment:      uint(requirements.Alignment),
		MemoryTypeBits: requirements.MemoryTypeBits,
	}
}

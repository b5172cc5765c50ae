package soft

import (
	"fmt"

	"github.com/vkngwrapper/freight/hal"
)

type binding struct {
	memory *DeviceMemory
	offset int
}

// resourceState is what the soft device tracks per resource to validate barriers: the queue
// family that owns it, releases that have not been acquired yet, and for images the layout.
// Ownership is tracked per resource rather than per range, so several ranges of one buffer
// released together are counted in pendingReleases.
type resourceState struct {
	owner           int
	releasedFrom    int
	releasedTo      int
	pendingReleases int
	layout          hal.ImageLayout
	destroyed       bool
}

func newResourceState() resourceState {
	return resourceState{
		owner:        hal.QueueFamilyIgnored,
		releasedFrom: hal.QueueFamilyIgnored,
		releasedTo:   hal.QueueFamilyIgnored,
		layout:       hal.ImageLayoutUndefined,
	}
}

// Buffer is a soft buffer. Its contents live in the DeviceMemory it is bound to.
type Buffer struct {
	device       *Device
	info         hal.BufferCreateInfo
	requirements hal.MemoryRequirements
	binding      binding

	resourceState
}

var _ hal.Buffer = &Buffer{}

func (b *Buffer) Size() int                                  { return b.info.Size }
func (b *Buffer) Usage() hal.BufferUsageFlags                { return b.info.Usage }
func (b *Buffer) MemoryRequirements() hal.MemoryRequirements { return b.requirements }
func (b *Buffer) Label() string                              { return b.info.Label }

func (b *Buffer) checkAlive() {
	if b.destroyed {
		panic(fmt.Sprintf("attempted to use destroyed buffer %q", b.info.Label))
	}
}

func (b *Buffer) bytes() []byte {
	if b.binding.memory == nil || b.binding.memory.freed {
		return nil
	}
	return b.binding.memory.data[b.binding.offset : b.binding.offset+b.info.Size]
}

// Contents returns a copy of the buffer's bytes regardless of the memory type it is bound to.
// It returns nil for a buffer with no memory. This is a test-only path: a real device cannot
// read device-local memory from the host.
func (b *Buffer) Contents() []byte {
	b.device.lock.Lock()
	defer b.device.lock.Unlock()

	b.checkAlive()
	data := b.bytes()
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}

// Owner is the queue family that last acquired the buffer, or hal.QueueFamilyIgnored
func (b *Buffer) Owner() int {
	b.device.lock.Lock()
	defer b.device.lock.Unlock()

	return b.owner
}

func (b *Buffer) Destroy() {
	b.device.lock.Lock()
	defer b.device.lock.Unlock()

	b.checkAlive()
	b.destroyed = true
	b.device.track("buffer", -1)
}

// Image is a soft image. Texels are stored tightly packed, row-major, layer after layer; only
// the first mip level has storage.
type Image struct {
	device       *Device
	info         hal.ImageCreateInfo
	requirements hal.MemoryRequirements
	binding      binding
	swapchain    *Swapchain

	resourceState
}

var _ hal.Image = &Image{}

func imageByteSize(info hal.ImageCreateInfo) int {
	return info.Extent.Width * info.Extent.Height * info.Extent.Depth * info.ArrayLayers * info.Format.BytesPerPixel()
}

func (i *Image) Extent() hal.Extent3D                       { return i.info.Extent }
func (i *Image) Format() hal.Format                         { return i.info.Format }
func (i *Image) MemoryRequirements() hal.MemoryRequirements { return i.requirements }
func (i *Image) Label() string                              { return i.info.Label }

func (i *Image) checkAlive() {
	if i.destroyed {
		panic(fmt.Sprintf("attempted to use destroyed image %q", i.info.Label))
	}
}

func (i *Image) bytes() []byte {
	if i.binding.memory == nil || i.binding.memory.freed {
		return nil
	}
	return i.binding.memory.data[i.binding.offset : i.binding.offset+i.requirements.Size]
}

// Contents returns a copy of the image's texels. Like Buffer.Contents, it is a test-only path.
func (i *Image) Contents() []byte {
	i.device.lock.Lock()
	defer i.device.lock.Unlock()

	i.checkAlive()
	data := i.bytes()
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}

func (i *Image) Layout() hal.ImageLayout {
	i.device.lock.Lock()
	defer i.device.lock.Unlock()

	return i.layout
}

func (i *Image) Owner() int {
	i.device.lock.Lock()
	defer i.device.lock.Unlock()

	return i.owner
}

func (i *Image) Destroy() {
	i.device.lock.Lock()
	defer i.device.lock.Unlock()

	if i.swapchain != nil {
		panic("attempted to destroy a swapchain image, which is owned by its swapchain")
	}
	i.checkAlive()
	i.destroyed = true
	i.device.track("image", -1)
}

// Package vulkan implements the hal interfaces on top of vkngwrapper. The caller creates the
// instance, picks the physical device and creates the logical device with one graphics queue
// and, optionally, one queue from a dedicated transfer family. Device wraps the result.
package vulkan

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

type DeviceOptions struct {
	// QueueFamilies names the families the logical device was created with queues from. Graphics
	// and Transfer may be the same family.
	QueueFamilies hal.QueueFamilies
	// AllocationCallbacks is passed to every object this Device creates and destroys
	AllocationCallbacks *driver.AllocationCallbacks
}

// Device is a hal.Device backed by a vkngwrapper logical device
type Device struct {
	logger         *slog.Logger
	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	callbacks      *driver.AllocationCallbacks

	families         hal.QueueFamilies
	graphics         *Queue
	transfer         *Queue
	memoryProperties hal.MemoryProperties
	limits           hal.Limits
}

var _ hal.Device = &Device{}

func NewDevice(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options DeviceOptions) (*Device, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read physical device properties")
	}

	d := &Device{
		logger:         logger,
		physicalDevice: physicalDevice,
		device:         device,
		callbacks:      options.AllocationCallbacks,
		families:       options.QueueFamilies,
		limits: hal.Limits{
			BufferImageGranularity:   properties.Limits.BufferImageGranularity,
			NonCoherentAtomSize:      properties.Limits.NonCoherentAtomSize,
			MaxMemoryAllocationCount: properties.Limits.MaxMemoryAllocationCount,
		},
	}

	memoryProperties := physicalDevice.MemoryProperties()
	for _, memoryType := range memoryProperties.MemoryTypes {
		d.memoryProperties.MemoryTypes = append(d.memoryProperties.MemoryTypes, hal.MemoryType{
			PropertyFlags: convertFlags(memoryType.PropertyFlags, memoryPropertyFlags),
			HeapIndex:     memoryType.HeapIndex,
		})
	}
	for _, heap := range memoryProperties.MemoryHeaps {
		d.memoryProperties.MemoryHeaps = append(d.memoryProperties.MemoryHeaps, hal.MemoryHeap{
			Size:        heap.Size,
			DeviceLocal: heap.Flags&core1_0.MemoryHeapDeviceLocal != 0,
		})
	}

	d.graphics = &Queue{device: d, family: options.QueueFamilies.Graphics, queue: device.GetQueue(options.QueueFamilies.Graphics, 0)}
	if options.QueueFamilies.Transfer == options.QueueFamilies.Graphics {
		d.transfer = d.graphics
	} else {
		d.transfer = &Queue{device: d, family: options.QueueFamilies.Transfer, queue: device.GetQueue(options.QueueFamilies.Transfer, 0)}
	}

	logger.Debug("vulkan::NewDevice",
		slog.String("Device", properties.DriverName),
		slog.Int("GraphicsFamily", options.QueueFamilies.Graphics),
		slog.Int("TransferFamily", options.QueueFamilies.Transfer),
		slog.Int("MemoryTypes", len(d.memoryProperties.MemoryTypes)))

	return d, nil
}

func (d *Device) VulkanDevice() core1_0.Device                 { return d.device }
func (d *Device) VulkanPhysicalDevice() core1_0.PhysicalDevice { return d.physicalDevice }
func (d *Device) MemoryProperties() hal.MemoryProperties       { return d.memoryProperties }
func (d *Device) Limits() hal.Limits                           { return d.limits }
func (d *Device) QueueFamilies() hal.QueueFamilies             { return d.families }
func (d *Device) GraphicsQueue() hal.Queue                     { return d.graphics }
func (d *Device) TransferQueue() hal.Queue                     { return d.transfer }

func (d *Device) AllocateMemory(memoryTypeIndex int, size int) (hal.DeviceMemory, error) {
	memory, res, err := d.device.AllocateMemory(d.callbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &DeviceMemory{device: d, memory: memory, size: size}, nil
}

func (d *Device) BindBufferMemory(buffer hal.Buffer, memory hal.DeviceMemory, offset int) error {
	res, err := buffer.(*Buffer).buffer.BindBufferMemory(memory.(*DeviceMemory).memory, offset)
	return resultError(res, err)
}

func (d *Device) BindImageMemory(image hal.Image, memory hal.DeviceMemory, offset int) error {
	res, err := image.(*Image).image.BindImageMemory(memory.(*DeviceMemory).memory, offset)
	return resultError(res, err)
}

func (d *Device) CreateBuffer(info hal.BufferCreateInfo) (hal.Buffer, error) {
	buffer, res, err := d.device.CreateBuffer(d.callbacks, core1_0.BufferCreateInfo{
		Size:        info.Size,
		Usage:       convertFlags(info.Usage, bufferUsageFlags),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &Buffer{device: d, buffer: buffer, info: info}, nil
}

func (d *Device) CreateImage(info hal.ImageCreateInfo) (hal.Image, error) {
	format, ok := formats[info.Format]
	if !ok || info.Format == hal.FormatUndefined {
		return nil, errors.Newf("image %q has unsupported format %s", info.Label, info.Format)
	}
	mipLevels := info.MipLevels
	if mipLevels < 1 {
		mipLevels = 1
	}
	arrayLayers := info.ArrayLayers
	if arrayLayers < 1 {
		arrayLayers = 1
	}

	image, res, err := d.device.CreateImage(d.callbacks, core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Format:        format,
		Extent:        extent3D(info.Extent),
		MipLevels:     mipLevels,
		ArrayLayers:   arrayLayers,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         convertFlags(info.Usage, imageUsageFlags),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &Image{device: d, image: image, extent: info.Extent, format: info.Format, owned: true}, nil
}

func (d *Device) CreateCommandPool(queueFamily int) (hal.CommandPool, error) {
	pool, res, err := d.device.CreateCommandPool(d.callbacks, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamily,
	})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &CommandPool{device: d, pool: pool, family: queueFamily}, nil
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.device.CreateFence(d.callbacks, core1_0.FenceCreateInfo{Flags: flags})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &Fence{device: d, fence: fence}, nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	semaphore, res, err := d.device.CreateSemaphore(d.callbacks, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &Semaphore{device: d, semaphore: semaphore}, nil
}

func vulkanFences(fences []hal.Fence) []core1_0.Fence {
	native := make([]core1_0.Fence, 0, len(fences))
	for _, fence := range fences {
		native = append(native, fence.(*Fence).fence)
	}
	return native
}

// WaitForFences waits for every fence to be signaled. Expiry of timeout returns an error that
// matches hal.ErrTimeout.
func (d *Device) WaitForFences(fences []hal.Fence, timeout time.Duration) error {
	res, err := d.device.WaitForFences(true, timeout, vulkanFences(fences))
	return resultError(res, err)
}

func (d *Device) ResetFences(fences []hal.Fence) error {
	res, err := d.device.ResetFences(vulkanFences(fences))
	return resultError(res, err)
}

func (d *Device) WaitIdle() error {
	res, err := d.device.WaitIdle()
	return resultError(res, err)
}

package soft

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

// DeviceOptions describes the device a soft Device pretends to be. The zero value is
// DefaultDeviceOptions. Graphics and Transfer may name the same family, including family 0.
type DeviceOptions struct {
	MemoryProperties hal.MemoryProperties
	Limits           hal.Limits
	QueueFamilies    hal.QueueFamilies

	// BufferAlignment and ImageAlignment are reported in MemoryRequirements
	BufferAlignment uint
	ImageAlignment  uint
}

// DefaultDeviceOptions is a small discrete GPU: 64MB of device-local memory, 64MB of host memory
// with a coherent type and a cached type, and a dedicated transfer queue family.
func DefaultDeviceOptions() DeviceOptions {
	return DeviceOptions{
		MemoryProperties: hal.MemoryProperties{
			MemoryTypes: []hal.MemoryType{
				{PropertyFlags: hal.MemoryPropertyDeviceLocal, HeapIndex: 0},
				{PropertyFlags: hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent, HeapIndex: 1},
				{PropertyFlags: hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent | hal.MemoryPropertyHostCached, HeapIndex: 1},
			},
			MemoryHeaps: []hal.MemoryHeap{
				{Size: 64 * 1024 * 1024, DeviceLocal: true},
				{Size: 64 * 1024 * 1024},
			},
		},
		Limits: hal.Limits{
			BufferImageGranularity:   1024,
			NonCoherentAtomSize:      64,
			MaxMemoryAllocationCount: 4096,
		},
		QueueFamilies: hal.QueueFamilies{
			Graphics: 0,
			Transfer: 1,
		},
		BufferAlignment: 16,
		ImageAlignment:  256,
	}
}

// Device is a hal.Device that lives entirely in host memory. Command buffers are recorded as a
// list of operations and executed synchronously by Queue.Submit, so a fence is signaled as soon
// as the submission that carries it returns. Misuse that a validation layer would catch, such as
// copying into a resource owned by another queue family, fails the submission with an error
// marked hal.ErrValidation.
//
// Device is safe for concurrent use.
type Device struct {
	logger  *slog.Logger
	options DeviceOptions

	lock sync.Mutex

	graphicsQueue *Queue
	transferQueue *Queue

	heapUsage []int
	live      map[string]int
	hung      bool
	lost      bool

	failAllocations int
}

var _ hal.Device = &Device{}

func (o DeviceOptions) isZero() bool {
	return len(o.MemoryProperties.MemoryTypes) == 0 &&
		len(o.MemoryProperties.MemoryHeaps) == 0 &&
		o.Limits == (hal.Limits{}) &&
		o.QueueFamilies == (hal.QueueFamilies{}) &&
		o.BufferAlignment == 0 &&
		o.ImageAlignment == 0
}

// NewDevice creates a soft device. logger may be nil. A zero DeviceOptions takes every value from
// DefaultDeviceOptions; otherwise QueueFamilies is used as given and only empty memory
// properties, limits and alignments are defaulted.
func NewDevice(logger *slog.Logger, options DeviceOptions) *Device {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	if options.isZero() {
		options = DefaultDeviceOptions()
	}

	// QueueFamilies is never defaulted here: {0, 0} is a shared family, not an unset one
	defaults := DefaultDeviceOptions()
	if len(options.MemoryProperties.MemoryTypes) == 0 {
		options.MemoryProperties = defaults.MemoryProperties
	}
	if options.Limits == (hal.Limits{}) {
		options.Limits = defaults.Limits
	}
	if options.BufferAlignment == 0 {
		options.BufferAlignment = defaults.BufferAlignment
	}
	if options.ImageAlignment == 0 {
		options.ImageAlignment = defaults.ImageAlignment
	}

	d := &Device{
		logger:    logger,
		options:   options,
		heapUsage: make([]int, len(options.MemoryProperties.MemoryHeaps)),
		live:      make(map[string]int),
	}
	d.graphicsQueue = &Queue{device: d, family: options.QueueFamilies.Graphics}
	d.transferQueue = &Queue{device: d, family: options.QueueFamilies.Transfer}
	if options.QueueFamilies.Transfer == options.QueueFamilies.Graphics {
		d.transferQueue = d.graphicsQueue
	}

	return d
}

func (d *Device) track(kind string, delta int) {
	d.live[kind] += delta
	if d.live[kind] < 0 {
		panic(fmt.Sprintf("soft device destroyed more %s objects than it created", kind))
	}
}

// LiveObjects reports how many objects of kind are alive: "memory", "buffer", "image",
// "commandPool", "commandBuffer", "fence", "semaphore" or "swapchain"
func (d *Device) LiveObjects(kind string) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.live[kind]
}

// Hang makes every later submission be accepted without executing or signaling its fence, so
// fence waits time out. It models a GPU that stopped making progress.
func (d *Device) Hang() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.hung = true
}

// Lose makes every later submission, wait and acquire fail with hal.ErrDeviceLost
func (d *Device) Lose() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.lost = true
}

// FailAllocations makes the next count calls to AllocateMemory fail with
// hal.ErrOutOfDeviceMemory
func (d *Device) FailAllocations(count int) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.failAllocations = count
}

func (d *Device) MemoryProperties() hal.MemoryProperties {
	return d.options.MemoryProperties
}

func (d *Device) Limits() hal.Limits {
	return d.options.Limits
}

func (d *Device) QueueFamilies() hal.QueueFamilies {
	return d.options.QueueFamilies
}

func (d *Device) GraphicsQueue() hal.Queue {
	return d.graphicsQueue
}

func (d *Device) TransferQueue() hal.Queue {
	return d.transferQueue
}

func (d *Device) AllocateMemory(memoryTypeIndex int, size int) (hal.DeviceMemory, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.lost {
		return nil, errors.WithStack(hal.ErrDeviceLost)
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(d.options.MemoryProperties.MemoryTypes) {
		return nil, errors.Mark(errors.Newf("memory type %d does not exist", memoryTypeIndex), hal.ErrValidation)
	}
	if size <= 0 {
		return nil, errors.Mark(errors.Newf("attempted to allocate %d bytes of memory", size), hal.ErrValidation)
	}
	if d.failAllocations > 0 {
		d.failAllocations--
		return nil, errors.Wrap(hal.ErrOutOfDeviceMemory, "injected allocation failure")
	}

	memoryType := d.options.MemoryProperties.MemoryTypes[memoryTypeIndex]
	heap := d.options.MemoryProperties.MemoryHeaps[memoryType.HeapIndex]
	if d.heapUsage[memoryType.HeapIndex]+size > heap.Size {
		return nil, errors.Wrapf(hal.ErrOutOfDeviceMemory, "heap %d has %d of %d bytes in use", memoryType.HeapIndex, d.heapUsage[memoryType.HeapIndex], heap.Size)
	}

	d.heapUsage[memoryType.HeapIndex] += size
	d.track("memory", 1)
	d.logger.Debug("soft::Device::AllocateMemory", slog.Int("MemoryTypeIndex", memoryTypeIndex), slog.Int("Size", size))

	return &DeviceMemory{
		device:          d,
		memoryTypeIndex: memoryTypeIndex,
		hostVisible:     memoryType.PropertyFlags&hal.MemoryPropertyHostVisible != 0,
		data:            make([]byte, size),
	}, nil
}

func (d *Device) BindBufferMemory(buffer hal.Buffer, memory hal.DeviceMemory, offset int) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	b := buffer.(*Buffer)
	mem := memory.(*DeviceMemory)
	b.checkAlive()

	err := d.validateBind(b.binding, mem, offset, b.requirements)
	if err != nil {
		return err
	}

	b.binding = binding{memory: mem, offset: offset}
	return nil
}

func (d *Device) BindImageMemory(image hal.Image, memory hal.DeviceMemory, offset int) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	i := image.(*Image)
	mem := memory.(*DeviceMemory)
	i.checkAlive()

	err := d.validateBind(i.binding, mem, offset, i.requirements)
	if err != nil {
		return err
	}

	i.binding = binding{memory: mem, offset: offset}
	return nil
}

func (d *Device) validateBind(existing binding, memory *DeviceMemory, offset int, requirements hal.MemoryRequirements) error {
	if d.lost {
		return errors.WithStack(hal.ErrDeviceLost)
	}
	if memory.freed {
		return errors.Mark(errors.New("attempted to bind freed memory"), hal.ErrValidation)
	}
	if existing.memory != nil {
		return errors.Mark(errors.New("resource is already bound to memory"), hal.ErrValidation)
	}
	if requirements.MemoryTypeBits&(1<<memory.memoryTypeIndex) == 0 {
		return errors.Mark(errors.Newf("memory type %d is not allowed by the resource", memory.memoryTypeIndex), hal.ErrValidation)
	}
	if offset < 0 || offset%int(requirements.Alignment) != 0 {
		return errors.Mark(errors.Newf("bind offset %d does not meet alignment %d", offset, requirements.Alignment), hal.ErrValidation)
	}
	if offset+requirements.Size > len(memory.data) {
		return errors.Mark(errors.Newf("binding %d bytes at offset %d overruns a %d byte allocation", requirements.Size, offset, len(memory.data)), hal.ErrValidation)
	}

	return nil
}

func (d *Device) allMemoryTypeBits() uint32 {
	return uint32(1)<<len(d.options.MemoryProperties.MemoryTypes) - 1
}

func (d *Device) CreateBuffer(info hal.BufferCreateInfo) (hal.Buffer, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if info.Size <= 0 {
		return nil, errors.Mark(errors.Newf("attempted to create a buffer of size %d", info.Size), hal.ErrValidation)
	}

	d.track("buffer", 1)
	return &Buffer{
		device: d,
		info:   info,
		requirements: hal.MemoryRequirements{
			Size:           info.Size,
			Alignment:      d.options.BufferAlignment,
			MemoryTypeBits: d.allMemoryTypeBits(),
		},
		resourceState: newResourceState(),
	}, nil
}

func (d *Device) CreateImage(info hal.ImageCreateInfo) (hal.Image, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		return nil, errors.Mark(errors.Newf("attempted to create an image with extent %dx%d", info.Extent.Width, info.Extent.Height), hal.ErrValidation)
	}
	if info.Format.BytesPerPixel() == 0 {
		return nil, errors.Mark(errors.Newf("unsupported image format %s", info.Format), hal.ErrValidation)
	}
	if info.Extent.Depth == 0 {
		info.Extent.Depth = 1
	}
	if info.ArrayLayers == 0 {
		info.ArrayLayers = 1
	}
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}

	// Optimal tiling images may not live in host-visible memory that is not device local
	var bits uint32
	for typeIndex, memoryType := range d.options.MemoryProperties.MemoryTypes {
		hostOnly := memoryType.PropertyFlags&hal.MemoryPropertyHostVisible != 0 &&
			memoryType.PropertyFlags&hal.MemoryPropertyDeviceLocal == 0
		if !hostOnly {
			bits |= 1 << typeIndex
		}
	}

	d.track("image", 1)
	image := &Image{
		device: d,
		info:   info,
		requirements: hal.MemoryRequirements{
			Size:           imageByteSize(info),
			Alignment:      d.options.ImageAlignment,
			MemoryTypeBits: bits,
		},
		resourceState: newResourceState(),
	}
	return image, nil
}

func (d *Device) CreateCommandPool(queueFamily int) (hal.CommandPool, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if queueFamily != d.options.QueueFamilies.Graphics && queueFamily != d.options.QueueFamilies.Transfer {
		return nil, errors.Mark(errors.Newf("queue family %d does not exist", queueFamily), hal.ErrValidation)
	}

	d.track("commandPool", 1)
	return &CommandPool{device: d, family: queueFamily}, nil
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.track("fence", 1)
	return &Fence{device: d, signaled: signaled}, nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.track("semaphore", 1)
	return &Semaphore{device: d}, nil
}

// WaitForFences returns immediately when every fence is signaled. Because soft submissions run
// to completion inside Submit, a fence that is unsignaled here only becomes signaled if another
// goroutine submits it, so the wait polls until timeout.
func (d *Device) WaitForFences(fences []hal.Fence, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		d.lock.Lock()
		if d.lost {
			d.lock.Unlock()
			return errors.WithStack(hal.ErrDeviceLost)
		}

		allSignaled := true
		for _, fence := range fences {
			f := fence.(*Fence)
			f.checkAlive()
			if !f.signaled {
				allSignaled = false
				break
			}
		}
		d.lock.Unlock()

		if allSignaled {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errors.Wrapf(hal.ErrTimeout, "waited %s for %d fences", timeout, len(fences))
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *Device) ResetFences(fences []hal.Fence) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	for _, fence := range fences {
		f := fence.(*Fence)
		f.checkAlive()
		if f.pending {
			return errors.Mark(errors.New("attempted to reset a fence that is still pending"), hal.ErrValidation)
		}
		f.signaled = false
	}

	return nil
}

func (d *Device) WaitIdle() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.lost {
		return errors.WithStack(hal.ErrDeviceLost)
	}
	return nil
}

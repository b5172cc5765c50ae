package frame

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
)

// Frame is the set of per-slot objects one in-flight frame records and submits with. The fence
// is signaled when the GPU has finished the slot's last submission, and must be waited on before
// the command buffer is reset for reuse.
type Frame struct {
	device hal.Device
	index  int

	CommandPool   hal.CommandPool
	CommandBuffer hal.CommandBuffer
	Fence         hal.Fence
	// AcquireSemaphore is signaled when the acquired swapchain image is ready to be rendered to
	AcquireSemaphore hal.Semaphore
	// RenderSemaphore is signaled when rendering is complete and the image may be presented
	RenderSemaphore hal.Semaphore
}

func newFrame(device hal.Device, index int) (*Frame, error) {
	f := &Frame{device: device, index: index}
	var err error

	f.CommandPool, err = device.CreateCommandPool(device.QueueFamilies().Graphics)
	if err != nil {
		f.destroy()
		return nil, hal.NewDeviceError("Frame::New", err)
	}
	f.CommandBuffer, err = f.CommandPool.AllocateCommandBuffer()
	if err != nil {
		f.destroy()
		return nil, hal.NewDeviceError("Frame::New", err)
	}
	// Signaled so that the first wait on a fresh slot returns immediately
	f.Fence, err = device.CreateFence(true)
	if err != nil {
		f.destroy()
		return nil, hal.NewDeviceError("Frame::New", err)
	}
	f.AcquireSemaphore, err = device.CreateSemaphore()
	if err != nil {
		f.destroy()
		return nil, hal.NewDeviceError("Frame::New", err)
	}
	f.RenderSemaphore, err = device.CreateSemaphore()
	if err != nil {
		f.destroy()
		return nil, hal.NewDeviceError("Frame::New", err)
	}

	return f, nil
}

func (f *Frame) Index() int { return f.index }

// Wait blocks until the slot's last submission has completed. Expiry of timeout is reported as
// device loss.
func (f *Frame) Wait(timeout time.Duration) error {
	err := f.device.WaitForFences([]hal.Fence{f.Fence}, timeout)
	if err != nil {
		return hal.NewDeviceError("Frame::Wait", errors.Mark(err, hal.ErrDeviceLost))
	}
	return nil
}

// Reset waits for the slot's last submission, then unsignals the fence and returns the command
// buffer to the initial state
func (f *Frame) Reset(timeout time.Duration) error {
	err := f.Wait(timeout)
	if err != nil {
		return err
	}

	err = f.device.ResetFences([]hal.Fence{f.Fence})
	if err != nil {
		return hal.NewDeviceError("Frame::Reset", err)
	}
	err = f.CommandBuffer.Reset()
	if err != nil {
		return hal.NewDeviceError("Frame::Reset", err)
	}

	return nil
}

func (f *Frame) destroy() {
	if f.RenderSemaphore != nil {
		f.RenderSemaphore.Destroy()
		f.RenderSemaphore = nil
	}
	if f.AcquireSemaphore != nil {
		f.AcquireSemaphore.Destroy()
		f.AcquireSemaphore = nil
	}
	if f.Fence != nil {
		f.Fence.Destroy()
		f.Fence = nil
	}
	if f.CommandPool != nil {
		f.CommandPool.Destroy()
		f.CommandPool = nil
		f.CommandBuffer = nil
	}
}

package soft

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/hal"
)

func boundBuffer(t *testing.T, device *Device, size int, usage hal.BufferUsageFlags, memoryType int) *Buffer {
	buffer, err := device.CreateBuffer(hal.BufferCreateInfo{Size: size, Usage: usage, Label: "test"})
	require.NoError(t, err)

	memory, err := device.AllocateMemory(memoryType, size)
	require.NoError(t, err)
	require.NoError(t, device.BindBufferMemory(buffer, memory, 0))

	return buffer.(*Buffer)
}

func recordAndSubmit(t *testing.T, device *Device, queue hal.Queue, record func(cb hal.CommandBuffer)) error {
	pool, err := device.CreateCommandPool(queue.Family())
	require.NoError(t, err)
	defer pool.Destroy()

	cb, err := pool.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	record(cb)
	require.NoError(t, cb.End())

	fence, err := device.CreateFence(false)
	require.NoError(t, err)
	defer fence.Destroy()

	err = queue.Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cb}}}, fence)
	if err != nil {
		return err
	}
	return device.WaitForFences([]hal.Fence{fence}, time.Second)
}

func TestCopyWithOwnershipTransfer(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	families := device.QueueFamilies()

	staging := boundBuffer(t, device, 64, hal.BufferUsageTransferSrc, 1)
	target := boundBuffer(t, device, 64, hal.BufferUsageTransferDst|hal.BufferUsageVertex, 0)

	mapped, err := staging.binding.memory.Map()
	require.NoError(t, err)
	copy(mapped, "0123456789")

	release := hal.BufferBarrier{
		SrcStage:       hal.PipelineStageTransfer,
		DstStage:       hal.PipelineStageBottomOfPipe,
		SrcAccess:      hal.AccessTransferWrite,
		SrcQueueFamily: families.Transfer,
		DstQueueFamily: families.Graphics,
		Buffer:         target,
		Size:           hal.WholeSize,
	}

	err = recordAndSubmit(t, device, device.TransferQueue(), func(cb hal.CommandBuffer) {
		cb.CopyBuffer(staging, target, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 4, Size: 10}})
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{release}})
	})
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), target.Contents()[4:14])
	require.Equal(t, hal.QueueFamilyIgnored, target.Owner())

	acquire := release
	acquire.SrcStage = hal.PipelineStageTopOfPipe
	acquire.DstStage = hal.PipelineStageVertexInput
	acquire.SrcAccess = hal.AccessNone
	acquire.DstAccess = hal.AccessVertexAttributeRead

	err = recordAndSubmit(t, device, device.GraphicsQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{acquire}})
	})
	require.NoError(t, err)
	require.Equal(t, families.Graphics, target.Owner())

	// The graphics family owns the buffer now, so the transfer queue may not write it
	err = recordAndSubmit(t, device, device.TransferQueue(), func(cb hal.CommandBuffer) {
		cb.CopyBuffer(staging, target, []hal.BufferCopy{{Size: 4}})
	})
	require.True(t, errors.Is(err, hal.ErrValidation))
}

func TestAcquireWithoutRelease(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	families := device.QueueFamilies()
	target := boundBuffer(t, device, 64, hal.BufferUsageTransferDst, 0)

	err := recordAndSubmit(t, device, device.GraphicsQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{{
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Graphics,
			Buffer:         target,
			Size:           hal.WholeSize,
		}}})
	})
	require.True(t, errors.Is(err, hal.ErrValidation))
}

func TestReleaseOnWrongQueue(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	families := device.QueueFamilies()
	target := boundBuffer(t, device, 64, hal.BufferUsageTransferDst, 0)

	err := recordAndSubmit(t, device, device.GraphicsQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{{
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Transfer + 7,
			Buffer:         target,
			Size:           hal.WholeSize,
		}}})
	})
	require.True(t, errors.Is(err, hal.ErrValidation))
}

func TestCopyBufferToImage(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})

	image, err := device.CreateImage(hal.ImageCreateInfo{
		Extent: hal.Extent3D{Width: 4, Height: 2},
		Format: hal.FormatR8G8B8A8Unorm,
		Usage:  hal.ImageUsageTransferDst | hal.ImageUsageSampled,
	})
	require.NoError(t, err)
	requirements := image.MemoryRequirements()
	require.Equal(t, 32, requirements.Size)
	require.Zero(t, requirements.MemoryTypeBits&0x6)

	memory, err := device.AllocateMemory(0, 256)
	require.NoError(t, err)
	require.NoError(t, device.BindImageMemory(image, memory, 0))

	staging := boundBuffer(t, device, 32, hal.BufferUsageTransferSrc, 1)
	mapped, err := staging.binding.memory.Map()
	require.NoError(t, err)
	for i := range mapped {
		mapped[i] = byte(i)
	}

	fullRange := hal.ImageSubresourceRange{AspectMask: hal.ImageAspectColor, LevelCount: 1, LayerCount: 1}
	err = recordAndSubmit(t, device, device.TransferQueue(), func(cb hal.CommandBuffer) {
		// Copying before the layout transition is invalid
		cb.CopyBufferToImage(staging, image, hal.ImageLayoutTransferDstOptimal, []hal.BufferImageCopy{{
			AspectMask:  hal.ImageAspectColor,
			LayerCount:  1,
			ImageExtent: hal.Extent3D{Width: 4, Height: 2, Depth: 1},
		}})
	})
	require.True(t, errors.Is(err, hal.ErrValidation))

	err = recordAndSubmit(t, device, device.TransferQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{ImageBarriers: []hal.ImageBarrier{{
			OldLayout:      hal.ImageLayoutUndefined,
			NewLayout:      hal.ImageLayoutTransferDstOptimal,
			SrcQueueFamily: hal.QueueFamilyIgnored,
			DstQueueFamily: hal.QueueFamilyIgnored,
			Image:          image,
			Range:          fullRange,
		}}})
		cb.CopyBufferToImage(staging, image, hal.ImageLayoutTransferDstOptimal, []hal.BufferImageCopy{{
			AspectMask:  hal.ImageAspectColor,
			LayerCount:  1,
			ImageOffset: hal.Offset3D{X: 2, Y: 1},
			ImageExtent: hal.Extent3D{Width: 2, Height: 1, Depth: 1},
		}})
	})
	require.NoError(t, err)

	contents := image.(*Image).Contents()
	require.Equal(t, make([]byte, 24), contents[:24])
	require.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, contents[24:])
	require.Equal(t, hal.ImageLayoutTransferDstOptimal, image.(*Image).Layout())
}

func TestHungDeviceTimesOut(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	device.Hang()

	pool, err := device.CreateCommandPool(device.QueueFamilies().Graphics)
	require.NoError(t, err)
	cb, err := pool.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())

	fence, err := device.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, device.GraphicsQueue().Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cb}}}, fence))

	err = device.WaitForFences([]hal.Fence{fence}, 5*time.Millisecond)
	require.True(t, errors.Is(err, hal.ErrTimeout))
	require.True(t, errors.Is(device.ResetFences([]hal.Fence{fence}), hal.ErrValidation))
}

func TestLostDevice(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	fence, err := device.CreateFence(true)
	require.NoError(t, err)

	device.Lose()
	require.True(t, errors.Is(device.WaitForFences([]hal.Fence{fence}, time.Second), hal.ErrDeviceLost))
	require.True(t, errors.Is(device.WaitIdle(), hal.ErrDeviceLost))
	_, err = device.AllocateMemory(0, 16)
	require.True(t, errors.Is(err, hal.ErrDeviceLost))
}

func TestHeapExhaustion(t *testing.T) {
	options := DefaultDeviceOptions()
	options.MemoryProperties.MemoryHeaps[1].Size = 1000
	device := NewDevice(nil, options)

	memory, err := device.AllocateMemory(1, 800)
	require.NoError(t, err)

	_, err = device.AllocateMemory(2, 300)
	require.True(t, errors.Is(err, hal.ErrOutOfDeviceMemory))

	memory.Free()
	_, err = device.AllocateMemory(2, 300)
	require.NoError(t, err)

	device.FailAllocations(1)
	_, err = device.AllocateMemory(0, 16)
	require.True(t, errors.Is(err, hal.ErrOutOfDeviceMemory))
	_, err = device.AllocateMemory(0, 16)
	require.NoError(t, err)
}

func TestMapDeviceLocalFails(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	memory, err := device.AllocateMemory(0, 16)
	require.NoError(t, err)

	_, err = memory.Map()
	require.True(t, errors.Is(err, hal.ErrValidation))
}

func TestDoubleDestroyPanics(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})

	fence, err := device.CreateFence(false)
	require.NoError(t, err)
	semaphore, err := device.CreateSemaphore()
	require.NoError(t, err)
	buffer, err := device.CreateBuffer(hal.BufferCreateInfo{Size: 16})
	require.NoError(t, err)
	memory, err := device.AllocateMemory(0, 16)
	require.NoError(t, err)

	require.Equal(t, 1, device.LiveObjects("fence"))
	fence.Destroy()
	semaphore.Destroy()
	buffer.Destroy()
	memory.Free()
	require.Equal(t, 0, device.LiveObjects("fence"))
	require.Equal(t, 0, device.LiveObjects("memory"))

	require.Panics(t, fence.Destroy)
	require.Panics(t, semaphore.Destroy)
	require.Panics(t, buffer.Destroy)
	require.Panics(t, memory.Free)
}

func TestRecordOutsideRecordingPanics(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	pool, err := device.CreateCommandPool(device.QueueFamilies().Transfer)
	require.NoError(t, err)
	cb, err := pool.AllocateCommandBuffer()
	require.NoError(t, err)

	require.Panics(t, func() {
		cb.PipelineBarrier(hal.DependencyInfo{})
	})
}

func TestSubmitToWrongQueue(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	pool, err := device.CreateCommandPool(device.QueueFamilies().Transfer)
	require.NoError(t, err)
	cb, err := pool.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())

	err = device.GraphicsQueue().Submit([]hal.SubmitInfo{{CommandBuffers: []hal.CommandBuffer{cb}}}, nil)
	require.True(t, errors.Is(err, hal.ErrValidation))
}

func TestSharedQueueFamily(t *testing.T) {
	options := DefaultDeviceOptions()
	options.QueueFamilies.Transfer = options.QueueFamilies.Graphics
	device := NewDevice(nil, options)

	require.Equal(t, hal.QueueFamilies{Graphics: 0, Transfer: 0}, device.QueueFamilies())
	require.Same(t, device.GraphicsQueue(), device.TransferQueue())
}

func TestSharedQueueFamilyWithoutOtherOptions(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{
		QueueFamilies:   hal.QueueFamilies{Graphics: 0, Transfer: 0},
		BufferAlignment: 16,
	})

	require.Equal(t, hal.QueueFamilies{Graphics: 0, Transfer: 0}, device.QueueFamilies())
	require.Same(t, device.GraphicsQueue(), device.TransferQueue())
	require.Len(t, device.MemoryProperties().MemoryTypes, 3)
}

func TestZeroOptionsUseDefaults(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})

	require.Equal(t, DefaultDeviceOptions().QueueFamilies, device.QueueFamilies())
	require.NotSame(t, device.GraphicsQueue(), device.TransferQueue())
}

func TestSwapchainOutOfDate(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	surface := NewSurface(device, hal.Extent2D{Width: 640, Height: 480}, 2, 3)

	capabilities, err := surface.Capabilities()
	require.NoError(t, err)
	require.Equal(t, hal.Extent2D{Width: 640, Height: 480}, capabilities.CurrentExtent)

	swapchain, err := surface.CreateSwapchain(hal.SwapchainCreateInfo{
		ImageCount: 2,
		Format:     hal.FormatB8G8R8A8Srgb,
		Extent:     capabilities.CurrentExtent,
	})
	require.NoError(t, err)
	require.Len(t, swapchain.Images(), 2)

	acquire, err := device.CreateSemaphore()
	require.NoError(t, err)

	index, err := swapchain.AcquireNextImage(time.Second, acquire)
	require.NoError(t, err)
	require.Equal(t, 0, index)

	require.NoError(t, swapchain.Present(device.GraphicsQueue(), index, []hal.Semaphore{acquire}))
	require.Equal(t, 1, swapchain.(*Swapchain).Presented())

	surface.SetExtent(hal.Extent2D{Width: 800, Height: 600})
	_, err = swapchain.AcquireNextImage(time.Second, acquire)
	require.True(t, hal.IsSwapchainStale(err))
	require.True(t, errors.Is(err, hal.ErrOutOfDate))

	replacement, err := surface.CreateSwapchain(hal.SwapchainCreateInfo{
		ImageCount:   2,
		Format:       hal.FormatB8G8R8A8Srgb,
		Extent:       hal.Extent2D{Width: 800, Height: 600},
		OldSwapchain: swapchain,
	})
	require.NoError(t, err)
	swapchain.Destroy()
	require.Panics(t, swapchain.Destroy)
	require.Panics(t, func() {
		replacement.Images()[0].Destroy()
	})

	surface.SetSuboptimal()
	_, err = replacement.AcquireNextImage(time.Second, acquire)
	require.True(t, errors.Is(err, hal.ErrSuboptimal))

	replacement.Destroy()
	require.Equal(t, 0, device.LiveObjects("swapchain"))
}

func TestDiscardBarrierDropsOwnership(t *testing.T) {
	device := NewDevice(nil, DeviceOptions{})
	families := device.QueueFamilies()

	staging := boundBuffer(t, device, 64, hal.BufferUsageTransferSrc, 1)
	target := boundBuffer(t, device, 64, hal.BufferUsageTransferDst|hal.BufferUsageVertex, 0)

	transfer := func(offset int) (hal.BufferBarrier, hal.BufferBarrier) {
		release := hal.BufferBarrier{
			SrcStage:       hal.PipelineStageTransfer,
			SrcAccess:      hal.AccessTransferWrite,
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Graphics,
			Buffer:         target,
			Offset:         offset,
			Size:           16,
		}
		acquire := release
		acquire.SrcAccess = hal.AccessNone
		acquire.DstAccess = hal.AccessVertexAttributeRead
		return release, acquire
	}
	discard := hal.BufferBarrier{
		SrcStage:       hal.PipelineStageTopOfPipe,
		DstStage:       hal.PipelineStageTransfer,
		DstAccess:      hal.AccessTransferWrite,
		SrcQueueFamily: hal.QueueFamilyIgnored,
		DstQueueFamily: hal.QueueFamilyIgnored,
		Buffer:         target,
		Size:           hal.WholeSize,
	}

	// Two ranges of one buffer released in the same submission
	firstRelease, firstAcquire := transfer(0)
	secondRelease, secondAcquire := transfer(16)
	err := recordAndSubmit(t, device, device.TransferQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{discard}})
		cb.CopyBuffer(staging, target, []hal.BufferCopy{{Size: 16}})
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{firstRelease}})
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{discard}})
		cb.CopyBuffer(staging, target, []hal.BufferCopy{{DstOffset: 16, Size: 16}})
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{secondRelease}})
	})
	require.NoError(t, err)

	// The graphics queue may not touch it until every release is acquired
	err = recordAndSubmit(t, device, device.GraphicsQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{discard}})
	})
	require.True(t, errors.Is(err, hal.ErrValidation))

	err = recordAndSubmit(t, device, device.GraphicsQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{firstAcquire, secondAcquire}})
	})
	require.NoError(t, err)
	require.Equal(t, families.Graphics, target.Owner())

	// Discarding the contents hands the buffer back to whichever family writes it next
	err = recordAndSubmit(t, device, device.TransferQueue(), func(cb hal.CommandBuffer) {
		cb.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{discard}})
		cb.CopyBuffer(staging, target, []hal.BufferCopy{{Size: 16}})
	})
	require.NoError(t, err)
	require.Equal(t, hal.QueueFamilyIgnored, target.Owner())
}

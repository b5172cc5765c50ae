package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

type CommandPool struct {
	device *Device
	pool   core1_0.CommandPool
	family int
}

func (p *CommandPool) QueueFamily() int { return p.family }

func (p *CommandPool) AllocateCommandBuffer() (hal.CommandBuffer, error) {
	buffers, res, err := p.device.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, resultError(res, err)
	}

	return &CommandBuffer{pool: p, buffer: buffers[0]}, nil
}

func (p *CommandPool) Reset() error {
	res, err := p.pool.Reset(0)
	return resultError(res, err)
}

// Destroy frees the pool and every command buffer allocated from it
func (p *CommandPool) Destroy() { p.pool.Destroy(p.device.callbacks) }

// CommandBuffer records into a primary command buffer. Recording calls cannot fail through the
// hal interface, so the first recording error is held and returned from End.
type CommandBuffer struct {
	pool      *CommandPool
	buffer    core1_0.CommandBuffer
	recordErr error
}

func (c *CommandBuffer) VulkanCommandBuffer() core1_0.CommandBuffer { return c.buffer }

func (c *CommandBuffer) Begin() error {
	c.recordErr = nil
	res, err := c.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return resultError(res, err)
}

func (c *CommandBuffer) End() error {
	if c.recordErr != nil {
		return c.recordErr
	}
	res, err := c.buffer.End()
	return resultError(res, err)
}

func (c *CommandBuffer) Reset() error {
	c.recordErr = nil
	res, err := c.buffer.Reset(0)
	return resultError(res, err)
}

func (c *CommandBuffer) record(op string, err error) {
	if err != nil && c.recordErr == nil {
		c.recordErr = errors.Wrapf(err, "failed to record %s", op)
		c.pool.device.logger.Error("vulkan::CommandBuffer::record", slog.String("Op", op), slog.Any("Error", err))
	}
}

// PipelineBarrier records every barrier in dependency with a single vkCmdPipelineBarrier whose
// stage masks are the union of the barriers' stages
func (c *CommandBuffer) PipelineBarrier(dependency hal.DependencyInfo) {
	var srcStages, dstStages hal.PipelineStageFlags

	bufferBarriers := make([]core1_0.BufferMemoryBarrier, 0, len(dependency.BufferBarriers))
	for _, barrier := range dependency.BufferBarriers {
		srcStages |= barrier.SrcStage
		dstStages |= barrier.DstStage

		size := barrier.Size
		if size == hal.WholeSize {
			size = barrier.Buffer.Size() - barrier.Offset
		}
		bufferBarriers = append(bufferBarriers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       convertFlags(barrier.SrcAccess, accessFlags),
			DstAccessMask:       convertFlags(barrier.DstAccess, accessFlags),
			SrcQueueFamilyIndex: queueFamilyIndex(barrier.SrcQueueFamily),
			DstQueueFamilyIndex: queueFamilyIndex(barrier.DstQueueFamily),
			Buffer:              barrier.Buffer.(*Buffer).buffer,
			Offset:              barrier.Offset,
			Size:                size,
		})
	}

	imageBarriers := make([]core1_0.ImageMemoryBarrier, 0, len(dependency.ImageBarriers))
	for _, barrier := range dependency.ImageBarriers {
		srcStages |= barrier.SrcStage
		dstStages |= barrier.DstStage

		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       convertFlags(barrier.SrcAccess, accessFlags),
			DstAccessMask:       convertFlags(barrier.DstAccess, accessFlags),
			OldLayout:           imageLayouts[barrier.OldLayout],
			NewLayout:           imageLayouts[barrier.NewLayout],
			SrcQueueFamilyIndex: queueFamilyIndex(barrier.SrcQueueFamily),
			DstQueueFamilyIndex: queueFamilyIndex(barrier.DstQueueFamily),
			Image:               barrier.Image.(*Image).image,
			SubresourceRange:    subresourceRange(barrier.Range),
		})
	}

	if srcStages == 0 {
		srcStages = hal.PipelineStageTopOfPipe
	}
	if dstStages == 0 {
		dstStages = hal.PipelineStageBottomOfPipe
	}

	c.record("PipelineBarrier", c.buffer.CmdPipelineBarrier(
		convertFlags(srcStages, pipelineStageFlags),
		convertFlags(dstStages, pipelineStageFlags),
		0,
		nil,
		bufferBarriers,
		imageBarriers,
	))
}

func (c *CommandBuffer) CopyBuffer(src hal.Buffer, dst hal.Buffer, regions []hal.BufferCopy) {
	copies := make([]core1_0.BufferCopy, 0, len(regions))
	for _, region := range regions {
		copies = append(copies, core1_0.BufferCopy{
			SrcOffset: region.SrcOffset,
			DstOffset: region.DstOffset,
			Size:      region.Size,
		})
	}

	c.record("CopyBuffer", c.buffer.CmdCopyBuffer(src.(*Buffer).buffer, dst.(*Buffer).buffer, copies))
}

func (c *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, dstLayout hal.ImageLayout, regions []hal.BufferImageCopy) {
	copies := make([]core1_0.BufferImageCopy, 0, len(regions))
	for _, region := range regions {
		copies = append(copies, core1_0.BufferImageCopy{
			BufferOffset: region.BufferOffset,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     convertFlags(region.AspectMask, imageAspectFlags),
				MipLevel:       region.MipLevel,
				BaseArrayLayer: region.BaseArrayLayer,
				LayerCount:     region.LayerCount,
			},
			ImageOffset: core1_0.Offset3D{X: region.ImageOffset.X, Y: region.ImageOffset.Y, Z: region.ImageOffset.Z},
			ImageExtent: extent3D(region.ImageExtent),
		})
	}

	c.record("CopyBufferToImage", c.buffer.CmdCopyBufferToImage(src.(*Buffer).buffer, dst.(*Image).image, imageLayouts[dstLayout], copies))
}

type Fence struct {
	device *Device
	fence  core1_0.Fence
}

func (f *Fence) VulkanFence() core1_0.Fence { return f.fence }
func (f *Fence) Destroy()                   { f.fence.Destroy(f.device.callbacks) }

type Semaphore struct {
	device    *Device
	semaphore core1_0.Semaphore
}

func (s *Semaphore) VulkanSemaphore() core1_0.Semaphore { return s.semaphore }
func (s *Semaphore) Destroy()                           { s.semaphore.Destroy(s.device.callbacks) }

func vulkanSemaphores(semaphores []hal.Semaphore) []core1_0.Semaphore {
	native := make([]core1_0.Semaphore, 0, len(semaphores))
	for _, semaphore := range semaphores {
		native = append(native, semaphore.(*Semaphore).semaphore)
	}
	return native
}

type Queue struct {
	device *Device
	family int
	queue  core1_0.Queue
}

func (q *Queue) VulkanQueue() core1_0.Queue { return q.queue }
func (q *Queue) Family() int                { return q.family }

func (q *Queue) Submit(submits []hal.SubmitInfo, fence hal.Fence) error {
	infos := make([]core1_0.SubmitInfo, 0, len(submits))
	for _, submit := range submits {
		waitStages := make([]core1_0.PipelineStageFlags, 0, len(submit.WaitStages))
		for _, stage := range submit.WaitStages {
			waitStages = append(waitStages, convertFlags(stage, pipelineStageFlags))
		}

		commandBuffers := make([]core1_0.CommandBuffer, 0, len(submit.CommandBuffers))
		for _, buffer := range submit.CommandBuffers {
			commandBuffers = append(commandBuffers, buffer.(*CommandBuffer).buffer)
		}

		infos = append(infos, core1_0.SubmitInfo{
			WaitSemaphores:   vulkanSemaphores(submit.WaitSemaphores),
			WaitDstStageMask: waitStages,
			CommandBuffers:   commandBuffers,
			SignalSemaphores: vulkanSemaphores(submit.SignalSemaphores),
		})
	}

	var nativeFence core1_0.Fence
	if fence != nil {
		nativeFence = fence.(*Fence).fence
	}

	res, err := q.queue.Submit(nativeFence, infos)
	return resultError(res, err)
}

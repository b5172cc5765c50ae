package soft

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

type CommandPool struct {
	device    *Device
	family    int
	buffers   []*CommandBuffer
	destroyed bool
}

var _ hal.CommandPool = &CommandPool{}

func (p *CommandPool) QueueFamily() int { return p.family }

func (p *CommandPool) checkAlive() {
	if p.destroyed {
		panic(fmt.Sprintf("attempted to use destroyed command pool of queue family %d", p.family))
	}
}

func (p *CommandPool) AllocateCommandBuffer() (hal.CommandBuffer, error) {
	p.device.lock.Lock()
	defer p.device.lock.Unlock()

	p.checkAlive()
	buffer := &CommandBuffer{pool: p}
	p.buffers = append(p.buffers, buffer)
	p.device.track("commandBuffer", 1)

	return buffer, nil
}

// Reset returns every command buffer allocated from the pool to the initial state
func (p *CommandPool) Reset() error {
	p.device.lock.Lock()
	defer p.device.lock.Unlock()

	p.checkAlive()
	for _, buffer := range p.buffers {
		if buffer.state == commandBufferPending {
			return errors.Mark(errors.New("attempted to reset a command pool with a pending command buffer"), hal.ErrValidation)
		}
	}
	for _, buffer := range p.buffers {
		buffer.reset()
	}

	return nil
}

func (p *CommandPool) Destroy() {
	p.device.lock.Lock()
	defer p.device.lock.Unlock()

	p.checkAlive()
	p.destroyed = true
	p.device.track("commandPool", -1)
	p.device.track("commandBuffer", -len(p.buffers))
	p.buffers = nil
}

type commandBufferState int

const (
	commandBufferInitial commandBufferState = iota
	commandBufferRecording
	commandBufferExecutable
	commandBufferPending
)

// command runs a recorded operation against the device state at submission time. The device
// lock is held.
type command func(family int) error

// CommandBuffer records operations as closures. The closures run in order when the buffer is
// submitted, which is where barriers and copies are validated.
type CommandBuffer struct {
	pool     *CommandPool
	state    commandBufferState
	commands []command
}

var _ hal.CommandBuffer = &CommandBuffer{}

func (c *CommandBuffer) reset() {
	c.state = commandBufferInitial
	c.commands = nil
}

// CommandCount is the number of commands recorded since the last reset
func (c *CommandBuffer) CommandCount() int {
	c.pool.device.lock.Lock()
	defer c.pool.device.lock.Unlock()

	return len(c.commands)
}

func (c *CommandBuffer) Begin() error {
	c.pool.device.lock.Lock()
	defer c.pool.device.lock.Unlock()

	c.pool.checkAlive()
	if c.state == commandBufferRecording || c.state == commandBufferPending {
		return errors.Mark(errors.New("attempted to begin a command buffer that is recording or pending"), hal.ErrValidation)
	}

	c.reset()
	c.state = commandBufferRecording
	return nil
}

func (c *CommandBuffer) End() error {
	c.pool.device.lock.Lock()
	defer c.pool.device.lock.Unlock()

	if c.state != commandBufferRecording {
		return errors.Mark(errors.New("attempted to end a command buffer that is not recording"), hal.ErrValidation)
	}

	c.state = commandBufferExecutable
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.pool.device.lock.Lock()
	defer c.pool.device.lock.Unlock()

	if c.state == commandBufferPending {
		return errors.Mark(errors.New("attempted to reset a pending command buffer"), hal.ErrValidation)
	}

	c.reset()
	return nil
}

func (c *CommandBuffer) record(name string, cmd command) {
	c.pool.device.lock.Lock()
	defer c.pool.device.lock.Unlock()

	if c.state != commandBufferRecording {
		panic(fmt.Sprintf("attempted to record %s into a command buffer that is not recording", name))
	}
	c.commands = append(c.commands, cmd)
}

func (c *CommandBuffer) PipelineBarrier(dependency hal.DependencyInfo) {
	c.record("PipelineBarrier", func(family int) error {
		for _, barrier := range dependency.BufferBarriers {
			buffer := barrier.Buffer.(*Buffer)
			buffer.checkAlive()

			discard := barrier.SrcAccess == hal.AccessNone
			err := applyOwnership(&buffer.resourceState, family, barrier.SrcQueueFamily, barrier.DstQueueFamily, discard)
			if err != nil {
				return errors.Wrapf(err, "buffer barrier on %q", buffer.info.Label)
			}
		}

		for _, barrier := range dependency.ImageBarriers {
			image := barrier.Image.(*Image)
			image.checkAlive()

			isAcquire := barrier.IsOwnershipTransfer() && family == barrier.DstQueueFamily
			discard := barrier.SrcAccess == hal.AccessNone && barrier.OldLayout == hal.ImageLayoutUndefined
			err := applyOwnership(&image.resourceState, family, barrier.SrcQueueFamily, barrier.DstQueueFamily, discard)
			if err != nil {
				return errors.Wrapf(err, "image barrier on %q", image.info.Label)
			}

			// The layout transition of an ownership transfer is carried by both halves and runs once
			if isAcquire {
				if image.layout != barrier.NewLayout {
					return errors.Mark(errors.Newf("image %q acquired in layout %s, but the release left it in %s", image.info.Label, barrier.NewLayout, image.layout), hal.ErrValidation)
				}
				continue
			}
			if barrier.OldLayout != hal.ImageLayoutUndefined && barrier.OldLayout != image.layout {
				return errors.Mark(errors.Newf("image %q transitioned from %s but is in %s", image.info.Label, barrier.OldLayout, image.layout), hal.ErrValidation)
			}
			image.layout = barrier.NewLayout
		}

		return nil
	})
}

// applyOwnership validates one barrier against the queue family that executes it. A barrier
// whose families differ is a release when executed on the source family and an acquire when
// executed on the destination family. A barrier without a transfer that discards the previous
// contents drops ownership entirely, so any family may write the resource afterward.
func applyOwnership(state *resourceState, family, src, dst int, discard bool) error {
	if src == dst {
		if state.pendingReleases > 0 {
			if family != state.releasedFrom {
				return errors.Mark(errors.New("resource was released and not yet acquired"), hal.ErrValidation)
			}
			return nil
		}
		if discard {
			state.owner = hal.QueueFamilyIgnored
			return nil
		}
		if state.owner != hal.QueueFamilyIgnored && state.owner != family {
			return errors.Mark(errors.Newf("resource is owned by queue family %d, not %d", state.owner, family), hal.ErrValidation)
		}
		return nil
	}

	switch family {
	case src:
		if state.pendingReleases > 0 && (state.releasedFrom != src || state.releasedTo != dst) {
			return errors.Mark(errors.Newf("resource already has a pending release from queue family %d to %d", state.releasedFrom, state.releasedTo), hal.ErrValidation)
		}
		if state.owner != hal.QueueFamilyIgnored && state.owner != src {
			return errors.Mark(errors.Newf("queue family %d released a resource owned by queue family %d", src, state.owner), hal.ErrValidation)
		}
		state.pendingReleases++
		state.releasedFrom = src
		state.releasedTo = dst
	case dst:
		if state.pendingReleases == 0 || state.releasedTo != dst {
			return errors.Mark(errors.Newf("queue family %d acquired a resource that was not released to it", dst), hal.ErrValidation)
		}
		state.pendingReleases--
		if state.pendingReleases == 0 {
			state.releasedFrom = hal.QueueFamilyIgnored
			state.releasedTo = hal.QueueFamilyIgnored
		}
		state.owner = dst
	default:
		return errors.Mark(errors.Newf("ownership transfer from queue family %d to %d was recorded on queue family %d", src, dst, family), hal.ErrValidation)
	}

	return nil
}

func checkWritable(state *resourceState, family int) error {
	if state.pendingReleases > 0 && family != state.releasedFrom {
		return errors.Mark(errors.New("copy into a resource that was released and not yet acquired"), hal.ErrValidation)
	}
	if state.owner != hal.QueueFamilyIgnored && state.owner != family {
		return errors.Mark(errors.Newf("copy on queue family %d into a resource owned by queue family %d", family, state.owner), hal.ErrValidation)
	}
	return nil
}

func (c *CommandBuffer) CopyBuffer(src hal.Buffer, dst hal.Buffer, regions []hal.BufferCopy) {
	c.record("CopyBuffer", func(family int) error {
		srcBuffer := src.(*Buffer)
		dstBuffer := dst.(*Buffer)
		srcBuffer.checkAlive()
		dstBuffer.checkAlive()

		if srcBuffer.info.Usage&hal.BufferUsageTransferSrc == 0 {
			return errors.Mark(errors.Newf("copy source %q was not created with BufferUsageTransferSrc", srcBuffer.info.Label), hal.ErrValidation)
		}
		if dstBuffer.info.Usage&hal.BufferUsageTransferDst == 0 {
			return errors.Mark(errors.Newf("copy destination %q was not created with BufferUsageTransferDst", dstBuffer.info.Label), hal.ErrValidation)
		}
		err := checkWritable(&dstBuffer.resourceState, family)
		if err != nil {
			return errors.Wrapf(err, "copy into %q", dstBuffer.info.Label)
		}

		srcBytes := srcBuffer.bytes()
		dstBytes := dstBuffer.bytes()
		if srcBytes == nil || dstBytes == nil {
			return errors.Mark(errors.New("copy between buffers without bound memory"), hal.ErrValidation)
		}

		for _, region := range regions {
			if region.SrcOffset < 0 || region.DstOffset < 0 || region.Size <= 0 ||
				region.SrcOffset+region.Size > len(srcBytes) || region.DstOffset+region.Size > len(dstBytes) {
				return errors.Mark(errors.Newf("copy region %+v is out of bounds", region), hal.ErrValidation)
			}
			copy(dstBytes[region.DstOffset:region.DstOffset+region.Size], srcBytes[region.SrcOffset:region.SrcOffset+region.Size])
		}

		return nil
	})
}

func (c *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, dstLayout hal.ImageLayout, regions []hal.BufferImageCopy) {
	c.record("CopyBufferToImage", func(family int) error {
		srcBuffer := src.(*Buffer)
		dstImage := dst.(*Image)
		srcBuffer.checkAlive()
		dstImage.checkAlive()

		if srcBuffer.info.Usage&hal.BufferUsageTransferSrc == 0 {
			return errors.Mark(errors.Newf("copy source %q was not created with BufferUsageTransferSrc", srcBuffer.info.Label), hal.ErrValidation)
		}
		if dstImage.info.Usage&hal.ImageUsageTransferDst == 0 {
			return errors.Mark(errors.Newf("copy destination %q was not created with ImageUsageTransferDst", dstImage.info.Label), hal.ErrValidation)
		}
		if dstLayout != hal.ImageLayoutTransferDstOptimal && dstLayout != hal.ImageLayoutGeneral {
			return errors.Mark(errors.Newf("copy into image %q in layout %s", dstImage.info.Label, dstLayout), hal.ErrValidation)
		}
		if dstImage.layout != dstLayout {
			return errors.Mark(errors.Newf("copy into image %q declared layout %s, but it is in %s", dstImage.info.Label, dstLayout, dstImage.layout), hal.ErrValidation)
		}
		err := checkWritable(&dstImage.resourceState, family)
		if err != nil {
			return errors.Wrapf(err, "copy into %q", dstImage.info.Label)
		}

		srcBytes := srcBuffer.bytes()
		dstBytes := dstImage.bytes()
		if srcBytes == nil || dstBytes == nil {
			return errors.Mark(errors.New("copy between resources without bound memory"), hal.ErrValidation)
		}

		for _, region := range regions {
			err = copyRegionToImage(srcBytes, dstBytes, dstImage.info, region)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func copyRegionToImage(src, dst []byte, info hal.ImageCreateInfo, region hal.BufferImageCopy) error {
	if region.MipLevel != 0 {
		return errors.Mark(errors.Newf("soft images only store mip level 0, copy targeted level %d", region.MipLevel), hal.ErrValidation)
	}

	layerCount := region.LayerCount
	if layerCount == 0 {
		layerCount = 1
	}
	extent := region.ImageExtent
	if extent.Depth == 0 {
		extent.Depth = 1
	}
	offset := region.ImageOffset

	if offset.X < 0 || offset.Y < 0 || offset.Z < 0 ||
		offset.X+extent.Width > info.Extent.Width ||
		offset.Y+extent.Height > info.Extent.Height ||
		offset.Z+extent.Depth > info.Extent.Depth ||
		region.BaseArrayLayer+layerCount > info.ArrayLayers {
		return errors.Mark(errors.Newf("copy region %+v is out of bounds for image extent %+v", region, info.Extent), hal.ErrValidation)
	}

	texel := info.Format.BytesPerPixel()
	rowBytes := extent.Width * texel
	if region.BufferOffset+rowBytes*extent.Height*extent.Depth*layerCount > len(src) {
		return errors.Mark(errors.Newf("copy region %+v reads past the end of a %d byte buffer", region, len(src)), hal.ErrValidation)
	}

	srcOffset := region.BufferOffset
	layerBytes := info.Extent.Width * info.Extent.Height * info.Extent.Depth * texel
	for layer := region.BaseArrayLayer; layer < region.BaseArrayLayer+layerCount; layer++ {
		for z := offset.Z; z < offset.Z+extent.Depth; z++ {
			for y := offset.Y; y < offset.Y+extent.Height; y++ {
				dstOffset := layer*layerBytes + ((z*info.Extent.Height+y)*info.Extent.Width+offset.X)*texel
				copy(dst[dstOffset:dstOffset+rowBytes], src[srcOffset:srcOffset+rowBytes])
				srcOffset += rowBytes
			}
		}
	}

	return nil
}

type Fence struct {
	device    *Device
	signaled  bool
	pending   bool
	destroyed bool
}

var _ hal.Fence = &Fence{}

func (f *Fence) checkAlive() {
	if f.destroyed {
		panic("attempted to use a destroyed fence")
	}
}

func (f *Fence) Signaled() bool {
	f.device.lock.Lock()
	defer f.device.lock.Unlock()

	return f.signaled
}

func (f *Fence) Destroy() {
	f.device.lock.Lock()
	defer f.device.lock.Unlock()

	f.checkAlive()
	f.destroyed = true
	f.device.track("fence", -1)
}

type Semaphore struct {
	device    *Device
	signaled  bool
	destroyed bool
}

var _ hal.Semaphore = &Semaphore{}

func (s *Semaphore) checkAlive() {
	if s.destroyed {
		panic("attempted to use a destroyed semaphore")
	}
}

func (s *Semaphore) Destroy() {
	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	s.checkAlive()
	s.destroyed = true
	s.device.track("semaphore", -1)
}

// Queue executes submissions synchronously in Submit
type Queue struct {
	device    *Device
	family    int
	submitted int
}

var _ hal.Queue = &Queue{}

func (q *Queue) Family() int { return q.family }

// Submitted is the number of command buffers this queue has executed
func (q *Queue) Submitted() int {
	q.device.lock.Lock()
	defer q.device.lock.Unlock()

	return q.submitted
}

func (q *Queue) Submit(submits []hal.SubmitInfo, fence hal.Fence) error {
	q.device.lock.Lock()
	defer q.device.lock.Unlock()

	if q.device.lost {
		return errors.WithStack(hal.ErrDeviceLost)
	}

	var f *Fence
	if fence != nil {
		f = fence.(*Fence)
		f.checkAlive()
		if f.signaled || f.pending {
			return errors.Mark(errors.New("attempted to submit with a fence that is already signaled or pending"), hal.ErrValidation)
		}
	}

	for _, submit := range submits {
		for _, buffer := range submit.CommandBuffers {
			cb := buffer.(*CommandBuffer)
			if cb.pool.family != q.family {
				return errors.Mark(errors.Newf("command buffer of queue family %d submitted to queue family %d", cb.pool.family, q.family), hal.ErrValidation)
			}
			if cb.state != commandBufferExecutable {
				return errors.Mark(errors.New("attempted to submit a command buffer that is not executable"), hal.ErrValidation)
			}
		}
		for _, semaphore := range submit.WaitSemaphores {
			s := semaphore.(*Semaphore)
			s.checkAlive()
			if !s.signaled && !q.device.hung {
				return errors.Mark(errors.New("submission waits on a semaphore that nothing signaled"), hal.ErrValidation)
			}
		}
	}

	if q.device.hung {
		if f != nil {
			f.pending = true
		}
		q.device.logger.Debug("soft::Queue::Submit HUNG", slog.Int("Family", q.family))
		return nil
	}

	for _, submit := range submits {
		for _, semaphore := range submit.WaitSemaphores {
			semaphore.(*Semaphore).signaled = false
		}

		for _, buffer := range submit.CommandBuffers {
			cb := buffer.(*CommandBuffer)
			for _, cmd := range cb.commands {
				err := cmd(q.family)
				if err != nil {
					return err
				}
			}
			q.submitted++
		}

		for _, semaphore := range submit.SignalSemaphores {
			s := semaphore.(*Semaphore)
			s.checkAlive()
			s.signaled = true
		}
	}

	if f != nil {
		f.signaled = true
	}

	q.device.logger.Debug("soft::Queue::Submit", slog.Int("Family", q.family), slog.Int("Submits", len(submits)))
	return nil
}

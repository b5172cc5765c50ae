package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/vam"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetention    int           = 2
	DefaultPoolSize     int           = 10
	DefaultRetainedSize int           = 10 * 1024 * 1024
	DefaultFenceTimeout time.Duration = 5 * time.Second
)

// Options configures an Uploader. Zero fields take the Default values.
type Options struct {
	// Retention is the number of frame slots, and the number of frames a staging buffer stays
	// claimed after use
	Retention int
	// PoolSize is the number of idle staging buffers kept across frames. Zero takes
	// DefaultPoolSize, so at least one idle buffer is always kept.
	PoolSize int
	// RetainedSize is the minimum staging buffer capacity
	RetainedSize int
	// FenceTimeout bounds the wait in SubmitUploads. Expiry is treated as device loss.
	FenceTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.RetainedSize <= 0 {
		o.RetainedSize = DefaultRetainedSize
	}
	if o.FenceTimeout <= 0 {
		o.FenceTimeout = DefaultFenceTimeout
	}
	return o
}

type slotState int

const (
	slotIdle slotState = iota
	slotRecording
	slotSubmitted
)

var slotStateMapping = map[slotState]string{
	slotIdle:      "Idle",
	slotRecording: "Recording",
	slotSubmitted: "Submitted",
}

func (s slotState) String() string {
	return slotStateMapping[s]
}

// slot is one round-robin set of upload resources. Each slot records into one transfer-queue
// and one graphics-queue command buffer, and holds the staging buffers it references until its
// fences signal.
type slot struct {
	transferPool     hal.CommandPool
	graphicsPool     hal.CommandPool
	transferCommands hal.CommandBuffer
	graphicsCommands hal.CommandBuffer
	transferFence    hal.Fence
	graphicsFence    hal.Fence
	// released orders the graphics acquire barriers after the transfer release barriers
	released hal.Semaphore

	state    slotState
	enqueued int
	staging  []*StagingBuffer
}

func (s *slot) fences() []hal.Fence {
	return []hal.Fence{s.transferFence, s.graphicsFence}
}

func (s *slot) destroy() {
	if s.transferFence != nil {
		s.transferFence.Destroy()
	}
	if s.graphicsFence != nil {
		s.graphicsFence.Destroy()
	}
	if s.released != nil {
		s.released.Destroy()
	}
	if s.transferPool != nil {
		s.transferPool.Destroy()
	}
	if s.graphicsPool != nil {
		s.graphicsPool.Destroy()
	}
}

// Uploader copies host data into device-local buffers and images through staging buffers. Each
// copy runs on the transfer queue and ownership of the destination is released to the graphics
// queue, which acquires it before any later graphics work can read it.
//
// Uploads are batched per frame slot: enqueue any number, then SubmitUploads submits the batch
// and blocks until both queues have finished it. Uploader is not safe for concurrent use.
type Uploader struct {
	logger    *slog.Logger
	device    hal.Device
	allocator *vam.Allocator
	options   Options
	families  hal.QueueFamilies
	pool      *StagingPool

	slots []*slot
	frame int
	slot  int
}

// New creates an Uploader with options.Retention slots. logger may be nil.
func New(logger *slog.Logger, device hal.Device, allocator *vam.Allocator, options Options) (*Uploader, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}
	options = options.withDefaults()

	u := &Uploader{
		logger:    logger,
		device:    device,
		allocator: allocator,
		options:   options,
		families:  device.QueueFamilies(),
		pool: NewStagingPool(logger, device, allocator, PoolOptions{
			Size:         options.PoolSize,
			Retention:    options.Retention,
			RetainedSize: options.RetainedSize,
		}),
	}

	for i := 0; i < options.Retention; i++ {
		s, err := u.createSlot()
		if err != nil {
			u.destroySlots()
			return nil, err
		}
		u.slots = append(u.slots, s)
	}

	return u, nil
}

func (u *Uploader) createSlot() (*slot, error) {
	s := &slot{}
	var err error

	s.transferPool, err = u.device.CreateCommandPool(u.families.Transfer)
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}
	s.graphicsPool, err = u.device.CreateCommandPool(u.families.Graphics)
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}

	s.transferCommands, err = s.transferPool.AllocateCommandBuffer()
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}
	s.graphicsCommands, err = s.graphicsPool.AllocateCommandBuffer()
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}

	// Fences start signaled so the first Begin on each slot does not wait
	s.transferFence, err = u.device.CreateFence(true)
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}
	s.graphicsFence, err = u.device.CreateFence(true)
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}
	s.released, err = u.device.CreateSemaphore()
	if err != nil {
		s.destroy()
		return nil, hal.NewDeviceError("Uploader::New", err)
	}

	return s, nil
}

func (u *Uploader) destroySlots() {
	for _, s := range u.slots {
		s.destroy()
	}
	u.slots = nil
}

// Frame is the number of batches submitted so far
func (u *Uploader) Frame() int { return u.frame }

// Slot is the index of the slot the next upload is recorded into
func (u *Uploader) Slot() int { return u.slot }

// Enqueued is the number of uploads recorded into the current slot
func (u *Uploader) Enqueued() int { return u.slots[u.slot].enqueued }

// PoolLen is the number of staging buffers in the pool
func (u *Uploader) PoolLen() int { return u.pool.Len() }

func (u *Uploader) transfersOwnership() bool {
	return u.families.Transfer != u.families.Graphics
}

func (u *Uploader) waitTimeout(ctx context.Context) time.Duration {
	timeout := u.options.FenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

// Begin starts recording into the current slot. It waits for the slot's previous batch to
// finish, then resets and begins its command buffers. Calling Begin on a slot that is already
// recording does nothing. Enqueue calls Begin itself when the slot is idle.
func (u *Uploader) Begin() error {
	return u.begin(context.Background())
}

func (u *Uploader) begin(ctx context.Context) error {
	s := u.slots[u.slot]
	if s.state == slotRecording {
		return nil
	}

	u.logger.Debug("Uploader::Begin", slog.Int("Slot", u.slot), slog.Int("Frame", u.frame))

	err := u.device.WaitForFences(s.fences(), u.waitTimeout(ctx))
	if err != nil {
		return hal.NewDeviceError("Uploader::Begin", errors.Mark(err, hal.ErrDeviceLost))
	}
	u.releaseStaging(s)

	err = s.transferCommands.Reset()
	if err != nil {
		return hal.NewDeviceError("Uploader::Begin", err)
	}
	err = s.graphicsCommands.Reset()
	if err != nil {
		return hal.NewDeviceError("Uploader::Begin", err)
	}

	err = s.transferCommands.Begin()
	if err != nil {
		return hal.NewDeviceError("Uploader::Begin", err)
	}
	err = s.graphicsCommands.Begin()
	if err != nil {
		return hal.NewDeviceError("Uploader::Begin", err)
	}

	s.state = slotRecording
	return nil
}

func (u *Uploader) recordingSlot(op string) (*slot, error) {
	s := u.slots[u.slot]
	switch s.state {
	case slotIdle:
		err := u.Begin()
		if err != nil {
			return nil, err
		}
	case slotSubmitted:
		panic(fmt.Sprintf("%s: attempted to enqueue an upload into slot %d while it is %s", op, u.slot, s.state))
	}

	return s, nil
}

func (u *Uploader) stage(s *slot, data []byte) (*StagingBuffer, error) {
	staging, err := u.pool.Next(len(data))
	if err != nil {
		return nil, err
	}
	s.staging = append(s.staging, staging)
	u.allocator.Write(staging.handle, 0, data)

	return staging, nil
}

// EnqueueBuffer records a copy of data into dst at offset, followed by the transfer of dst to
// the graphics queue for consumption as target
func (u *Uploader) EnqueueBuffer(dst hal.Buffer, offset int, data []byte, target BufferTarget) error {
	u.logger.Debug("Uploader::EnqueueBuffer", slog.Int("Offset", offset), slog.Int("Size", len(data)))

	if len(data) == 0 {
		return errors.New("attempted to enqueue an empty buffer upload")
	}
	if offset < 0 || offset+len(data) > dst.Size() {
		return errors.Newf("buffer upload of %d bytes at offset %d overruns a %d byte buffer", len(data), offset, dst.Size())
	}

	s, err := u.recordingSlot("Uploader::EnqueueBuffer")
	if err != nil {
		return err
	}

	var transfer BufferTransfer
	if u.transfersOwnership() {
		transfer = NewBufferTransfer(u.families, dst, offset, len(data), target)
		err = transfer.Validate(s.transferPool.QueueFamily(), s.graphicsPool.QueueFamily())
		if err != nil {
			return hal.NewDeviceError("Uploader::EnqueueBuffer", err)
		}
	}

	staging, err := u.stage(s, data)
	if err != nil {
		return err
	}

	s.transferCommands.PipelineBarrier(hal.DependencyInfo{
		BufferBarriers: []hal.BufferBarrier{{
			SrcStage:       hal.PipelineStageTopOfPipe,
			DstStage:       hal.PipelineStageTransfer,
			SrcAccess:      hal.AccessNone,
			DstAccess:      hal.AccessTransferWrite,
			SrcQueueFamily: hal.QueueFamilyIgnored,
			DstQueueFamily: hal.QueueFamilyIgnored,
			Buffer:         dst,
			Offset:         offset,
			Size:           len(data),
		}},
	})
	s.transferCommands.CopyBuffer(staging.buffer, dst, []hal.BufferCopy{{
		SrcOffset: 0,
		DstOffset: offset,
		Size:      len(data),
	}})

	if u.transfersOwnership() {
		s.transferCommands.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{transfer.Release}})
		s.graphicsCommands.PipelineBarrier(hal.DependencyInfo{BufferBarriers: []hal.BufferBarrier{transfer.Acquire}})
	} else {
		s.transferCommands.PipelineBarrier(hal.DependencyInfo{
			BufferBarriers: []hal.BufferBarrier{{
				SrcStage:       hal.PipelineStageTransfer,
				DstStage:       target.DstStage,
				SrcAccess:      hal.AccessTransferWrite,
				DstAccess:      target.DstAccess,
				SrcQueueFamily: hal.QueueFamilyIgnored,
				DstQueueFamily: hal.QueueFamilyIgnored,
				Buffer:         dst,
				Offset:         offset,
				Size:           len(data),
			}},
		})
	}

	s.enqueued++
	return nil
}

// EnqueueImage records a copy of data into the first mip level of dst, followed by the transfer
// of dst to the graphics queue in target.Layout. data must hold every texel of
// target.LayerCount layers, tightly packed.
func (u *Uploader) EnqueueImage(dst hal.Image, data []byte, target ImageTarget) error {
	extent := dst.Extent()
	if extent.Depth == 0 {
		extent.Depth = 1
	}
	layers := target.layerCount()
	texel := dst.Format().BytesPerPixel()

	u.logger.Debug("Uploader::EnqueueImage",
		slog.Int("Width", extent.Width),
		slog.Int("Height", extent.Height),
		slog.Int("Size", len(data)))

	if texel == 0 {
		return errors.Newf("cannot upload to an image of format %s", dst.Format())
	}
	expected := extent.Width * extent.Height * extent.Depth * layers * texel
	if len(data) != expected {
		return errors.Newf("image upload has %d bytes, but a %dx%dx%d image with %d layers of %s needs %d",
			len(data), extent.Width, extent.Height, extent.Depth, layers, dst.Format(), expected)
	}

	s, err := u.recordingSlot("Uploader::EnqueueImage")
	if err != nil {
		return err
	}

	subresources := hal.ImageSubresourceRange{
		AspectMask:     target.aspect(),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     layers,
	}

	var transfer ImageTransfer
	if u.transfersOwnership() {
		transfer = NewImageTransfer(u.families, dst, subresources, hal.ImageLayoutTransferDstOptimal, target)
		err = transfer.Validate(s.transferPool.QueueFamily(), s.graphicsPool.QueueFamily())
		if err != nil {
			return hal.NewDeviceError("Uploader::EnqueueImage", err)
		}
	}

	staging, err := u.stage(s, data)
	if err != nil {
		return err
	}

	s.transferCommands.PipelineBarrier(hal.DependencyInfo{
		ImageBarriers: []hal.ImageBarrier{{
			SrcStage:       hal.PipelineStageTopOfPipe,
			DstStage:       hal.PipelineStageTransfer,
			SrcAccess:      hal.AccessNone,
			DstAccess:      hal.AccessTransferWrite,
			OldLayout:      hal.ImageLayoutUndefined,
			NewLayout:      hal.ImageLayoutTransferDstOptimal,
			SrcQueueFamily: hal.QueueFamilyIgnored,
			DstQueueFamily: hal.QueueFamilyIgnored,
			Image:          dst,
			Range:          subresources,
		}},
	})
	s.transferCommands.CopyBufferToImage(staging.buffer, dst, hal.ImageLayoutTransferDstOptimal, []hal.BufferImageCopy{{
		BufferOffset:   0,
		AspectMask:     subresources.AspectMask,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     layers,
		ImageExtent:    extent,
	}})

	if u.transfersOwnership() {
		s.transferCommands.PipelineBarrier(hal.DependencyInfo{ImageBarriers: []hal.ImageBarrier{transfer.Release}})
		s.graphicsCommands.PipelineBarrier(hal.DependencyInfo{ImageBarriers: []hal.ImageBarrier{transfer.Acquire}})
	} else {
		s.transferCommands.PipelineBarrier(hal.DependencyInfo{
			ImageBarriers: []hal.ImageBarrier{{
				SrcStage:       hal.PipelineStageTransfer,
				DstStage:       target.DstStage,
				SrcAccess:      hal.AccessTransferWrite,
				DstAccess:      target.DstAccess,
				OldLayout:      hal.ImageLayoutTransferDstOptimal,
				NewLayout:      target.Layout,
				SrcQueueFamily: hal.QueueFamilyIgnored,
				DstQueueFamily: hal.QueueFamilyIgnored,
				Image:          dst,
				Range:          subresources,
			}},
		})
	}

	s.enqueued++
	return nil
}

// SubmitUploads submits the current slot's batch to the transfer and graphics queues and blocks
// until both have finished it, or until FenceTimeout (or ctx's deadline, if sooner) passes. A
// wait that expires is reported as device loss. Afterward the staging pool is trimmed and the
// next slot becomes current, whether or not anything was enqueued.
func (u *Uploader) SubmitUploads(ctx context.Context) error {
	s := u.slots[u.slot]
	if s.state == slotSubmitted {
		panic(fmt.Sprintf("attempted to submit slot %d, which is still %s after a failed submission", u.slot, s.state))
	}

	u.logger.Debug("Uploader::SubmitUploads", slog.Int("Slot", u.slot), slog.Int("Frame", u.frame), slog.Int("Enqueued", s.enqueued))

	if s.enqueued > 0 {
		err := u.submitSlot(ctx, s)
		if err != nil {
			return err
		}
	} else if s.state == slotRecording {
		err := s.transferCommands.Reset()
		if err != nil {
			return hal.NewDeviceError("Uploader::SubmitUploads", err)
		}
		err = s.graphicsCommands.Reset()
		if err != nil {
			return hal.NewDeviceError("Uploader::SubmitUploads", err)
		}
		s.state = slotIdle
	}

	err := u.pool.Update()
	if err != nil {
		return err
	}

	u.frame++
	u.slot = u.frame % len(u.slots)
	return nil
}

func (u *Uploader) submitSlot(ctx context.Context, s *slot) error {
	err := s.transferCommands.End()
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}
	err = s.graphicsCommands.End()
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}

	err = u.device.ResetFences(s.fences())
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}

	s.state = slotSubmitted

	err = u.device.TransferQueue().Submit([]hal.SubmitInfo{{
		CommandBuffers:   []hal.CommandBuffer{s.transferCommands},
		SignalSemaphores: []hal.Semaphore{s.released},
	}}, s.transferFence)
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}

	err = u.device.GraphicsQueue().Submit([]hal.SubmitInfo{{
		WaitSemaphores: []hal.Semaphore{s.released},
		WaitStages:     []hal.PipelineStageFlags{hal.PipelineStageAllCommands},
		CommandBuffers: []hal.CommandBuffer{s.graphicsCommands},
	}}, s.graphicsFence)
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}

	start := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	for _, fence := range s.fences() {
		fence := fence
		group.Go(func() error {
			return u.device.WaitForFences([]hal.Fence{fence}, u.waitTimeout(groupCtx))
		})
	}
	err = group.Wait()
	if err != nil {
		u.logger.LogAttrs(ctx, slog.LevelError, "upload batch did not complete",
			slog.Int("Slot", u.slot),
			slog.Int("Frame", u.frame),
			slog.Duration("Waited", time.Since(start)),
			slog.Any("Error", err))
		return hal.NewDeviceError("Uploader::SubmitUploads", errors.Mark(err, hal.ErrDeviceLost))
	}

	u.releaseStaging(s)

	err = s.transferCommands.Reset()
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}
	err = s.graphicsCommands.Reset()
	if err != nil {
		return hal.NewDeviceError("Uploader::SubmitUploads", err)
	}

	s.enqueued = 0
	s.state = slotIdle
	return nil
}

func (u *Uploader) releaseStaging(s *slot) {
	for _, staging := range s.staging {
		staging.Release()
	}
	s.staging = nil
}

// Destroy waits for the device to go idle and releases every slot and staging buffer
func (u *Uploader) Destroy() error {
	if u.slots == nil {
		return nil
	}

	err := u.device.WaitIdle()
	if err != nil {
		err = hal.NewDeviceError("Uploader::Destroy", err)
	}

	for _, s := range u.slots {
		u.releaseStaging(s)
	}
	u.destroySlots()

	return errors.CombineErrors(err, u.pool.Destroy())
}

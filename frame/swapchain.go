package frame

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

const (
	DefaultImageCount int           = 2
	DefaultTimeout    time.Duration = 5 * time.Second
)

// Options configures a Swapchain. Zero fields take the Default values.
type Options struct {
	// ImageCount is the number of swapchain images requested, clamped to what the surface
	// supports. There is one frame slot per image.
	ImageCount  int
	Format      hal.Format
	PresentMode hal.PresentMode
	// Timeout bounds image acquisition and frame fence waits
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ImageCount <= 0 {
		o.ImageCount = DefaultImageCount
	}
	if o.Format == hal.FormatUndefined {
		o.Format = hal.FormatB8G8R8A8Srgb
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Swapchain owns the presentable images of a surface and one Frame per image. The render loop
// cycles through the frame slots, and when acquire or present reports that the swapchain no
// longer matches its surface, skips the tick and calls Rebuild.
//
// Swapchain is not safe for concurrent use.
type Swapchain struct {
	logger  *slog.Logger
	device  hal.Device
	surface hal.Surface
	options Options

	swapchain hal.Swapchain
	frames    []*Frame
}

// New creates the swapchain for surface at its current extent, along with its frames. logger
// may be nil.
func New(logger *slog.Logger, device hal.Device, surface hal.Surface, options Options) (*Swapchain, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	s := &Swapchain{
		logger:  logger,
		device:  device,
		surface: surface,
		options: options.withDefaults(),
	}

	swapchain, err := s.createSwapchain(nil)
	if err != nil {
		return nil, err
	}
	s.swapchain = swapchain

	s.frames, err = s.createFrames(len(swapchain.Images()))
	if err != nil {
		swapchain.Destroy()
		s.swapchain = nil
		return nil, err
	}

	return s, nil
}

func clamp(value, lower, upper int) int {
	if value < lower {
		value = lower
	}
	if upper > 0 && value > upper {
		value = upper
	}
	return value
}

func (s *Swapchain) createSwapchain(old hal.Swapchain) (hal.Swapchain, error) {
	capabilities, err := s.surface.Capabilities()
	if err != nil {
		return nil, hal.NewDeviceError("Swapchain::create", err)
	}

	extent := hal.Extent2D{
		Width:  clamp(capabilities.CurrentExtent.Width, capabilities.MinExtent.Width, capabilities.MaxExtent.Width),
		Height: clamp(capabilities.CurrentExtent.Height, capabilities.MinExtent.Height, capabilities.MaxExtent.Height),
	}
	imageCount := clamp(s.options.ImageCount, capabilities.MinImageCount, capabilities.MaxImageCount)

	s.logger.Debug("Swapchain::create",
		slog.Int("ImageCount", imageCount),
		slog.Int("Width", extent.Width),
		slog.Int("Height", extent.Height),
		slog.Bool("Rebuild", old != nil))

	swapchain, err := s.surface.CreateSwapchain(hal.SwapchainCreateInfo{
		ImageCount:   imageCount,
		Format:       s.options.Format,
		Extent:       extent,
		PresentMode:  s.options.PresentMode,
		OldSwapchain: old,
	})
	if err != nil {
		return nil, hal.NewDeviceError("Swapchain::create", err)
	}

	return swapchain, nil
}

func (s *Swapchain) createFrames(count int) ([]*Frame, error) {
	frames := make([]*Frame, 0, count)
	for i := 0; i < count; i++ {
		f, err := newFrame(s.device, i)
		if err != nil {
			for _, created := range frames {
				created.destroy()
			}
			return nil, err
		}
		frames = append(frames, f)
	}

	return frames, nil
}

func (s *Swapchain) destroyFrames() {
	for _, f := range s.frames {
		f.destroy()
	}
	s.frames = nil
}

func (s *Swapchain) checkAlive() {
	if s.swapchain == nil {
		panic("attempted to use a swapchain that has been destroyed")
	}
}

// InFlightFrames is the number of frame slots, which is the number of swapchain images
func (s *Swapchain) InFlightFrames() int { return len(s.frames) }

func (s *Swapchain) Extent() hal.Extent2D {
	s.checkAlive()
	return s.swapchain.Extent()
}

func (s *Swapchain) Format() hal.Format {
	s.checkAlive()
	return s.swapchain.Format()
}

func (s *Swapchain) Images() []hal.Image {
	s.checkAlive()
	return s.swapchain.Images()
}

// Frame returns the frame for slot. The slot must be in [0, InFlightFrames()).
func (s *Swapchain) Frame(slot int) *Frame {
	if slot < 0 || slot >= len(s.frames) {
		panic(fmt.Sprintf("frame slot %d is outside [0, %d)", slot, len(s.frames)))
	}
	return s.frames[slot]
}

// staleResult maps a swapchain status onto the rebuild flag. Out-of-date and suboptimal are not
// errors; every other failure is a DeviceError, with timeouts reported as device loss.
func staleResult(op string, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if hal.IsSwapchainStale(err) {
		return true, nil
	}
	if errors.Is(err, hal.ErrTimeout) {
		err = errors.Mark(err, hal.ErrDeviceLost)
	}
	return false, hal.NewDeviceError(op, err)
}

// AcquireNextImage acquires the next presentable image and signals semaphore when it is ready.
// needsRebuild is true when the swapchain is out of date or suboptimal; the caller should skip
// rendering this tick and call Rebuild. An out-of-date swapchain acquires nothing and returns
// index 0.
func (s *Swapchain) AcquireNextImage(semaphore hal.Semaphore) (index int, needsRebuild bool, err error) {
	s.checkAlive()

	index, err = s.swapchain.AcquireNextImage(s.options.Timeout, semaphore)
	outOfDate := errors.Is(err, hal.ErrOutOfDate)
	needsRebuild, err = staleResult("Swapchain::AcquireNextImage", err)
	if err != nil || outOfDate {
		return 0, needsRebuild, err
	}
	return index, needsRebuild, nil
}

// Present queues imageIndex for presentation on the graphics queue once every waitSemaphores is
// signaled. needsRebuild has the same meaning as in AcquireNextImage.
func (s *Swapchain) Present(imageIndex int, waitSemaphores []hal.Semaphore) (needsRebuild bool, err error) {
	s.checkAlive()

	err = s.swapchain.Present(s.device.GraphicsQueue(), imageIndex, waitSemaphores)
	return staleResult("Swapchain::Present", err)
}

// Rebuild replaces the swapchain with one matching the surface's current extent and recreates
// the frames, one per new image. It waits for the device to go idle first, so it may be called
// between any two frames, but never while a frame is being recorded. Calling it again rebuilds
// again; resources from earlier builds are destroyed exactly once.
func (s *Swapchain) Rebuild() error {
	s.checkAlive()
	s.logger.Debug("Swapchain::Rebuild", slog.Int("InFlightFrames", len(s.frames)))

	err := s.device.WaitIdle()
	if err != nil {
		return hal.NewDeviceError("Swapchain::Rebuild", err)
	}

	next, err := s.createSwapchain(s.swapchain)
	if err != nil {
		return err
	}

	s.destroyFrames()
	s.swapchain.Destroy()
	s.swapchain = next

	s.frames, err = s.createFrames(len(next.Images()))
	if err != nil {
		return err
	}

	return nil
}

// BeginFrame waits for slot's previous submission, acquires the next image, and if the
// swapchain is still current, resets the slot and begins its command buffer. When needsRebuild
// is true nothing was reset and the slot's fence is still signaled.
func (s *Swapchain) BeginFrame(slot int) (imageIndex int, needsRebuild bool, err error) {
	f := s.Frame(slot)

	err = f.Wait(s.options.Timeout)
	if err != nil {
		return 0, false, err
	}

	imageIndex, needsRebuild, err = s.AcquireNextImage(f.AcquireSemaphore)
	if err != nil || needsRebuild {
		return imageIndex, needsRebuild, err
	}

	err = f.Reset(s.options.Timeout)
	if err != nil {
		return 0, false, err
	}
	err = f.CommandBuffer.Begin()
	if err != nil {
		return 0, false, hal.NewDeviceError("Swapchain::BeginFrame", err)
	}

	return imageIndex, false, nil
}

// SubmitFrame ends slot's command buffer, submits it to the graphics queue once the acquired
// image is ready, and presents imageIndex once rendering completes
func (s *Swapchain) SubmitFrame(slot int, imageIndex int) (needsRebuild bool, err error) {
	f := s.Frame(slot)

	err = f.CommandBuffer.End()
	if err != nil {
		return false, hal.NewDeviceError("Swapchain::SubmitFrame", err)
	}

	err = s.device.GraphicsQueue().Submit([]hal.SubmitInfo{{
		WaitSemaphores:   []hal.Semaphore{f.AcquireSemaphore},
		WaitStages:       []hal.PipelineStageFlags{hal.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []hal.CommandBuffer{f.CommandBuffer},
		SignalSemaphores: []hal.Semaphore{f.RenderSemaphore},
	}}, f.Fence)
	if err != nil {
		return false, hal.NewDeviceError("Swapchain::SubmitFrame", err)
	}

	return s.Present(imageIndex, []hal.Semaphore{f.RenderSemaphore})
}

// Destroy waits for the device to go idle, then destroys the frames and the swapchain. Calling
// it more than once does nothing.
func (s *Swapchain) Destroy() error {
	if s.swapchain == nil {
		return nil
	}

	err := s.device.WaitIdle()
	if err != nil {
		err = hal.NewDeviceError("Swapchain::Destroy", err)
	}

	s.destroyFrames()
	s.swapchain.Destroy()
	s.swapchain = nil

	return err
}

package soft

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

// Surface is a headless presentation target. Its extent is changed with SetExtent, which
// makes every swapchain created from it out of date, the way a window resize would.
type Surface struct {
	device        *Device
	extent        hal.Extent2D
	minImageCount int
	maxImageCount int
	suboptimal    bool
	generation    int
}

var _ hal.Surface = &Surface{}

// NewSurface creates a surface that supports between minImageCount and maxImageCount images.
// A maxImageCount of 0 means no limit.
func NewSurface(device *Device, extent hal.Extent2D, minImageCount, maxImageCount int) *Surface {
	return &Surface{
		device:        device,
		extent:        extent,
		minImageCount: minImageCount,
		maxImageCount: maxImageCount,
	}
}

func (s *Surface) SetExtent(extent hal.Extent2D) {
	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	s.extent = extent
	s.generation++
}

// SetSuboptimal makes acquire and present on the current swapchains report hal.ErrSuboptimal
// until the next swapchain is created
func (s *Surface) SetSuboptimal() {
	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	s.suboptimal = true
}

func (s *Surface) Capabilities() (hal.SurfaceCapabilities, error) {
	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	if s.device.lost {
		return hal.SurfaceCapabilities{}, errors.WithStack(hal.ErrDeviceLost)
	}

	return hal.SurfaceCapabilities{
		MinImageCount: s.minImageCount,
		MaxImageCount: s.maxImageCount,
		CurrentExtent: s.extent,
		MinExtent:     hal.Extent2D{Width: 1, Height: 1},
		MaxExtent:     hal.Extent2D{Width: 16384, Height: 16384},
	}, nil
}

func (s *Surface) CreateSwapchain(info hal.SwapchainCreateInfo) (hal.Swapchain, error) {
	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	if s.device.lost {
		return nil, errors.WithStack(hal.ErrDeviceLost)
	}
	if info.ImageCount < s.minImageCount || (s.maxImageCount > 0 && info.ImageCount > s.maxImageCount) {
		return nil, errors.Mark(errors.Newf("swapchain image count %d is outside [%d, %d]", info.ImageCount, s.minImageCount, s.maxImageCount), hal.ErrValidation)
	}
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		return nil, errors.Mark(errors.Newf("swapchain extent %dx%d is empty", info.Extent.Width, info.Extent.Height), hal.ErrValidation)
	}
	if info.OldSwapchain != nil {
		old := info.OldSwapchain.(*Swapchain)
		if old.destroyed {
			return nil, errors.Mark(errors.New("old swapchain was already destroyed"), hal.ErrValidation)
		}
		old.retired = true
	}

	swapchain := &Swapchain{
		surface:    s,
		info:       info,
		generation: s.generation,
	}
	for i := 0; i < info.ImageCount; i++ {
		swapchain.images = append(swapchain.images, &Image{
			device: s.device,
			info: hal.ImageCreateInfo{
				Extent:      hal.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1},
				Format:      info.Format,
				Usage:       hal.ImageUsageColorAttachment | hal.ImageUsageTransferDst,
				MipLevels:   1,
				ArrayLayers: 1,
			},
			swapchain:     swapchain,
			resourceState: newResourceState(),
		})
	}
	s.suboptimal = false
	s.device.track("swapchain", 1)

	s.device.logger.Debug("soft::Surface::CreateSwapchain",
		slog.Int("ImageCount", info.ImageCount),
		slog.Int("Width", info.Extent.Width),
		slog.Int("Height", info.Extent.Height))

	return swapchain, nil
}

type Swapchain struct {
	surface    *Surface
	info       hal.SwapchainCreateInfo
	images     []*Image
	generation int
	nextImage  int
	acquired   []int
	presented  int
	retired    bool
	destroyed  bool
}

var _ hal.Swapchain = &Swapchain{}

func (s *Swapchain) Images() []hal.Image {
	images := make([]hal.Image, len(s.images))
	for i, image := range s.images {
		images[i] = image
	}
	return images
}

func (s *Swapchain) Format() hal.Format   { return s.info.Format }
func (s *Swapchain) Extent() hal.Extent2D { return s.info.Extent }

// Presented is the number of images presented from this swapchain
func (s *Swapchain) Presented() int {
	s.surface.device.lock.Lock()
	defer s.surface.device.lock.Unlock()

	return s.presented
}

func (s *Swapchain) checkAlive() {
	if s.destroyed {
		panic("attempted to use a destroyed swapchain")
	}
}

func (s *Swapchain) staleErr() error {
	if s.retired || s.generation != s.surface.generation {
		return errors.WithStack(hal.ErrOutOfDate)
	}
	if s.surface.suboptimal {
		return errors.WithStack(hal.ErrSuboptimal)
	}
	return nil
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, semaphore hal.Semaphore) (int, error) {
	s.surface.device.lock.Lock()
	defer s.surface.device.lock.Unlock()

	s.checkAlive()
	if s.surface.device.lost {
		return 0, errors.WithStack(hal.ErrDeviceLost)
	}
	if s.retired || s.generation != s.surface.generation {
		return 0, errors.WithStack(hal.ErrOutOfDate)
	}
	if len(s.acquired) >= len(s.images) {
		return 0, errors.Wrapf(hal.ErrTimeout, "all %d swapchain images are acquired, waited %s", len(s.images), timeout)
	}

	sem := semaphore.(*Semaphore)
	sem.checkAlive()
	if sem.signaled {
		return 0, errors.Mark(errors.New("acquire semaphore is already signaled"), hal.ErrValidation)
	}

	index := s.nextImage
	s.nextImage = (s.nextImage + 1) % len(s.images)
	s.acquired = append(s.acquired, index)
	sem.signaled = true

	if s.surface.suboptimal {
		// The image is still acquired, as with a real suboptimal result
		return index, errors.WithStack(hal.ErrSuboptimal)
	}
	return index, nil
}

func (s *Swapchain) Present(queue hal.Queue, imageIndex int, waitSemaphores []hal.Semaphore) error {
	s.surface.device.lock.Lock()
	defer s.surface.device.lock.Unlock()

	s.checkAlive()
	if s.surface.device.lost {
		return errors.WithStack(hal.ErrDeviceLost)
	}
	if queue.Family() != s.surface.device.options.QueueFamilies.Graphics {
		return errors.Mark(errors.Newf("present on queue family %d, which cannot present", queue.Family()), hal.ErrValidation)
	}

	acquiredAt := -1
	for i, index := range s.acquired {
		if index == imageIndex {
			acquiredAt = i
			break
		}
	}
	if acquiredAt < 0 {
		return errors.Mark(errors.Newf("presented swapchain image %d, which was not acquired", imageIndex), hal.ErrValidation)
	}

	for _, semaphore := range waitSemaphores {
		sem := semaphore.(*Semaphore)
		sem.checkAlive()
		if !sem.signaled && !s.surface.device.hung {
			return errors.Mark(errors.New("present waits on a semaphore that nothing signaled"), hal.ErrValidation)
		}
		sem.signaled = false
	}

	s.acquired = append(s.acquired[:acquiredAt], s.acquired[acquiredAt+1:]...)
	s.presented++

	return s.staleErr()
}

func (s *Swapchain) Destroy() {
	s.surface.device.lock.Lock()
	defer s.surface.device.lock.Unlock()

	s.checkAlive()
	s.destroyed = true
	for _, image := range s.images {
		image.destroyed = true
	}
	s.surface.device.track("swapchain", -1)
}

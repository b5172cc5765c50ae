package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/freight/hal"
	"golang.org/x/exp/slog"
)

// specialExtent is reported as the current extent by platforms where the swapchain decides the
// surface size
const specialExtent = 0xFFFFFFFF

// Surface is a hal.Surface backed by a khr_surface surface the caller created for its window
type Surface struct {
	device     *Device
	surface    khr_surface.Surface
	swapchains khr_swapchain.Extension

	windowExtent func() hal.Extent2D
}

var _ hal.Surface = &Surface{}

// NewSurface wraps surface for presentation from device. windowExtent reports the window's
// framebuffer size and is used when the platform leaves the extent to the swapchain.
func NewSurface(device *Device, surface khr_surface.Surface, windowExtent func() hal.Extent2D) (*Surface, error) {
	if !device.device.IsDeviceExtensionActive(khr_swapchain.ExtensionName) {
		return nil, errors.Newf("device %v was not created with %s", device.device.Handle(), khr_swapchain.ExtensionName)
	}

	return &Surface{
		device:       device,
		surface:      surface,
		swapchains:   khr_swapchain.CreateExtensionFromDevice(device.device),
		windowExtent: windowExtent,
	}, nil
}

func (s *Surface) Capabilities() (hal.SurfaceCapabilities, error) {
	capabilities, res, err := s.surface.PhysicalDeviceSurfaceCapabilities(s.device.physicalDevice)
	if err != nil {
		return hal.SurfaceCapabilities{}, resultError(res, err)
	}

	current := hal.Extent2D{Width: capabilities.CurrentExtent.Width, Height: capabilities.CurrentExtent.Height}
	if uint32(capabilities.CurrentExtent.Width) == specialExtent && s.windowExtent != nil {
		current = s.windowExtent()
	}

	return hal.SurfaceCapabilities{
		MinImageCount: capabilities.MinImageCount,
		MaxImageCount: capabilities.MaxImageCount,
		CurrentExtent: current,
		MinExtent:     hal.Extent2D{Width: capabilities.MinImageExtent.Width, Height: capabilities.MinImageExtent.Height},
		MaxExtent:     hal.Extent2D{Width: capabilities.MaxImageExtent.Width, Height: capabilities.MaxImageExtent.Height},
	}, nil
}

func (s *Surface) CreateSwapchain(info hal.SwapchainCreateInfo) (hal.Swapchain, error) {
	format, ok := formats[info.Format]
	if !ok || info.Format == hal.FormatUndefined {
		return nil, errors.Newf("swapchain has unsupported format %s", info.Format)
	}
	presentMode, ok := presentModes[info.PresentMode]
	if !ok {
		return nil, errors.Newf("swapchain has unsupported present mode %s", info.PresentMode)
	}

	capabilities, res, err := s.surface.PhysicalDeviceSurfaceCapabilities(s.device.physicalDevice)
	if err != nil {
		return nil, resultError(res, err)
	}

	var oldSwapchain khr_swapchain.Swapchain
	if info.OldSwapchain != nil {
		oldSwapchain = info.OldSwapchain.(*Swapchain).swapchain
	}

	swapchain, res, err := s.swapchains.CreateSwapchain(s.device.device, s.device.callbacks, khr_swapchain.SwapchainCreateInfo{
		Surface:          s.surface,
		MinImageCount:    info.ImageCount,
		ImageFormat:      format,
		ImageColorSpace:  khr_surface.ColorSpaceSRGBNonlinear,
		ImageExtent:      core1_0.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      presentMode,
		Clipped:          true,
		OldSwapchain:     oldSwapchain,
	})
	if err != nil {
		return nil, resultError(res, err)
	}

	nativeImages, res, err := swapchain.SwapchainImages()
	if err != nil {
		swapchain.Destroy(s.device.callbacks)
		return nil, resultError(res, err)
	}

	extent := hal.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1}
	images := make([]hal.Image, 0, len(nativeImages))
	for _, image := range nativeImages {
		images = append(images, &Image{device: s.device, image: image, extent: extent, format: info.Format})
	}

	s.device.logger.Debug("vulkan::Surface::CreateSwapchain",
		slog.Int("Images", len(images)),
		slog.Int("Width", info.Extent.Width),
		slog.Int("Height", info.Extent.Height),
		slog.String("PresentMode", info.PresentMode.String()),
	)

	return &Swapchain{
		surface:   s,
		swapchain: swapchain,
		images:    images,
		format:    info.Format,
		extent:    info.Extent,
	}, nil
}

// Swapchain is a hal.Swapchain backed by a khr_swapchain swapchain. Its images belong to the
// swapchain and are released when it is destroyed.
type Swapchain struct {
	surface   *Surface
	swapchain khr_swapchain.Swapchain
	images    []hal.Image
	format    hal.Format
	extent    hal.Extent2D
}

func (s *Swapchain) VulkanSwapchain() khr_swapchain.Swapchain { return s.swapchain }
func (s *Swapchain) Images() []hal.Image                      { return s.images }
func (s *Swapchain) Format() hal.Format                       { return s.format }
func (s *Swapchain) Extent() hal.Extent2D                     { return s.extent }

// AcquireNextImage returns the acquired image index alongside an ErrSuboptimal error, since a
// suboptimal acquire still signals semaphore
func (s *Swapchain) AcquireNextImage(timeout time.Duration, semaphore hal.Semaphore) (int, error) {
	index, res, err := s.swapchain.AcquireNextImage(timeout, semaphore.(*Semaphore).semaphore, nil)
	return index, resultError(res, err)
}

func (s *Swapchain) Present(queue hal.Queue, imageIndex int, waitSemaphores []hal.Semaphore) error {
	res, err := s.surface.swapchains.QueuePresent(queue.(*Queue).queue, khr_swapchain.PresentInfo{
		WaitSemaphores: vulkanSemaphores(waitSemaphores),
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	return resultError(res, err)
}

func (s *Swapchain) Destroy() {
	s.swapchain.Destroy(s.surface.device.callbacks)
}

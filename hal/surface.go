package hal

import "time"

type PresentMode int32

const (
	PresentModeFifo PresentMode = iota
	PresentModeMailbox
	PresentModeImmediate
)

var presentModeMapping = make(map[PresentMode]string)

func (m PresentMode) String() string {
	return presentModeMapping[m]
}

func init() {
	presentModeMapping[PresentModeFifo] = "PresentModeFifo"
	presentModeMapping[PresentModeMailbox] = "PresentModeMailbox"
	presentModeMapping[PresentModeImmediate] = "PresentModeImmediate"
}

type SurfaceCapabilities struct {
	MinImageCount int
	// MaxImageCount of 0 means there is no limit
	MaxImageCount int
	CurrentExtent Extent2D
	MinExtent     Extent2D
	MaxExtent     Extent2D
}

type SwapchainCreateInfo struct {
	ImageCount   int
	Format       Format
	Extent       Extent2D
	PresentMode  PresentMode
	OldSwapchain Swapchain
}

// Surface is a presentation target, usually a window
type Surface interface {
	Capabilities() (SurfaceCapabilities, error)
	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
}

// Swapchain is a ring of presentable images. AcquireNextImage and Present return errors marked
// ErrOutOfDate or ErrSuboptimal when the swapchain no longer matches its surface.
type Swapchain interface {
	Images() []Image
	Format() Format
	Extent() Extent2D

	AcquireNextImage(timeout time.Duration, semaphore Semaphore) (int, error)
	Present(queue Queue, imageIndex int, waitSemaphores []Semaphore) error
	Destroy()
}

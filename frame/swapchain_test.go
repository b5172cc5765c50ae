package frame

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/hal/soft"
)

func readySwapchain(t *testing.T, options Options) (*soft.Device, *soft.Surface, *Swapchain) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	surface := soft.NewSurface(device, hal.Extent2D{Width: 640, Height: 480}, 2, 3)

	swapchain, err := New(nil, device, surface, options)
	require.NoError(t, err)

	return device, surface, swapchain
}

func requireLiveFrameObjects(t *testing.T, device *soft.Device, frames int) {
	require.Equal(t, 1, device.LiveObjects("swapchain"))
	require.Equal(t, frames, device.LiveObjects("commandPool"))
	require.Equal(t, frames, device.LiveObjects("commandBuffer"))
	require.Equal(t, frames, device.LiveObjects("fence"))
	require.Equal(t, frames*2, device.LiveObjects("semaphore"))
}

func TestNewCreatesFramePerImage(t *testing.T) {
	device, _, swapchain := readySwapchain(t, Options{ImageCount: 3})

	require.Equal(t, 3, swapchain.InFlightFrames())
	require.Len(t, swapchain.Images(), 3)
	require.Equal(t, hal.Extent2D{Width: 640, Height: 480}, swapchain.Extent())
	require.Equal(t, hal.FormatB8G8R8A8Srgb, swapchain.Format())
	requireLiveFrameObjects(t, device, 3)

	for i := 0; i < 3; i++ {
		require.Equal(t, i, swapchain.Frame(i).Index())
	}
	require.Panics(t, func() {
		swapchain.Frame(3)
	})

	require.NoError(t, swapchain.Destroy())
}

func TestImageCountIsClamped(t *testing.T) {
	_, _, swapchain := readySwapchain(t, Options{ImageCount: 8})
	require.Equal(t, 3, swapchain.InFlightFrames())
	require.NoError(t, swapchain.Destroy())

	_, _, swapchain = readySwapchain(t, Options{ImageCount: 1})
	require.Equal(t, 2, swapchain.InFlightFrames())
	require.NoError(t, swapchain.Destroy())

	_, _, swapchain = readySwapchain(t, Options{})
	require.Equal(t, DefaultImageCount, swapchain.InFlightFrames())
	require.NoError(t, swapchain.Destroy())
}

func TestRenderLoop(t *testing.T) {
	device, _, swapchain := readySwapchain(t, Options{})

	for tick := 0; tick < 6; tick++ {
		slot := tick % swapchain.InFlightFrames()

		imageIndex, needsRebuild, err := swapchain.BeginFrame(slot)
		require.NoError(t, err)
		require.False(t, needsRebuild)

		needsRebuild, err = swapchain.SubmitFrame(slot, imageIndex)
		require.NoError(t, err)
		require.False(t, needsRebuild)
	}

	require.Equal(t, 6, device.GraphicsQueue().(*soft.Queue).Submitted())
	require.NoError(t, swapchain.Destroy())
}

func TestResizeRequestsRebuild(t *testing.T) {
	device, surface, swapchain := readySwapchain(t, Options{})

	imageIndex, needsRebuild, err := swapchain.BeginFrame(0)
	require.NoError(t, err)
	require.False(t, needsRebuild)
	_, err = swapchain.SubmitFrame(0, imageIndex)
	require.NoError(t, err)

	surface.SetExtent(hal.Extent2D{Width: 800, Height: 600})

	imageIndex, needsRebuild, err = swapchain.BeginFrame(1)
	require.NoError(t, err)
	require.True(t, needsRebuild)
	require.Zero(t, imageIndex)

	require.NoError(t, swapchain.Rebuild())
	require.Equal(t, hal.Extent2D{Width: 800, Height: 600}, swapchain.Extent())
	requireLiveFrameObjects(t, device, swapchain.InFlightFrames())

	imageIndex, needsRebuild, err = swapchain.BeginFrame(1)
	require.NoError(t, err)
	require.False(t, needsRebuild)
	needsRebuild, err = swapchain.SubmitFrame(1, imageIndex)
	require.NoError(t, err)
	require.False(t, needsRebuild)

	require.NoError(t, swapchain.Destroy())
}

func TestRebuildIsIdempotent(t *testing.T) {
	device, _, swapchain := readySwapchain(t, Options{ImageCount: 3})
	requireLiveFrameObjects(t, device, 3)

	require.NoError(t, swapchain.Rebuild())
	require.NoError(t, swapchain.Rebuild())
	requireLiveFrameObjects(t, device, 3)
	require.Equal(t, hal.Extent2D{Width: 640, Height: 480}, swapchain.Extent())

	require.NoError(t, swapchain.Destroy())
	require.NoError(t, swapchain.Destroy())
	require.Zero(t, device.LiveObjects("swapchain"))
	require.Zero(t, device.LiveObjects("commandPool"))
	require.Zero(t, device.LiveObjects("fence"))
	require.Zero(t, device.LiveObjects("semaphore"))
}

func TestSuboptimal(t *testing.T) {
	device, surface, swapchain := readySwapchain(t, Options{})

	imageIndex, needsRebuild, err := swapchain.BeginFrame(0)
	require.NoError(t, err)
	require.False(t, needsRebuild)

	surface.SetSuboptimal()
	needsRebuild, err = swapchain.SubmitFrame(0, imageIndex)
	require.NoError(t, err)
	require.True(t, needsRebuild)

	// A suboptimal acquire still hands out an image
	semaphore, err := device.CreateSemaphore()
	require.NoError(t, err)
	imageIndex, needsRebuild, err = swapchain.AcquireNextImage(semaphore)
	require.NoError(t, err)
	require.True(t, needsRebuild)
	require.Equal(t, 1, imageIndex)
	semaphore.Destroy()

	require.NoError(t, swapchain.Rebuild())
	_, needsRebuild, err = swapchain.BeginFrame(0)
	require.NoError(t, err)
	require.False(t, needsRebuild)

	require.NoError(t, swapchain.Destroy())
}

func TestHungDeviceIsDeviceLost(t *testing.T) {
	device, _, swapchain := readySwapchain(t, Options{Timeout: 20 * time.Millisecond})

	imageIndex, _, err := swapchain.BeginFrame(0)
	require.NoError(t, err)

	device.Hang()
	_, err = swapchain.SubmitFrame(0, imageIndex)
	require.NoError(t, err)

	_, _, err = swapchain.BeginFrame(0)
	require.Error(t, err)
	require.True(t, hal.IsDeviceError(err))
	require.True(t, errors.Is(err, hal.ErrDeviceLost))
}

func TestLostDevice(t *testing.T) {
	device, _, swapchain := readySwapchain(t, Options{})
	device.Lose()

	err := swapchain.Rebuild()
	require.True(t, hal.IsDeviceError(err))
	require.True(t, errors.Is(err, hal.ErrDeviceLost))

	_, _, err = swapchain.AcquireNextImage(swapchain.Frame(0).AcquireSemaphore)
	require.True(t, hal.IsDeviceError(err))

	err = swapchain.Destroy()
	require.True(t, errors.Is(err, hal.ErrDeviceLost))
	require.Zero(t, device.LiveObjects("swapchain"))
}

func TestFrameResetWaitsFirst(t *testing.T) {
	device, _, swapchain := readySwapchain(t, Options{})
	f := swapchain.Frame(0)

	require.NoError(t, f.Reset(time.Second))

	// The fence is unsignaled until the slot is submitted again
	err := f.Wait(10 * time.Millisecond)
	require.True(t, errors.Is(err, hal.ErrDeviceLost))
	require.True(t, errors.Is(err, hal.ErrTimeout))

	require.NoError(t, f.CommandBuffer.Begin())
	require.NoError(t, f.CommandBuffer.End())
	require.NoError(t, device.GraphicsQueue().Submit([]hal.SubmitInfo{{
		CommandBuffers: []hal.CommandBuffer{f.CommandBuffer},
	}}, f.Fence))
	require.NoError(t, f.Wait(time.Second))

	require.NoError(t, swapchain.Destroy())
}

package gpu

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/config"
	"github.com/vkngwrapper/freight/frame"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/hal/soft"
	"github.com/vkngwrapper/freight/resource"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Upload.RetainedSize = 4096
	cfg.Upload.FenceTimeout = config.Duration(time.Second)
	cfg.Frames.AcquireTimeout = config.Duration(time.Second)
	return cfg
}

func TestHeadlessUploads(t *testing.T) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	g, err := New(nil, device, nil, testConfig())
	require.NoError(t, err)
	require.True(t, g.Headless())

	buffer, err := g.NewBuffer(resource.BufferOptions{
		Size:     64,
		Usage:    hal.BufferUsageVertex | hal.BufferUsageTransferDst,
		Location: vam.MemoryLocationGpuOnly,
		Label:    "mesh",
	})
	require.NoError(t, err)
	require.NoError(t, buffer.Upload(g.Uploader(), 0, []byte("positions"), upload.BufferTargetVertex))

	require.NoError(t, g.Tick(context.Background(), nil))
	require.Equal(t, 1, g.Ticks())
	require.Equal(t, []byte("positions"), buffer.Buffer().(*soft.Buffer).Contents()[:9])

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(g.Stats(false)), &stats))
	require.Contains(t, stats, "Total")

	require.NoError(t, buffer.Destroy())
	require.NoError(t, g.Destroy())
	require.Zero(t, device.LiveObjects("memory"))
	require.Zero(t, device.LiveObjects("fence"))
}

func TestRenderTicks(t *testing.T) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	surface := soft.NewSurface(device, hal.Extent2D{Width: 320, Height: 240}, 2, 3)
	g, err := New(nil, device, surface, testConfig())
	require.NoError(t, err)
	require.False(t, g.Headless())

	var recorded []int
	record := func(f *frame.Frame, imageIndex int) error {
		recorded = append(recorded, f.Index())
		return nil
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, g.Tick(context.Background(), record))
	}
	require.Equal(t, []int{0, 1, 0, 1}, recorded)
	require.Equal(t, 4, device.GraphicsQueue().(*soft.Queue).Submitted())
	require.Zero(t, g.Rebuilds())

	require.NoError(t, g.Destroy())
	require.Zero(t, device.LiveObjects("swapchain"))
	require.Zero(t, device.LiveObjects("semaphore"))
}

func TestTickRebuildsAfterResize(t *testing.T) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	surface := soft.NewSurface(device, hal.Extent2D{Width: 320, Height: 240}, 2, 3)
	g, err := New(nil, device, surface, testConfig())
	require.NoError(t, err)

	require.NoError(t, g.Tick(context.Background(), nil))

	surface.SetExtent(hal.Extent2D{Width: 1024, Height: 768})
	require.NoError(t, g.Tick(context.Background(), nil))
	require.Equal(t, 1, g.Rebuilds())
	require.Equal(t, hal.Extent2D{Width: 1024, Height: 768}, g.Swapchain().Extent())

	require.NoError(t, g.Tick(context.Background(), nil))
	require.Equal(t, 1, g.Rebuilds())
	require.Equal(t, 3, g.Ticks())

	require.NoError(t, g.Destroy())
}

func TestRecordErrorsPropagate(t *testing.T) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	surface := soft.NewSurface(device, hal.Extent2D{Width: 320, Height: 240}, 2, 3)
	g, err := New(nil, device, surface, testConfig())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = g.Tick(context.Background(), func(f *frame.Frame, imageIndex int) error {
		return boom
	})
	require.True(t, errors.Is(err, boom))
	require.ErrorContains(t, err, "failed to record frame 0")

	require.NoError(t, g.Destroy())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	cfg := testConfig()
	cfg.Upload.Retention = 0

	_, err := New(nil, device, nil, cfg)
	require.ErrorContains(t, err, "upload.retention")
	require.Zero(t, device.LiveObjects("memory"))
	require.Zero(t, device.LiveObjects("commandPool"))
}

func TestDestroyReportsLeaks(t *testing.T) {
	device := soft.NewDevice(nil, soft.DeviceOptions{})
	g, err := New(nil, device, nil, testConfig())
	require.NoError(t, err)

	_, err = g.NewTexture(resource.TextureOptions{
		Extent: hal.Extent2D{Width: 8, Height: 8},
		Format: hal.FormatR8G8B8A8Srgb,
		Label:  "forgotten",
	})
	require.NoError(t, err)

	err = g.Destroy()
	require.ErrorContains(t, err, "1 allocations were not deallocated")
	require.Zero(t, device.LiveObjects("image"))
}

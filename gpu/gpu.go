// Package gpu wires an Allocator, an Uploader and, when a surface is provided, a Swapchain
// around a single hal.Device, configured from a config.Config
package gpu

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/config"
	"github.com/vkngwrapper/freight/frame"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/resource"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
	"golang.org/x/exp/slog"
)

// RecordFunc records one frame's rendering commands into f.CommandBuffer, targeting the
// swapchain image at imageIndex
type RecordFunc func(f *frame.Frame, imageIndex int) error

// Gpu owns the allocator, uploader and swapchain of one device. It is driven from a single
// goroutine: Tick submits pending uploads and then renders one frame.
type Gpu struct {
	logger    *slog.Logger
	device    hal.Device
	allocator *vam.Allocator
	uploader  *upload.Uploader
	swapchain *frame.Swapchain

	tick     int
	rebuilds int
}

// New validates cfg and creates every object it configures. surface may be nil for headless use,
// in which case Tick only submits uploads.
func New(logger *slog.Logger, device hal.Device, surface hal.Surface, cfg config.Config) (*Gpu, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	g := &Gpu{logger: logger, device: device}

	g.allocator, err = vam.New(logger, device, cfg.AllocatorOptions())
	if err != nil {
		return nil, err
	}

	g.uploader, err = upload.New(logger, device, g.allocator, cfg.UploadOptions())
	if err != nil {
		return nil, errors.CombineErrors(err, g.allocator.Destroy())
	}

	if surface != nil {
		g.swapchain, err = frame.New(logger, device, surface, cfg.FrameOptions())
		if err != nil {
			err = errors.CombineErrors(err, g.uploader.Destroy())
			return nil, errors.CombineErrors(err, g.allocator.Destroy())
		}
	}

	logger.Debug("Gpu::New", slog.Bool("Headless", surface == nil))
	return g, nil
}

func (g *Gpu) Device() hal.Device          { return g.device }
func (g *Gpu) Allocator() *vam.Allocator   { return g.allocator }
func (g *Gpu) Uploader() *upload.Uploader  { return g.uploader }
func (g *Gpu) Swapchain() *frame.Swapchain { return g.swapchain }
func (g *Gpu) Headless() bool              { return g.swapchain == nil }
func (g *Gpu) Ticks() int                  { return g.tick }
func (g *Gpu) Rebuilds() int               { return g.rebuilds }
func (g *Gpu) Stats(detailed bool) string  { return g.allocator.BuildStatsString(detailed) }

func (g *Gpu) NewBuffer(options resource.BufferOptions) (*resource.Buffer, error) {
	return resource.NewBuffer(g.device, g.allocator, options)
}

func (g *Gpu) NewTexture(options resource.TextureOptions) (*resource.Texture, error) {
	return resource.NewTexture(g.device, g.allocator, options)
}

// Tick submits every upload enqueued since the last tick, then renders one frame with record.
// When the swapchain needs to be rebuilt the frame is skipped or presented as-is and the
// swapchain is rebuilt before Tick returns. A *hal.DeviceError is fatal.
func (g *Gpu) Tick(ctx context.Context, record RecordFunc) error {
	err := g.uploader.SubmitUploads(ctx)
	if err != nil {
		return err
	}

	defer func() { g.tick++ }()
	if g.swapchain == nil {
		return nil
	}

	slot := g.tick % g.swapchain.InFlightFrames()
	imageIndex, needsRebuild, err := g.swapchain.BeginFrame(slot)
	if err != nil {
		return err
	}
	if needsRebuild {
		return g.rebuild()
	}

	if record != nil {
		err = record(g.swapchain.Frame(slot), imageIndex)
		if err != nil {
			return errors.Wrapf(err, "failed to record frame %d", g.tick)
		}
	}

	needsRebuild, err = g.swapchain.SubmitFrame(slot, imageIndex)
	if err != nil {
		return err
	}
	if needsRebuild {
		return g.rebuild()
	}
	return nil
}

func (g *Gpu) rebuild() error {
	g.logger.Debug("Gpu::Rebuild", slog.Int("Tick", g.tick))
	g.rebuilds++
	return g.swapchain.Rebuild()
}

// Destroy tears down the swapchain, the uploader and the allocator in that order. The allocator
// reports any resource that was never released as an error.
func (g *Gpu) Destroy() error {
	var err error
	if g.swapchain != nil {
		err = g.swapchain.Destroy()
	}
	err = errors.CombineErrors(err, g.uploader.Destroy())
	return errors.CombineErrors(err, g.allocator.Destroy())
}

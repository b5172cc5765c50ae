// Command freight-headless drives uploads and frames against the in-memory backend and prints
// the allocator's statistics as JSON
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/vkngwrapper/freight/config"
	"github.com/vkngwrapper/freight/gpu"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/hal/soft"
	"github.com/vkngwrapper/freight/resource"
	"github.com/vkngwrapper/freight/upload"
	"golang.org/x/exp/slog"
)

type vertex struct {
	X, Y, Z float32
	U, V    float32
}

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file; defaults are used when empty")
		frames     = flag.Int("frames", 8, "number of frames to render")
		meshes     = flag.Int("meshes", 4, "number of meshes re-uploaded every frame")
		vertices   = flag.Int("vertices", 1024, "vertices per mesh")
		width      = flag.Int("width", 800, "surface width")
		height     = flag.Int("height", 600, "surface height")
		resizeAt   = flag.Int("resize-at", 4, "frame at which the surface is resized, negative to never resize")
		heapMiB    = flag.Int("heap-mib", 512, "size of each in-memory device heap in MiB")
		detailed   = flag.Bool("detailed", false, "include per-block maps in the statistics")
		verbose    = flag.Bool("verbose", false, "log every operation to stderr")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %+v", err)
		}
	}

	deviceOptions := soft.DefaultDeviceOptions()
	for i := range deviceOptions.MemoryProperties.MemoryHeaps {
		deviceOptions.MemoryProperties.MemoryHeaps[i].Size = *heapMiB * 1024 * 1024
	}
	device := soft.NewDevice(logger, deviceOptions)
	surface := soft.NewSurface(device, hal.Extent2D{Width: *width, Height: *height}, 2, 3)

	g, err := gpu.New(logger, device, surface, cfg)
	if err != nil {
		log.Fatalf("Failed to create gpu: %+v", err)
	}

	stats, err := run(g, surface, *frames, *meshes, *vertices, *resizeAt, *detailed)
	if err != nil {
		log.Fatalf("Failed to run: %+v", err)
	}
	fmt.Println(stats)

	err = g.Destroy()
	if err != nil {
		log.Fatalf("Failed to destroy gpu: %+v", err)
	}
}

// run renders frames while re-uploading every mesh each frame, and returns the allocator
// statistics taken before the meshes are released
func run(g *gpu.Gpu, surface *soft.Surface, frames, meshCount, vertexCount, resizeAt int, detailed bool) (string, error) {
	meshes := make([]*resource.TypedBuffer[vertex], 0, meshCount)
	defer func() {
		for _, mesh := range meshes {
			_ = mesh.Destroy()
		}
	}()

	for i := 0; i < meshCount; i++ {
		mesh, err := resource.StorageBuffer[vertex](g.Device(), g.Allocator(), vertexCount, fmt.Sprintf("mesh-%d", i))
		if err != nil {
			return "", err
		}
		meshes = append(meshes, mesh)
	}

	checker, err := g.NewTexture(resource.TextureOptions{
		Extent: hal.Extent2D{Width: 64, Height: 64},
		Format: hal.FormatR8G8B8A8Srgb,
		Usage:  hal.ImageUsageSampled,
		Label:  "checkerboard",
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = checker.Destroy() }()

	err = checker.Upload(g.Uploader(), checkerboard(64, 8))
	if err != nil {
		return "", err
	}

	data := make([]vertex, vertexCount)
	for tick := 0; tick < frames; tick++ {
		if tick == resizeAt {
			extent := g.Swapchain().Extent()
			surface.SetExtent(hal.Extent2D{Width: extent.Width / 2, Height: extent.Height / 2})
		}

		for i, mesh := range meshes {
			wave(data, float32(tick)+float32(i)*0.25)
			err = mesh.Upload(g.Uploader(), 0, data, upload.BufferTargetStorage)
			if err != nil {
				return "", err
			}
		}

		err = g.Tick(context.Background(), nil)
		if err != nil {
			return "", err
		}
	}

	return g.Stats(detailed), nil
}

func wave(data []vertex, phase float32) {
	for i := range data {
		u := float32(i) / float32(len(data))
		data[i] = vertex{
			X: u*2 - 1,
			Y: float32(math.Sin(float64(u*2*math.Pi + phase))),
			U: u,
		}
	}
}

func checkerboard(size, cell int) []byte {
	pixels := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			value := byte(0x20)
			if (x/cell+y/cell)%2 == 0 {
				value = 0xe0
			}
			offset := (y*size + x) * 4
			pixels[offset], pixels[offset+1], pixels[offset+2], pixels[offset+3] = value, value, value, 0xff
		}
	}
	return pixels
}

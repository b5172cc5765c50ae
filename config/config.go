// Package config loads engine settings from TOML. Every section maps onto the options struct of
// the package it configures.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/freight/frame"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
)

// Duration is a time.Duration written as a string such as "5s" or "250ms"
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Upload    UploadConfig    `toml:"upload"`
	Allocator AllocatorConfig `toml:"allocator"`
	Frames    FramesConfig    `toml:"frames"`
}

type UploadConfig struct {
	Retention    int      `toml:"retention"`
	PoolSize     int      `toml:"pool_size"`
	RetainedSize int      `toml:"retained_size"`
	FenceTimeout Duration `toml:"fence_timeout"`
}

type AllocatorConfig struct {
	PreferredLargeHeapBlockSize int `toml:"preferred_large_heap_block_size"`
	// HeapSizeLimits is empty, or holds one entry per device heap with -1 meaning unlimited
	HeapSizeLimits         []int `toml:"heap_size_limits"`
	ExternallySynchronized bool  `toml:"externally_synchronized"`
}

type FramesConfig struct {
	ImageCount     int      `toml:"image_count"`
	PresentMode    string   `toml:"present_mode"`
	AcquireTimeout Duration `toml:"acquire_timeout"`
	Format         string   `toml:"format"`
}

var presentModes = map[string]hal.PresentMode{
	"fifo":      hal.PresentModeFifo,
	"mailbox":   hal.PresentModeMailbox,
	"immediate": hal.PresentModeImmediate,
}

var formats = map[string]hal.Format{
	"r8g8b8a8_unorm": hal.FormatR8G8B8A8Unorm,
	"r8g8b8a8_srgb":  hal.FormatR8G8B8A8Srgb,
	"b8g8r8a8_unorm": hal.FormatB8G8R8A8Unorm,
	"b8g8r8a8_srgb":  hal.FormatB8G8R8A8Srgb,
}

// Default returns the settings every package falls back to when its options are left zero
func Default() Config {
	return Config{
		Upload: UploadConfig{
			Retention:    upload.DefaultRetention,
			PoolSize:     upload.DefaultPoolSize,
			RetainedSize: upload.DefaultRetainedSize,
			FenceTimeout: Duration(upload.DefaultFenceTimeout),
		},
		Allocator: AllocatorConfig{
			PreferredLargeHeapBlockSize: vam.DefaultLargeHeapBlockSize,
		},
		Frames: FramesConfig{
			ImageCount:     frame.DefaultImageCount,
			PresentMode:    "fifo",
			AcquireTimeout: Duration(frame.DefaultTimeout),
			Format:         "b8g8r8a8_srgb",
		},
	}
}

// Parse decodes a TOML document on top of Default, so omitted keys keep their default values.
// Unknown keys are rejected. The result is validated.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&cfg)
	if err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, errors.Newf("unknown configuration keys:\n%s", strict.String())
		}
		return Config{}, errors.Wrap(err, "failed to decode configuration")
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read configuration %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "configuration %s", path)
	}
	return cfg, nil
}

// Marshal encodes cfg as a TOML document that Parse accepts
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// Validate reports every out-of-range setting in a single error
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Upload.Retention > 0, "upload.retention must be positive, got %d", c.Upload.Retention)
	check(c.Upload.PoolSize > 0, "upload.pool_size must be positive, got %d", c.Upload.PoolSize)
	check(c.Upload.RetainedSize > 0, "upload.retained_size must be positive, got %d", c.Upload.RetainedSize)
	check(c.Upload.FenceTimeout > 0, "upload.fence_timeout must be positive, got %s", time.Duration(c.Upload.FenceTimeout))

	check(c.Allocator.PreferredLargeHeapBlockSize > 0, "allocator.preferred_large_heap_block_size must be positive, got %d", c.Allocator.PreferredLargeHeapBlockSize)
	for i, limit := range c.Allocator.HeapSizeLimits {
		check(limit == -1 || limit > 0, "allocator.heap_size_limits[%d] must be -1 or positive, got %d", i, limit)
	}

	check(c.Frames.ImageCount > 0, "frames.image_count must be positive, got %d", c.Frames.ImageCount)
	check(c.Frames.AcquireTimeout > 0, "frames.acquire_timeout must be positive, got %s", time.Duration(c.Frames.AcquireTimeout))
	_, ok := presentModes[strings.ToLower(c.Frames.PresentMode)]
	check(ok, "frames.present_mode %q is not one of fifo, mailbox, immediate", c.Frames.PresentMode)
	_, ok = formats[strings.ToLower(c.Frames.Format)]
	check(ok, "frames.format %q is not a supported swapchain format", c.Frames.Format)

	if len(problems) > 0 {
		return errors.Newf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func (c Config) UploadOptions() upload.Options {
	return upload.Options{
		Retention:    c.Upload.Retention,
		PoolSize:     c.Upload.PoolSize,
		RetainedSize: c.Upload.RetainedSize,
		FenceTimeout: time.Duration(c.Upload.FenceTimeout),
	}
}

func (c Config) AllocatorOptions() vam.CreateOptions {
	options := vam.CreateOptions{
		PreferredLargeHeapBlockSize: c.Allocator.PreferredLargeHeapBlockSize,
		HeapSizeLimits:              c.Allocator.HeapSizeLimits,
	}
	if c.Allocator.ExternallySynchronized {
		options.Flags |= vam.AllocatorCreateExternallySynchronized
	}
	return options
}

// FrameOptions assumes c has been validated; unknown names fall back to the frame defaults
func (c Config) FrameOptions() frame.Options {
	return frame.Options{
		ImageCount:  c.Frames.ImageCount,
		Format:      formats[strings.ToLower(c.Frames.Format)],
		PresentMode: presentModes[strings.ToLower(c.Frames.PresentMode)],
		Timeout:     time.Duration(c.Frames.AcquireTimeout),
	}
}

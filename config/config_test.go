package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/frame"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Equal(t, upload.Options{
		Retention:    2,
		PoolSize:     10,
		RetainedSize: 10 * 1024 * 1024,
		FenceTimeout: 5 * time.Second,
	}, cfg.UploadOptions())
	require.Equal(t, frame.Options{
		ImageCount:  2,
		Format:      hal.FormatB8G8R8A8Srgb,
		PresentMode: hal.PresentModeFifo,
		Timeout:     5 * time.Second,
	}, cfg.FrameOptions())
	require.Equal(t, vam.CreateOptions{
		PreferredLargeHeapBlockSize: vam.DefaultLargeHeapBlockSize,
	}, cfg.AllocatorOptions())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[upload]
retention = 3
fence_timeout = "250ms"

[allocator]
heap_size_limits = [-1, 1048576]
externally_synchronized = true

[frames]
present_mode = "Mailbox"
format = "r8g8b8a8_unorm"
`))
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Upload.Retention)
	require.Equal(t, upload.DefaultPoolSize, cfg.Upload.PoolSize)
	require.Equal(t, 250*time.Millisecond, cfg.UploadOptions().FenceTimeout)

	allocatorOptions := cfg.AllocatorOptions()
	require.Equal(t, []int{-1, 1048576}, allocatorOptions.HeapSizeLimits)
	require.Equal(t, vam.AllocatorCreateExternallySynchronized, allocatorOptions.Flags)

	frameOptions := cfg.FrameOptions()
	require.Equal(t, hal.PresentModeMailbox, frameOptions.PresentMode)
	require.Equal(t, hal.FormatR8G8B8A8Unorm, frameOptions.Format)
	require.Equal(t, frame.DefaultImageCount, frameOptions.ImageCount)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	testCases := []struct {
		name     string
		document string
		message  string
	}{
		{"syntax", `[upload`, "failed to decode"},
		{"unknown key", "[upload]\nretension = 2", "unknown configuration keys"},
		{"unknown section", "[textures]\nsize = 2", "unknown configuration keys"},
		{"bad duration", "[upload]\nfence_timeout = \"soon\"", "invalid duration"},
		{"zero retention", "[upload]\nretention = 0", "upload.retention"},
		{"negative pool", "[upload]\npool_size = -1", "upload.pool_size"},
		{"zero pool", "[upload]\npool_size = 0", "upload.pool_size"},
		{"negative timeout", "[frames]\nacquire_timeout = \"-1s\"", "frames.acquire_timeout"},
		{"bad heap limit", "[allocator]\nheap_size_limits = [0]", "heap_size_limits[0]"},
		{"present mode", "[frames]\npresent_mode = \"vsync\"", "frames.present_mode"},
		{"format", "[frames]\nformat = \"d32_sfloat\"", "frames.format"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Parse([]byte(testCase.document))
			require.Error(t, err)
			require.ErrorContains(t, err, testCase.message)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Upload.Retention = 0
	cfg.Frames.ImageCount = 0

	err := cfg.Validate()
	require.ErrorContains(t, err, "upload.retention")
	require.ErrorContains(t, err, "frames.image_count")
}

func TestUploadOptionsKeepConfiguredPoolSize(t *testing.T) {
	cfg, err := Parse([]byte("[upload]\npool_size = 1"))
	require.NoError(t, err)
	require.Equal(t, 1, cfg.UploadOptions().PoolSize)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Upload.FenceTimeout = Duration(1500 * time.Millisecond)
	cfg.Allocator.HeapSizeLimits = []int{-1, 4096}

	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(data), "1.5s")

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, cfg, parsed)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freight.toml")
	require.NoError(t, os.WriteFile(path, []byte("[frames]\nimage_count = 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Frames.ImageCount)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "failed to read configuration")
}

package resource

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/upload"
	"github.com/vkngwrapper/freight/vam"
)

type TextureOptions struct {
	Extent hal.Extent2D
	Format hal.Format
	// Usage is always extended with hal.ImageUsageTransferDst
	Usage       hal.ImageUsageFlags
	ArrayLayers int
	Label       string
}

// Texture is a 2D image with a single mip level, bound to device-local memory from a
// vam.Allocator
type Texture struct {
	allocator *vam.Allocator
	handle    vam.Handle
	image     hal.Image
	options   TextureOptions
}

func NewTexture(device hal.Device, allocator *vam.Allocator, options TextureOptions) (*Texture, error) {
	if options.Extent.Width <= 0 || options.Extent.Height <= 0 {
		return nil, errors.Newf("attempted to create texture %q with extent %dx%d", options.Label, options.Extent.Width, options.Extent.Height)
	}
	if options.Format.BytesPerPixel() == 0 {
		return nil, errors.Newf("attempted to create texture %q with unsupported format %s", options.Label, options.Format)
	}
	if options.ArrayLayers < 1 {
		options.ArrayLayers = 1
	}
	options.Usage |= hal.ImageUsageTransferDst

	image, err := device.CreateImage(hal.ImageCreateInfo{
		Extent:      hal.Extent3D{Width: options.Extent.Width, Height: options.Extent.Height, Depth: 1},
		Format:      options.Format,
		Usage:       options.Usage,
		MipLevels:   1,
		ArrayLayers: options.ArrayLayers,
		Label:       options.Label,
	})
	if err != nil {
		return nil, hal.NewDeviceError("Texture::New", err)
	}

	handle, err := allocator.AllocateImage(image, image.MemoryRequirements(), options.Label)
	if err != nil {
		image.Destroy()
		return nil, err
	}

	return &Texture{
		allocator: allocator,
		handle:    handle,
		image:     image,
		options:   options,
	}, nil
}

// Monochrome creates a sampled 1x1 texture of a single RGBA color and enqueues its upload
func Monochrome(device hal.Device, allocator *vam.Allocator, uploader Uploader, pixel [4]float32, label string) (*Texture, error) {
	texture, err := NewTexture(device, allocator, TextureOptions{
		Extent: hal.Extent2D{Width: 1, Height: 1},
		Format: hal.FormatR32G32B32A32Sfloat,
		Usage:  hal.ImageUsageSampled,
		Label:  label,
	})
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 16)
	for _, channel := range pixel {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(channel))
	}

	err = texture.Upload(uploader, data)
	if err != nil {
		return nil, errors.CombineErrors(err, texture.Destroy())
	}

	return texture, nil
}

func (t *Texture) Handle() vam.Handle         { return t.handle }
func (t *Texture) Image() hal.Image           { return t.image }
func (t *Texture) Extent() hal.Extent2D       { return t.options.Extent }
func (t *Texture) Format() hal.Format         { return t.options.Format }
func (t *Texture) ArrayLayers() int           { return t.options.ArrayLayers }
func (t *Texture) Label() string              { return t.options.Label }
func (t *Texture) Usage() hal.ImageUsageFlags { return t.options.Usage }

// Size is the number of bytes one full upload of every layer takes
func (t *Texture) Size() int {
	return t.options.Extent.Width * t.options.Extent.Height * t.options.ArrayLayers * t.options.Format.BytesPerPixel()
}

func (t *Texture) checkAlive() {
	if t.handle == vam.NullHandle {
		panic(fmt.Sprintf("attempted to use texture %q after it was destroyed", t.options.Label))
	}
}

// Upload enqueues a copy of every layer's texels, tightly packed, leaving the texture ready to
// be sampled from fragment shaders
func (t *Texture) Upload(uploader Uploader, data []byte) error {
	target := upload.ImageTargetSampled
	target.Aspect = t.options.Format.Aspect()
	return t.UploadAs(uploader, data, target)
}

// UploadAs behaves like Upload, leaving the texture in the state target describes
func (t *Texture) UploadAs(uploader Uploader, data []byte, target upload.ImageTarget) error {
	t.checkAlive()
	if len(data) != t.Size() {
		return errors.Newf("texture %q expects %d bytes of texels, got %d", t.options.Label, t.Size(), len(data))
	}
	target.LayerCount = t.options.ArrayLayers

	return uploader.EnqueueImage(t.image, data, target)
}

// Destroy returns the image and its memory to the allocator. Destroying twice does nothing.
func (t *Texture) Destroy() error {
	if t.handle == vam.NullHandle {
		return nil
	}

	err := t.allocator.Deallocate(t.handle)
	t.handle = vam.NullHandle
	t.image = nil
	return err
}

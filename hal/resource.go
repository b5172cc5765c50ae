package hal

import "github.com/vkngwrapper/core/v2/common"

type BufferUsageFlags int32

var bufferUsageFlagsMapping = common.NewFlagStringMapping[BufferUsageFlags]()

func (f BufferUsageFlags) Register(str string) {
	bufferUsageFlagsMapping.Register(f, str)
}
func (f BufferUsageFlags) String() string {
	return bufferUsageFlagsMapping.FlagsToString(f)
}

const (
	BufferUsageTransferSrc BufferUsageFlags = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

func init() {
	BufferUsageTransferSrc.Register("BufferUsageTransferSrc")
	BufferUsageTransferDst.Register("BufferUsageTransferDst")
	BufferUsageUniform.Register("BufferUsageUniform")
	BufferUsageStorage.Register("BufferUsageStorage")
	BufferUsageIndex.Register("BufferUsageIndex")
	BufferUsageVertex.Register("BufferUsageVertex")
}

type ImageUsageFlags int32

var imageUsageFlagsMapping = common.NewFlagStringMapping[ImageUsageFlags]()

func (f ImageUsageFlags) Register(str string) {
	imageUsageFlagsMapping.Register(f, str)
}
func (f ImageUsageFlags) String() string {
	return imageUsageFlagsMapping.FlagsToString(f)
}

const (
	ImageUsageTransferSrc ImageUsageFlags = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

func init() {
	ImageUsageTransferSrc.Register("ImageUsageTransferSrc")
	ImageUsageTransferDst.Register("ImageUsageTransferDst")
	ImageUsageSampled.Register("ImageUsageSampled")
	ImageUsageStorage.Register("ImageUsageStorage")
	ImageUsageColorAttachment.Register("ImageUsageColorAttachment")
	ImageUsageDepthStencilAttachment.Register("ImageUsageDepthStencilAttachment")
}

type Format int32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
)

var formatMapping = make(map[Format]string)

func (f Format) String() string {
	return formatMapping[f]
}

// BytesPerPixel is the texel size of uncompressed formats, 0 for FormatUndefined
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb, FormatD32Sfloat:
		return 4
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

// Aspect is the aspect a copy or barrier should touch for images of this format
func (f Format) Aspect() ImageAspectFlags {
	if f == FormatD32Sfloat {
		return ImageAspectDepth
	}
	return ImageAspectColor
}

func init() {
	formatMapping[FormatUndefined] = "FormatUndefined"
	formatMapping[FormatR8G8B8A8Unorm] = "FormatR8G8B8A8Unorm"
	formatMapping[FormatR8G8B8A8Srgb] = "FormatR8G8B8A8Srgb"
	formatMapping[FormatB8G8R8A8Unorm] = "FormatB8G8R8A8Unorm"
	formatMapping[FormatB8G8R8A8Srgb] = "FormatB8G8R8A8Srgb"
	formatMapping[FormatR32G32B32A32Sfloat] = "FormatR32G32B32A32Sfloat"
	formatMapping[FormatD32Sfloat] = "FormatD32Sfloat"
}

type Extent2D struct {
	Width  int
	Height int
}

type Extent3D struct {
	Width  int
	Height int
	Depth  int
}

type Offset3D struct {
	X int
	Y int
	Z int
}

type BufferCreateInfo struct {
	Size  int
	Usage BufferUsageFlags
	Label string
}

type ImageCreateInfo struct {
	Extent      Extent3D
	Format      Format
	Usage       ImageUsageFlags
	MipLevels   int
	ArrayLayers int
	Label       string
}

// Buffer is a native buffer. It has no memory until it is bound with MemoryDevice.BindBufferMemory.
type Buffer interface {
	Size() int
	Usage() BufferUsageFlags
	MemoryRequirements() MemoryRequirements
	Destroy()
}

// Image is a native image with optimal tiling. It has no memory until it is bound with
// MemoryDevice.BindImageMemory.
type Image interface {
	Extent() Extent3D
	Format() Format
	MemoryRequirements() MemoryRequirements
	Destroy()
}

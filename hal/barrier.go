package hal

import "github.com/vkngwrapper/core/v2/common"

// QueueFamilyIgnored is used on both sides of a barrier that does not transfer queue ownership
const QueueFamilyIgnored int = -1

// WholeSize used as a BufferBarrier size covers from the offset to the end of the buffer
const WholeSize int = -1

type PipelineStageFlags int32

var pipelineStageFlagsMapping = common.NewFlagStringMapping[PipelineStageFlags]()

func (f PipelineStageFlags) Register(str string) {
	pipelineStageFlagsMapping.Register(f, str)
}
func (f PipelineStageFlags) String() string {
	return pipelineStageFlagsMapping.FlagsToString(f)
}

const (
	PipelineStageTopOfPipe PipelineStageFlags = 1 << iota
	PipelineStageDrawIndirect
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
	PipelineStageHost
	PipelineStageAllCommands
)

func init() {
	PipelineStageTopOfPipe.Register("PipelineStageTopOfPipe")
	PipelineStageDrawIndirect.Register("PipelineStageDrawIndirect")
	PipelineStageVertexInput.Register("PipelineStageVertexInput")
	PipelineStageVertexShader.Register("PipelineStageVertexShader")
	PipelineStageFragmentShader.Register("PipelineStageFragmentShader")
	PipelineStageColorAttachmentOutput.Register("PipelineStageColorAttachmentOutput")
	PipelineStageComputeShader.Register("PipelineStageComputeShader")
	PipelineStageTransfer.Register("PipelineStageTransfer")
	PipelineStageBottomOfPipe.Register("PipelineStageBottomOfPipe")
	PipelineStageHost.Register("PipelineStageHost")
	PipelineStageAllCommands.Register("PipelineStageAllCommands")
}

type AccessFlags int32

var accessFlagsMapping = common.NewFlagStringMapping[AccessFlags]()

func (f AccessFlags) Register(str string) {
	accessFlagsMapping.Register(f, str)
}
func (f AccessFlags) String() string {
	return accessFlagsMapping.FlagsToString(f)
}

const AccessNone AccessFlags = 0

const (
	AccessIndirectCommandRead AccessFlags = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite
)

func init() {
	AccessIndirectCommandRead.Register("AccessIndirectCommandRead")
	AccessIndexRead.Register("AccessIndexRead")
	AccessVertexAttributeRead.Register("AccessVertexAttributeRead")
	AccessUniformRead.Register("AccessUniformRead")
	AccessShaderRead.Register("AccessShaderRead")
	AccessShaderWrite.Register("AccessShaderWrite")
	AccessColorAttachmentWrite.Register("AccessColorAttachmentWrite")
	AccessTransferRead.Register("AccessTransferRead")
	AccessTransferWrite.Register("AccessTransferWrite")
	AccessHostWrite.Register("AccessHostWrite")
	AccessMemoryRead.Register("AccessMemoryRead")
	AccessMemoryWrite.Register("AccessMemoryWrite")
}

type ImageAspectFlags int32

var imageAspectFlagsMapping = common.NewFlagStringMapping[ImageAspectFlags]()

func (f ImageAspectFlags) Register(str string) {
	imageAspectFlagsMapping.Register(f, str)
}
func (f ImageAspectFlags) String() string {
	return imageAspectFlagsMapping.FlagsToString(f)
}

const (
	ImageAspectColor ImageAspectFlags = 1 << iota
	ImageAspectDepth
	ImageAspectStencil
)

func init() {
	ImageAspectColor.Register("ImageAspectColor")
	ImageAspectDepth.Register("ImageAspectDepth")
	ImageAspectStencil.Register("ImageAspectStencil")
}

type ImageLayout int32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthAttachmentOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
	ImageLayoutPresentSrc
)

var imageLayoutMapping = make(map[ImageLayout]string)

func (l ImageLayout) String() string {
	return imageLayoutMapping[l]
}

func init() {
	imageLayoutMapping[ImageLayoutUndefined] = "ImageLayoutUndefined"
	imageLayoutMapping[ImageLayoutGeneral] = "ImageLayoutGeneral"
	imageLayoutMapping[ImageLayoutColorAttachmentOptimal] = "ImageLayoutColorAttachmentOptimal"
	imageLayoutMapping[ImageLayoutDepthAttachmentOptimal] = "ImageLayoutDepthAttachmentOptimal"
	imageLayoutMapping[ImageLayoutShaderReadOnlyOptimal] = "ImageLayoutShaderReadOnlyOptimal"
	imageLayoutMapping[ImageLayoutTransferSrcOptimal] = "ImageLayoutTransferSrcOptimal"
	imageLayoutMapping[ImageLayoutTransferDstOptimal] = "ImageLayoutTransferDstOptimal"
	imageLayoutMapping[ImageLayoutPresentSrc] = "ImageLayoutPresentSrc"
}

type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   int
	LevelCount     int
	BaseArrayLayer int
	LayerCount     int
}

// BufferBarrier is an execution and memory dependency on a range of one buffer. When
// SrcQueueFamily and DstQueueFamily differ, it is one half of a queue ownership transfer: the
// release half is recorded on a queue of SrcQueueFamily and the acquire half on DstQueueFamily.
type BufferBarrier struct {
	SrcStage       PipelineStageFlags
	DstStage       PipelineStageFlags
	SrcAccess      AccessFlags
	DstAccess      AccessFlags
	SrcQueueFamily int
	DstQueueFamily int
	Buffer         Buffer
	Offset         int
	Size           int
}

// IsOwnershipTransfer reports whether this barrier moves the buffer between queue families
func (b BufferBarrier) IsOwnershipTransfer() bool {
	return b.SrcQueueFamily != b.DstQueueFamily
}

// ImageBarrier is an execution and memory dependency on a subresource range of one image,
// optionally with a layout transition and a queue ownership transfer
type ImageBarrier struct {
	SrcStage       PipelineStageFlags
	DstStage       PipelineStageFlags
	SrcAccess      AccessFlags
	DstAccess      AccessFlags
	OldLayout      ImageLayout
	NewLayout      ImageLayout
	SrcQueueFamily int
	DstQueueFamily int
	Image          Image
	Range          ImageSubresourceRange
}

func (b ImageBarrier) IsOwnershipTransfer() bool {
	return b.SrcQueueFamily != b.DstQueueFamily
}

// DependencyInfo groups every barrier recorded by a single pipeline barrier command
type DependencyInfo struct {
	BufferBarriers []BufferBarrier
	ImageBarriers  []ImageBarrier
}

type BufferCopy struct {
	SrcOffset int
	DstOffset int
	Size      int
}

type BufferImageCopy struct {
	BufferOffset   int
	AspectMask     ImageAspectFlags
	MipLevel       int
	BaseArrayLayer int
	LayerCount     int
	ImageOffset    Offset3D
	ImageExtent    Extent3D
}

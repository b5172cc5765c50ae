package upload

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
)

// BufferTarget is the way a buffer will be consumed on the graphics queue once its upload
// completes. The acquire barrier makes the copy visible to DstAccess at DstStage.
type BufferTarget struct {
	DstStage  hal.PipelineStageFlags
	DstAccess hal.AccessFlags
}

var (
	BufferTargetVertex = BufferTarget{
		DstStage:  hal.PipelineStageVertexInput,
		DstAccess: hal.AccessVertexAttributeRead,
	}
	BufferTargetIndex = BufferTarget{
		DstStage:  hal.PipelineStageVertexInput,
		DstAccess: hal.AccessIndexRead,
	}
	BufferTargetUniform = BufferTarget{
		DstStage:  hal.PipelineStageVertexShader | hal.PipelineStageFragmentShader | hal.PipelineStageComputeShader,
		DstAccess: hal.AccessUniformRead,
	}
	BufferTargetStorage = BufferTarget{
		DstStage:  hal.PipelineStageVertexShader | hal.PipelineStageFragmentShader | hal.PipelineStageComputeShader,
		DstAccess: hal.AccessShaderRead | hal.AccessShaderWrite,
	}
	BufferTargetIndirect = BufferTarget{
		DstStage:  hal.PipelineStageDrawIndirect,
		DstAccess: hal.AccessIndirectCommandRead,
	}
)

// ImageTarget is the way an image will be consumed once its upload completes. Layout is the
// layout the image is left in. Aspect defaults to color and LayerCount to 1.
type ImageTarget struct {
	DstStage   hal.PipelineStageFlags
	DstAccess  hal.AccessFlags
	Layout     hal.ImageLayout
	Aspect     hal.ImageAspectFlags
	LayerCount int
}

var ImageTargetSampled = ImageTarget{
	DstStage:  hal.PipelineStageFragmentShader,
	DstAccess: hal.AccessShaderRead,
	Layout:    hal.ImageLayoutShaderReadOnlyOptimal,
}

func (t ImageTarget) aspect() hal.ImageAspectFlags {
	if t.Aspect == 0 {
		return hal.ImageAspectColor
	}
	return t.Aspect
}

func (t ImageTarget) layerCount() int {
	if t.LayerCount < 1 {
		return 1
	}
	return t.LayerCount
}

// BufferTransfer is the release/acquire barrier pair that hands a buffer from the transfer queue
// to the graphics queue. The release half is recorded on the transfer queue's command buffer and
// the acquire half on the graphics queue's.
type BufferTransfer struct {
	Release hal.BufferBarrier
	Acquire hal.BufferBarrier
}

// NewBufferTransfer builds the ownership transfer of bytes [offset, offset+size) of buffer from
// families.Transfer to families.Graphics
func NewBufferTransfer(families hal.QueueFamilies, buffer hal.Buffer, offset, size int, target BufferTarget) BufferTransfer {
	return BufferTransfer{
		Release: hal.BufferBarrier{
			SrcStage:       hal.PipelineStageTransfer,
			DstStage:       hal.PipelineStageBottomOfPipe,
			SrcAccess:      hal.AccessTransferWrite,
			DstAccess:      hal.AccessNone,
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Graphics,
			Buffer:         buffer,
			Offset:         offset,
			Size:           size,
		},
		Acquire: hal.BufferBarrier{
			SrcStage:       hal.PipelineStageTopOfPipe,
			DstStage:       target.DstStage,
			SrcAccess:      hal.AccessNone,
			DstAccess:      target.DstAccess,
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Graphics,
			Buffer:         buffer,
			Offset:         offset,
			Size:           size,
		},
	}
}

// Validate checks that both halves name the same resource and queue family pair, and that the
// release is recorded on releaseFamily and the acquire on acquireFamily
func (t BufferTransfer) Validate(releaseFamily, acquireFamily int) error {
	if t.Release.Buffer != t.Acquire.Buffer || t.Release.Offset != t.Acquire.Offset || t.Release.Size != t.Acquire.Size {
		return errors.Mark(errors.New("release and acquire barriers cover different buffer ranges"), ErrQueueFamilyMismatch)
	}

	return validateFamilies(
		t.Release.SrcQueueFamily, t.Release.DstQueueFamily,
		t.Acquire.SrcQueueFamily, t.Acquire.DstQueueFamily,
		releaseFamily, acquireFamily)
}

// ImageTransfer is the release/acquire pair for an image. Both halves carry the same layout
// transition.
type ImageTransfer struct {
	Release hal.ImageBarrier
	Acquire hal.ImageBarrier
}

// NewImageTransfer builds the ownership transfer of image from families.Transfer to
// families.Graphics, moving it from oldLayout to the target layout
func NewImageTransfer(families hal.QueueFamilies, image hal.Image, subresources hal.ImageSubresourceRange, oldLayout hal.ImageLayout, target ImageTarget) ImageTransfer {
	return ImageTransfer{
		Release: hal.ImageBarrier{
			SrcStage:       hal.PipelineStageTransfer,
			DstStage:       hal.PipelineStageBottomOfPipe,
			SrcAccess:      hal.AccessTransferWrite,
			DstAccess:      hal.AccessNone,
			OldLayout:      oldLayout,
			NewLayout:      target.Layout,
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Graphics,
			Image:          image,
			Range:          subresources,
		},
		Acquire: hal.ImageBarrier{
			SrcStage:       hal.PipelineStageTopOfPipe,
			DstStage:       target.DstStage,
			SrcAccess:      hal.AccessNone,
			DstAccess:      target.DstAccess,
			OldLayout:      oldLayout,
			NewLayout:      target.Layout,
			SrcQueueFamily: families.Transfer,
			DstQueueFamily: families.Graphics,
			Image:          image,
			Range:          subresources,
		},
	}
}

func (t ImageTransfer) Validate(releaseFamily, acquireFamily int) error {
	if t.Release.Image != t.Acquire.Image || t.Release.Range != t.Acquire.Range {
		return errors.Mark(errors.New("release and acquire barriers cover different image subresources"), ErrQueueFamilyMismatch)
	}
	if t.Release.OldLayout != t.Acquire.OldLayout || t.Release.NewLayout != t.Acquire.NewLayout {
		return errors.Mark(errors.Newf("release transitions %s to %s, but acquire transitions %s to %s",
			t.Release.OldLayout, t.Release.NewLayout, t.Acquire.OldLayout, t.Acquire.NewLayout), ErrQueueFamilyMismatch)
	}

	return validateFamilies(
		t.Release.SrcQueueFamily, t.Release.DstQueueFamily,
		t.Acquire.SrcQueueFamily, t.Acquire.DstQueueFamily,
		releaseFamily, acquireFamily)
}

func validateFamilies(releaseSrc, releaseDst, acquireSrc, acquireDst, releaseFamily, acquireFamily int) error {
	if releaseSrc == releaseDst {
		return errors.Mark(errors.Newf("release barrier does not transfer ownership (queue family %d on both sides)", releaseSrc), ErrQueueFamilyMismatch)
	}
	if releaseSrc != acquireSrc || releaseDst != acquireDst {
		return errors.Mark(errors.Newf("release transfers queue family %d to %d, but acquire transfers %d to %d",
			releaseSrc, releaseDst, acquireSrc, acquireDst), ErrQueueFamilyMismatch)
	}
	if releaseSrc != releaseFamily {
		return errors.Mark(errors.Newf("release from queue family %d would be recorded on queue family %d", releaseSrc, releaseFamily), ErrQueueFamilyMismatch)
	}
	if acquireDst != acquireFamily {
		return errors.Mark(errors.Newf("acquire into queue family %d would be recorded on queue family %d", acquireDst, acquireFamily), ErrQueueFamilyMismatch)
	}

	return nil
}

package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/freight/hal"
)

type flagBits interface {
	~int32
}

func convertFlags[From flagBits, To flagBits](flags From, table map[From]To) To {
	var converted To
	for bit, native := range table {
		if flags&bit != 0 {
			converted |= native
		}
	}
	return converted
}

var memoryPropertyFlags = map[core1_0.MemoryPropertyFlags]hal.MemoryPropertyFlags{
	core1_0.MemoryPropertyDeviceLocal:  hal.MemoryPropertyDeviceLocal,
	core1_0.MemoryPropertyHostVisible:  hal.MemoryPropertyHostVisible,
	core1_0.MemoryPropertyHostCoherent: hal.MemoryPropertyHostCoherent,
	core1_0.MemoryPropertyHostCached:   hal.MemoryPropertyHostCached,
}

var bufferUsageFlags = map[hal.BufferUsageFlags]core1_0.BufferUsageFlags{
	hal.BufferUsageTransferSrc: core1_0.BufferUsageTransferSrc,
	hal.BufferUsageTransferDst: core1_0.BufferUsageTransferDst,
	hal.BufferUsageUniform:     core1_0.BufferUsageUniformBuffer,
	hal.BufferUsageStorage:     core1_0.BufferUsageStorageBuffer,
	hal.BufferUsageIndex:       core1_0.BufferUsageIndexBuffer,
	hal.BufferUsageVertex:      core1_0.BufferUsageVertexBuffer,
}

var imageUsageFlags = map[hal.ImageUsageFlags]core1_0.ImageUsageFlags{
	hal.ImageUsageTransferSrc:            core1_0.ImageUsageTransferSrc,
	hal.ImageUsageTransferDst:            core1_0.ImageUsageTransferDst,
	hal.ImageUsageSampled:                core1_0.ImageUsageSampled,
	hal.ImageUsageStorage:                core1_0.ImageUsageStorage,
	hal.ImageUsageColorAttachment:        core1_0.ImageUsageColorAttachment,
	hal.ImageUsageDepthStencilAttachment: core1_0.ImageUsageDepthStencilAttachment,
}

var pipelineStageFlags = map[hal.PipelineStageFlags]core1_0.PipelineStageFlags{
	hal.PipelineStageTopOfPipe:             core1_0.PipelineStageTopOfPipe,
	hal.PipelineStageDrawIndirect:          core1_0.PipelineStageDrawIndirect,
	hal.PipelineStageVertexInput:           core1_0.PipelineStageVertexInput,
	hal.PipelineStageVertexShader:          core1_0.PipelineStageVertexShader,
	hal.PipelineStageFragmentShader:        core1_0.PipelineStageFragmentShader,
	hal.PipelineStageColorAttachmentOutput: core1_0.PipelineStageColorAttachmentOutput,
	hal.PipelineStageComputeShader:         core1_0.PipelineStageComputeShader,
	hal.PipelineStageTransfer:              core1_0.PipelineStageTransfer,
	hal.PipelineStageBottomOfPipe:          core1_0.PipelineStageBottomOfPipe,
	hal.PipelineStageHost:                  core1_0.PipelineStageHost,
	hal.PipelineStageAllCommands:           core1_0.PipelineStageAllCommands,
}

var accessFlags = map[hal.AccessFlags]core1_0.AccessFlags{
	hal.AccessIndirectCommandRead:  core1_0.AccessIndirectCommandRead,
	hal.AccessIndexRead:            core1_0.AccessIndexRead,
	hal.AccessVertexAttributeRead:  core1_0.AccessVertexAttributeRead,
	hal.AccessUniformRead:          core1_0.AccessUniformRead,
	hal.AccessShaderRead:           core1_0.AccessShaderRead,
	hal.AccessShaderWrite:          core1_0.AccessShaderWrite,
	hal.AccessColorAttachmentWrite: core1_0.AccessColorAttachmentWrite,
	hal.AccessTransferRead:         core1_0.AccessTransferRead,
	hal.AccessTransferWrite:        core1_0.AccessTransferWrite,
	hal.AccessHostWrite:            core1_0.AccessHostWrite,
	hal.AccessMemoryRead:           core1_0.AccessMemoryRead,
	hal.AccessMemoryWrite:          core1_0.AccessMemoryWrite,
}

var imageAspectFlags = map[hal.ImageAspectFlags]core1_0.ImageAspectFlags{
	hal.ImageAspectColor:   core1_0.ImageAspectColor,
	hal.ImageAspectDepth:   core1_0.ImageAspectDepth,
	hal.ImageAspectStencil: core1_0.ImageAspectStencil,
}

var imageLayouts = map[hal.ImageLayout]core1_0.ImageLayout{
	hal.ImageLayoutUndefined:              core1_0.ImageLayoutUndefined,
	hal.ImageLayoutGeneral:                core1_0.ImageLayoutGeneral,
	hal.ImageLayoutColorAttachmentOptimal: core1_0.ImageLayoutColorAttachmentOptimal,
	hal.ImageLayoutDepthAttachmentOptimal: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	hal.ImageLayoutShaderReadOnlyOptimal:  core1_0.ImageLayoutShaderReadOnlyOptimal,
	hal.ImageLayoutTransferSrcOptimal:     core1_0.ImageLayoutTransferSrcOptimal,
	hal.ImageLayoutTransferDstOptimal:     core1_0.ImageLayoutTransferDstOptimal,
	hal.ImageLayoutPresentSrc:             khr_swapchain.ImageLayoutPresentSrc,
}

var formats = map[hal.Format]core1_0.Format{
	hal.FormatUndefined:          core1_0.FormatUndefined,
	hal.FormatR8G8B8A8Unorm:      core1_0.FormatR8G8B8A8UnsignedNormalized,
	hal.FormatR8G8B8A8Srgb:       core1_0.FormatR8G8B8A8SRGB,
	hal.FormatB8G8R8A8Unorm:      core1_0.FormatB8G8R8A8UnsignedNormalized,
	hal.FormatB8G8R8A8Srgb:       core1_0.FormatB8G8R8A8SRGB,
	hal.FormatR32G32B32A32Sfloat: core1_0.FormatR32G32B32A32SignedFloat,
	hal.FormatD32Sfloat:          core1_0.FormatD32SignedFloat,
}

var presentModes = map[hal.PresentMode]khr_surface.PresentMode{
	hal.PresentModeFifo:      khr_surface.PresentModeFIFO,
	hal.PresentModeMailbox:   khr_surface.PresentModeMailbox,
	hal.PresentModeImmediate: khr_surface.PresentModeImmediate,
}

// queueFamilyIgnored is VK_QUEUE_FAMILY_IGNORED, which vkngwrapper passes through as a plain int
const queueFamilyIgnored int = -1

func queueFamilyIndex(family int) int {
	if family == hal.QueueFamilyIgnored {
		return queueFamilyIgnored
	}
	return family
}

func extent3D(extent hal.Extent3D) core1_0.Extent3D {
	depth := extent.Depth
	if depth < 1 {
		depth = 1
	}
	return core1_0.Extent3D{Width: extent.Width, Height: extent.Height, Depth: depth}
}

func subresourceRange(r hal.ImageSubresourceRange) core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     convertFlags(r.AspectMask, imageAspectFlags),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

// resultError marks err with the hal sentinel matching res. Status codes that vkngwrapper does
// not report as errors, such as a timeout or a suboptimal swapchain, are turned into errors here.
func resultError(res common.VkResult, err error) error {
	switch res {
	case core1_0.VKTimeout, core1_0.VKNotReady:
		return errors.Wrapf(hal.ErrTimeout, "vulkan returned %v", res)
	case khr_swapchain.VKSuboptimal:
		return errors.Wrapf(hal.ErrSuboptimal, "vulkan returned %v", res)
	}

	if err == nil {
		return nil
	}

	switch res {
	case core1_0.VKErrorDeviceLost, khr_surface.VKErrorSurfaceLost:
		return errors.Mark(err, hal.ErrDeviceLost)
	case core1_0.VKErrorOutOfDeviceMemory:
		return errors.Mark(err, hal.ErrOutOfDeviceMemory)
	case core1_0.VKErrorOutOfHostMemory:
		return errors.Mark(err, hal.ErrOutOfHostMemory)
	case core1_0.VKErrorTooManyObjects:
		return errors.Mark(err, hal.ErrTooManyObjects)
	case khr_swapchain.VKErrorOutOfDate:
		return errors.Mark(err, hal.ErrOutOfDate)
	}
	return errors.WithStack(err)
}

package vkforge

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// commandListState tracks which half of the Recording/Complete lifecycle
// spec §4.3 describes a CommandList is in.
type commandListState uint8

const (
	commandListRecording commandListState = iota
	commandListComplete
)

// deferredDestroy is one "destroy this when it's safe" obligation queued
// by a recording CommandList, attached to the list's submission's CPU
// timeline value once the list is submitted (spec §5).
type deferredDestroy struct {
	kind kind
	slot uint32
}

// CommandList is the single-threaded command-recording surface spec §4.3
// describes: a thin wrapper over a vk.CommandBuffer plus the bookkeeping
// (deferred-destroy records, pipeline/layout currently bound) that
// SubmitCommands and the resource table need once the list completes.
// Grounded on the teacher's raw vkBeginCommandBuffer/vkCmd* sequencing in
// context.go's OnPlatformUpdate/flushInitCmd and pools.go's CorePool,
// generalized from "demo's one fixed command buffer" into a reusable,
// independently-recordable object per spec's CommandList type.
type CommandList struct {
	device vk.Device
	pool   vk.CommandPool
	buffer vk.CommandBuffer
	state  commandListState

	table *GPUResourceTable

	boundPipelineLayout vk.PipelineLayout
	inRendering         bool

	deferred []deferredDestroy
}

func newCommandList(device vk.Device, pool vk.CommandPool, table *GPUResourceTable) (*CommandList, error) {
	c := &CommandList{device: device, pool: pool, table: table, state: commandListRecording}
	if device == vk.NullDevice {
		return c, nil
	}
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	if isError(ret) {
		return nil, newVkError(ret)
	}
	c.buffer = buffers[0]
	ret = vk.BeginCommandBuffer(c.buffer, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		return nil, newVkError(ret)
	}
	return c, nil
}

func (c *CommandList) requireRecording(op string) error {
	if c.state != commandListRecording {
		return newContractError(op, nil)
	}
	return nil
}

// PipelineBarrier inserts a global memory barrier, the coarse form spec
// §4.3 allows alongside per-resource transitions (the latter synthesized
// automatically by the task graph rather than called directly here).
func (c *CommandList) PipelineBarrier(src, dst vk.PipelineStageFlags, barrier vk.MemoryBarrier) error {
	if err := c.requireRecording("PipelineBarrier"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	barrier.SType = vk.StructureTypeMemoryBarrier
	vk.CmdPipelineBarrier(c.buffer, src, dst, 0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
	return nil
}

// TransitionImageLayout inserts an image memory barrier transitioning the
// whole resource from oldLayout to newLayout.
func (c *CommandList) TransitionImageLayout(image vk.Image, aspect vk.ImageAspectFlags, oldLayout, newLayout vk.ImageLayout, src, dst vk.PipelineStageFlags) error {
	if err := c.requireRecording("TransitionImageLayout"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     vk.RemainingMipLevels,
			BaseArrayLayer: 0,
			LayerCount:     vk.RemainingArrayLayers,
		},
	}
	vk.CmdPipelineBarrier(c.buffer, src, dst, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	return nil
}

// CopyBufferToBuffer records a full or partial buffer copy.
func (c *CommandList) CopyBufferToBuffer(src, dst vk.Buffer, region vk.BufferCopy) error {
	if err := c.requireRecording("CopyBufferToBuffer"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdCopyBuffer(c.buffer, src, dst, 1, []vk.BufferCopy{region})
	return nil
}

// CopyImageToImage records a full or partial image copy, both images
// assumed already in a transfer-compatible layout.
func (c *CommandList) CopyImageToImage(src vk.Image, srcLayout vk.ImageLayout, dst vk.Image, dstLayout vk.ImageLayout, region vk.ImageCopy) error {
	if err := c.requireRecording("CopyImageToImage"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdCopyImage(c.buffer, src, srcLayout, dst, dstLayout, 1, []vk.ImageCopy{region})
	return nil
}

// BlitImageToImage records a filtered blit between two images.
func (c *CommandList) BlitImageToImage(src vk.Image, srcLayout vk.ImageLayout, dst vk.Image, dstLayout vk.ImageLayout, region vk.ImageBlit, filter vk.Filter) error {
	if err := c.requireRecording("BlitImageToImage"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdBlitImage(c.buffer, src, srcLayout, dst, dstLayout, 1, []vk.ImageBlit{region}, filter)
	return nil
}

// ClearColorImage records a uniform color clear over an image's full
// subresource range.
func (c *CommandList) ClearColorImage(image vk.Image, layout vk.ImageLayout, color vk.ClearColorValue) error {
	if err := c.requireRecording("ClearColorImage"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	ranges := []vk.ImageSubresourceRange{{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     vk.RemainingMipLevels,
		BaseArrayLayer: 0,
		LayerCount:     vk.RemainingArrayLayers,
	}}
	vk.CmdClearColorImage(c.buffer, image, layout, &color, 1, ranges)
	return nil
}

// ClearDepthStencilImage records a uniform depth/stencil clear over an
// image's full subresource range, the sibling branch spec §4.3's clear_image
// selects by the destination's aspect mask when it isn't a color image.
func (c *CommandList) ClearDepthStencilImage(image vk.Image, layout vk.ImageLayout, aspect vk.ImageAspectFlags, value vk.ClearDepthStencilValue) error {
	if err := c.requireRecording("ClearDepthStencilImage"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	ranges := []vk.ImageSubresourceRange{{
		AspectMask:     aspect,
		BaseMipLevel:   0,
		LevelCount:     vk.RemainingMipLevels,
		BaseArrayLayer: 0,
		LayerCount:     vk.RemainingArrayLayers,
	}}
	vk.CmdClearDepthStencilImage(c.buffer, image, layout, &value, 1, ranges)
	return nil
}

// ClearImage dispatches to ClearColorImage or ClearDepthStencilImage by
// aspect, matching spec §4.3's "clear image (color or depth/stencil branch
// selected by the destination slice's aspect mask)" wording directly
// instead of leaving callers to pick the right method.
func (c *CommandList) ClearImage(image vk.Image, layout vk.ImageLayout, aspect vk.ImageAspectFlags, color vk.ClearColorValue, depthStencil vk.ClearDepthStencilValue) error {
	if aspect&vk.ImageAspectFlags(vk.ImageAspectColorBit) != 0 {
		return c.ClearColorImage(image, layout, color)
	}
	return c.ClearDepthStencilImage(image, layout, aspect, depthStencil)
}

// BindPipeline binds a compute or graphics pipeline plus the single
// global bindless descriptor set at set=0, per spec §4.1/§4.6: every
// pipeline bind always re-binds the one descriptor set, since shader
// resource access goes entirely through bindless slot indices from here.
func (c *CommandList) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline vk.Pipeline, layout vk.PipelineLayout) error {
	if err := c.requireRecording("BindPipeline"); err != nil {
		return err
	}
	c.boundPipelineLayout = layout
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdBindPipeline(c.buffer, bindPoint, pipeline)
	if c.table != nil && c.table.descSet != vk.NullDescriptorSet {
		sets := []vk.DescriptorSet{c.table.descSet}
		vk.CmdBindDescriptorSets(c.buffer, bindPoint, layout, 0, 1, sets, 0, nil)
	}
	return nil
}

// PushConstant uploads data as the push-constant block for the currently
// bound pipeline layout. len(data) must be a multiple of 4 and within
// maxPushConstantWords*4 bytes (spec §3).
func (c *CommandList) PushConstant(data []byte) error {
	if err := c.requireRecording("PushConstant"); err != nil {
		return err
	}
	if len(data)%4 != 0 || len(data) > maxPushConstantWords*4 {
		return newContractError("PushConstant", nil)
	}
	if len(data) == 0 || c.device == vk.NullDevice {
		return nil
	}
	vk.CmdPushConstants(c.buffer, c.boundPipelineLayout, vk.ShaderStageFlags(vk.ShaderStageAllBit), 0, uint32(len(data)), unsafe.Pointer(&data[0]))
	return nil
}

// BeginRendering starts a dynamic-rendering pass over the given color and
// optional depth attachments (spec §4.6: rendering targets are dynamic
// rendering attachments, not a VkRenderPass/VkFramebuffer pair).
func (c *CommandList) BeginRendering(renderArea vk.Rect2D, colorAttachments []vk.RenderingAttachmentInfo, depthAttachment *vk.RenderingAttachmentInfo) error {
	if err := c.requireRecording("BeginRendering"); err != nil {
		return err
	}
	if c.inRendering {
		return newContractError("BeginRendering", nil)
	}
	c.inRendering = true
	if c.device == vk.NullDevice {
		return nil
	}
	info := vk.RenderingInfo{
		SType:                vk.StructureTypeRenderingInfo,
		RenderArea:           renderArea,
		LayerCount:           1,
		ColorAttachmentCount: uint32(len(colorAttachments)),
		PColorAttachments:    colorAttachments,
		PDepthAttachment:     depthAttachment,
	}
	vk.CmdBeginRendering(c.buffer, &info)
	return nil
}

func (c *CommandList) EndRendering() error {
	if !c.inRendering {
		return newContractError("EndRendering", nil)
	}
	c.inRendering = false
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdEndRendering(c.buffer)
	return nil
}

func (c *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := c.requireRecording("Draw"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdDraw(c.buffer, vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

func (c *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	if err := c.requireRecording("DrawIndexed"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdDrawIndexed(c.buffer, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return nil
}

func (c *CommandList) Dispatch(groupsX, groupsY, groupsZ uint32) error {
	if err := c.requireRecording("Dispatch"); err != nil {
		return err
	}
	if c.device == vk.NullDevice {
		return nil
	}
	vk.CmdDispatch(c.buffer, groupsX, groupsY, groupsZ)
	return nil
}

// DestroyBufferDeferred queues id's underlying resource to be destroyed
// once this list's submission timeline value has passed on the GPU,
// rather than immediately, per spec §5's CommandList.destroy_buffer_deferred.
func (c *CommandList) DestroyBufferDeferred(id BufferId) error {
	return c.deferDestroy(kindBuffer, id.id.slot())
}

func (c *CommandList) DestroyImageDeferred(id ImageId) error {
	return c.deferDestroy(kindImage, id.id.slot())
}

func (c *CommandList) DestroyImageViewDeferred(id ImageViewId) error {
	return c.deferDestroy(kindImageView, id.id.slot())
}

func (c *CommandList) DestroySamplerDeferred(id SamplerId) error {
	return c.deferDestroy(kindSampler, id.id.slot())
}

func (c *CommandList) deferDestroy(k kind, slot uint32) error {
	if err := c.requireRecording("destroy_deferred"); err != nil {
		return err
	}
	c.deferred = append(c.deferred, deferredDestroy{kind: k, slot: slot})
	return nil
}

// Complete ends recording, transitioning the list into the Complete state
// spec §4.3 requires before it can be submitted.
func (c *CommandList) Complete() error {
	if err := c.requireRecording("Complete"); err != nil {
		return err
	}
	if c.inRendering {
		return newContractError("Complete", nil)
	}
	c.state = commandListComplete
	if c.device == vk.NullDevice {
		return nil
	}
	ret := vk.EndCommandBuffer(c.buffer)
	if isError(ret) {
		return newVkError(ret)
	}
	return nil
}

func (c *CommandList) isComplete() bool { return c.state == commandListComplete }

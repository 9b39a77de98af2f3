package vkforge

import (
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Bindless descriptor bindings within the single global descriptor set,
// per spec §3/§4.1: one storage-buffer, one sampled-image, one
// storage-image, and one sampler binding, each update-after-bind with a
// variable descriptor count capped at maxBindlessSlots.
const (
	bindingStorageBuffer uint32 = 0
	bindingSampledImage  uint32 = 1
	bindingStorageImage  uint32 = 2
	bindingSampler       uint32 = 3
)

// defaultMaxBindlessSlots is the default per-kind descriptor-array length (spec
// §3: "Slot indices in [0, 1000), configurable, capped by device
// descriptor-set limits").
const defaultMaxBindlessSlots = 1000

// maxPushConstantWords is the inclusive upper bound on push-constant size
// in 4-byte words (spec §3: "0..32 words, i.e. 0..128 bytes").
const maxPushConstantWords = 32

// BufferInfo describes a created buffer; returned by value from
// Device.InfoBuffer, matching spec §4.2's info_* "returns by-value copy".
type BufferInfo struct {
	Size  vk.DeviceSize
	Usage vk.BufferUsageFlags
	Name  string
}

type bufferSlot struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	info   BufferInfo
	mapped bool
}

// ImageInfo describes a created image.
type ImageInfo struct {
	Extent      vk.Extent3D
	Format      vk.Format
	Usage       vk.ImageUsageFlags
	MipLevels   uint32
	ArrayLayers uint32
	Name        string
	// IsSwapchainImage marks a non-owning wrapper around a
	// swapchain-provided VkImage (spec §4.5 recreate): the slot still owns
	// a default view, but destroying it never calls vkDestroyImage.
	// SwapchainImageIndex then carries its position within the swapchain's
	// image array. Kept as two fields rather than one signed index so the
	// Go zero value (false, 0) never collides with a real index 0.
	IsSwapchainImage    bool
	SwapchainImageIndex uint32
}

func (i ImageInfo) owning() bool { return !i.IsSwapchainImage }

type imageSlot struct {
	handle      vk.Image
	memory      vk.DeviceMemory
	info        ImageInfo
	defaultView uint32
}

// ImageViewInfo describes a created image view. BaseMipLevel/LevelCount
// and BaseArrayLayer/LayerCount let CreateImageView carve out a narrower
// subresource range than the owning image's full extent (a single mip of
// a mipmapped texture, one layer of an array); left zero they default to
// the image's full range.
type ImageViewInfo struct {
	Image          ImageId
	Format         vk.Format
	ViewType       vk.ImageViewType
	AspectMask     vk.ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
	Name           string
}

type viewSlot struct {
	handle vk.ImageView
	info   ImageViewInfo
}

// SamplerInfo describes a created sampler.
type SamplerInfo struct {
	MagFilter vk.Filter
	MinFilter vk.Filter
	Name      string
}

type samplerSlot struct {
	handle vk.Sampler
	info   SamplerInfo
}

// GPUResourceTable owns the four slot tables (buffers, images, a shared
// view table embedded in the image table, and samplers) plus the single
// bindless descriptor set, per spec §4.1. device is nil in unit tests that
// exercise slot bookkeeping without a live GPU; every vk.* call below is
// skipped in that mode so the invariants in spec §8 can be tested without
// hardware.
type GPUResourceTable struct {
	mu sync.Mutex

	device        vk.Device
	maxSlots      uint32
	nullSampler   vk.Sampler
	descPool      vk.DescriptorPool
	descSetLayout vk.DescriptorSetLayout
	descSet       vk.DescriptorSet

	buffers *slotTable[bufferSlot]
	images  *slotTable[imageSlot]
	views   *slotTable[viewSlot]
	samplers *slotTable[samplerSlot]

	// pipelineLayouts[n] is the layout for an n-word push constant range,
	// lazily created, indexed 0..maxPushConstantWords inclusive.
	pipelineLayouts [maxPushConstantWords + 1]vk.PipelineLayout
	pipelineLayoutCreated [maxPushConstantWords + 1]bool
}

// newGPUResourceTable builds the table and (if device is non-zero) the
// backing descriptor pool/layout/set. maxSlots is clamped to
// defaultMaxBindlessSlots per spec §6.
func newGPUResourceTable(device vk.Device, maxSlots uint32) *GPUResourceTable {
	if maxSlots == 0 {
		maxSlots = defaultMaxBindlessSlots
	}
	maxSlots = clampU32(maxSlots, 1, defaultMaxBindlessSlots)
	t := &GPUResourceTable{
		device:   device,
		maxSlots: maxSlots,
		buffers:  newSlotTable[bufferSlot](kindBuffer),
		images:   newSlotTable[imageSlot](kindImage),
		views:    newSlotTable[viewSlot](kindImageView),
		samplers: newSlotTable[samplerSlot](kindSampler),
	}
	if device != vk.NullDevice {
		t.createDescriptorResources()
	}
	return t
}

func (t *GPUResourceTable) createDescriptorResources() {
	bindingFlags := []vk.DescriptorBindingFlags{
		vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit | vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingVariableDescriptorCountBit),
		vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit | vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingVariableDescriptorCountBit),
		vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit | vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingVariableDescriptorCountBit),
		vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit | vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingVariableDescriptorCountBit),
	}
	bindingFlagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  uint32(len(bindingFlags)),
		PBindingFlags: bindingFlags,
	}
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: bindingStorageBuffer, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: t.maxSlots, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
		{Binding: bindingSampledImage, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: t.maxSlots, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
		{Binding: bindingStorageImage, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: t.maxSlots, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
		{Binding: bindingSampler, DescriptorType: vk.DescriptorTypeSampler, DescriptorCount: t.maxSlots, StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit)},
	}
	ret := vk.CreateDescriptorSetLayout(t.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		PNext:        unsafe.Pointer(&bindingFlagsInfo),
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &t.descSetLayout)
	orPanic(newVkError(ret))

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: t.maxSlots},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: t.maxSlots},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: t.maxSlots},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: t.maxSlots},
	}
	ret = vk.CreateDescriptorPool(t.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}, nil, &t.descPool)
	orPanic(newVkError(ret))

	variableCounts := []uint32{t.maxSlots, t.maxSlots, t.maxSlots, t.maxSlots}
	variableInfo := vk.DescriptorSetVariableDescriptorCountAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetVariableDescriptorCountAllocateInfo,
		DescriptorSetCount: 1,
		PDescriptorCounts:  variableCounts,
	}
	layouts := []vk.DescriptorSetLayout{t.descSetLayout}
	sets := []vk.DescriptorSet{vk.NullDescriptorSet}
	ret = vk.AllocateDescriptorSets(t.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		PNext:              unsafe.Pointer(&variableInfo),
		DescriptorPool:     t.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        layouts,
	}, sets)
	orPanic(newVkError(ret))
	t.descSet = sets[0]
}

// destroy tears down the descriptor resources and every pipeline layout.
// Resources held by live slots are the caller's (Device's) responsibility
// to have already drained through the zombie path.
func (t *GPUResourceTable) destroy() {
	if t.device == vk.NullDevice {
		return
	}
	for i := range t.pipelineLayouts {
		if t.pipelineLayoutCreated[i] {
			vk.DestroyPipelineLayout(t.device, t.pipelineLayouts[i], nil)
		}
	}
	vk.DestroyDescriptorPool(t.device, t.descPool, nil)
	vk.DestroyDescriptorSetLayout(t.device, t.descSetLayout, nil)
}

// pipelineLayout returns (creating lazily if needed) the pipeline layout
// for a push-constant range of pushConstantWords 4-byte words, always
// binding the single global descriptor set at set=0, per spec §4.3/§4.6.
func (t *GPUResourceTable) pipelineLayout(pushConstantWords uint32) (vk.PipelineLayout, error) {
	if pushConstantWords > maxPushConstantWords {
		return vk.NullPipelineLayout, newContractError("pipelineLayout", nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipelineLayoutCreated[pushConstantWords] {
		return t.pipelineLayouts[pushConstantWords], nil
	}
	if t.device == vk.NullDevice {
		// Test mode: synthesize a distinguishable non-zero handle per
		// word count so callers can assert layout selection without a
		// live device.
		t.pipelineLayouts[pushConstantWords] = vk.PipelineLayout(uintptr(pushConstantWords + 1))
		t.pipelineLayoutCreated[pushConstantWords] = true
		return t.pipelineLayouts[pushConstantWords], nil
	}
	var ranges []vk.PushConstantRange
	if pushConstantWords > 0 {
		ranges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageAllBit),
			Offset:     0,
			Size:       pushConstantWords * 4,
		}}
	}
	layouts := []vk.DescriptorSetLayout{t.descSetLayout}
	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(t.device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}, nil, &layout)
	if isError(ret) {
		return vk.NullPipelineLayout, newVkError(ret)
	}
	t.pipelineLayouts[pushConstantWords] = layout
	t.pipelineLayoutCreated[pushConstantWords] = true
	return layout, nil
}

// writeBufferDescriptor writes slot's storage-buffer descriptor at index
// slotIndex, matching the invariant that the descriptor at index i always
// reflects slot i's live resource (spec §4.1 invariant (b)).
func (t *GPUResourceTable) writeBufferDescriptor(slotIndex uint32, buf vk.Buffer, size vk.DeviceSize) {
	if t.device == vk.NullDevice {
		return
	}
	bufferInfo := vk.DescriptorBufferInfo{Buffer: buf, Offset: 0, Range: size}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          t.descSet,
		DstBinding:      bindingStorageBuffer,
		DstArrayElement: slotIndex,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(t.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// writeImageDescriptor writes slot's sampled-image and storage-image
// descriptors (both, since a bindless image slot may be read as either
// depending on shader usage) at index slotIndex, with imageLayout as the
// layout the descriptor should reflect.
func (t *GPUResourceTable) writeImageDescriptor(slotIndex uint32, view vk.ImageView, imageLayout vk.ImageLayout) {
	if t.device == vk.NullDevice {
		return
	}
	imgInfo := vk.DescriptorImageInfo{ImageView: view, ImageLayout: imageLayout}
	writes := []vk.WriteDescriptorSet{
		{
			SType: vk.StructureTypeWriteDescriptorSet, DstSet: t.descSet,
			DstBinding: bindingSampledImage, DstArrayElement: slotIndex,
			DescriptorCount: 1, DescriptorType: vk.DescriptorTypeSampledImage,
			PImageInfo: []vk.DescriptorImageInfo{imgInfo},
		},
		{
			SType: vk.StructureTypeWriteDescriptorSet, DstSet: t.descSet,
			DstBinding: bindingStorageImage, DstArrayElement: slotIndex,
			DescriptorCount: 1, DescriptorType: vk.DescriptorTypeStorageImage,
			PImageInfo: []vk.DescriptorImageInfo{imgInfo},
		},
	}
	vk.UpdateDescriptorSets(t.device, uint32(len(writes)), writes, 0, nil)
}

func (t *GPUResourceTable) writeSamplerDescriptor(slotIndex uint32, sampler vk.Sampler) {
	if t.device == vk.NullDevice {
		return
	}
	write := vk.WriteDescriptorSet{
		SType: vk.StructureTypeWriteDescriptorSet, DstSet: t.descSet,
		DstBinding: bindingSampler, DstArrayElement: slotIndex,
		DescriptorCount: 1, DescriptorType: vk.DescriptorTypeSampler,
		PImageInfo: []vk.DescriptorImageInfo{{Sampler: sampler}},
	}
	vk.UpdateDescriptorSets(t.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// clearSamplerDescriptor rewrites slotIndex's sampler binding to the
// device-null placeholder, per spec §4.1 invariant (c): a vacant slot's
// descriptor must reflect the null placeholder, not stale data.
func (t *GPUResourceTable) clearSamplerDescriptor(slotIndex uint32) {
	t.writeSamplerDescriptor(slotIndex, t.nullSampler)
}

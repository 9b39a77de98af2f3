package vkforge

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// DeviceInfo configures Device construction (spec §6 configuration knobs).
// EnableValidation/EnableDebugNames live on ContextInfo instead: spec §6
// scopes create_context's enable_validation/enable_debug_names to the
// instance, not the device, so Context.CreateDevice carries its own
// EnableDebugNames choice into the Device it returns rather than having
// the caller repeat it here.
type DeviceInfo struct {
	UseScalarLayout    bool
	MaxBindlessSlots   uint32
	RequiredExtensions []string
	// Allocator overrides the default direct vkAllocateMemory allocator;
	// nil selects the built-in directAllocator.
	Allocator Allocator
}

// Device is the library's central object: owns the resource table, the
// main queue, the CPU/GPU timeline, and the zombie queues, per spec §4.2.
// Grounded on the teacher's platform.go NewPlatform (instance/device/queue
// selection) fused with core.go's three-logger NewBaseCore idiom and
// instance.go's per-frame bookkeeping, generalized from "one fixed demo
// pipeline" to the spec's create/destroy/submit/present contract.
type Device struct {
	instance   vk.Instance
	gpu        vk.PhysicalDevice
	handle     vk.Device
	queue      vk.Queue
	queueIndex uint32

	log *Logger

	allocator Allocator
	resources *GPUResourceTable

	cpuTimeline cpuTimeline
	gpuTimeline *gpuTimeline

	commandPool vk.CommandPool

	zombiesMu        sync.Mutex
	submitZombies    []submitZombie
	bufferZombies    *zombieQueue[bufferZombiePayload]
	imageZombies     *zombieQueue[imageZombiePayload]
	viewZombies      *zombieQueue[viewZombiePayload]
	samplerZombies   *zombieQueue[samplerZombiePayload]
	semaphoreZombies *zombieQueue[vk.Semaphore]
	pipelineZombies  *zombieQueue[vk.Pipeline]

	recyclableMu     sync.Mutex
	recyclableLists  []*CommandList
	recyclableBinary []*BinarySemaphore

	useScalarLayout bool
	debugNames      bool
}

type bufferZombiePayload struct {
	id     BufferId
	handle vk.Buffer
	memory vk.DeviceMemory
}

type imageZombiePayload struct {
	id     ImageId
	handle vk.Image
	memory vk.DeviceMemory
	owning bool
}

type viewZombiePayload struct {
	id     ImageViewId
	handle vk.ImageView
}

type samplerZombiePayload struct {
	id     SamplerId
	handle vk.Sampler
}

// setDebugName tags handle with name via VK_EXT_debug_utils when this
// device's Context was built with EnableDebugNames; a no-op otherwise, and
// whenever name is empty or the device is device-less. Errors are logged,
// not returned: a failed debug annotation must never fail the resource
// creation it's decorating.
func (d *Device) setDebugName(objectType vk.ObjectType, handle uint64, name string) {
	if !d.debugNames || name == "" || d.handle == vk.NullDevice {
		return
	}
	ret := vk.SetDebugUtilsObjectName(d.handle, &vk.DebugUtilsObjectNameInfo{
		SType:        vk.StructureTypeDebugUtilsObjectNameInfo,
		ObjectType:   objectType,
		ObjectHandle: handle,
		PObjectName:  safeString(name),
	})
	if isError(ret) && d.log != nil {
		d.log.Warnf("setDebugName: %v", newVkError(ret))
	}
}

// requiredDeviceExtensionNames are the fixed feature/extension set spec
// §4.2 mandates alongside descriptor indexing, dynamic rendering,
// timeline semaphores, synchronization2, and null-descriptor robustness.
var requiredDeviceExtensionNames = []string{
	"VK_KHR_swapchain",
	"VK_EXT_descriptor_indexing",
	"VK_KHR_dynamic_rendering",
	"VK_KHR_timeline_semaphore",
	"VK_KHR_synchronization2",
	"VK_EXT_robustness2",
}

// CreateDevice selects a single queue family supporting graphics ∧
// compute ∧ transfer, enables the fixed required feature set, and builds
// the resource table / timeline / zombie queues. Fatal (ContractError) if
// no such queue family exists. gpu == vk.NullPhysicalDevice builds a
// device-less instance for unit tests exercising pure bookkeeping.
func CreateDevice(instance vk.Instance, gpu vk.PhysicalDevice, info DeviceInfo, logger *Logger) (*Device, error) {
	if logger == nil {
		logger = NewLogger(nil, nil)
	}
	d := &Device{instance: instance, gpu: gpu, log: logger, useScalarLayout: info.UseScalarLayout}

	if gpu == vk.NullPhysicalDevice {
		return d.finishConstruction(vk.NullDevice, 0, info)
	}

	var queueCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, nil)
	queueProps := make([]vk.QueueFamilyProperties, queueCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, queueProps)

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit)
	queueIndex := uint32(0)
	found := false
	for i := uint32(0); i < queueCount; i++ {
		queueProps[i].Deref()
		if queueProps[i].QueueFlags&required == required {
			queueIndex = i
			found = true
			break
		}
	}
	if !found {
		return nil, newContractError("CreateDevice", errors.New("no queue family supports graphics+compute+transfer"))
	}

	actualExtensions, err := DeviceExtensions(gpu)
	if err != nil {
		return nil, err
	}
	wanted := append(append([]string{}, requiredDeviceExtensionNames...), info.RequiredExtensions...)
	enabled, missing := checkExisting(actualExtensions, safeStrings(wanted))
	if missing > 0 {
		logger.Warnf("device: missing %d requested extensions", missing)
	}

	indexingFeatures := vk.PhysicalDeviceDescriptorIndexingFeatures{
		SType: vk.StructureTypePhysicalDeviceDescriptorIndexingFeatures,
		ShaderSampledImageArrayNonUniformIndexing: vk.True,
		ShaderStorageImageArrayNonUniformIndexing: vk.True,
		DescriptorBindingUpdateUnusedWhilePending: vk.True,
		DescriptorBindingPartiallyBound:            vk.True,
		DescriptorBindingVariableDescriptorCount:   vk.True,
		RuntimeDescriptorArray:                      vk.True,
	}
	dynamicRenderingFeatures := vk.PhysicalDeviceDynamicRenderingFeatures{
		SType:            vk.StructureTypePhysicalDeviceDynamicRenderingFeatures,
		PNext:            unsafe.Pointer(&indexingFeatures),
		DynamicRendering: vk.True,
	}
	timelineFeatures := vk.PhysicalDeviceTimelineSemaphoreFeatures{
		SType:             vk.StructureTypePhysicalDeviceTimelineSemaphoreFeatures,
		PNext:             unsafe.Pointer(&dynamicRenderingFeatures),
		TimelineSemaphore: vk.True,
	}
	sync2Features := vk.PhysicalDeviceSynchronization2Features{
		SType:            vk.StructureTypePhysicalDeviceSynchronization2Features,
		PNext:            unsafe.Pointer(&timelineFeatures),
		Synchronization2: vk.True,
	}
	robustness2Features := vk.PhysicalDeviceRobustness2Features{
		SType:          vk.StructureTypePhysicalDeviceRobustness2Features,
		PNext:          unsafe.Pointer(&sync2Features),
		NullDescriptor: vk.True,
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: queueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	var handle vk.Device
	ret := vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(&robustness2Features),
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
	}, nil, &handle)
	if isError(ret) {
		return nil, newVkError(ret)
	}

	return d.finishConstruction(handle, queueIndex, info)
}

func (d *Device) finishConstruction(handle vk.Device, queueIndex uint32, info DeviceInfo) (*Device, error) {
	d.handle = handle
	d.queueIndex = queueIndex

	if handle != vk.NullDevice {
		vk.GetDeviceQueue(handle, queueIndex, 0, &d.queue)

		var pool vk.CommandPool
		ret := vk.CreateCommandPool(handle, &vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: queueIndex,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		}, nil, &pool)
		if isError(ret) {
			return nil, newVkError(ret)
		}
		d.commandPool = pool
	}

	d.allocator = info.Allocator
	if d.allocator == nil {
		d.allocator = newDirectAllocator(handle, d.gpu)
	}

	d.resources = newGPUResourceTable(handle, info.MaxBindlessSlots)

	gt, err := newGPUTimeline(handle, 0)
	if err != nil {
		return nil, err
	}
	d.gpuTimeline = gt

	d.bufferZombies = newZombieQueue[bufferZombiePayload]()
	d.imageZombies = newZombieQueue[imageZombiePayload]()
	d.viewZombies = newZombieQueue[viewZombiePayload]()
	d.samplerZombies = newZombieQueue[samplerZombiePayload]()
	d.semaphoreZombies = newZombieQueue[vk.Semaphore]()
	d.pipelineZombies = newZombieQueue[vk.Pipeline]()

	return d, nil
}

// CreateBuffer allocates GPU memory via the configured Allocator, writes
// the bindless descriptor at the fresh slot's index, and returns the id.
func (d *Device) CreateBuffer(info BufferInfo) (BufferId, error) {
	rawID, payload := d.resources.buffers.newSlot()
	payload.info = info

	if d.handle == vk.NullDevice {
		return BufferId{id: rawID}, nil
	}

	var buf vk.Buffer
	ret := vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        info.Size,
		Usage:       info.Usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if isError(ret) {
		d.resources.buffers.returnSlot(rawID)
		return BufferId{}, newVkError(ret)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, buf, &reqs)
	hostVisible := info.Usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit) != 0
	mem, err := d.allocator.Allocate(reqs, hostVisible)
	if err != nil {
		vk.DestroyBuffer(d.handle, buf, nil)
		d.resources.buffers.returnSlot(rawID)
		return BufferId{}, err
	}
	if ret := vk.BindBufferMemory(d.handle, buf, mem, 0); isError(ret) {
		d.allocator.Free(mem)
		vk.DestroyBuffer(d.handle, buf, nil)
		d.resources.buffers.returnSlot(rawID)
		return BufferId{}, newVkError(ret)
	}
	payload.handle = buf
	payload.memory = mem
	d.resources.writeBufferDescriptor(rawID.slot(), buf, info.Size)
	d.setDebugName(vk.ObjectTypeBuffer, uint64(buf), info.Name)
	return BufferId{id: rawID}, nil
}

// InfoBuffer returns a by-value copy of id's creation info.
func (d *Device) InfoBuffer(id BufferId) (BufferInfo, error) {
	slot, ok := d.resources.buffers.dereference(id.id)
	if !ok {
		return BufferInfo{}, newContractError("InfoBuffer", nil)
	}
	return slot.info, nil
}

// DestroyBuffer enqueues id on the buffer zombie deque tagged with the
// current CPU timeline, per spec §4.2 (non-immediate destruction).
func (d *Device) DestroyBuffer(id BufferId) error {
	slot, ok := d.resources.buffers.dereference(id.id)
	if !ok {
		return newContractError("DestroyBuffer", nil)
	}
	payload := bufferZombiePayload{id: id, handle: slot.handle, memory: slot.memory}
	d.zombiesMu.Lock()
	d.bufferZombies.push(d.cpuTimeline.current(), payload)
	d.zombiesMu.Unlock()
	return nil
}

// MapMemory maps a host-visible buffer's backing memory, direct
// pass-through to the Allocator (undefined if the buffer isn't
// host-visible, per spec §4.2).
func (d *Device) MapMemory(id BufferId) (unsafe.Pointer, error) {
	slot, ok := d.resources.buffers.dereference(id.id)
	if !ok {
		return nil, newContractError("MapMemory", nil)
	}
	if d.handle == vk.NullDevice {
		slot.mapped = true
		return nil, nil
	}
	ptr, err := d.allocator.Map(slot.memory, 0, slot.info.Size)
	if err != nil {
		return nil, err
	}
	slot.mapped = true
	return ptr, nil
}

func (d *Device) UnmapMemory(id BufferId) error {
	slot, ok := d.resources.buffers.dereference(id.id)
	if !ok {
		return newContractError("UnmapMemory", nil)
	}
	if d.handle != vk.NullDevice {
		d.allocator.Unmap(slot.memory)
	}
	slot.mapped = false
	return nil
}

// CreateImage allocates an owning image, its default view, and writes
// both sampled-image and storage-image descriptors at the slot's index.
func (d *Device) CreateImage(info ImageInfo) (ImageId, error) {
	rawID, payload := d.resources.images.newSlot()
	payload.info = info

	viewID, err := d.createDefaultViewSlot(rawID, info)
	if err != nil {
		d.resources.images.returnSlot(rawID)
		return ImageId{}, err
	}
	payload.defaultView = viewID.slot()

	if d.handle == vk.NullDevice {
		return ImageId{id: rawID, defaultView: viewID.slot(), defaultViewGeneration: viewID.generation()}, nil
	}

	var img vk.Image
	ret := vk.CreateImage(d.handle, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        info.Format,
		Extent:        info.Extent,
		MipLevels:     maxU32(info.MipLevels, 1),
		ArrayLayers:   maxU32(info.ArrayLayers, 1),
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         info.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if isError(ret) {
		d.resources.images.returnSlot(rawID)
		return ImageId{}, newVkError(ret)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img, &reqs)
	mem, err := d.allocator.Allocate(reqs, false)
	if err != nil {
		vk.DestroyImage(d.handle, img, nil)
		d.resources.images.returnSlot(rawID)
		return ImageId{}, err
	}
	if ret := vk.BindImageMemory(d.handle, img, mem, 0); isError(ret) {
		d.allocator.Free(mem)
		vk.DestroyImage(d.handle, img, nil)
		d.resources.images.returnSlot(rawID)
		return ImageId{}, newVkError(ret)
	}
	payload.handle = img
	payload.memory = mem

	view, _ := d.resources.views.dereference(makeID(viewID.slot(), viewID.generation()))
	view.handle, err = d.createImageView(img, info.Format, aspectFor(info.Format))
	if err != nil {
		d.allocator.Free(mem)
		vk.DestroyImage(d.handle, img, nil)
		d.resources.images.returnSlot(rawID)
		return ImageId{}, err
	}
	d.resources.writeImageDescriptor(rawID.slot(), view.handle, vk.ImageLayoutGeneral)
	d.setDebugName(vk.ObjectTypeImage, uint64(img), info.Name)
	return ImageId{id: rawID, defaultView: viewID.slot(), defaultViewGeneration: viewID.generation()}, nil
}

// wrapSwapchainImage registers a swapchain-owned vk.Image as a non-owning
// Image slot (spec §4.5 Recreate): it gets its own default view and
// descriptor writes like any other image, but DestroyImage will never
// call vkDestroyImage on it since the swapchain owns that lifetime.
func (d *Device) wrapSwapchainImage(img vk.Image, format vk.Format, extent vk.Extent2D, index int) (ImageId, error) {
	info := ImageInfo{
		Extent:              vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
		Format:              format,
		Usage:               vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		MipLevels:           1,
		ArrayLayers:         1,
		Name:                "swapchain image",
		IsSwapchainImage:    true,
		SwapchainImageIndex: uint32(index),
	}
	rawID, payload := d.resources.images.newSlot()
	payload.info = info

	viewID, err := d.createDefaultViewSlot(rawID, info)
	if err != nil {
		d.resources.images.returnSlot(rawID)
		return ImageId{}, err
	}
	payload.defaultView = viewID.slot()
	payload.handle = img

	if d.handle != vk.NullDevice {
		view, _ := d.resources.views.dereference(makeID(viewID.slot(), viewID.generation()))
		view.handle, err = d.createImageView(img, format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			d.resources.images.returnSlot(rawID)
			return ImageId{}, err
		}
		d.resources.writeImageDescriptor(rawID.slot(), view.handle, vk.ImageLayoutGeneral)
	}
	return ImageId{id: rawID, defaultView: viewID.slot(), defaultViewGeneration: viewID.generation()}, nil
}

func (d *Device) createDefaultViewSlot(imageSlot id, info ImageInfo) (id, error) {
	viewID, payload := d.resources.views.newSlot()
	payload.info = ImageViewInfo{
		Image:      ImageId{id: imageSlot},
		Format:     info.Format,
		ViewType:   vk.ImageViewType2d,
		AspectMask: aspectFor(info.Format),
		Name:       info.Name,
	}
	return viewID, nil
}

func (d *Device) createImageView(image vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	return d.createImageViewRange(image, format, vk.ImageViewType2d, aspect, 0, 1, 0, 1)
}

func (d *Device) createImageViewRange(image vk.Image, format vk.Format, viewType vk.ImageViewType, aspect vk.ImageAspectFlags, baseMip, levelCount, baseLayer, layerCount uint32) (vk.ImageView, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   baseMip,
			LevelCount:     levelCount,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	}, nil, &view)
	if isError(ret) {
		return vk.NullImageView, newVkError(ret)
	}
	return view, nil
}

// CreateImageView creates a standalone view over an existing image,
// independent of that image's inline default view — a narrower mip/array
// range, a reinterpreted format, or a different aspect mask — matching
// spec §4.2's create_image_view, parallel to create_{buffer,image,sampler}.
// A zero ViewType/LevelCount/LayerCount in info defaults to a full-range
// 2D view, the same default the inline default view uses.
func (d *Device) CreateImageView(info ImageViewInfo) (ImageViewId, error) {
	imgSlot, ok := d.resources.images.dereference(info.Image.id)
	if !ok {
		return ImageViewId{}, newContractError("CreateImageView", fmt.Errorf("unknown or stale image %v", info.Image))
	}
	if info.ViewType == 0 {
		info.ViewType = vk.ImageViewType2d
	}
	if info.LevelCount == 0 {
		info.LevelCount = vk.RemainingMipLevels
	}
	if info.LayerCount == 0 {
		info.LayerCount = vk.RemainingArrayLayers
	}

	rawID, payload := d.resources.views.newSlot()
	payload.info = info

	if d.handle == vk.NullDevice {
		return ImageViewId{id: rawID}, nil
	}

	view, err := d.createImageViewRange(imgSlot.handle, info.Format, info.ViewType, info.AspectMask, info.BaseMipLevel, info.LevelCount, info.BaseArrayLayer, info.LayerCount)
	if err != nil {
		d.resources.views.returnSlot(rawID)
		return ImageViewId{}, err
	}
	payload.handle = view
	d.setDebugName(vk.ObjectTypeImageView, uint64(view), info.Name)
	return ImageViewId{id: rawID}, nil
}

// InfoImageView returns a by-value copy of id's creation info.
func (d *Device) InfoImageView(id ImageViewId) (ImageViewInfo, error) {
	slot, ok := d.resources.views.dereference(id.id)
	if !ok {
		return ImageViewInfo{}, newContractError("InfoImageView", nil)
	}
	return slot.info, nil
}

// DestroyImageView enqueues id on the view zombie deque. Destroying an
// image's inline default view this way is a contract violation in
// practice (DestroyImage already retires it) but not rejected here, the
// same permissiveness CollectGarbage already has toward double-frees
// through generation checking: a stale id after the owning image is gone
// simply fails dereference above.
func (d *Device) DestroyImageView(id ImageViewId) error {
	slot, ok := d.resources.views.dereference(id.id)
	if !ok {
		return newContractError("DestroyImageView", nil)
	}
	d.zombiesMu.Lock()
	d.viewZombies.push(d.cpuTimeline.current(), viewZombiePayload{id: id, handle: slot.handle})
	d.zombiesMu.Unlock()
	return nil
}

// aspectFor picks the color vs. depth/stencil aspect mask by format,
// matching spec §4.3's "destination slice's aspect mask" branch selection
// for clear operations.
func aspectFor(format vk.Format) vk.ImageAspectFlags {
	switch format {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat, vk.FormatX8D24UnormPack32:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	default:
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
}

func maxU32(v, min uint32) uint32 {
	if v < min {
		return min
	}
	return v
}

// InfoImage returns a by-value copy of id's creation info.
func (d *Device) InfoImage(id ImageId) (ImageInfo, error) {
	slot, ok := d.resources.images.dereference(id.id)
	if !ok {
		return ImageInfo{}, newContractError("InfoImage", nil)
	}
	return slot.info, nil
}

// DestroyImage enqueues the image and its inline default view on their
// respective zombie deques, view first per spec §4.2's ordering rule.
func (d *Device) DestroyImage(id ImageId) error {
	slot, ok := d.resources.images.dereference(id.id)
	if !ok {
		return newContractError("DestroyImage", nil)
	}
	viewRawID := makeID(id.defaultView, id.defaultViewGeneration)
	view, vok := d.resources.views.dereference(viewRawID)
	t := d.cpuTimeline.current()
	d.zombiesMu.Lock()
	if vok {
		d.viewZombies.push(t, viewZombiePayload{id: id.DefaultView(), handle: view.handle})
	}
	d.imageZombies.push(t, imageZombiePayload{id: id, handle: slot.handle, memory: slot.memory, owning: slot.info.owning()})
	d.zombiesMu.Unlock()
	return nil
}

// CreateSampler allocates a sampler and writes its descriptor.
func (d *Device) CreateSampler(info SamplerInfo) (SamplerId, error) {
	rawID, payload := d.resources.samplers.newSlot()
	payload.info = info
	if d.handle == vk.NullDevice {
		return SamplerId{id: rawID}, nil
	}
	var sampler vk.Sampler
	ret := vk.CreateSampler(d.handle, &vk.SamplerCreateInfo{
		SType:     vk.StructureTypeSamplerCreateInfo,
		MagFilter: info.MagFilter,
		MinFilter: info.MinFilter,
	}, nil, &sampler)
	if isError(ret) {
		d.resources.samplers.returnSlot(rawID)
		return SamplerId{}, newVkError(ret)
	}
	payload.handle = sampler
	d.resources.writeSamplerDescriptor(rawID.slot(), sampler)
	d.setDebugName(vk.ObjectTypeSampler, uint64(sampler), info.Name)
	return SamplerId{id: rawID}, nil
}

func (d *Device) InfoSampler(id SamplerId) (SamplerInfo, error) {
	slot, ok := d.resources.samplers.dereference(id.id)
	if !ok {
		return SamplerInfo{}, newContractError("InfoSampler", nil)
	}
	return slot.info, nil
}

func (d *Device) DestroySampler(id SamplerId) error {
	slot, ok := d.resources.samplers.dereference(id.id)
	if !ok {
		return newContractError("DestroySampler", nil)
	}
	d.zombiesMu.Lock()
	d.samplerZombies.push(d.cpuTimeline.current(), samplerZombiePayload{id: id, handle: slot.handle})
	d.zombiesMu.Unlock()
	return nil
}

// CreateCommandList recycles a previously-reset command list if one is
// available, else allocates a new command buffer from the device's single
// shared command pool; command lists do not own a pool of their own.
func (d *Device) CreateCommandList() (*CommandList, error) {
	d.recyclableMu.Lock()
	if n := len(d.recyclableLists); n > 0 {
		cl := d.recyclableLists[n-1]
		d.recyclableLists = d.recyclableLists[:n-1]
		d.recyclableMu.Unlock()
		cl.state = commandListRecording
		cl.deferred = nil
		if d.handle != vk.NullDevice {
			ret := vk.BeginCommandBuffer(cl.buffer, &vk.CommandBufferBeginInfo{
				SType: vk.StructureTypeCommandBufferBeginInfo,
				Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
			})
			if isError(ret) {
				return nil, newVkError(ret)
			}
		}
		return cl, nil
	}
	d.recyclableMu.Unlock()
	return newCommandList(d.handle, d.commandPool, d.resources)
}

// recycleCommandList resets cl's command buffer (RELEASE_RESOURCES) and
// pushes it onto the recyclable-list; the shared command pool itself is
// not reset.
func (d *Device) recycleCommandList(cl *CommandList) {
	if d.handle != vk.NullDevice {
		vk.ResetCommandBuffer(cl.buffer, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))
	}
	d.recyclableMu.Lock()
	d.recyclableLists = append(d.recyclableLists, cl)
	d.recyclableMu.Unlock()
}

// CreateBinarySemaphore recycles a semaphore if one is available.
func (d *Device) CreateBinarySemaphore(name string) (*BinarySemaphore, error) {
	d.recyclableMu.Lock()
	if n := len(d.recyclableBinary); n > 0 {
		s := d.recyclableBinary[n-1]
		d.recyclableBinary = d.recyclableBinary[:n-1]
		d.recyclableMu.Unlock()
		s.name = name
		return s, nil
	}
	d.recyclableMu.Unlock()
	return newBinarySemaphore(d.handle, name)
}

// CreateTimelineSemaphore always allocates fresh (no recycling), per spec
// §4.2.
func (d *Device) CreateTimelineSemaphore(initialValue uint64, name string) (*TimelineSemaphore, error) {
	return newTimelineSemaphore(d.handle, initialValue, name)
}

// SubmitCommands implements spec §4.4.
func (d *Device) SubmitCommands(info SubmitInfo) error {
	return d.submitCommands(info)
}

// PresentInfo gathers what present_frame needs: the swapchain holding the
// image just rendered into, and the binary semaphores to wait on before
// presenting — signaled by the submission that wrote that image (spec
// §4.2/§4.4's present_frame).
type PresentInfo struct {
	Swapchain            *Swapchain
	WaitBinarySemaphores []*BinarySemaphore
}

// PresentFrame implements spec §4.2's present_frame: collect garbage first
// (submission.go's submitCommands does the same), wait the given binary
// semaphores, present the swapchain's currently acquired image, and on
// out-of-date/suboptimal/surface-lost recreate the swapchain through the
// same recreate path AcquireNextImage's own retry loop uses.
func (d *Device) PresentFrame(info PresentInfo) error {
	d.collectGarbage()

	if info.Swapchain == nil {
		return newContractError("PresentFrame", errors.New("no swapchain given"))
	}
	sc := info.Swapchain
	if d.handle == vk.NullDevice {
		return nil
	}

	waitSemaphores := make([]vk.Semaphore, len(info.WaitBinarySemaphores))
	for i, s := range info.WaitBinarySemaphores {
		waitSemaphores[i] = s.handle
	}
	swapchains := []vk.Swapchain{sc.handle}
	indices := []uint32{sc.currentIndex}

	ret := vk.QueuePresent(d.queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waitSemaphores)),
		PWaitSemaphores:    waitSemaphores,
		SwapchainCount:     uint32(len(swapchains)),
		PSwapchains:        swapchains,
		PImageIndices:      indices,
	})
	switch ret {
	case vk.Success:
		return nil
	case vk.Suboptimal, vk.ErrorOutOfDate, vk.ErrorSurfaceLost:
		return sc.recreate(sc.extent.Width, sc.extent.Height)
	default:
		return newContractError("present_frame", newVkError(ret))
	}
}

// WaitIdle blocks until the queue and device have drained all work.
func (d *Device) WaitIdle() error {
	if d.handle == vk.NullDevice {
		return nil
	}
	if ret := vk.QueueWaitIdle(d.queue); isError(ret) {
		return newVkError(ret)
	}
	if ret := vk.DeviceWaitIdle(d.handle); isError(ret) {
		return newVkError(ret)
	}
	return nil
}

// CollectGarbage runs one reclamation pass (spec §4.2 algorithm).
func (d *Device) CollectGarbage() {
	d.collectGarbage()
}

func (d *Device) collectGarbage() {
	gpuValue, err := d.gpuTimeline.value()
	if err != nil {
		d.log.Errorf("collect_garbage: gpu timeline query failed: %v", err)
		return
	}

	d.zombiesMu.Lock()
	i := 0
	for i < len(d.submitZombies) && d.submitZombies[i].timeline <= gpuValue {
		for _, cl := range d.submitZombies[i].commandLists {
			for _, rec := range cl.deferred {
				d.moveDeferredToZombie(rec, gpuValue)
			}
			d.recycleCommandList(cl)
		}
		i++
	}
	if i > 0 {
		remaining := len(d.submitZombies) - i
		copy(d.submitZombies[:remaining], d.submitZombies[i:])
		d.submitZombies = d.submitZombies[:remaining]
	}

	d.viewZombies.collect(gpuValue, func(p viewZombiePayload) {
		if d.handle != vk.NullDevice && p.handle != vk.NullImageView {
			vk.DestroyImageView(d.handle, p.handle, nil)
		}
		d.resources.views.returnSlot(p.id.id)
	})
	d.bufferZombies.collect(gpuValue, func(p bufferZombiePayload) {
		if d.handle != vk.NullDevice {
			vk.DestroyBuffer(d.handle, p.handle, nil)
			d.allocator.Free(p.memory)
		}
		d.resources.buffers.returnSlot(p.id.id)
	})
	d.imageZombies.collect(gpuValue, func(p imageZombiePayload) {
		if d.handle != vk.NullDevice && p.owning {
			vk.DestroyImage(d.handle, p.handle, nil)
			d.allocator.Free(p.memory)
		}
		d.resources.images.returnSlot(p.id.id)
	})
	d.samplerZombies.collect(gpuValue, func(p samplerZombiePayload) {
		if d.handle != vk.NullDevice {
			vk.DestroySampler(d.handle, p.handle, nil)
		}
		d.resources.samplers.returnSlot(p.id.id)
		d.resources.clearSamplerDescriptor(p.id.id.slot())
	})
	d.semaphoreZombies.collect(gpuValue, func(h vk.Semaphore) {
		if d.handle != vk.NullDevice {
			vk.DestroySemaphore(d.handle, h, nil)
		}
	})
	d.pipelineZombies.collect(gpuValue, func(p vk.Pipeline) {
		if d.handle != vk.NullDevice {
			vk.DestroyPipeline(d.handle, p, nil)
		}
	})
	d.zombiesMu.Unlock()
}

// moveDeferredToZombie moves one command list's deferred-destroy record
// onto its kind's zombie deque, tagged with the now-known GPU-reached
// timeline value, per spec §4.2 step 2.
func (d *Device) moveDeferredToZombie(rec deferredDestroy, timeline uint64) {
	switch rec.kind {
	case kindBuffer:
		fullID := d.currentIDFor(kindBuffer, rec.slot)
		if slot, ok := d.resources.buffers.dereference(fullID); ok {
			d.bufferZombies.push(timeline, bufferZombiePayload{id: BufferId{id: fullID}, handle: slot.handle, memory: slot.memory})
		}
	case kindImage:
		fullID := d.currentIDFor(kindImage, rec.slot)
		if slot, ok := d.resources.images.dereference(fullID); ok {
			d.imageZombies.push(timeline, imageZombiePayload{id: ImageId{id: fullID}, handle: slot.handle, memory: slot.memory, owning: slot.info.owning()})
		}
	case kindImageView:
		fullID := d.currentIDFor(kindImageView, rec.slot)
		if slot, ok := d.resources.views.dereference(fullID); ok {
			d.viewZombies.push(timeline, viewZombiePayload{id: ImageViewId{id: fullID}, handle: slot.handle})
		}
	case kindSampler:
		fullID := d.currentIDFor(kindSampler, rec.slot)
		if slot, ok := d.resources.samplers.dereference(fullID); ok {
			d.samplerZombies.push(timeline, samplerZombiePayload{id: SamplerId{id: fullID}, handle: slot.handle})
		}
	}
}

// currentIDFor reconstructs a full id for a bare slot index by reading
// back the slot's live generation; deferred-destroy records only carry
// the slot index (spec §9's "(u64 id, u8 kind)" record is simplified here
// since the generation is always still current at record time).
func (d *Device) currentIDFor(k kind, slot uint32) id {
	switch k {
	case kindBuffer:
		if s := uint32(len(d.resources.buffers.slots)); slot < s {
			return makeID(slot, d.resources.buffers.slots[slot].generation)
		}
	case kindImage:
		if s := uint32(len(d.resources.images.slots)); slot < s {
			return makeID(slot, d.resources.images.slots[slot].generation)
		}
	case kindImageView:
		if s := uint32(len(d.resources.views.slots)); slot < s {
			return makeID(slot, d.resources.views.slots[slot].generation)
		}
	case kindSampler:
		if s := uint32(len(d.resources.samplers.slots)); slot < s {
			return makeID(slot, d.resources.samplers.slots[slot].generation)
		}
	}
	return makeID(slot, 0)
}

// Destroy tears down the device: resource table, command pool, timeline
// semaphore, device handle. The caller is responsible for destroying the
// vk.Instance separately since CreateDevice didn't own it.
func (d *Device) Destroy() {
	d.WaitIdle()
	d.CollectGarbage()
	if d.handle != vk.NullDevice {
		vk.DestroyCommandPool(d.handle, d.commandPool, nil)
	}
	d.gpuTimeline.destroy()
	d.resources.destroy()
	if d.handle != vk.NullDevice {
		vk.DestroyDevice(d.handle, nil)
	}
}

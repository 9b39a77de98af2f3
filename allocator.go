package vkforge

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Allocator is the external memory-allocator collaborator spec §1 keeps
// out of scope (VMA-style wrappers belong to the underlying graphics API
// layer): it's consumed by Device behind this interface, not reimplemented
// in full here.
type Allocator interface {
	// Allocate reserves device memory satisfying reqs; hostVisible biases
	// the implementation toward a mappable memory type.
	Allocate(reqs vk.MemoryRequirements, hostVisible bool) (vk.DeviceMemory, error)
	Free(mem vk.DeviceMemory)
	Map(mem vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error)
	Unmap(mem vk.DeviceMemory)
}

// directAllocator is the default Allocator: one vkAllocateMemory call per
// resource, no suballocation. Ported from the teacher's CreateFrameBuffer
// manual memory-requirements-then-allocate sequence (swapchain.go),
// generalized from "always device-local" to picking device-local or
// host-visible+host-coherent per caller request. A real VMA binding would
// replace this without changing the Allocator interface; none appears
// anywhere in the retrieved corpus so this is the teacher's own style
// instead, kept intentionally minimal.
type directAllocator struct {
	device vk.Device
	props  vk.PhysicalDeviceMemoryProperties
}

func newDirectAllocator(device vk.Device, gpu vk.PhysicalDevice) *directAllocator {
	a := &directAllocator{device: device}
	if gpu == vk.NullPhysicalDevice {
		// device-less test mode: no physical device to query.
		return a
	}
	vk.GetPhysicalDeviceMemoryProperties(gpu, &a.props)
	a.props.Deref()
	return a
}

func (a *directAllocator) Allocate(reqs vk.MemoryRequirements, hostVisible bool) (vk.DeviceMemory, error) {
	reqs.Deref()
	var required vk.MemoryPropertyFlagBits
	if hostVisible {
		required = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	} else {
		required = vk.MemoryPropertyDeviceLocalBit
	}
	typeIndex, ok := findMemoryType(a.props, reqs.MemoryTypeBits, required)
	if !ok && !hostVisible {
		// fall back to any memory type satisfying the type-bits mask.
		typeIndex, ok = findMemoryType(a.props, reqs.MemoryTypeBits, 0)
	}
	if !ok {
		return vk.NullDeviceMemory, newResultError("Allocate", "no memory type satisfies requirements 0x%x", reqs.MemoryTypeBits)
	}
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(a.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &mem)
	if isError(ret) {
		return vk.NullDeviceMemory, newVkError(ret)
	}
	return mem, nil
}

func (a *directAllocator) Free(mem vk.DeviceMemory) {
	if mem == vk.NullDeviceMemory {
		return
	}
	vk.FreeMemory(a.device, mem, nil)
}

func (a *directAllocator) Map(mem vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	ret := vk.MapMemory(a.device, mem, offset, size, 0, &ptr)
	if isError(ret) {
		return nil, newVkError(ret)
	}
	return ptr, nil
}

func (a *directAllocator) Unmap(mem vk.DeviceMemory) {
	vk.UnmapMemory(a.device, mem)
}

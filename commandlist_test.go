package vkforge

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func commandListTestDevice(t *testing.T) *Device {
	t.Helper()
	var instance vk.Instance
	d, err := CreateDevice(instance, vk.NullPhysicalDevice, DeviceInfo{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCommandListLifecycleRejectsRecordAfterComplete(t *testing.T) {
	d := commandListTestDevice(t)
	cl, err := d.CreateCommandList()
	if err != nil {
		t.Fatal(err)
	}
	if cl.isComplete() {
		t.Fatal("a freshly created command list must start in the recording state")
	}
	if err := cl.Complete(); err != nil {
		t.Fatal(err)
	}
	if !cl.isComplete() {
		t.Fatal("expected Complete to move the list into the complete state")
	}
	if err := cl.Draw(3, 1, 0, 0); err == nil {
		t.Fatal("expected recording into a completed command list to fail")
	}
}

func TestCompleteRejectsUnclosedRenderingPass(t *testing.T) {
	d := commandListTestDevice(t)
	cl, err := d.CreateCommandList()
	if err != nil {
		t.Fatal(err)
	}
	if err := cl.BeginRendering(vk.Rect2D{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := cl.Complete(); err == nil {
		t.Fatal("expected Complete to reject a command list still inside BeginRendering/EndRendering")
	}
}

func TestClearImageDispatchesColorVsDepthStencilByAspect(t *testing.T) {
	d := commandListTestDevice(t)
	cl, err := d.CreateCommandList()
	if err != nil {
		t.Fatal(err)
	}
	if err := cl.ClearImage(vk.NullImage, vk.ImageLayoutGeneral, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ClearColorValue{}, vk.ClearDepthStencilValue{}); err != nil {
		t.Fatal(err)
	}
	if err := cl.ClearImage(vk.NullImage, vk.ImageLayoutGeneral, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), vk.ClearColorValue{}, vk.ClearDepthStencilValue{}); err != nil {
		t.Fatal(err)
	}
}

func TestDeferredDestroyRejectedAfterComplete(t *testing.T) {
	d := commandListTestDevice(t)
	cl, err := d.CreateCommandList()
	if err != nil {
		t.Fatal(err)
	}
	if err := cl.Complete(); err != nil {
		t.Fatal(err)
	}
	if err := cl.DestroyBufferDeferred(BufferId{}); err == nil {
		t.Fatal("expected a deferred-destroy call on a completed list to fail")
	}
}

package vkforge

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	var instance vk.Instance
	d, err := CreateDevice(instance, vk.NullPhysicalDevice, DeviceInfo{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCreateBufferThenDestroyReclaimsSlot(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.CreateBuffer(BufferInfo{Size: 256, Name: "scratch"})
	if err != nil {
		t.Fatal(err)
	}
	info, err := d.InfoBuffer(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 256 {
		t.Fatalf("InfoBuffer returned Size=%d, want 256", info.Size)
	}

	if err := d.DestroyBuffer(id); err != nil {
		t.Fatal(err)
	}
	if d.bufferZombies.pending() != 1 {
		t.Fatalf("expected the destroy to be deferred onto the zombie queue, pending=%d", d.bufferZombies.pending())
	}

	d.gpuTimeline.testValue = d.cpuTimeline.current()
	d.collectGarbage()
	if d.bufferZombies.pending() != 0 {
		t.Fatalf("expected the zombie entry reclaimed once gpu timeline caught up, pending=%d", d.bufferZombies.pending())
	}
	if _, err := d.InfoBuffer(id); err == nil {
		t.Fatal("expected InfoBuffer on a reclaimed id to fail")
	}
}

func TestDestroyBufferUnknownIdIsContractError(t *testing.T) {
	d := newTestDevice(t)
	err := d.DestroyBuffer(BufferId{})
	if _, ok := err.(*ContractError); !ok {
		t.Fatalf("expected *ContractError for an unknown buffer id, got %T (%v)", err, err)
	}
}

func TestCreateImageGetsADefaultView(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.CreateImage(ImageInfo{
		Extent:      vk.Extent3D{Width: 4, Height: 4, Depth: 1},
		Format:      vk.FormatR8g8b8a8Unorm,
		MipLevels:   1,
		ArrayLayers: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id.DefaultView().IsEmpty() {
		t.Fatal("expected CreateImage to populate a non-empty default view id")
	}
	info, err := d.InfoImage(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.IsSwapchainImage {
		t.Fatal("a plain CreateImage result must not be marked as a swapchain image")
	}
	if !info.owning() {
		t.Fatal("a plain CreateImage result must be owning")
	}
}

func TestCreateImageViewIndependentOfDefaultView(t *testing.T) {
	d := newTestDevice(t)
	img, err := d.CreateImage(ImageInfo{
		Extent:      vk.Extent3D{Width: 4, Height: 4, Depth: 1},
		Format:      vk.FormatR8g8b8a8Unorm,
		MipLevels:   4,
		ArrayLayers: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	view, err := d.CreateImageView(ImageViewInfo{
		Image:        img,
		Format:       vk.FormatR8g8b8a8Unorm,
		AspectMask:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel: 1,
		LevelCount:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if view == img.DefaultView() {
		t.Fatal("expected CreateImageView's result to differ from the image's inline default view")
	}
	info, err := d.InfoImageView(view)
	if err != nil {
		t.Fatal(err)
	}
	if info.BaseMipLevel != 1 {
		t.Fatalf("expected BaseMipLevel=1 preserved, got %d", info.BaseMipLevel)
	}
	if err := d.DestroyImageView(view); err != nil {
		t.Fatal(err)
	}
	if _, err := d.InfoImageView(img.DefaultView()); err != nil {
		t.Fatal("destroying the standalone view must not affect the image's default view")
	}
}

func TestDestroyImageViewUnknownIdIsContractError(t *testing.T) {
	d := newTestDevice(t)
	if err := d.DestroyImageView(ImageViewId{}); err == nil {
		t.Fatal("expected an error destroying an unknown image view id")
	}
}

func TestWrapSwapchainImageIsNonOwning(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.wrapSwapchainImage(vk.NullImage, vk.FormatB8g8r8a8Srgb, vk.Extent2D{Width: 8, Height: 8}, 0)
	if err != nil {
		t.Fatal(err)
	}
	info, err := d.InfoImage(id)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsSwapchainImage {
		t.Fatal("expected wrapSwapchainImage's result to be marked IsSwapchainImage")
	}
	if info.owning() {
		t.Fatal("a swapchain-wrapped image must never be reported as owning")
	}
	if info.SwapchainImageIndex != 0 {
		t.Fatalf("expected SwapchainImageIndex=0 to be preserved (not confused with an unset field), got %d", info.SwapchainImageIndex)
	}
}

func TestDestroyImageSkipsVkDestroyForSwapchainImages(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.wrapSwapchainImage(vk.NullImage, vk.FormatB8g8r8a8Srgb, vk.Extent2D{Width: 8, Height: 8}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.DestroyImage(id); err != nil {
		t.Fatal(err)
	}
	// collectGarbage calls vkDestroyImage only for owning entries, so the
	// queued entry must be non-owning (device-less mode skips the vk call
	// either way, so a panic-free collectGarbage alone proves nothing).
	if d.imageZombies.pending() != 1 || d.imageZombies.entries[0].payload.owning {
		t.Fatal("expected the swapchain image queued as one non-owning zombie entry")
	}
	d.gpuTimeline.testValue = d.cpuTimeline.current()
	d.collectGarbage()
	if d.imageZombies.pending() != 0 {
		t.Fatalf("expected the swapchain image entry reclaimed, pending=%d", d.imageZombies.pending())
	}
}

package vkforge

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func swapchainTestDevice(t *testing.T) *Device {
	t.Helper()
	var instance vk.Instance
	d, err := CreateDevice(instance, vk.NullPhysicalDevice, DeviceInfo{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCreateSwapchainDeviceLessWrapsOneImage(t *testing.T) {
	d := swapchainTestDevice(t)
	sc, err := CreateSwapchain(d, vk.NullPhysicalDevice, vk.NullSurface, 64, 48, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.images) != 1 {
		t.Fatalf("expected exactly one device-less wrapped image, got %d", len(sc.images))
	}
	if sc.GetExtent().Width != 64 || sc.GetExtent().Height != 48 {
		t.Fatalf("expected extent 64x48, got %v", sc.GetExtent())
	}
}

func TestAcquireNextImageDeviceLessReturnsTheWrappedImage(t *testing.T) {
	d := swapchainTestDevice(t)
	sc, err := CreateSwapchain(d, vk.NullPhysicalDevice, vk.NullSurface, 64, 48, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := sc.AcquireNextImage()
	if err != nil {
		t.Fatal(err)
	}
	if id != sc.images[0] {
		t.Fatalf("expected the acquired image to be the swapchain's single wrapped image")
	}
}

func TestResizeDeviceLessRebuildsWrappedImage(t *testing.T) {
	d := swapchainTestDevice(t)
	sc, err := CreateSwapchain(d, vk.NullPhysicalDevice, vk.NullSurface, 64, 48, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.Resize(128, 96); err != nil {
		t.Fatal(err)
	}
	if sc.GetExtent().Width != 128 || sc.GetExtent().Height != 96 {
		t.Fatalf("expected resized extent 128x96, got %v", sc.GetExtent())
	}
}

func TestPresentFrameDeviceLessIsANoOp(t *testing.T) {
	d := swapchainTestDevice(t)
	sc, err := CreateSwapchain(d, vk.NullPhysicalDevice, vk.NullSurface, 64, 48, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.AcquireNextImage(); err != nil {
		t.Fatal(err)
	}
	if err := d.PresentFrame(PresentInfo{Swapchain: sc}); err != nil {
		t.Fatal(err)
	}
}

func TestPresentFrameRejectsNilSwapchain(t *testing.T) {
	d := swapchainTestDevice(t)
	err := d.PresentFrame(PresentInfo{})
	if _, ok := err.(*ContractError); !ok {
		t.Fatalf("expected *ContractError for a nil swapchain, got %T (%v)", err, err)
	}
}

func TestDefaultSurfaceFormatSelectorPrefersSrgbBgra(t *testing.T) {
	best := DefaultSurfaceFormatSelector(vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear})
	other := DefaultSurfaceFormatSelector(vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear})
	if best <= other {
		t.Fatalf("expected sRGB BGRA8 to score higher than a non-sRGB format: %d vs %d", best, other)
	}
}

package vkforge

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestExtensionSetMissingRequired(t *testing.T) {
	e := newExtensionSet([]string{"VK_KHR_swapchain", "VK_KHR_missing"}, nil, []string{"VK_KHR_swapchain"})
	missing := e.missingRequired()
	if len(missing) != 1 || missing[0] != "VK_KHR_missing" {
		t.Fatalf("expected [VK_KHR_missing], got %v", missing)
	}
}

func TestExtensionSetResolveDropsUnavailableOptional(t *testing.T) {
	e := newExtensionSet(
		[]string{"VK_KHR_swapchain"},
		[]string{"VK_EXT_debug_utils", "VK_EXT_unavailable"},
		[]string{"VK_KHR_swapchain", "VK_EXT_debug_utils"},
	)
	enabled, dropped := e.resolve()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled extensions, got %v", enabled)
	}
	if len(dropped) != 1 || dropped[0] != "VK_EXT_unavailable" {
		t.Fatalf("expected VK_EXT_unavailable dropped, got %v", dropped)
	}
}

func TestExtensionSetResolveDeduplicatesOverlap(t *testing.T) {
	e := newExtensionSet([]string{"A"}, []string{"A", "B"}, []string{"A", "B"})
	enabled, dropped := e.resolve()
	if len(enabled) != 2 {
		t.Fatalf("expected [A B] deduplicated, got %v", enabled)
	}
	if len(dropped) != 0 {
		t.Fatalf("expected nothing dropped, got %v", dropped)
	}
}

func TestFindMemoryTypeMatchesRequiredFlags(t *testing.T) {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 2
	props.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	props.MemoryTypes[1].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)

	idx, ok := findMemoryType(props, 0b11, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		t.Fatal("expected a matching memory type")
	}
	if idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
}

func TestFindMemoryTypeRespectsTypeBitsMask(t *testing.T) {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 1
	props.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)

	// typeBits excludes index 0, so even though it matches flags it must
	// not be returned.
	_, ok := findMemoryType(props, 0b0, vk.MemoryPropertyDeviceLocalBit)
	if ok {
		t.Fatal("expected no match when typeBits excludes every candidate index")
	}
}

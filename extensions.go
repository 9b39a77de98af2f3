package vkforge

import vk "github.com/vulkan-go/vulkan"

// extensionSet resolves a caller's required+optional name lists against
// what the platform actually reports. CreateContext uses it for validation
// layers; instance and device extensions are resolved through util.go's
// checkExisting instead.
type extensionSet struct {
	required []string
	optional []string
	actual   []string
}

func newExtensionSet(required, optional, actual []string) *extensionSet {
	return &extensionSet{required: required, optional: optional, actual: actual}
}

// missingRequired returns the subset of required not present in actual.
func (e *extensionSet) missingRequired() []string {
	var missing []string
	for _, req := range e.required {
		if !e.contains(req) {
			missing = append(missing, req)
		}
	}
	return missing
}

func (e *extensionSet) contains(name string) bool {
	for _, a := range e.actual {
		if a == name {
			return true
		}
	}
	return false
}

// resolve returns required plus whichever optional entries are actually
// available, deduplicated, and the optional entries that were dropped.
func (e *extensionSet) resolve() (enabled, droppedOptional []string) {
	seen := make(map[string]bool, len(e.required))
	for _, req := range e.required {
		enabled = append(enabled, req)
		seen[req] = true
	}
	for _, opt := range e.optional {
		if seen[opt] {
			continue
		}
		if e.contains(opt) {
			enabled = append(enabled, opt)
			seen[opt] = true
		} else {
			droppedOptional = append(droppedOptional, opt)
		}
	}
	return enabled, droppedOptional
}

// findMemoryType finds a memory type index in props satisfying typeBits
// (a bitmask of acceptable type indices, from VkMemoryRequirements) and
// carrying every flag in required. Ported from teacher extensions.go's
// FindRequiredMemoryType.
func findMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < vk.MaxMemoryTypes; i++ {
		if typeBits&(uint32(1)<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		flags := props.MemoryTypes[i].PropertyFlags
		if flags&vk.MemoryPropertyFlags(required) == vk.MemoryPropertyFlags(required) {
			return i, true
		}
	}
	return 0, false
}

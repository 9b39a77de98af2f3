package vkforge

import vk "github.com/vulkan-go/vulkan"

// InstanceExtensions gets a list of instance extensions available on the platform.
func InstanceExtensions() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	orPanic(newVkError(ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	orPanic(newVkError(ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// DeviceExtensions gets a list of extensions available on the given physical device.
func DeviceExtensions(gpu vk.PhysicalDevice) (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)
	orPanic(newVkError(ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)
	orPanic(newVkError(ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// ValidationLayers gets a list of validation layers available on the platform.
func ValidationLayers() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	orPanic(newVkError(ret))
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	orPanic(newVkError(ret))
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, err
}

// safeString returns s NUL-terminated for passing into a Vulkan *char field.
func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

// safeStrings NUL-terminates every element of ss.
func safeStrings(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = safeString(s)
	}
	return out
}

// sliceUint32 reinterprets a byte slice containing SPIR-V words as a
// []uint32, the layout vk.ShaderModuleCreateInfo.PCode expects.
func sliceUint32(data []byte) []uint32 {
	const wordSize = 4
	n := len(data) / wordSize
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = uint32(data[i*wordSize]) |
			uint32(data[i*wordSize+1])<<8 |
			uint32(data[i*wordSize+2])<<16 |
			uint32(data[i*wordSize+3])<<24
	}
	return out
}

// checkExisting intersects wanted against actual, returning the subset
// that's actually available plus a count of how many were missing.
func checkExisting(actual, wanted []string) (available []string, missing int) {
	for _, w := range wanted {
		found := false
		for _, a := range actual {
			if a == w {
				found = true
				break
			}
		}
		if found {
			available = append(available, w)
		} else {
			missing++
		}
	}
	return available, missing
}

// clampU32 clamps v into [lo, hi].
func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

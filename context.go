package vkforge

import (
	"errors"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// ContextInfo configures Context construction: the root entry point spec
// §6 names create_context{enable_validation, enable_debug_names}.
type ContextInfo struct {
	EnableValidation bool
	EnableDebugNames bool

	// RequiredInstanceExtensions are additional instance extensions beyond
	// VK_EXT_debug_utils, which EnableDebugNames already adds; surface
	// extensions are not added automatically and go in this list (e.g. from
	// Window.RequiredInstanceExtensions). Missing ones are logged at warn
	// level and dropped, matching
	// CreateDevice's own device-extension handling.
	RequiredInstanceExtensions []string
	ApplicationName            string
}

// requiredValidationLayerNames is the one validation layer spec §6's
// enable_validation turns on, the modern umbrella layer replacing the
// teacher's per-feature layer list.
var requiredValidationLayerNames = []string{"VK_LAYER_KHRONOS_validation"}

// Context owns the vk.Instance and, when EnableValidation is set, a debug
// report callback relaying validation-layer messages through Logger. Its
// EnableDebugNames choice carries forward into every Device built from it,
// so CreateBuffer/CreateImage/CreateImageView/CreateSampler can tag their
// resources with VK_EXT_debug_utils object names. Grounded on the
// teacher's platform.go NewPlatform instance-creation sequence, split out
// of Device (which the teacher fused instance+device+queue into a single
// Platform) since spec §6 makes Context a distinct public entry point from
// Device.
type Context struct {
	instance         vk.Instance
	debugCallback    vk.DebugReportCallback
	enableDebugNames bool
	log              *Logger
}

// CreateContext implements spec §6's create_context: resolves instance
// extensions/validation layers against the platform (warning at missing
// optional entries), builds the
// vk.Instance, and — when EnableValidation is set — registers a debug
// report callback relaying ERROR/WARNING messages through logger.
func CreateContext(info ContextInfo, logger *Logger) (*Context, error) {
	if logger == nil {
		logger = NewLogger(nil, nil)
	}

	wantedInstanceExtensions := append([]string{}, info.RequiredInstanceExtensions...)
	if info.EnableDebugNames {
		wantedInstanceExtensions = append(wantedInstanceExtensions, "VK_EXT_debug_utils")
	}
	actualInstanceExtensions, err := InstanceExtensions()
	if err != nil {
		return nil, err
	}
	instanceExtensions, missingExt := checkExisting(actualInstanceExtensions, safeStrings(wantedInstanceExtensions))
	if missingExt > 0 {
		logger.Warnf("context: missing %d requested instance extensions", missingExt)
	}

	var validationLayers []string
	if info.EnableValidation {
		actualLayers, err := ValidationLayers()
		if err != nil {
			return nil, err
		}
		// Validation layers are always optional from extensionSet's point of
		// view: a missing layer drops validation rather than failing
		// CreateContext outright, so it goes through resolve()'s optional
		// path rather than missingRequired()'s hard-fail path.
		set := newExtensionSet(nil, safeStrings(requiredValidationLayerNames), actualLayers)
		var dropped []string
		validationLayers, dropped = set.resolve()
		if len(dropped) > 0 {
			logger.Warnf("context: missing %d requested validation layers", len(dropped))
		}
	}

	appName := info.ApplicationName
	if appName == "" {
		appName = "vkforge app"
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 3, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(appName),
			PEngineName:        safeString("vkforge"),
		},
		EnabledExtensionCount:   uint32(len(instanceExtensions)),
		PpEnabledExtensionNames: instanceExtensions,
		EnabledLayerCount:       uint32(len(validationLayers)),
		PpEnabledLayerNames:     validationLayers,
	}, nil, &instance)
	if isError(ret) {
		return nil, newVkError(ret)
	}
	vk.InitInstance(instance)

	c := &Context{instance: instance, enableDebugNames: info.EnableDebugNames, log: logger}

	if info.EnableValidation {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: contextDebugCallback(logger),
		}, nil, &c.debugCallback)
		if isError(ret) {
			vk.DestroyInstance(instance, nil)
			return nil, newVkError(ret)
		}
	}

	return c, nil
}

// contextDebugCallback closes over logger so validation-layer messages
// land on the same Logger every other Device-adjacent warning does,
// instead of the teacher's bare log.Printf straight to the default logger.
func contextDebugCallback(logger *Logger) vk.DebugReportCallbackFunction {
	return func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
		object uint64, location uint, messageCode int32, pLayerPrefix string,
		pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
		switch {
		case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
			logger.Errorf("validation [%s] %d: %s", pLayerPrefix, messageCode, pMessage)
		case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
			logger.Warnf("validation [%s] %d: %s", pLayerPrefix, messageCode, pMessage)
		default:
			logger.Infof("validation [%s] %d: %s", pLayerPrefix, messageCode, pMessage)
		}
		return vk.Bool32(vk.False)
	}
}

// Instance returns the underlying vk.Instance, for callers that need it to
// create a vk.Surface before calling CreateDevice (window.go's
// NativeSurface, or any other windowing integration).
func (c *Context) Instance() vk.Instance { return c.instance }

// EnumeratePhysicalDevices lists every GPU the instance can see, for the
// caller to score and pick one before calling CreateDevice.
func (c *Context) EnumeratePhysicalDevices() ([]vk.PhysicalDevice, error) {
	var count uint32
	ret := vk.EnumeratePhysicalDevices(c.instance, &count, nil)
	if isError(ret) {
		return nil, newVkError(ret)
	}
	if count == 0 {
		return nil, newContractError("EnumeratePhysicalDevices", errNoGPU)
	}
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(c.instance, &count, gpus)
	if isError(ret) {
		return nil, newVkError(ret)
	}
	return gpus, nil
}

// CreateDevice builds a Device against gpu, carrying this Context's
// EnableDebugNames choice into the device's debug-name tagging (spec §6:
// create_context's enable_debug_names governs every Device it creates).
func (c *Context) CreateDevice(gpu vk.PhysicalDevice, info DeviceInfo) (*Device, error) {
	d, err := CreateDevice(c.instance, gpu, info, c.log)
	if err != nil {
		return nil, err
	}
	d.debugNames = c.enableDebugNames
	return d, nil
}

// Destroy tears down the debug report callback (if any) and the instance.
// The caller must have already destroyed every Device built from this
// Context, since CreateDevice doesn't hand instance ownership to Device.
func (c *Context) Destroy() {
	if c.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(c.instance, c.debugCallback, nil)
	}
	if c.instance != vk.NullInstance {
		vk.DestroyInstance(c.instance, nil)
	}
}

var errNoGPU = errors.New("no physical devices visible to this instance")

package vkforge

import vk "github.com/vulkan-go/vulkan"

// SurfaceFormatSelector scores each supported surface format; the
// maximum-scoring format is chosen (spec §4.5). Used instead of the
// teacher's "take formats[0], fall back to sRGBA if undefined" since a
// caller-supplied scorer generalizes to any selection policy.
type SurfaceFormatSelector func(vk.SurfaceFormat) int

// DefaultSurfaceFormatSelector prefers a non-linear sRGB BGRA8 format,
// accepting any other non-linear format at a lower score.
func DefaultSurfaceFormatSelector(f vk.SurfaceFormat) int {
	if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
		return 100
	}
	if f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
		return 10
	}
	return 1
}

// Swapchain holds the surface, the VkSwapchainKHR, a per-swapchain
// acquisition fence, the chosen surface format, and the Image ids
// wrapping swapchain images, per spec §4.5. Grounded on the teacher's
// context.go prepareSwapchain and swapchain.go CoreSwapchain, generalized
// from "always destroy synchronously" to the spec's zombie-path recreate.
type Swapchain struct {
	device   *Device
	gpu      vk.PhysicalDevice
	surface  vk.Surface
	selector SurfaceFormatSelector

	handle vk.Swapchain
	fences *fenceRecycler
	format vk.SurfaceFormat
	extent vk.Extent2D

	images       []ImageId
	currentIndex uint32
}

// CreateSwapchain builds the initial swapchain for surface, selecting a
// format via selector (DefaultSurfaceFormatSelector if nil).
func CreateSwapchain(device *Device, gpu vk.PhysicalDevice, surface vk.Surface, width, height uint32, selector SurfaceFormatSelector) (*Swapchain, error) {
	if selector == nil {
		selector = DefaultSurfaceFormatSelector
	}
	s := &Swapchain{device: device, gpu: gpu, surface: surface, selector: selector, extent: vk.Extent2D{Width: width, Height: height}}
	if device.handle != vk.NullDevice {
		s.fences = newFenceRecycler(device.handle)
	}
	if err := s.recreate(width, height); err != nil {
		return nil, err
	}
	return s, nil
}

// selectFormat picks the highest-scoring supported surface format; fatal
// (ContractError, per spec §4.2's "no viable surface format") if none of
// the surface's supported formats score above rejection.
func (s *Swapchain) selectFormat() (vk.SurfaceFormat, error) {
	var count uint32
	vk.GetPhysicalDeviceSurfaceFormats(s.gpu, s.surface, &count, nil)
	if count == 0 {
		return vk.SurfaceFormat{}, newContractError("select_surface_format", nil)
	}
	formats := make([]vk.SurfaceFormat, count)
	vk.GetPhysicalDeviceSurfaceFormats(s.gpu, s.surface, &count, formats)

	best := -1
	var bestFormat vk.SurfaceFormat
	for _, f := range formats {
		f.Deref()
		if score := s.selector(f); score > best {
			best = score
			bestFormat = f
		}
	}
	if best < 0 {
		return vk.SurfaceFormat{}, newContractError("select_surface_format", nil)
	}
	return bestFormat, nil
}

// recreate queries the current surface extent, destroys the existing
// per-image wrappers through the zombie path, creates a new swapchain
// passing the old handle as OldSwapchain, destroys the old handle
// immediately after the new one exists, and wraps each new image as a
// non-owning Image slot (spec §4.5 Recreate).
func (s *Swapchain) recreate(width, height uint32) error {
	if s.device.handle == vk.NullDevice {
		s.format = vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
		s.extent = vk.Extent2D{Width: width, Height: height}
		for _, id := range s.images {
			if !id.IsEmpty() {
				s.device.DestroyImage(id)
			}
		}
		id, _ := s.device.CreateImage(ImageInfo{
			Extent: vk.Extent3D{Width: width, Height: height, Depth: 1},
			Format: s.format.Format,
		})
		s.images = []ImageId{id}
		return nil
	}

	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(s.gpu, s.surface, &caps)
	if isError(ret) {
		return newVkError(ret)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		extent = caps.CurrentExtent
	}

	format, err := s.selectFormat()
	if err != nil {
		return err
	}

	for _, id := range s.images {
		if !id.IsEmpty() {
			s.device.DestroyImage(id)
		}
	}

	desired := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && desired > caps.MaxImageCount {
		desired = caps.MaxImageCount
	}

	var preTransform vk.SurfaceTransformFlagBits
	supported := vk.SurfaceTransformFlagBits(caps.SupportedTransforms)
	if supported&vk.SurfaceTransformIdentityBit == vk.SurfaceTransformIdentityBit {
		preTransform = vk.SurfaceTransformIdentityBit
	} else {
		preTransform = caps.CurrentTransform
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, candidate := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(candidate) != 0 {
			compositeAlpha = candidate
			break
		}
	}

	oldSwapchain := s.handle
	var newSwapchain vk.Swapchain
	ret = vk.CreateSwapchain(s.device.handle, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    desired,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     preTransform,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		OldSwapchain:     oldSwapchain,
	}, nil, &newSwapchain)
	if isError(ret) {
		return newVkError(ret)
	}
	if oldSwapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.handle, oldSwapchain, nil)
	}
	s.handle = newSwapchain
	s.format = format
	s.extent = extent

	var imageCount uint32
	vk.GetSwapchainImages(s.device.handle, s.handle, &imageCount, nil)
	rawImages := make([]vk.Image, imageCount)
	vk.GetSwapchainImages(s.device.handle, s.handle, &imageCount, rawImages)

	s.images = make([]ImageId, imageCount)
	for i, img := range rawImages {
		id, err := s.device.wrapSwapchainImage(img, format.Format, extent, i)
		if err != nil {
			return err
		}
		s.images[i] = id
	}
	return nil
}

// Resize re-queries the surface and rebuilds the swapchain for the given
// dimensions.
func (s *Swapchain) Resize(width, height uint32) error {
	return s.recreate(width, height)
}

// GetFormat returns the swapchain's currently selected surface format.
func (s *Swapchain) GetFormat() vk.SurfaceFormat { return s.format }

// GetExtent returns the swapchain's current image extent.
func (s *Swapchain) GetExtent() vk.Extent2D { return s.extent }

// AcquireNextImage loops vkAcquireNextImageKHR using the acquisition
// fence as the sole synchronization point (spec §4.5 Acquire): on
// out-of-date or surface-lost it recreates and retries, on suboptimal it
// accepts the image, and any other non-success is fatal.
func (s *Swapchain) AcquireNextImage() (ImageId, error) {
	if s.device.handle == vk.NullDevice {
		s.currentIndex = 0
		return s.images[0], nil
	}
	for attempts := 0; attempts < 8; attempts++ {
		s.fences.reset()
		fence, err := s.fences.acquire()
		if err != nil {
			return ImageId{}, err
		}
		var index uint32
		ret := vk.AcquireNextImage(s.device.handle, s.handle, vk.MaxUint64, vk.NullSemaphore, fence, &index)
		switch ret {
		case vk.Success, vk.Suboptimal:
			waitRet := vk.WaitForFences(s.device.handle, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64)
			if isError(waitRet) {
				return ImageId{}, newVkError(waitRet)
			}
			s.currentIndex = index
			return s.images[index], nil
		case vk.ErrorOutOfDate, vk.ErrorSurfaceLost:
			if err := s.recreate(s.extent.Width, s.extent.Height); err != nil {
				return ImageId{}, err
			}
			continue
		default:
			return ImageId{}, newContractError("acquire_next_image", newVkError(ret))
		}
	}
	return ImageId{}, newContractError("acquire_next_image", nil)
}

// Destroy tears down the swapchain's per-image wrappers, acquisition
// fence, and the swapchain handle itself.
func (s *Swapchain) Destroy() {
	for _, id := range s.images {
		if !id.IsEmpty() {
			s.device.DestroyImage(id)
		}
	}
	if s.device.handle == vk.NullDevice {
		return
	}
	s.fences.destroy()
	vk.DestroySwapchain(s.device.handle, s.handle, nil)
}

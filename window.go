package vkforge

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

// Window is the surface-producing collaborator a Swapchain needs: it
// owns platform window state and knows how to hand back a VkSurfaceKHR
// and the instance extensions required to create one. Kept as an
// interface (rather than requiring glfw directly) so a headless
// implementation can back tests without a display.
type Window interface {
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	RequiredInstanceExtensions() []string
	FramebufferSize() (width, height uint32)
	ShouldClose() bool
	PollEvents()
	Destroy()
}

// GlfwWindow wraps a glfw window, grounded on teacher display.go's
// CoreDisplay and test/render_test.go's init sequence (ClientAPI hint set
// to NoAPI since glfw must not create a GL context alongside Vulkan).
type GlfwWindow struct {
	window *glfw.Window
	title  string
}

// InitGlfw must be called once before any GlfwWindow is created; it
// locks the calling goroutine to its OS thread since glfw is not safe to
// call from arbitrary goroutines.
func InitGlfw() error {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("vkforge: glfw init: %w", err)
	}
	return nil
}

// TerminateGlfw releases all glfw state; call once at process shutdown
// after every GlfwWindow has been destroyed.
func TerminateGlfw() {
	glfw.Terminate()
}

// NewGlfwWindow creates a resizable, visible window with no client API
// bound (the Vulkan surface is created separately via CreateSurface).
func NewGlfwWindow(width, height int, title string) (*GlfwWindow, error) {
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	w, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vkforge: create window: %w", err)
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	return &GlfwWindow{window: w, title: title}, nil
}

func (w *GlfwWindow) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ret, err := w.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, fmt.Errorf("vkforge: create window surface: %w", err)
	}
	return vk.SurfaceFromPointer(ret), nil
}

func (w *GlfwWindow) RequiredInstanceExtensions() []string {
	return glfw.GetRequiredInstanceExtensions()
}

func (w *GlfwWindow) FramebufferSize() (uint32, uint32) {
	width, height := w.window.GetFramebufferSize()
	return uint32(width), uint32(height)
}

func (w *GlfwWindow) ShouldClose() bool { return w.window.ShouldClose() }

func (w *GlfwWindow) PollEvents() { glfw.PollEvents() }

func (w *GlfwWindow) Destroy() { w.window.Destroy() }

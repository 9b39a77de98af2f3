package vkforge

import lin "github.com/xlab/linmath"

// VulkanProjectionMat converts an OpenGL-style projection matrix to a
// Vulkan-style one: Vulkan's clip space is top-left with a [0, 1] depth
// range instead of GL's bottom-left [-1, 1] range. linmath only produces
// GL-style projections, so every raster pipeline built against this
// engine's bindless vertex shaders needs this fixup applied once before
// the projection matrix reaches a push constant or uniform buffer.
func VulkanProjectionMat(m *lin.Mat4x4, proj *lin.Mat4x4) {
	m.Fill(1.0)
	m.ScaleAniso(m, 1.0, -1.0, 1.0)
	m.ScaleAniso(m, 1.0, 1.0, 0.5)
	m.Translate(0.0, 0.0, 1.0)
	m.Mult(m, proj)
}

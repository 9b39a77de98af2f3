package vkforge

import (
	"testing"

	lin "github.com/xlab/linmath"
)

func TestVulkanProjectionMatFlipsY(t *testing.T) {
	var proj, out lin.Mat4x4
	proj.Identity()
	VulkanProjectionMat(&out, &proj)

	if out[1][1] >= 0 {
		t.Fatalf("expected Y scale to be flipped negative, got %v", out[1][1])
	}
}

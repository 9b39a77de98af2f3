package vkforge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vkforge/vkforge/shader"
	vk "github.com/vulkan-go/vulkan"
)

type stubCompiler struct{ calls int }

func (s *stubCompiler) Compile(req CompileRequest) ([]byte, error) {
	s.calls++
	return []byte{0x03, 0x02, 0x23, 0x07}, nil
}

func deviceLessDevice(t *testing.T) *Device {
	t.Helper()
	var instance vk.Instance
	d, err := CreateDevice(instance, vk.NullPhysicalDevice, DeviceInfo{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCreateRasterPipelineDeviceLess(t *testing.T) {
	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})

	p, err := compiler.CreateRasterPipeline(RasterPipelineInfo{
		VertexSource:   shader.Source{Inline: "float4 main() : SV_Position { return 0; }"},
		FragmentSource: shader.Source{Inline: "float4 main() : SV_Target { return 0; }"},
		ColorFormats:   []vk.Format{vk.FormatB8g8r8a8Srgb},
	})
	if err != nil {
		t.Fatalf("CreateRasterPipeline: %v", err)
	}
	if p.IsCompute() {
		t.Fatal("raster pipeline reported as compute")
	}
}

func TestCreateRasterPipelineRejectsTooManyAttachments(t *testing.T) {
	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})

	formats := make([]vk.Format, 9)
	for i := range formats {
		formats[i] = vk.FormatB8g8r8a8Srgb
	}
	_, err := compiler.CreateRasterPipeline(RasterPipelineInfo{
		VertexSource:   shader.Source{Inline: "vs"},
		FragmentSource: shader.Source{Inline: "fs"},
		ColorFormats:   formats,
	})
	if err == nil {
		t.Fatal("expected an error for 9 color attachments")
	}
}

func TestCheckIfSourcesChangedDebounces(t *testing.T) {
	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})

	p, err := compiler.CreateComputePipeline(ComputePipelineInfo{
		Source: shader.Source{Inline: "void main() {}"},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}

	if compiler.CheckIfSourcesChanged(p) {
		t.Fatal("first check after creation should see no change yet (nothing to compare against within the window)")
	}
	if compiler.CheckIfSourcesChanged(p) {
		t.Fatal("second check within the 250ms debounce window must return false")
	}
}

func TestCheckIfSourcesChangedUnknownPipelineIsFalse(t *testing.T) {
	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})
	if compiler.CheckIfSourcesChanged(&Pipeline{}) {
		t.Fatal("an untracked pipeline must never report a change")
	}
}

func TestDestroyPipelineStopsTracking(t *testing.T) {
	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})
	p, err := compiler.CreateComputePipeline(ComputePipelineInfo{Source: shader.Source{Inline: "void main() {}"}})
	if err != nil {
		t.Fatal(err)
	}
	compiler.DestroyPipeline(p)
	if compiler.CheckIfSourcesChanged(p) {
		t.Fatal("a destroyed pipeline should no longer be tracked")
	}
}

func TestCheckIfSourcesChangedDetectsARealFileEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shader.hlsl")
	if err := os.WriteFile(path, []byte("void main() {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})

	p, err := compiler.CreateComputePipeline(ComputePipelineInfo{
		Source:    shader.Source{Path: "shader.hlsl"},
		RootPaths: []string{dir},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}

	c := compiler
	c.mu.Lock()
	tracked := c.tracked[p]
	c.mu.Unlock()
	if len(tracked.observations) == 0 {
		t.Fatal("expected the resolved shader path to be recorded in the observation set")
	}

	// Back the debounce window off so the next check actually stats the
	// filesystem instead of short-circuiting on the 250ms window.
	tracked.mu.Lock()
	tracked.lastCheck = time.Time{}
	tracked.mu.Unlock()
	if compiler.CheckIfSourcesChanged(p) {
		t.Fatal("no edit happened yet, expected no change reported")
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("void main() { return; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	tracked.mu.Lock()
	tracked.lastCheck = time.Time{}
	tracked.mu.Unlock()
	if !compiler.CheckIfSourcesChanged(p) {
		t.Fatal("expected the edited shader file to be detected as changed")
	}
}

func TestCreateRasterPipelineIncludeChainIsObserved(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "common.hlsl"), []byte("float4 tint() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	vsPath := filepath.Join(dir, "vertex.hlsl")
	if err := os.WriteFile(vsPath, []byte("#include \"common.hlsl\"\nfloat4 main() : SV_Position { return tint(); }"), 0o644); err != nil {
		t.Fatal(err)
	}
	fsPath := filepath.Join(dir, "fragment.hlsl")
	if err := os.WriteFile(fsPath, []byte("float4 main() : SV_Target { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := deviceLessDevice(t)
	compiler := NewPipelineCompiler(d, &stubCompiler{})
	p, err := compiler.CreateRasterPipeline(RasterPipelineInfo{
		VertexSource:   shader.Source{Path: "vertex.hlsl"},
		FragmentSource: shader.Source{Path: "fragment.hlsl"},
		RootPaths:      []string{dir},
		ColorFormats:   []vk.Format{vk.FormatB8g8r8a8Srgb},
	})
	if err != nil {
		t.Fatalf("CreateRasterPipeline: %v", err)
	}

	compiler.mu.Lock()
	tracked := compiler.tracked[p]
	compiler.mu.Unlock()
	if len(tracked.observations) < 3 {
		t.Fatalf("expected vertex.hlsl, fragment.hlsl, and common.hlsl all observed, got %d entries", len(tracked.observations))
	}
}

func TestProfileNaming(t *testing.T) {
	got := profile(CompileRequest{Stage: shader.StageCompute, ShaderModel: [2]int{6, 2}})
	if got != "cs_6_2" {
		t.Fatalf("profile() = %q, want cs_6_2", got)
	}
}

func TestClampInt(t *testing.T) {
	if clampInt(0, 1, 3) != 1 {
		t.Fatal("clampInt should floor at lo")
	}
	if clampInt(9, 1, 3) != 3 {
		t.Fatal("clampInt should ceil at hi")
	}
	if clampInt(2, 1, 3) != 2 {
		t.Fatal("clampInt should pass through in-range values")
	}
}

package vkforge

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestCpuTimelineAdvanceIsMonotonic(t *testing.T) {
	var c cpuTimeline
	if c.current() != 0 {
		t.Fatalf("expected initial value 0, got %d", c.current())
	}
	if v := c.advance(); v != 1 {
		t.Fatalf("expected first advance() to return 1, got %d", v)
	}
	if v := c.advance(); v != 2 {
		t.Fatalf("expected second advance() to return 2, got %d", v)
	}
	if c.current() != 2 {
		t.Fatalf("expected current() == 2, got %d", c.current())
	}
}

func TestGpuTimelineDeviceLessUsesTestValue(t *testing.T) {
	g, err := newGPUTimeline(vk.NullDevice, 0)
	if err != nil {
		t.Fatal(err)
	}
	v, err := g.value()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected initial test value 0, got %d", v)
	}
	g.testValue = 7
	v, err = g.value()
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Fatalf("expected value() to reflect testValue=7, got %d", v)
	}
	g.destroy()
}

package vkforge

import "testing"

func TestMakeIDRoundTripsSlotAndGeneration(t *testing.T) {
	i := makeID(1234, 56)
	if i.slot() != 1234 {
		t.Fatalf("slot() = %d, want 1234", i.slot())
	}
	if i.generation() != 56 {
		t.Fatalf("generation() = %d, want 56", i.generation())
	}
}

func TestZeroIdsAreEmpty(t *testing.T) {
	if !(BufferId{}).IsEmpty() {
		t.Fatal("zero BufferId should be empty")
	}
	if !(ImageId{}).IsEmpty() {
		t.Fatal("zero ImageId should be empty")
	}
	if !(ImageViewId{}).IsEmpty() {
		t.Fatal("zero ImageViewId should be empty")
	}
	if !(SamplerId{}).IsEmpty() {
		t.Fatal("zero SamplerId should be empty")
	}
}

func TestNonZeroIdIsNotEmpty(t *testing.T) {
	b := BufferId{id: makeID(1, 0)}
	if b.IsEmpty() {
		t.Fatal("a BufferId wrapping slot 1 should not be empty")
	}
}

func TestImageIdDefaultView(t *testing.T) {
	img := ImageId{id: makeID(5, 1), defaultView: 9, defaultViewGeneration: 2}
	view := img.DefaultView()
	if view.id.slot() != 9 || view.id.generation() != 2 {
		t.Fatalf("DefaultView() = %v, want slot=9 generation=2", view)
	}
}

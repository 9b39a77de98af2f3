package vkforge

import vk "github.com/vulkan-go/vulkan"

// BinarySemaphore is a GPU-GPU synchronization primitive returned by
// Device.CreateBinarySemaphore (spec §4.2): used to order a present
// against the command list that wrote the presented image, or to chain
// queue submissions.
type BinarySemaphore struct {
	device  vk.Device
	handle  vk.Semaphore
	name    string
}

func newBinarySemaphore(device vk.Device, name string) (*BinarySemaphore, error) {
	s := &BinarySemaphore{device: device, name: name}
	if device == vk.NullDevice {
		return s, nil
	}
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if isError(ret) {
		return nil, newVkError(ret)
	}
	s.handle = sem
	return s, nil
}

func (s *BinarySemaphore) Name() string { return s.name }

func (s *BinarySemaphore) Destroy() {
	if s.device == vk.NullDevice || s.handle == vk.NullSemaphore {
		return
	}
	vk.DestroySemaphore(s.device, s.handle, nil)
	s.handle = vk.NullSemaphore
}

// TimelineSemaphore is the user-facing handle spec §4.2 returns from
// Device.CreateTimelineSemaphore: a wait-for-N-shaped semaphore distinct
// from the device's own internal gpuTimeline, which tracks submission
// completion rather than user-defined milestones.
type TimelineSemaphore struct {
	device vk.Device
	handle vk.Semaphore
	name   string
}

func newTimelineSemaphore(device vk.Device, initialValue uint64, name string) (*TimelineSemaphore, error) {
	t := &TimelineSemaphore{device: device, name: name}
	if device == vk.NullDevice {
		return t, nil
	}
	g, err := newGPUTimeline(device, initialValue)
	if err != nil {
		return nil, err
	}
	t.handle = g.semaphore
	return t, nil
}

func (t *TimelineSemaphore) Name() string { return t.name }

// Value returns the semaphore's current counter value.
func (t *TimelineSemaphore) Value() (uint64, error) {
	if t.device == vk.NullDevice {
		return 0, nil
	}
	var out uint64
	ret := vk.GetSemaphoreCounterValue(t.device, t.handle, &out)
	if isError(ret) {
		return 0, newVkError(ret)
	}
	return out, nil
}

// SetValue signals the semaphore to value from the host, without a GPU
// submission (VkSemaphoreSignalInfo).
func (t *TimelineSemaphore) SetValue(value uint64) error {
	if t.device == vk.NullDevice {
		return nil
	}
	ret := vk.SignalSemaphore(t.device, &vk.SemaphoreSignalInfo{
		SType:     vk.StructureTypeSemaphoreSignalInfo,
		Semaphore: t.handle,
		Value:     value,
	})
	if isError(ret) {
		return newVkError(ret)
	}
	return nil
}

// Wait blocks the host until the semaphore reaches value or timeoutNs
// nanoseconds elapse.
func (t *TimelineSemaphore) Wait(value uint64, timeoutNs uint64) error {
	if t.device == vk.NullDevice {
		return nil
	}
	semaphores := []vk.Semaphore{t.handle}
	values := []uint64{value}
	ret := vk.WaitSemaphores(t.device, &vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    semaphores,
		PValues:        values,
	}, timeoutNs)
	if isError(ret) {
		return newVkError(ret)
	}
	return nil
}

func (t *TimelineSemaphore) Destroy() {
	if t.device == vk.NullDevice || t.handle == vk.NullSemaphore {
		return
	}
	vk.DestroySemaphore(t.device, t.handle, nil)
	t.handle = vk.NullSemaphore
}

// fenceRecycler hands out fences from a growing-only pool, recycled after
// Reset, rather than creating/destroying one per frame. Ported from the
// teacher's FenceManager (managers.go), fixing its off-by-one slice index
// (it read f.fences[f.count] right after incrementing count, skipping
// index 0 and reading one past the live range on the final fence) and
// adding the missing isError/newVkError wiring this package uses instead
// of the teacher's newError.
type fenceRecycler struct {
	device vk.Device
	fences []vk.Fence
	count  uint32
}

func newFenceRecycler(device vk.Device) *fenceRecycler {
	return &fenceRecycler{device: device}
}

// reset waits for every fence handed out since the last reset, then marks
// the whole pool available again.
func (f *fenceRecycler) reset() error {
	if f.count == 0 {
		return nil
	}
	active := f.fences[:f.count]
	ret := vk.WaitForFences(f.device, f.count, active, vk.True, vk.MaxUint64)
	if isError(ret) {
		return newVkError(ret)
	}
	ret = vk.ResetFences(f.device, f.count, active)
	if isError(ret) {
		return newVkError(ret)
	}
	f.count = 0
	return nil
}

// acquire returns a fence in the unsignaled state, reused from the pool
// when available.
func (f *fenceRecycler) acquire() (vk.Fence, error) {
	if f.count < uint32(len(f.fences)) {
		fence := f.fences[f.count]
		f.count++
		return fence, nil
	}
	var fence vk.Fence
	ret := vk.CreateFence(f.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if isError(ret) {
		return fence, newVkError(ret)
	}
	f.fences = append(f.fences, fence)
	f.count++
	return fence, nil
}

func (f *fenceRecycler) active() []vk.Fence {
	return f.fences[:f.count]
}

func (f *fenceRecycler) destroy() {
	f.reset()
	for _, fence := range f.fences {
		vk.DestroyFence(f.device, fence, nil)
	}
	f.fences = nil
}

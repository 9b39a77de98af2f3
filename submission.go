package vkforge

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// SubmitInfo gathers everything one submit_commands call needs per spec
// §4.4: completed command lists, the user's timeline and binary semaphore
// waits/signals.
type SubmitInfo struct {
	CommandLists []*CommandList

	WaitTimelineSemaphores   []*TimelineSemaphore
	WaitTimelineValues       []uint64
	SignalTimelineSemaphores []*TimelineSemaphore
	SignalTimelineValues     []uint64

	WaitBinarySemaphores   []*BinarySemaphore
	SignalBinarySemaphores []*BinarySemaphore
}

// submitZombie is a completed submission awaiting GPU completion before
// its command lists' deferred-destroy records are honored.
type submitZombie struct {
	timeline     uint64
	commandLists []*CommandList
}

// submitCommands implements spec §4.4 exactly: collect garbage, advance
// the CPU timeline, build one VkSubmitInfo with a
// VkTimelineSemaphoreSubmitInfo in its pNext chain, submit, then record
// the submission as a zombie awaiting GPU completion.
func (d *Device) submitCommands(info SubmitInfo) error {
	d.collectGarbage()

	for _, cl := range info.CommandLists {
		if !cl.isComplete() {
			return newContractError("submit_commands", nil)
		}
	}

	t := d.cpuTimeline.advance()

	signalSemaphores := make([]vk.Semaphore, 0, 1+len(info.SignalTimelineSemaphores)+len(info.SignalBinarySemaphores))
	signalValues := make([]uint64, 0, cap(signalSemaphores))
	signalSemaphores = append(signalSemaphores, d.gpuTimeline.semaphore)
	signalValues = append(signalValues, t)
	for i, s := range info.SignalTimelineSemaphores {
		signalSemaphores = append(signalSemaphores, s.handle)
		signalValues = append(signalValues, info.SignalTimelineValues[i])
	}
	for _, s := range info.SignalBinarySemaphores {
		signalSemaphores = append(signalSemaphores, s.handle)
		signalValues = append(signalValues, 0)
	}

	waitSemaphores := make([]vk.Semaphore, 0, len(info.WaitTimelineSemaphores)+len(info.WaitBinarySemaphores))
	waitValues := make([]uint64, 0, cap(waitSemaphores))
	waitStages := make([]vk.PipelineStageFlags, 0, cap(waitSemaphores))
	for i, s := range info.WaitTimelineSemaphores {
		waitSemaphores = append(waitSemaphores, s.handle)
		waitValues = append(waitValues, info.WaitTimelineValues[i])
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
	}
	for _, s := range info.WaitBinarySemaphores {
		waitSemaphores = append(waitSemaphores, s.handle)
		waitValues = append(waitValues, 0)
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
	}

	commandBuffers := make([]vk.CommandBuffer, len(info.CommandLists))
	for i, cl := range info.CommandLists {
		commandBuffers[i] = cl.buffer
	}

	if d.handle != vk.NullDevice {
		timelineInfo := vk.TimelineSemaphoreSubmitInfo{
			SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
			WaitSemaphoreValueCount:   uint32(len(waitValues)),
			PWaitSemaphoreValues:      waitValues,
			SignalSemaphoreValueCount: uint32(len(signalValues)),
			PSignalSemaphoreValues:    signalValues,
		}
		submit := vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			PNext:                unsafe.Pointer(&timelineInfo),
			WaitSemaphoreCount:   uint32(len(waitSemaphores)),
			PWaitSemaphores:      waitSemaphores,
			PWaitDstStageMask:    waitStages,
			CommandBufferCount:   uint32(len(commandBuffers)),
			PCommandBuffers:      commandBuffers,
			SignalSemaphoreCount: uint32(len(signalSemaphores)),
			PSignalSemaphores:    signalSemaphores,
		}
		ret := vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{submit}, vk.NullFence)
		if isError(ret) {
			return newVkError(ret)
		}
	}

	d.zombiesMu.Lock()
	d.submitZombies = append(d.submitZombies, submitZombie{timeline: t, commandLists: info.CommandLists})
	d.zombiesMu.Unlock()
	return nil
}

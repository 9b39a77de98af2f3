package vkforge

import (
	"fmt"
	"strings"

	vk "github.com/vulkan-go/vulkan"
)

// TaskBufferAccess and TaskImageAccess describe how a task touches a
// virtual resource. Each value carries its own deterministic
// (PipelineStageFlags, AccessFlags) pair and, for images, the ImageLayout
// the resource must be in while the task runs (spec §4.7's access/layout
// derivation tables) — baked directly into the value rather than kept in a
// side table, so "derive the layout for this access" is just a field read.
//
// Named after Daxa's task_list.hpp access enum, trimmed to the accesses
// this engine actually has pipeline stages for.
type TaskBufferAccess struct {
	name     string
	stage    vk.PipelineStageFlags
	access   vk.AccessFlags
	readOnly bool
}

type TaskImageAccess struct {
	name     string
	stage    vk.PipelineStageFlags
	access   vk.AccessFlags
	layout   vk.ImageLayout
	readOnly bool
}

func (a TaskBufferAccess) String() string { return a.name }
func (a TaskImageAccess) String() string  { return a.name }

var (
	TaskBufferNone = TaskBufferAccess{
		name: "NONE", stage: vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), readOnly: true,
	}
	TaskBufferShaderReadOnly = TaskBufferAccess{
		name: "SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), readOnly: true,
	}
	TaskBufferVertexShaderReadOnly = TaskBufferAccess{
		name: "VERTEX_SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), readOnly: true,
	}
	TaskBufferFragmentShaderReadOnly = TaskBufferAccess{
		name: "FRAGMENT_SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), readOnly: true,
	}
	TaskBufferComputeShaderReadOnly = TaskBufferAccess{
		name: "COMPUTE_SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), readOnly: true,
	}
	TaskBufferShaderWriteOnly = TaskBufferAccess{
		name: "SHADER_WRITE_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		access: vk.AccessFlags(vk.AccessShaderWriteBit),
	}
	TaskBufferComputeShaderWriteOnly = TaskBufferAccess{
		name: "COMPUTE_SHADER_WRITE_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		access: vk.AccessFlags(vk.AccessShaderWriteBit),
	}
	TaskBufferShaderReadWrite = TaskBufferAccess{
		name: "SHADER_READ_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		access: vk.AccessFlags(vk.AccessFlagBits(vk.AccessShaderReadBit) | vk.AccessFlagBits(vk.AccessShaderWriteBit)),
	}
	TaskBufferComputeShaderReadWrite = TaskBufferAccess{
		name: "COMPUTE_SHADER_READ_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		access: vk.AccessFlags(vk.AccessFlagBits(vk.AccessShaderReadBit) | vk.AccessFlagBits(vk.AccessShaderWriteBit)),
	}
	TaskBufferTransferRead = TaskBufferAccess{
		name: "TRANSFER_READ", stage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		access: vk.AccessFlags(vk.AccessTransferReadBit), readOnly: true,
	}
	TaskBufferTransferWrite = TaskBufferAccess{
		name: "TRANSFER_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		access: vk.AccessFlags(vk.AccessTransferWriteBit),
	}
	TaskBufferHostTransferRead = TaskBufferAccess{
		name: "HOST_TRANSFER_READ", stage: vk.PipelineStageFlags(vk.PipelineStageHostBit),
		access: vk.AccessFlags(vk.AccessHostReadBit), readOnly: true,
	}
	TaskBufferHostTransferWrite = TaskBufferAccess{
		name: "HOST_TRANSFER_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageHostBit),
		access: vk.AccessFlags(vk.AccessHostWriteBit),
	}
)

var (
	TaskImageNone = TaskImageAccess{
		name: "NONE", stage: vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		layout: vk.ImageLayoutUndefined, readOnly: true,
	}
	TaskImageShaderReadOnly = TaskImageAccess{
		name: "SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), layout: vk.ImageLayoutShaderReadOnlyOptimal, readOnly: true,
	}
	TaskImageFragmentShaderReadOnly = TaskImageAccess{
		name: "FRAGMENT_SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), layout: vk.ImageLayoutShaderReadOnlyOptimal, readOnly: true,
	}
	TaskImageComputeShaderReadOnly = TaskImageAccess{
		name: "COMPUTE_SHADER_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		access: vk.AccessFlags(vk.AccessShaderReadBit), layout: vk.ImageLayoutShaderReadOnlyOptimal, readOnly: true,
	}
	TaskImageShaderWriteOnly = TaskImageAccess{
		name: "SHADER_WRITE_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		access: vk.AccessFlags(vk.AccessShaderWriteBit), layout: vk.ImageLayoutGeneral,
	}
	TaskImageComputeShaderWriteOnly = TaskImageAccess{
		name: "COMPUTE_SHADER_WRITE_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		access: vk.AccessFlags(vk.AccessShaderWriteBit), layout: vk.ImageLayoutGeneral,
	}
	TaskImageShaderReadWrite = TaskImageAccess{
		name: "SHADER_READ_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		access: vk.AccessFlags(vk.AccessFlagBits(vk.AccessShaderReadBit) | vk.AccessFlagBits(vk.AccessShaderWriteBit)),
		layout: vk.ImageLayoutGeneral,
	}
	TaskImageComputeShaderReadWrite = TaskImageAccess{
		name: "COMPUTE_SHADER_READ_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		access: vk.AccessFlags(vk.AccessFlagBits(vk.AccessShaderReadBit) | vk.AccessFlagBits(vk.AccessShaderWriteBit)),
		layout: vk.ImageLayoutGeneral,
	}
	TaskImageTransferRead = TaskImageAccess{
		name: "TRANSFER_READ", stage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		access: vk.AccessFlags(vk.AccessTransferReadBit), layout: vk.ImageLayoutTransferSrcOptimal, readOnly: true,
	}
	TaskImageTransferWrite = TaskImageAccess{
		name: "TRANSFER_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		access: vk.AccessFlags(vk.AccessTransferWriteBit), layout: vk.ImageLayoutTransferDstOptimal,
	}
	TaskImageColorAttachment = TaskImageAccess{
		name: "COLOR_ATTACHMENT", stage: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		access: vk.AccessFlags(vk.AccessFlagBits(vk.AccessColorAttachmentReadBit) | vk.AccessFlagBits(vk.AccessColorAttachmentWriteBit)),
		layout: vk.ImageLayoutColorAttachmentOptimal,
	}
	TaskImageColorAttachmentReadOnly = TaskImageAccess{
		name: "COLOR_ATTACHMENT_READ_ONLY", stage: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		access: vk.AccessFlags(vk.AccessColorAttachmentReadBit), layout: vk.ImageLayoutColorAttachmentOptimal, readOnly: true,
	}
	TaskImageDepthStencilAttachment = TaskImageAccess{
		name:  "DEPTH_STENCIL_ATTACHMENT",
		stage: vk.PipelineStageFlags(vk.PipelineStageFlagBits(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlagBits(vk.PipelineStageLateFragmentTestsBit)),
		access: vk.AccessFlags(vk.AccessFlagBits(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlagBits(vk.AccessDepthStencilAttachmentWriteBit)),
		layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	TaskImageDepthStencilAttachmentReadOnly = TaskImageAccess{
		name:  "DEPTH_STENCIL_ATTACHMENT_READ_ONLY",
		stage: vk.PipelineStageFlags(vk.PipelineStageFlagBits(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlagBits(vk.PipelineStageLateFragmentTestsBit)),
		access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit), layout: vk.ImageLayoutDepthStencilReadOnlyOptimal, readOnly: true,
	}
	TaskImageResolveWrite = TaskImageAccess{
		name: "RESOLVE_WRITE", stage: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit), layout: vk.ImageLayoutColorAttachmentOptimal,
	}
	TaskImagePresent = TaskImageAccess{
		name: "PRESENT", stage: vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		layout: vk.ImageLayoutPresentSrc, readOnly: true,
	}
)

// TaskBufferId and TaskImageId name virtual resources within a TaskList:
// the concrete BufferId/ImageId behind one may change from run to run (a
// double-buffered upload buffer, the current swapchain image), resolved
// only at Execute time through the fetch callback given at creation. The
// zero value names no resource, matching the id.IsEmpty() convention used
// by the concrete ids in ids.go.
type TaskBufferId struct{ index uint32 }
type TaskImageId struct{ index uint32 }

func (t TaskBufferId) IsEmpty() bool { return t.index == 0 }
func (t TaskImageId) IsEmpty() bool  { return t.index == 0 }

// FetchBuffer and FetchImage resolve a virtual task resource to the
// concrete id backing it for the run about to execute.
type FetchBuffer func() (BufferId, error)
type FetchImage func() (ImageId, error)

// TaskBufferInfo and TaskImageInfo declare a virtual resource, per spec
// §4.7's TaskBufferInfo/TaskImageInfo.
type TaskBufferInfo struct {
	Fetch FetchBuffer
	Name  string
}

type TaskImageInfo struct {
	Fetch FetchImage
	Name  string
}

type taskBufferState struct {
	info       TaskBufferInfo
	lastAccess TaskBufferAccess
}

type taskImageState struct {
	info       TaskImageInfo
	lastAccess TaskImageAccess
	lastLayout vk.ImageLayout
}

// TaskBufferUse and TaskImageUse are one task's declared access to one
// virtual resource (spec §4.7's per-task resource declarations).
type TaskBufferUse struct {
	Buffer TaskBufferId
	Access TaskBufferAccess
}

type TaskImageUse struct {
	Image  TaskImageId
	Access TaskImageAccess
}

// TaskInterface is handed to a TaskCallback at execution time: it carries
// the command list to record into and resolves the task's declared
// virtual ids to the concrete ids fetched for this run. imageLayouts holds
// the layout Compile() guaranteed each image is in for the task currently
// running — the layout its own TaskImageUse declared, not a guess — so a
// callback never has to ask the resource table for a resource's "current"
// layout (the resource table doesn't track one; the task graph does).
type TaskInterface struct {
	cmd          *CommandList
	device       *Device
	buffers      map[TaskBufferId]BufferId
	images       map[TaskImageId]ImageId
	imageLayouts map[TaskImageId]vk.ImageLayout
}

func (ti *TaskInterface) CommandList() *CommandList { return ti.cmd }
func (ti *TaskInterface) Device() *Device            { return ti.device }
func (ti *TaskInterface) Buffer(id TaskBufferId) BufferId { return ti.buffers[id] }
func (ti *TaskInterface) Image(id TaskImageId) ImageId    { return ti.images[id] }

// ImageLayout returns the layout id's task image is guaranteed to be in
// for the task currently executing, per that task's own declared
// TaskImageUse (spec §4.7's batch-linearization barriers always leave the
// resource in exactly this layout before the task runs).
func (ti *TaskInterface) ImageLayout(id TaskImageId) vk.ImageLayout {
	return ti.imageLayouts[id]
}

type TaskCallback func(*TaskInterface) error

// TaskInfo declares one task: the resources it touches and the callback
// that records its commands, per spec §4.7.
type TaskInfo struct {
	Buffers []TaskBufferUse
	Images  []TaskImageUse
	Task    TaskCallback
	Name    string
}

type taskNode struct {
	info TaskInfo
}

// imageTransition is one image's layout change folded into a batch's
// incoming barrier.
type imageTransition struct {
	image                TaskImageId
	oldLayout, newLayout vk.ImageLayout
	srcStage, dstStage   vk.PipelineStageFlags
	srcAccess, dstAccess vk.AccessFlags
}

// taskBatch is a run of tasks that can record back-to-back with no
// synchronization between them, preceded by a single aggregated barrier
// (spec §4.7's batch-linearization algorithm).
type taskBatch struct {
	tasks            []int
	srcStage         vk.PipelineStageFlags
	dstStage         vk.PipelineStageFlags
	srcAccess        vk.AccessFlags
	dstAccess        vk.AccessFlags
	imageTransitions []imageTransition
	hasBarrier       bool
}

// TaskListInfo names a TaskList, per spec §4.7.
type TaskListInfo struct {
	Name string
}

// TaskCopyImageInfo and TaskImageClearInfo parameterize the built-in sugar
// tasks AddCopyImageToImage/AddClearImage (spec §4.7).
type TaskCopyImageInfo struct {
	Src, Dst TaskImageId
	Extent   vk.Extent3D
}

type TaskImageClearInfo struct {
	Image TaskImageId
	Color vk.ClearColorValue
}

// TaskList records a sequence of declared tasks against virtual buffer and
// image resources, compiles them into synchronization batches, and
// replays those batches against real command lists on each Execute call.
// Has no teacher counterpart; built new per spec §4.7, grounded on Daxa's
// include/daxa/utils/task_list.hpp for its resource/task/batch shapes.
type TaskList struct {
	device *Device
	name   string

	buffers []taskBufferState
	images  []taskImageState
	tasks   []taskNode

	batches  []taskBatch
	compiled bool

	commandLists []*CommandList
}

// NewTaskList creates an empty task list bound to device.
func NewTaskList(device *Device, info TaskListInfo) *TaskList {
	return &TaskList{
		device: device,
		name:   info.Name,
		// index 0 is reserved so the zero TaskBufferId/TaskImageId means
		// "no resource", matching the rest of the id scheme.
		buffers: make([]taskBufferState, 1),
		images:  make([]taskImageState, 1),
	}
}

// CreateTaskBuffer declares a new virtual buffer resource.
func (tl *TaskList) CreateTaskBuffer(info TaskBufferInfo) TaskBufferId {
	tl.buffers = append(tl.buffers, taskBufferState{info: info, lastAccess: TaskBufferNone})
	tl.compiled = false
	return TaskBufferId{index: uint32(len(tl.buffers) - 1)}
}

// CreateTaskImage declares a new virtual image resource.
func (tl *TaskList) CreateTaskImage(info TaskImageInfo) TaskImageId {
	tl.images = append(tl.images, taskImageState{info: info, lastAccess: TaskImageNone, lastLayout: vk.ImageLayoutUndefined})
	tl.compiled = false
	return TaskImageId{index: uint32(len(tl.images) - 1)}
}

// AddTask appends a declared task. Declaring the same buffer or image
// more than once within a single task is rejected: the batch compiler
// needs exactly one access per resource per task to reason about ordering
// within that task, and two conflicting declarations on the same
// resource in the same task cannot both be honored with a single layout
// and a single set of access flags.
func (tl *TaskList) AddTask(info TaskInfo) error {
	seenBuffers := make(map[TaskBufferId]bool, len(info.Buffers))
	for _, use := range info.Buffers {
		if use.Buffer.IsEmpty() || int(use.Buffer.index) >= len(tl.buffers) {
			return newContractError("AddTask", fmt.Errorf("unknown task buffer %v", use.Buffer))
		}
		if seenBuffers[use.Buffer] {
			return newContractError("AddTask", fmt.Errorf("buffer %v declared more than once in task %q", use.Buffer, info.Name))
		}
		seenBuffers[use.Buffer] = true
	}
	seenImages := make(map[TaskImageId]bool, len(info.Images))
	for _, use := range info.Images {
		if use.Image.IsEmpty() || int(use.Image.index) >= len(tl.images) {
			return newContractError("AddTask", fmt.Errorf("unknown task image %v", use.Image))
		}
		if seenImages[use.Image] {
			return newContractError("AddTask", fmt.Errorf("image %v declared more than once in task %q", use.Image, info.Name))
		}
		seenImages[use.Image] = true
	}
	if info.Task == nil {
		return newContractError("AddTask", fmt.Errorf("task %q has no callback", info.Name))
	}
	tl.tasks = append(tl.tasks, taskNode{info: info})
	tl.compiled = false
	return nil
}

// AddCopyImageToImage adds a built-in task that copies src to dst,
// declaring TRANSFER_READ on src and TRANSFER_WRITE on dst.
func (tl *TaskList) AddCopyImageToImage(info TaskCopyImageInfo) error {
	return tl.AddTask(TaskInfo{
		Name: "copy_image_to_image",
		Images: []TaskImageUse{
			{Image: info.Src, Access: TaskImageTransferRead},
			{Image: info.Dst, Access: TaskImageTransferWrite},
		},
		Task: func(ti *TaskInterface) error {
			src := ti.Image(info.Src)
			dst := ti.Image(info.Dst)
			srcHandle, err := ti.device.rawImage(src)
			if err != nil {
				return err
			}
			dstHandle, err := ti.device.rawImage(dst)
			if err != nil {
				return err
			}
			srcLayout := ti.ImageLayout(info.Src)
			dstLayout := ti.ImageLayout(info.Dst)
			region := vk.ImageCopy{
				SrcSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
				DstSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
				Extent:         info.Extent,
			}
			return ti.cmd.CopyImageToImage(srcHandle, srcLayout, dstHandle, dstLayout, region)
		},
	})
}

// AddClearImage adds a built-in task that clears image to color,
// declaring TRANSFER_WRITE on it.
func (tl *TaskList) AddClearImage(info TaskImageClearInfo) error {
	return tl.AddTask(TaskInfo{
		Name:   "clear_image",
		Images: []TaskImageUse{{Image: info.Image, Access: TaskImageTransferWrite}},
		Task: func(ti *TaskInterface) error {
			img := ti.Image(info.Image)
			handle, err := ti.device.rawImage(img)
			if err != nil {
				return err
			}
			return ti.cmd.ClearColorImage(handle, ti.ImageLayout(info.Image), info.Color)
		},
	})
}

// LastAccess returns the access a virtual buffer was left in by the most
// recently compiled batch plan.
func (tl *TaskList) LastAccess(id TaskBufferId) TaskBufferAccess {
	if id.IsEmpty() || int(id.index) >= len(tl.buffers) {
		return TaskBufferNone
	}
	return tl.buffers[id.index].lastAccess
}

// ImageLastAccess and LastLayout return the access/layout a virtual image was
// left in by the most recently compiled batch plan.
func (tl *TaskList) ImageLastAccess(id TaskImageId) TaskImageAccess {
	if id.IsEmpty() || int(id.index) >= len(tl.images) {
		return TaskImageNone
	}
	return tl.images[id.index].lastAccess
}

func (tl *TaskList) LastLayout(id TaskImageId) vk.ImageLayout {
	if id.IsEmpty() || int(id.index) >= len(tl.images) {
		return vk.ImageLayoutUndefined
	}
	return tl.images[id.index].lastLayout
}

// Compile runs the batch-linearization algorithm over every declared task
// in declaration order (spec §4.7):
//
// For each task T's declared access A on a resource whose prior recorded
// access is A', A joins the current batch when A' and A are both
// read-only, target the same pipeline stage, and — for images — A's
// derived layout equals the resource's recorded layout. Otherwise T
// starts a new batch, and the transition from A' to A contributes to
// that batch's incoming barrier. A barrier aggregates the union of every
// contributing transition's source stages/accesses and the union of
// every contributing transition's destination stages/accesses. After T
// is placed, every resource it touches has its recorded access (and, for
// images, layout) updated to what T declared.
func (tl *TaskList) Compile() error {
	for i := range tl.buffers {
		tl.buffers[i].lastAccess = TaskBufferNone
	}
	for i := range tl.images {
		tl.images[i].lastAccess = TaskImageNone
		tl.images[i].lastLayout = vk.ImageLayoutUndefined
	}

	tl.batches = tl.batches[:0]
	currentBatch := -1

	for taskIdx, node := range tl.tasks {
		needsNewBatch := currentBatch < 0
		var transitions []imageTransition
		var bufferBarrierNeeded bool
		var bSrcStage, bDstStage vk.PipelineStageFlags
		var bSrcAccess, bDstAccess vk.AccessFlags

		for _, use := range node.info.Buffers {
			old := tl.buffers[use.Buffer.index].lastAccess
			compatible := old.readOnly && use.Access.readOnly && old.stage == use.Access.stage
			if !compatible {
				needsNewBatch = true
				bufferBarrierNeeded = true
				bSrcStage |= old.stage
				bDstStage |= use.Access.stage
				bSrcAccess |= old.access
				bDstAccess |= use.Access.access
			}
		}
		for _, use := range node.info.Images {
			old := tl.images[use.Image.index]
			compatible := old.lastAccess.readOnly && use.Access.readOnly &&
				old.lastAccess.stage == use.Access.stage && old.lastLayout == use.Access.layout
			if !compatible {
				needsNewBatch = true
				transitions = append(transitions, imageTransition{
					image:     use.Image,
					oldLayout: old.lastLayout,
					newLayout: use.Access.layout,
					srcStage:  old.lastAccess.stage,
					dstStage:  use.Access.stage,
					srcAccess: old.lastAccess.access,
					dstAccess: use.Access.access,
				})
			}
		}

		if needsNewBatch {
			batch := taskBatch{imageTransitions: transitions}
			if bufferBarrierNeeded || len(transitions) > 0 {
				batch.hasBarrier = true
				batch.srcStage, batch.dstStage = bSrcStage, bDstStage
				batch.srcAccess, batch.dstAccess = bSrcAccess, bDstAccess
				for _, tr := range transitions {
					batch.srcStage |= tr.srcStage
					batch.dstStage |= tr.dstStage
					batch.srcAccess |= tr.srcAccess
					batch.dstAccess |= tr.dstAccess
				}
			}
			tl.batches = append(tl.batches, batch)
			currentBatch++
		}
		tl.batches[currentBatch].tasks = append(tl.batches[currentBatch].tasks, taskIdx)

		for _, use := range node.info.Buffers {
			tl.buffers[use.Buffer.index].lastAccess = use.Access
		}
		for _, use := range node.info.Images {
			tl.images[use.Image.index].lastAccess = use.Access
			tl.images[use.Image.index].lastLayout = use.Access.layout
		}
	}

	tl.compiled = true
	return nil
}

// Execute replays the compiled batch plan into fresh command lists,
// resolving every declared virtual resource through its fetch callback
// once per call (spec §4.7: "a task list is compiled once and executed
// once per frame"). Returns the command lists it recorded into, ready to
// be handed to Device.SubmitCommands by the caller.
func (tl *TaskList) Execute() ([]*CommandList, error) {
	if !tl.compiled {
		if err := tl.Compile(); err != nil {
			return nil, err
		}
	}

	resolvedBuffers := make(map[TaskBufferId]BufferId, len(tl.buffers))
	for i := 1; i < len(tl.buffers); i++ {
		tbid := TaskBufferId{index: uint32(i)}
		fetch := tl.buffers[i].info.Fetch
		if fetch == nil {
			continue
		}
		bid, err := fetch()
		if err != nil {
			return nil, fmt.Errorf("vkforge: fetch task buffer %q: %w", tl.buffers[i].info.Name, err)
		}
		resolvedBuffers[tbid] = bid
	}
	resolvedImages := make(map[TaskImageId]ImageId, len(tl.images))
	for i := 1; i < len(tl.images); i++ {
		tiid := TaskImageId{index: uint32(i)}
		fetch := tl.images[i].info.Fetch
		if fetch == nil {
			continue
		}
		iid, err := fetch()
		if err != nil {
			return nil, fmt.Errorf("vkforge: fetch task image %q: %w", tl.images[i].info.Name, err)
		}
		resolvedImages[tiid] = iid
	}

	cmd, err := tl.device.CreateCommandList()
	if err != nil {
		return nil, err
	}
	ti := &TaskInterface{cmd: cmd, device: tl.device, buffers: resolvedBuffers, images: resolvedImages}

	for _, batch := range tl.batches {
		if batch.hasBarrier {
			for _, tr := range batch.imageTransitions {
				iid, ok := resolvedImages[tr.image]
				if !ok {
					continue
				}
				handle, err := tl.device.rawImage(iid)
				if err != nil {
					return nil, err
				}
				info, err := tl.device.InfoImage(iid)
				if err != nil {
					return nil, err
				}
				if err := cmd.TransitionImageLayout(handle, aspectFor(info.Format), tr.oldLayout, tr.newLayout, tr.srcStage, tr.dstStage); err != nil {
					return nil, err
				}
			}
			if batch.srcAccess != 0 || batch.dstAccess != 0 {
				if err := cmd.PipelineBarrier(batch.srcStage, batch.dstStage, vk.MemoryBarrier{
					SType:         vk.StructureTypeMemoryBarrier,
					SrcAccessMask: batch.srcAccess,
					DstAccessMask: batch.dstAccess,
				}); err != nil {
					return nil, err
				}
			}
		}
		for _, taskIdx := range batch.tasks {
			node := tl.tasks[taskIdx].info
			layouts := make(map[TaskImageId]vk.ImageLayout, len(node.Images))
			for _, use := range node.Images {
				layouts[use.Image] = use.Access.layout
			}
			ti.imageLayouts = layouts
			if err := node.Task(ti); err != nil {
				return nil, fmt.Errorf("vkforge: task %q: %w", node.Name, err)
			}
		}
	}

	if err := cmd.Complete(); err != nil {
		return nil, err
	}
	tl.commandLists = []*CommandList{cmd}
	return tl.commandLists, nil
}

// CommandLists returns the command lists recorded by the most recent
// Execute call, as a member distinct from Execute per spec §4.7's
// TaskList.command_lists/execute split.
func (tl *TaskList) CommandLists() []*CommandList {
	return tl.commandLists
}

// OutputGraphviz renders the compiled batch plan as a Graphviz digraph,
// grouping tasks into subgraphs per batch and noting each batch's
// aggregated barrier, for visual debugging (spec §4.7).
func (tl *TaskList) OutputGraphviz() string {
	var b strings.Builder
	b.WriteString("digraph task_list {\n")
	for bi, batch := range tl.batches {
		fmt.Fprintf(&b, "  subgraph cluster_batch_%d {\n", bi)
		fmt.Fprintf(&b, "    label=\"batch %d\";\n", bi)
		if batch.hasBarrier {
			fmt.Fprintf(&b, "    label=\"batch %d (barrier: src=0x%x dst=0x%x)\";\n", bi, batch.srcAccess, batch.dstAccess)
		}
		for _, taskIdx := range batch.tasks {
			name := tl.tasks[taskIdx].info.Name
			if name == "" {
				name = fmt.Sprintf("task_%d", taskIdx)
			}
			fmt.Fprintf(&b, "    %q;\n", name)
		}
		b.WriteString("  }\n")
	}
	for bi := 1; bi < len(tl.batches); bi++ {
		for _, prevIdx := range tl.batches[bi-1].tasks {
			for _, curIdx := range tl.batches[bi].tasks {
				fmt.Fprintf(&b, "  %q -> %q;\n", taskName(tl.tasks[prevIdx].info, prevIdx), taskName(tl.tasks[curIdx].info, curIdx))
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func taskName(info TaskInfo, idx int) string {
	if info.Name != "" {
		return info.Name
	}
	return fmt.Sprintf("task_%d", idx)
}

// rawImage returns the underlying vk.Image handle for id, for task
// callbacks and Execute's own barrier recording that need to hand a real
// handle to a CommandList recording method. It never reports a layout: the
// task graph is the sole authority on a task image's current layout
// (TaskInterface.ImageLayout, or a batch's own recorded imageTransition),
// since the resource table doesn't track one itself.
func (d *Device) rawImage(id ImageId) (vk.Image, error) {
	slot, ok := d.resources.images.dereference(id.id)
	if !ok {
		return vk.NullImage, newContractError("rawImage", fmt.Errorf("stale or unknown image id %v", id))
	}
	return slot.handle, nil
}

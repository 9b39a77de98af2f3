package vkforge

import (
	"strings"
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func taskDevice(t *testing.T) *Device {
	t.Helper()
	var instance vk.Instance
	d, err := CreateDevice(instance, vk.NullPhysicalDevice, DeviceInfo{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestTaskListEmptyCompilesAndExecutes(t *testing.T) {
	tl := NewTaskList(taskDevice(t), TaskListInfo{Name: "empty"})
	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	if len(tl.batches) != 0 {
		t.Fatalf("expected zero batches for an empty task list, got %d", len(tl.batches))
	}
	lists, err := tl.Execute()
	if err != nil {
		t.Fatal(err)
	}
	if len(lists) != 1 {
		t.Fatalf("expected exactly one command list, got %d", len(lists))
	}
}

func TestTaskListTwoTrivialTasksJoinOneBatch(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	buf := tl.CreateTaskBuffer(TaskBufferInfo{Name: "scratch", Fetch: func() (BufferId, error) {
		return d.CreateBuffer(BufferInfo{Size: 64})
	}})

	ran := 0
	task := func(ti *TaskInterface) error { ran++; return nil }

	if err := tl.AddTask(TaskInfo{
		Name:    "a",
		Buffers: []TaskBufferUse{{Buffer: buf, Access: TaskBufferShaderReadOnly}},
		Task:    task,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tl.AddTask(TaskInfo{
		Name:    "b",
		Buffers: []TaskBufferUse{{Buffer: buf, Access: TaskBufferShaderReadOnly}},
		Task:    task,
	}); err != nil {
		t.Fatal(err)
	}

	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	if len(tl.batches) != 1 {
		t.Fatalf("two read-only same-stage accesses should share one batch, got %d batches", len(tl.batches))
	}
	if len(tl.batches[0].tasks) != 2 {
		t.Fatalf("expected both tasks in the single batch, got %d", len(tl.batches[0].tasks))
	}

	if _, err := tl.Execute(); err != nil {
		t.Fatal(err)
	}
	if ran != 2 {
		t.Fatalf("expected both task callbacks invoked once, got %d", ran)
	}
}

func TestTaskListWriteThenReadSplitsIntoTwoBatches(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	buf := tl.CreateTaskBuffer(TaskBufferInfo{Name: "storage", Fetch: func() (BufferId, error) {
		return d.CreateBuffer(BufferInfo{Size: 64})
	}})

	if err := tl.AddTask(TaskInfo{
		Name:    "producer",
		Buffers: []TaskBufferUse{{Buffer: buf, Access: TaskBufferComputeShaderWriteOnly}},
		Task:    func(ti *TaskInterface) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}
	if err := tl.AddTask(TaskInfo{
		Name:    "consumer",
		Buffers: []TaskBufferUse{{Buffer: buf, Access: TaskBufferComputeShaderReadOnly}},
		Task:    func(ti *TaskInterface) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}

	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	if len(tl.batches) != 2 {
		t.Fatalf("write-then-read must force a new batch, got %d batches", len(tl.batches))
	}
	second := tl.batches[1]
	if !second.hasBarrier {
		t.Fatal("expected the second batch to carry a barrier")
	}
	if second.srcStage&vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit) == 0 {
		t.Fatalf("expected src stage to include COMPUTE_SHADER, got 0x%x", second.srcStage)
	}
	if second.dstAccess&vk.AccessFlags(vk.AccessShaderReadBit) == 0 {
		t.Fatalf("expected dst access to include SHADER_READ, got 0x%x", second.dstAccess)
	}
}

func TestTaskListImageUploadRequiresLayoutTransition(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	img := tl.CreateTaskImage(TaskImageInfo{Name: "upload target", Fetch: func() (ImageId, error) {
		return d.CreateImage(ImageInfo{Extent: vk.Extent3D{Width: 4, Height: 4, Depth: 1}, Format: vk.FormatR8g8b8a8Unorm, MipLevels: 1, ArrayLayers: 1})
	}})

	if err := tl.AddTask(TaskInfo{
		Name:   "upload",
		Images: []TaskImageUse{{Image: img, Access: TaskImageTransferWrite}},
		Task:   func(ti *TaskInterface) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}
	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	if len(tl.batches) != 1 {
		t.Fatalf("expected a single batch for one task, got %d", len(tl.batches))
	}
	if !tl.batches[0].hasBarrier {
		t.Fatal("first use of an image still needs an UNDEFINED -> TRANSFER_DST_OPTIMAL layout transition")
	}
	if tl.LastLayout(img) != vk.ImageLayoutTransferDstOptimal {
		t.Fatalf("expected final layout TRANSFER_DST_OPTIMAL, got %v", tl.LastLayout(img))
	}
}

func TestTaskInterfaceImageLayoutMatchesDeclaredAccessNotAGuess(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	img := tl.CreateTaskImage(TaskImageInfo{Fetch: func() (ImageId, error) {
		return d.CreateImage(ImageInfo{Extent: vk.Extent3D{Width: 2, Height: 2, Depth: 1}, Format: vk.FormatR8g8b8a8Unorm, MipLevels: 1, ArrayLayers: 1})
	}})

	var observed vk.ImageLayout
	if err := tl.AddTask(TaskInfo{
		Name:   "writer",
		Images: []TaskImageUse{{Image: img, Access: TaskImageTransferWrite}},
		Task: func(ti *TaskInterface) error {
			observed = ti.ImageLayout(img)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Execute(); err != nil {
		t.Fatal(err)
	}
	if observed != vk.ImageLayoutTransferDstOptimal {
		t.Fatalf("expected the task to observe TRANSFER_DST_OPTIMAL (its own declared access), got %v", observed)
	}
	if observed == vk.ImageLayoutGeneral {
		t.Fatal("task observed the old hardcoded GENERAL guess instead of its declared layout")
	}
}

func TestTaskListCommandListsAccessorMatchesExecuteResult(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	if tl.CommandLists() != nil {
		t.Fatal("expected CommandLists to be empty before the first Execute")
	}
	lists, err := tl.Execute()
	if err != nil {
		t.Fatal(err)
	}
	if len(tl.CommandLists()) != len(lists) {
		t.Fatalf("expected CommandLists() to mirror Execute's return, got %d vs %d", len(tl.CommandLists()), len(lists))
	}
}

func TestTaskListRejectsDuplicateResourceInOneTask(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	buf := tl.CreateTaskBuffer(TaskBufferInfo{Fetch: func() (BufferId, error) { return d.CreateBuffer(BufferInfo{Size: 4}) }})

	err := tl.AddTask(TaskInfo{
		Name: "conflicting",
		Buffers: []TaskBufferUse{
			{Buffer: buf, Access: TaskBufferShaderReadOnly},
			{Buffer: buf, Access: TaskBufferShaderWriteOnly},
		},
		Task: func(ti *TaskInterface) error { return nil },
	})
	if err == nil {
		t.Fatal("expected an error declaring the same buffer twice in one task")
	}
	if _, ok := err.(*ContractError); !ok {
		t.Fatalf("expected a *ContractError, got %T", err)
	}
}

func TestTaskListUnknownResourceRejected(t *testing.T) {
	tl := NewTaskList(taskDevice(t), TaskListInfo{})
	err := tl.AddTask(TaskInfo{
		Buffers: []TaskBufferUse{{Buffer: TaskBufferId{}, Access: TaskBufferShaderReadOnly}},
		Task:    func(ti *TaskInterface) error { return nil },
	})
	if err == nil {
		t.Fatal("expected an error for the empty/unknown task buffer id")
	}
}

func TestTaskListAddClearImageDeclaresTransferWrite(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	img := tl.CreateTaskImage(TaskImageInfo{Fetch: func() (ImageId, error) {
		return d.CreateImage(ImageInfo{Extent: vk.Extent3D{Width: 2, Height: 2, Depth: 1}, Format: vk.FormatR8g8b8a8Unorm, MipLevels: 1, ArrayLayers: 1})
	}})
	if err := tl.AddClearImage(TaskImageClearInfo{Image: img}); err != nil {
		t.Fatal(err)
	}
	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	if tl.ImageLastAccess(img) != TaskImageTransferWrite {
		t.Fatalf("expected last access TRANSFER_WRITE after AddClearImage, got %v", tl.ImageLastAccess(img))
	}
	if _, err := tl.Execute(); err != nil {
		t.Fatal(err)
	}
}

func TestTaskListAddCopyImageToImageDeclaresReadAndWrite(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	newImg := func() (ImageId, error) {
		return d.CreateImage(ImageInfo{Extent: vk.Extent3D{Width: 2, Height: 2, Depth: 1}, Format: vk.FormatR8g8b8a8Unorm, MipLevels: 1, ArrayLayers: 1})
	}
	src := tl.CreateTaskImage(TaskImageInfo{Fetch: newImg})
	dst := tl.CreateTaskImage(TaskImageInfo{Fetch: newImg})

	if err := tl.AddCopyImageToImage(TaskCopyImageInfo{Src: src, Dst: dst, Extent: vk.Extent3D{Width: 2, Height: 2, Depth: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	if tl.ImageLastAccess(src) != TaskImageTransferRead {
		t.Fatalf("expected src last access TRANSFER_READ, got %v", tl.ImageLastAccess(src))
	}
	if tl.ImageLastAccess(dst) != TaskImageTransferWrite {
		t.Fatalf("expected dst last access TRANSFER_WRITE, got %v", tl.ImageLastAccess(dst))
	}
}

func TestTaskListOutputGraphvizNamesEveryTask(t *testing.T) {
	d := taskDevice(t)
	tl := NewTaskList(d, TaskListInfo{})
	buf := tl.CreateTaskBuffer(TaskBufferInfo{Fetch: func() (BufferId, error) { return d.CreateBuffer(BufferInfo{Size: 4}) }})
	if err := tl.AddTask(TaskInfo{
		Name:    "only",
		Buffers: []TaskBufferUse{{Buffer: buf, Access: TaskBufferShaderReadOnly}},
		Task:    func(ti *TaskInterface) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}
	if err := tl.Compile(); err != nil {
		t.Fatal(err)
	}
	out := tl.OutputGraphviz()
	if !strings.Contains(out, "digraph task_list") {
		t.Fatalf("expected a digraph header, got:\n%s", out)
	}
	if !strings.Contains(out, `"only"`) {
		t.Fatalf("expected task name \"only\" in output, got:\n%s", out)
	}
}

func TestTaskImageAccessLayoutDerivation(t *testing.T) {
	cases := []struct {
		access TaskImageAccess
		layout vk.ImageLayout
	}{
		{TaskImageShaderReadOnly, vk.ImageLayoutShaderReadOnlyOptimal},
		{TaskImageColorAttachment, vk.ImageLayoutColorAttachmentOptimal},
		{TaskImageTransferRead, vk.ImageLayoutTransferSrcOptimal},
		{TaskImagePresent, vk.ImageLayoutPresentSrc},
		{TaskImageNone, vk.ImageLayoutUndefined},
	}
	for _, c := range cases {
		if c.access.layout != c.layout {
			t.Fatalf("%s: expected layout %v, got %v", c.access.name, c.layout, c.access.layout)
		}
	}
}

func TestTaskBufferAccessReadWriteMapsBothBits(t *testing.T) {
	a := TaskBufferShaderReadWrite
	if a.access&vk.AccessFlags(vk.AccessShaderReadBit) == 0 {
		t.Fatal("expected read bit set")
	}
	if a.access&vk.AccessFlags(vk.AccessShaderWriteBit) == 0 {
		t.Fatal("expected write bit set")
	}
	if a.readOnly {
		t.Fatal("read-write access must not be marked read-only")
	}
}

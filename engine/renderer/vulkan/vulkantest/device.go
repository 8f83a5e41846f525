// Package vulkantest provides an in-memory Device for exercising the frame
// core without a GPU. Every call is logged so tests can assert on command
// sequences, and any operation can be made to fail.
package vulkantest

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
)

const (
	OpCreateCommandPool       = "CreateCommandPool"
	OpResetCommandPool        = "ResetCommandPool"
	OpDestroyCommandPool      = "DestroyCommandPool"
	OpAllocateCommandBuffers  = "AllocateCommandBuffers"
	OpResetCommandBuffer      = "ResetCommandBuffer"
	OpBeginCommandBuffer      = "BeginCommandBuffer"
	OpEndCommandBuffer        = "EndCommandBuffer"
	OpCreateFence             = "CreateFence"
	OpWaitForFence            = "WaitForFence"
	OpResetFence              = "ResetFence"
	OpDestroyFence            = "DestroyFence"
	OpCreateSemaphore         = "CreateSemaphore"
	OpCreateTimelineSemaphore = "CreateTimelineSemaphore"
	OpSemaphoreCounterValue   = "SemaphoreCounterValue"
	OpWaitSemaphore           = "WaitSemaphore"
	OpDestroySemaphore        = "DestroySemaphore"
	OpWaitIdle                = "WaitIdle"
	OpQueueSubmit             = "QueueSubmit"
	OpPipelineBarrier         = "CmdPipelineBarrier"
	OpBeginRendering          = "CmdBeginRendering"
	OpEndRendering            = "CmdEndRendering"
	OpSetViewportScissor      = "CmdSetViewportScissor"
	OpExecuteCommands         = "CmdExecuteCommands"
	OpDraw                    = "CmdDraw"
)

var (
	ErrInjected = errors.New("injected failure")
	ErrTimeout  = errors.New("wait timed out")
)

// Call is one logged device call. Cmd is set for calls on a command buffer.
type Call struct {
	Op          string
	Cmd         vk.CommandBuffer
	Barriers    []vulkan.ImageBarrier
	Rendering   *vulkan.RenderingInfo
	Secondaries []vk.CommandBuffer
	Submission  *vulkan.QueueSubmission
	Detail      string
}

type fakeBuffer struct {
	pool        vk.CommandPool
	level       vk.CommandBufferLevel
	recording   bool
	inheritance *vulkan.InheritanceInfo
}

type fakeSemaphore struct {
	timeline bool
	value    uint64
}

type failKey struct {
	op  string
	cmd vk.CommandBuffer
}

type FakeDevice struct {
	mu   sync.Mutex
	next uintptr

	calls      []Call
	pools      map[vk.CommandPool]bool
	buffers    map[vk.CommandBuffer]*fakeBuffer
	fences     map[vk.Fence]bool
	semaphores map[vk.Semaphore]*fakeSemaphore

	// Submissions wait here while held.
	hold    bool
	pending []*vulkan.QueueSubmission

	failures       map[string]int
	delays         map[string]int
	bufferFailures map[failKey]bool
}

var _ vulkan.Device = (*FakeDevice)(nil)

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		pools:          make(map[vk.CommandPool]bool),
		buffers:        make(map[vk.CommandBuffer]*fakeBuffer),
		fences:         make(map[vk.Fence]bool),
		semaphores:     make(map[vk.Semaphore]*fakeSemaphore),
		failures:       make(map[string]int),
		delays:         make(map[string]int),
		bufferFailures: make(map[failKey]bool),
	}
}

// mint returns a unique non-nil handle value. Handles never point at memory.
func (f *FakeDevice) mint() unsafe.Pointer {
	f.next++
	return unsafe.Add(unsafe.Pointer(nil), 0x1000+f.next*16)
}

// MintImage returns a fresh image handle and view for fake swapchains.
func (f *FakeDevice) MintImage() (vk.Image, vk.ImageView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vk.Image(f.mint()), vk.ImageView(f.mint())
}

// FailNext makes the next n calls of op fail. A negative n fails every call.
func (f *FakeDevice) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// FailAfter lets the next skip calls of op succeed and fails the one after.
func (f *FakeDevice) FailAfter(op string, skip int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[op] = skip
	f.failures[op] = 1
}

// FailFor makes every call of op on cmd fail.
func (f *FakeDevice) FailFor(op string, cmd vk.CommandBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufferFailures[failKey{op: op, cmd: cmd}] = true
}

func (f *FakeDevice) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]int)
	f.delays = make(map[string]int)
	f.bufferFailures = make(map[failKey]bool)
}

// shouldFail must be called with the lock held.
func (f *FakeDevice) shouldFail(op string, cmd vk.CommandBuffer) bool {
	if cmd != nil && f.bufferFailures[failKey{op: op, cmd: cmd}] {
		return true
	}
	n, ok := f.failures[op]
	if !ok || n == 0 {
		return false
	}
	if d := f.delays[op]; d > 0 {
		f.delays[op] = d - 1
		return false
	}
	if n > 0 {
		f.failures[op] = n - 1
	}
	return true
}

func (f *FakeDevice) log(c Call) {
	f.calls = append(f.calls, c)
}

// HoldSubmissions keeps submitted work pending until CompleteSubmissions,
// so fences and timeline values are not signalled on submit.
func (f *FakeDevice) HoldSubmissions(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

// CompleteSubmissions retires every pending submission.
func (f *FakeDevice) CompleteSubmissions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.pending {
		f.retire(s)
	}
	f.pending = nil
}

func (f *FakeDevice) retire(s *vulkan.QueueSubmission) {
	if s.Fence != nil {
		if _, ok := f.fences[s.Fence]; ok {
			f.fences[s.Fence] = true
		}
	}
	for i, sem := range s.SignalSemaphores {
		fs, ok := f.semaphores[sem]
		if !ok || !fs.timeline || i >= len(s.SignalValues) {
			continue
		}
		if s.SignalValues[i] > fs.value {
			fs.value = s.SignalValues[i]
		}
	}
}

// SignalTimeline sets a timeline semaphore's value from the host.
func (f *FakeDevice) SignalTimeline(sem vk.Semaphore, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fs, ok := f.semaphores[sem]; ok && fs.timeline {
		fs.value = value
	}
}

func (f *FakeDevice) CreateCommandPool(queueFamilyIndex uint32, resetBuffers bool) (vk.CommandPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpCreateCommandPool, Detail: fmt.Sprintf("family=%d reset=%v", queueFamilyIndex, resetBuffers)})
	if f.shouldFail(OpCreateCommandPool, nil) {
		return vk.NullCommandPool, ErrInjected
	}
	pool := vk.CommandPool(f.mint())
	f.pools[pool] = true
	return pool, nil
}

func (f *FakeDevice) ResetCommandPool(pool vk.CommandPool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpResetCommandPool})
	if f.shouldFail(OpResetCommandPool, nil) {
		return ErrInjected
	}
	if !f.pools[pool] {
		return fmt.Errorf("reset of unknown command pool")
	}
	for _, b := range f.buffers {
		if b.pool == pool {
			b.recording = false
		}
	}
	return nil
}

func (f *FakeDevice) DestroyCommandPool(pool vk.CommandPool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpDestroyCommandPool})
	delete(f.pools, pool)
	for h, b := range f.buffers {
		if b.pool == pool {
			delete(f.buffers, h)
		}
	}
}

func (f *FakeDevice) AllocateCommandBuffers(pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]vk.CommandBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpAllocateCommandBuffers, Detail: fmt.Sprintf("level=%d count=%d", level, count)})
	if f.shouldFail(OpAllocateCommandBuffers, nil) {
		return nil, ErrInjected
	}
	if !f.pools[pool] {
		return nil, fmt.Errorf("allocation from unknown command pool")
	}
	out := make([]vk.CommandBuffer, count)
	for i := range out {
		h := vk.CommandBuffer(f.mint())
		f.buffers[h] = &fakeBuffer{pool: pool, level: level}
		out[i] = h
	}
	return out, nil
}

func (f *FakeDevice) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpResetCommandBuffer, Cmd: cmd})
	if f.shouldFail(OpResetCommandBuffer, cmd) {
		return ErrInjected
	}
	b, ok := f.buffers[cmd]
	if !ok {
		return fmt.Errorf("reset of unknown command buffer")
	}
	b.recording = false
	return nil
}

func (f *FakeDevice) BeginCommandBuffer(cmd vk.CommandBuffer, usage vk.CommandBufferUsageFlags, inheritance *vulkan.InheritanceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpBeginCommandBuffer, Cmd: cmd, Detail: fmt.Sprintf("usage=%d", usage)})
	if f.shouldFail(OpBeginCommandBuffer, cmd) {
		return ErrInjected
	}
	b, ok := f.buffers[cmd]
	if !ok {
		return fmt.Errorf("begin of unknown command buffer")
	}
	if b.recording {
		return fmt.Errorf("begin of a command buffer that is already recording")
	}
	b.recording = true
	b.inheritance = inheritance
	return nil
}

func (f *FakeDevice) EndCommandBuffer(cmd vk.CommandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpEndCommandBuffer, Cmd: cmd})
	if f.shouldFail(OpEndCommandBuffer, cmd) {
		return ErrInjected
	}
	b, ok := f.buffers[cmd]
	if !ok || !b.recording {
		return fmt.Errorf("end of a command buffer that is not recording")
	}
	b.recording = false
	return nil
}

func (f *FakeDevice) CreateFence(signaled bool) (vk.Fence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpCreateFence, Detail: fmt.Sprintf("signaled=%v", signaled)})
	if f.shouldFail(OpCreateFence, nil) {
		return vk.NullFence, ErrInjected
	}
	fence := vk.Fence(f.mint())
	f.fences[fence] = signaled
	return fence, nil
}

// WaitForFence returns ErrTimeout for an unsignalled fence, since nothing
// would ever signal it while the caller blocks.
func (f *FakeDevice) WaitForFence(fence vk.Fence, timeoutNs uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpWaitForFence})
	if f.shouldFail(OpWaitForFence, nil) {
		return ErrInjected
	}
	signaled, ok := f.fences[fence]
	if !ok {
		return fmt.Errorf("wait on unknown fence")
	}
	if !signaled {
		return ErrTimeout
	}
	return nil
}

func (f *FakeDevice) ResetFence(fence vk.Fence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpResetFence})
	if f.shouldFail(OpResetFence, nil) {
		return ErrInjected
	}
	if _, ok := f.fences[fence]; !ok {
		return fmt.Errorf("reset of unknown fence")
	}
	f.fences[fence] = false
	return nil
}

func (f *FakeDevice) DestroyFence(fence vk.Fence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpDestroyFence})
	delete(f.fences, fence)
}

func (f *FakeDevice) CreateSemaphore() (vk.Semaphore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpCreateSemaphore})
	if f.shouldFail(OpCreateSemaphore, nil) {
		return vk.NullSemaphore, ErrInjected
	}
	sem := vk.Semaphore(f.mint())
	f.semaphores[sem] = &fakeSemaphore{}
	return sem, nil
}

func (f *FakeDevice) CreateTimelineSemaphore(initialValue uint64) (vk.Semaphore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpCreateTimelineSemaphore})
	if f.shouldFail(OpCreateTimelineSemaphore, nil) {
		return vk.NullSemaphore, ErrInjected
	}
	sem := vk.Semaphore(f.mint())
	f.semaphores[sem] = &fakeSemaphore{timeline: true, value: initialValue}
	return sem, nil
}

func (f *FakeDevice) SemaphoreCounterValue(semaphore vk.Semaphore) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpSemaphoreCounterValue})
	fs, ok := f.semaphores[semaphore]
	if !ok || !fs.timeline {
		return 0, fmt.Errorf("counter value of a semaphore that is not a timeline")
	}
	return fs.value, nil
}

func (f *FakeDevice) WaitSemaphore(semaphore vk.Semaphore, value uint64, timeoutNs uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpWaitSemaphore, Detail: fmt.Sprintf("value=%d", value)})
	if f.shouldFail(OpWaitSemaphore, nil) {
		return ErrInjected
	}
	fs, ok := f.semaphores[semaphore]
	if !ok || !fs.timeline {
		return fmt.Errorf("wait on a semaphore that is not a timeline")
	}
	if fs.value < value {
		return ErrTimeout
	}
	return nil
}

func (f *FakeDevice) DestroySemaphore(semaphore vk.Semaphore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpDestroySemaphore})
	delete(f.semaphores, semaphore)
}

func (f *FakeDevice) WaitIdle() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpWaitIdle})
	if f.shouldFail(OpWaitIdle, nil) {
		return ErrInjected
	}
	for _, s := range f.pending {
		f.retire(s)
	}
	f.pending = nil
	return nil
}

func (f *FakeDevice) QueueSubmit(submission *vulkan.QueueSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpQueueSubmit, Submission: submission})
	if f.shouldFail(OpQueueSubmit, nil) {
		return ErrInjected
	}
	for _, cmd := range submission.CommandBuffers {
		b, ok := f.buffers[cmd]
		if !ok || b.recording {
			return fmt.Errorf("submission of a command buffer that is not executable")
		}
	}
	if f.hold {
		f.pending = append(f.pending, submission)
		return nil
	}
	f.retire(submission)
	return nil
}

func (f *FakeDevice) CmdPipelineBarrier(cmd vk.CommandBuffer, dependency *vulkan.DependencyInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	barriers := append([]vulkan.ImageBarrier(nil), dependency.ImageBarriers...)
	f.log(Call{Op: OpPipelineBarrier, Cmd: cmd, Barriers: barriers})
}

func (f *FakeDevice) CmdBeginRendering(cmd vk.CommandBuffer, info *vulkan.RenderingInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpBeginRendering, Cmd: cmd, Rendering: info})
}

func (f *FakeDevice) CmdEndRendering(cmd vk.CommandBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpEndRendering, Cmd: cmd})
}

func (f *FakeDevice) CmdSetViewportScissor(cmd vk.CommandBuffer, extent vk.Extent2D) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpSetViewportScissor, Cmd: cmd, Detail: fmt.Sprintf("%dx%d", extent.Width, extent.Height)})
}

func (f *FakeDevice) CmdExecuteCommands(cmd vk.CommandBuffer, secondaries []vk.CommandBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpExecuteCommands, Cmd: cmd, Secondaries: append([]vk.CommandBuffer(nil), secondaries...)})
}

// RecordDraw logs a draw command. Scene fakes use it in place of real draws.
func (f *FakeDevice) RecordDraw(cmd vk.CommandBuffer, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log(Call{Op: OpDraw, Cmd: cmd, Detail: name})
}

// Calls returns a copy of every logged call.
func (f *FakeDevice) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeDevice) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// CallsFor returns the calls made on one command buffer, in order.
func (f *FakeDevice) CallsFor(cmd vk.CommandBuffer) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Cmd == cmd {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the operation names of calls on cmd.
func (f *FakeDevice) Ops(cmd vk.CommandBuffer) []string {
	calls := f.CallsFor(cmd)
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

// Draws returns the names of draws recorded into cmd.
func (f *FakeDevice) Draws(cmd vk.CommandBuffer) []string {
	var out []string
	for _, c := range f.CallsFor(cmd) {
		if c.Op == OpDraw {
			out = append(out, c.Detail)
		}
	}
	return out
}

func (f *FakeDevice) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Barriers returns every recorded image barrier in recording order.
func (f *FakeDevice) Barriers() []vulkan.ImageBarrier {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vulkan.ImageBarrier
	for _, c := range f.calls {
		if c.Op == OpPipelineBarrier {
			out = append(out, c.Barriers...)
		}
	}
	return out
}

// Inheritance returns the inheritance info cmd was last begun with.
func (f *FakeDevice) Inheritance(cmd vk.CommandBuffer) *vulkan.InheritanceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buffers[cmd]; ok {
		return b.inheritance
	}
	return nil
}

func (f *FakeDevice) IsRecording(cmd vk.CommandBuffer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buffers[cmd]
	return ok && b.recording
}

func (f *FakeDevice) LivePools() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

func (f *FakeDevice) LiveFences() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fences)
}

func (f *FakeDevice) LiveSemaphores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.semaphores)
}

func (f *FakeDevice) FenceSignaled(fence vk.Fence) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fences[fence]
}

package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

// SceneRecorder records the draw calls of the current scene. It must not open
// or close a rendering scope and must be safe to call from a worker.
type SceneRecorder interface {
	RecordSceneContent(cmd *VulkanCommandBuffer) error
}

// SceneRecorderFunc adapts a function to SceneRecorder.
type SceneRecorderFunc func(cmd *VulkanCommandBuffer) error

func (f SceneRecorderFunc) RecordSceneContent(cmd *VulkanCommandBuffer) error {
	return f(cmd)
}

// PassRecorder records an overlay pass into an already open rendering scope.
type PassRecorder func(cmd *VulkanCommandBuffer) error

type FrameState int

const (
	FrameIdle FrameState = iota
	FrameBufferSelected
	FrameBegan
	FrameImagesTransitioned
	FrameRenderingOpen
	FrameContentRecorded
	FrameRenderingClosed
	FramePresentTransitioned
	FrameEnded
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameBufferSelected:
		return "buffer-selected"
	case FrameBegan:
		return "began"
	case FrameImagesTransitioned:
		return "images-transitioned"
	case FrameRenderingOpen:
		return "rendering-open"
	case FrameContentRecorded:
		return "content-recorded"
	case FrameRenderingClosed:
		return "rendering-closed"
	case FramePresentTransitioned:
		return "present-transitioned"
	case FrameEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type FrameRecorderOptions struct {
	Device           Device
	Locks            *VulkanLockPool
	QueueFamilyIndex uint32
	Slots            *FrameSlotPool
	Tracker          *ImageLayoutTracker
	Swapchain        SwapchainProvider
	// Optional collaborators.
	Timeline  *TimelineSynchronizer
	Manager   *CommandManager
	Validator BarrierValidator
	Metrics   *core.Metrics

	FenceTimeout time.Duration
	// Record the scene secondary on a worker when the manager is running.
	WorkerSceneRecording bool
}

// FrameRecorder drives the recording of one frame at a time. It is used only
// from the render thread.
type FrameRecorder struct {
	device           Device
	locks            *VulkanLockPool
	queueFamilyIndex uint32
	slots            *FrameSlotPool
	tracker          *ImageLayoutTracker
	swapchain        SwapchainProvider
	timeline         *TimelineSynchronizer
	manager          *CommandManager
	validator        BarrierValidator
	metrics          *core.Metrics

	fenceTimeout         time.Duration
	workerSceneRecording bool

	scene       SceneRecorder
	environment PassRecorder
	ui          PassRecorder

	frameCounter       uint64
	currentBufferIndex uint32
	state              FrameState

	// Set once a frame has been recorded and ended, consumed by SubmitFrame.
	recorded          *VulkanCommandBuffer
	recordedSlot      uint32
	recordedSecondary bool
	// Tracker state before the frame, restored if the frame never reaches the GPU.
	rollback layoutRollback
	// Set when a slot lost its fence. Every later frame fails until the frame
	// core is recreated.
	broken error
}

type layoutRollback struct {
	imageIndex       uint32
	colorInitialized bool
	depthInitialized bool
}

func NewFrameRecorder(options FrameRecorderOptions) *FrameRecorder {
	if options.Validator == nil {
		options.Validator = NopValidator{}
	}
	if options.Metrics == nil {
		options.Metrics = core.NewMetrics()
	}
	if options.Locks == nil {
		options.Locks = NewVulkanLockPool()
	}
	if options.FenceTimeout <= 0 {
		options.FenceTimeout = DEFAULT_FENCE_TIMEOUT
	}
	return &FrameRecorder{
		device:               options.Device,
		locks:                options.Locks,
		queueFamilyIndex:     options.QueueFamilyIndex,
		slots:                options.Slots,
		tracker:              options.Tracker,
		swapchain:            options.Swapchain,
		timeline:             options.Timeline,
		manager:              options.Manager,
		validator:            options.Validator,
		metrics:              options.Metrics,
		fenceTimeout:         options.FenceTimeout,
		workerSceneRecording: options.WorkerSceneRecording,
	}
}

func (r *FrameRecorder) SetScene(scene SceneRecorder) { r.scene = scene }

// SetEnvironmentPass installs an overlay recorded after the scene, for
// example a skybox. Nil removes it.
func (r *FrameRecorder) SetEnvironmentPass(pass PassRecorder) { r.environment = pass }

// SetUIPass installs the UI overlay, recorded last. Nil removes it.
func (r *FrameRecorder) SetUIPass(pass PassRecorder) { r.ui = pass }

func (r *FrameRecorder) SetValidator(v BarrierValidator) { r.validator = v }

func (r *FrameRecorder) SetWorkerSceneRecording(enabled bool) { r.workerSceneRecording = enabled }

func (r *FrameRecorder) SetSwapchain(swapchain SwapchainProvider) { r.swapchain = swapchain }

// SetBufferIndex picks the primary (0) or alternate primary (1) buffer for
// the next frames.
func (r *FrameRecorder) SetBufferIndex(bufferIndex uint32) error {
	if bufferIndex > 1 {
		return core.ErrInvalidBufferIndex
	}
	r.currentBufferIndex = bufferIndex
	return nil
}

func (r *FrameRecorder) BufferIndex() uint32 {
	return r.currentBufferIndex
}

func (r *FrameRecorder) FrameState() FrameState {
	return r.state
}

func (r *FrameRecorder) FrameCounter() uint64 {
	return r.frameCounter
}

// CurrentFrame is the index of the slot the next frame records into.
func (r *FrameRecorder) CurrentFrame() uint32 {
	return uint32(r.frameCounter % uint64(r.slots.Count()))
}

func (r *FrameRecorder) Metrics() *core.Metrics {
	return r.metrics
}

func (r *FrameRecorder) validateImage(imageIndex uint32) error {
	sc := r.swapchain
	if sc == nil {
		return core.ErrSwapchainImagesMissing
	}
	if imageIndex >= sc.ImageCount() {
		return core.ErrImageIndexOutOfRange
	}
	if uint32(len(sc.Images())) <= imageIndex || uint32(len(sc.Views())) <= imageIndex {
		return core.ErrSwapchainImagesMissing
	}
	if extent := sc.Extent(); extent.Width == 0 || extent.Height == 0 {
		return core.ErrZeroExtent
	}
	return nil
}

func (r *FrameRecorder) drop(op string, err error) error {
	r.metrics.FrameDropped()
	core.LogError("frame %d dropped: %s: %s", r.frameCounter, op, err)
	return core.NewError(core.KindFrameDropped, op, err)
}

// RecordFrame records a complete frame for the given swapchain image into the
// selected buffer of the current slot. Once the buffer has been begun it is
// always ended, even when recording fails part way.
func (r *FrameRecorder) RecordFrame(imageIndex uint32) error {
	// A recorded frame that was never submitted is discarded along with the
	// transitions it claimed.
	if r.recorded != nil {
		r.rollbackLayouts()
		r.recorded = nil
	}
	r.state = FrameIdle
	if r.broken != nil {
		return r.broken
	}

	if err := r.validateImage(imageIndex); err != nil {
		return r.drop("validate swapchain image", err)
	}

	slotIndex := r.CurrentFrame()
	if err := r.slots.WaitForSlot(slotIndex, uint64(r.fenceTimeout.Nanoseconds())); err != nil {
		return r.drop("wait for frame slot", err)
	}
	cmd, err := r.slots.SelectBuffer(slotIndex, r.currentBufferIndex)
	if err != nil {
		return r.drop("select command buffer", err)
	}
	slot, _ := r.slots.Slot(slotIndex)
	r.state = FrameBufferSelected

	if err := cmd.Reset(r.device); err != nil {
		return r.drop("reset command buffer", err)
	}
	if err := cmd.Begin(r.device, true, false, false, nil); err != nil {
		return r.drop("begin command buffer", err)
	}
	r.state = FrameBegan

	colorInitialized, _ := r.tracker.IsInitialized(imageIndex)
	r.rollback = layoutRollback{
		imageIndex:       imageIndex,
		colorInitialized: colorInitialized,
		depthInitialized: r.tracker.IsDepthInitialized(),
	}
	usedSecondary, recordErr := r.recordBody(cmd, slot, imageIndex)
	endErr := r.finish(cmd)
	if recordErr != nil {
		r.rollbackLayouts()
		return r.drop("record frame", recordErr)
	}
	if endErr != nil {
		r.rollbackLayouts()
		return r.drop("end command buffer", endErr)
	}

	r.state = FrameEnded
	r.recorded = cmd
	r.recordedSlot = slotIndex
	r.recordedSecondary = usedSecondary
	r.metrics.FrameRecorded()
	return nil
}

func (r *FrameRecorder) recordBody(cmd *VulkanCommandBuffer, slot *FrameSlot, imageIndex uint32) (bool, error) {
	sc := r.swapchain
	image := sc.Images()[imageIndex]
	view := sc.Views()[imageIndex]
	depth := sc.DepthImage()
	extent := sc.Extent()

	colorBarrier, err := r.tracker.ColorToAttachment(imageIndex, image)
	if err != nil {
		return false, err
	}
	depthBarrier, depthNeeded, err := r.tracker.DepthToAttachment(depth)
	if err != nil {
		return false, err
	}
	barriers := []ImageBarrier{colorBarrier}
	if depthNeeded {
		barriers = append(barriers, depthBarrier)
	}
	r.recordBarriers(cmd, &DependencyInfo{ImageBarriers: barriers})
	if err := r.tracker.CommitColor(imageIndex); err != nil {
		return false, err
	}
	if depthNeeded {
		if err := r.tracker.CommitDepth(); err != nil {
			return false, err
		}
	}
	r.state = FrameImagesTransitioned

	// The secondary is filled before the scope opens so that the scope can be
	// declared as executing secondary contents only.
	useSecondary := r.recordSceneSecondary(slot, extent)

	r.device.CmdBeginRendering(cmd.Handle, r.renderingInfo(view, depth, extent, true, useSecondary))
	cmd.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	r.state = FrameRenderingOpen

	if useSecondary {
		r.device.CmdExecuteCommands(cmd.Handle, []vk.CommandBuffer{slot.SceneSecondary.Handle})
	} else {
		r.device.CmdSetViewportScissor(cmd.Handle, extent)
		if r.scene != nil {
			if err := r.scene.RecordSceneContent(cmd); err != nil {
				return false, err
			}
		}
	}
	r.state = FrameContentRecorded

	r.device.CmdEndRendering(cmd.Handle)
	cmd.State = COMMAND_BUFFER_STATE_RECORDING
	r.state = FrameRenderingClosed

	r.recordOverlay(cmd, "environment", r.environment, view, depth, extent)
	r.recordOverlay(cmd, "ui", r.ui, view, depth, extent)

	presentBarrier, err := r.tracker.ColorToPresent(imageIndex, image)
	if err != nil {
		return useSecondary, err
	}
	r.recordBarriers(cmd, &DependencyInfo{ImageBarriers: []ImageBarrier{presentBarrier}})
	r.state = FramePresentTransitioned
	return useSecondary, nil
}

// recordSceneSecondary fills the slot's scene secondary, on a worker when
// possible and inline otherwise. It returns false when the scene has to be
// recorded directly on the primary buffer.
func (r *FrameRecorder) recordSceneSecondary(slot *FrameSlot, extent vk.Extent2D) bool {
	if r.scene == nil || slot.SceneSecondary.VulkanCommandBuffer == nil {
		return false
	}
	inheritance := r.inheritanceInfo()
	if r.workerSceneRecording && r.manager != nil && r.manager.IsRunning() {
		err := r.manager.RecordSceneInto(slot.SceneSecondary, inheritance, extent, r.scene)
		if err == nil {
			return true
		}
		core.LogWarn("scene recording on worker failed, recording inline: %s", err)
	}
	if err := recordSecondary(r.device, slot.SceneSecondary, inheritance, extent, r.scene); err != nil {
		core.LogWarn("scene secondary recording failed, recording on the primary buffer: %s", err)
		r.metrics.RecordingDegraded()
		return false
	}
	return true
}

func (r *FrameRecorder) recordOverlay(cmd *VulkanCommandBuffer, name string, pass PassRecorder, view vk.ImageView, depth *VulkanImage, extent vk.Extent2D) {
	if pass == nil {
		return
	}
	r.device.CmdBeginRendering(cmd.Handle, r.renderingInfo(view, depth, extent, false, false))
	cmd.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	r.device.CmdSetViewportScissor(cmd.Handle, extent)
	if err := pass(cmd); err != nil {
		core.LogWarn("%s pass failed: %s", name, err)
	}
	r.device.CmdEndRendering(cmd.Handle)
	cmd.State = COMMAND_BUFFER_STATE_RECORDING
}

func (r *FrameRecorder) recordBarriers(cmd *VulkanCommandBuffer, dependency *DependencyInfo) {
	if !r.validator.Validate(dependency, cmd.Handle, RenderThreadID) {
		core.LogWarn("barrier validation failed for frame %d, recording anyway", r.frameCounter)
	}
	r.device.CmdPipelineBarrier(cmd.Handle, dependency)
}

func (r *FrameRecorder) renderingInfo(view vk.ImageView, depth *VulkanImage, extent vk.Extent2D, clear bool, secondaryContents bool) *RenderingInfo {
	loadOp := vk.AttachmentLoadOpLoad
	if clear {
		loadOp = vk.AttachmentLoadOpClear
	}
	info := &RenderingInfo{
		Extent: extent,
		Color: []RenderingAttachment{{
			View:       view,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
			LoadOp:     loadOp,
			StoreOp:    vk.AttachmentStoreOpStore,
			ClearColor: CLEAR_COLOR,
		}},
		SecondaryContents: secondaryContents,
	}
	if depth != nil {
		info.Depth = &RenderingAttachment{
			View:         depth.View,
			Layout:       vk.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:       loadOp,
			StoreOp:      vk.AttachmentStoreOpDontCare,
			ClearDepth:   CLEAR_DEPTH,
			ClearStencil: CLEAR_STENCIL,
		}
	}
	return info
}

func (r *FrameRecorder) inheritanceInfo() *InheritanceInfo {
	return &InheritanceInfo{
		Rendering: &InheritanceRenderingInfo{
			ColorFormats: []vk.Format{r.swapchain.ColorFormat()},
			DepthFormat:  r.swapchain.DepthFormat(),
			Samples:      SAMPLE_COUNT,
		},
	}
}

// finish closes an open rendering scope and ends the buffer.
func (r *FrameRecorder) finish(cmd *VulkanCommandBuffer) error {
	if cmd.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		r.device.CmdEndRendering(cmd.Handle)
		cmd.State = COMMAND_BUFFER_STATE_RECORDING
	}
	if err := cmd.End(r.device); err != nil {
		return err
	}
	r.state = FrameEnded
	return nil
}

// SubmitFrame hands the last recorded frame to the graphics queue. It waits on
// the slot's image-acquired semaphore, signals render-finished and the frame
// timeline, then moves to the next slot.
func (r *FrameRecorder) SubmitFrame() error {
	if r.recorded == nil {
		return core.NewError(core.KindFrameDropped, "submit frame", core.ErrNotRecording)
	}
	cmd := r.recorded
	slotIndex := r.recordedSlot
	slot, err := r.slots.Slot(slotIndex)
	if err != nil {
		return core.NewError(core.KindFrameDropped, "submit frame", err)
	}

	submission := &QueueSubmission{
		CommandBuffers:   []vk.CommandBuffer{cmd.Handle},
		WaitSemaphores:   []vk.Semaphore{slot.ImageAcquired},
		WaitStages:       []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		SignalSemaphores: []vk.Semaphore{slot.RenderFinished},
		Fence:            slot.InFlight.Handle,
	}
	if r.timeline != nil {
		values := r.timeline.Values()
		submission.SignalSemaphores = append(submission.SignalSemaphores, r.timeline.Semaphore)
		// Binary semaphores take a placeholder value.
		submission.WaitValues = []uint64{0}
		submission.SignalValues = []uint64{0, values.RenderComplete}
	}

	if err := slot.InFlight.Reset(r.device); err != nil {
		r.recorded = nil
		r.rollbackLayouts()
		return r.drop("reset frame fence", err)
	}
	err = r.locks.SafeQueueCall(r.queueFamilyIndex, func() error {
		return r.device.QueueSubmit(submission)
	})
	if err != nil {
		r.recorded = nil
		r.rollbackLayouts()
		if fenceErr := r.restoreFence(slot); fenceErr != nil {
			r.metrics.FrameDropped()
			core.LogError("frame %d: queue submit failed (%s) and the slot fence is lost: %s", r.frameCounter, err, fenceErr)
			r.broken = core.NewError(core.KindFatalInit, "restore frame fence", fmt.Errorf("%w: %s", core.ErrSlotFenceLost, fenceErr))
			return r.broken
		}
		return r.drop("queue submit", err)
	}

	buffers := []*VulkanCommandBuffer{cmd}
	if r.recordedSecondary {
		buffers = append(buffers, slot.SceneSecondary.VulkanCommandBuffer)
	}
	if err := r.slots.MarkSubmitted(slotIndex, buffers...); err != nil {
		return err
	}

	r.recorded = nil
	r.frameCounter++
	if r.timeline != nil {
		r.timeline.Advance()
	}
	r.state = FrameIdle
	return nil
}

// rollbackLayouts forgets the transitions of a frame that will never execute,
// so the next barrier for the image starts from the layout it really has.
func (r *FrameRecorder) rollbackLayouts() {
	if !r.tracker.IsAllocated() {
		return
	}
	if err := r.tracker.Restore(r.rollback.imageIndex, r.rollback.colorInitialized, r.rollback.depthInitialized); err != nil {
		core.LogDebug("layout rollback skipped: %s", err)
	}
}

// restoreFence replaces a fence that was reset for a submission that never
// reached the queue, otherwise the next wait on the slot would never return.
func (r *FrameRecorder) restoreFence(slot *FrameSlot) error {
	fence, err := NewFence(r.device, true)
	if err != nil {
		return err
	}
	slot.InFlight.Destroy(r.device)
	slot.InFlight = fence
	return nil
}

// RecreateImages resets the layout state for the swapchain's current images.
func (r *FrameRecorder) RecreateImages() {
	// Whatever was recorded targets the old images.
	r.recorded = nil
	r.state = FrameIdle
	if r.swapchain == nil {
		r.tracker.Release()
		return
	}
	r.tracker.Reset(r.swapchain.ImageCount())
	if v, ok := r.validator.(*LayoutHazardValidator); ok {
		v.Reset()
	}
}

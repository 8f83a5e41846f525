package vulkan_test

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan/vulkantest"
)

func TestRecordFrameFirstUseTransitions(t *testing.T) {
	h := newHarness(t, 5)

	for i := uint32(0); i < 3; i++ {
		h.frame(t, i)
	}
	assert.Equal(t, 3, h.device.Count(vulkantest.OpWaitForFence))

	undefined := func() int {
		n := 0
		for _, b := range h.colorBarriers() {
			if b.OldLayout == vk.ImageLayoutUndefined {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 3, undefined())

	// Cycle through every image twice; each one leaves UNDEFINED exactly once.
	for i := uint32(3); i < 13; i++ {
		h.frame(t, i%5)
	}
	assert.Equal(t, 5, undefined())
}

func TestRecordFrameLayoutSequence(t *testing.T) {
	h := newHarness(t, 3)

	for i := 0; i < 3; i++ {
		h.frame(t, 0)
	}
	assert.Equal(t, []vk.ImageLayout{
		vk.ImageLayoutUndefined,
		vk.ImageLayoutColorAttachmentOptimal,
		vk.ImageLayoutPresentSrc,
		vk.ImageLayoutColorAttachmentOptimal,
		vk.ImageLayoutPresentSrc,
		vk.ImageLayoutColorAttachmentOptimal,
	}, h.oldLayoutsFor(h.swapchain.Image(0)))

	depth := h.oldLayoutsFor(h.swapchain.DepthImage().Handle)
	assert.Equal(t, []vk.ImageLayout{vk.ImageLayoutUndefined}, depth, "depth is transitioned once")

	v, ok := h.renderer.Context().Validator.(*vulkan.LayoutHazardValidator)
	require.True(t, ok)
	assert.Zero(t, v.Violations())
}

func TestRecordFrameAgainBeforeSubmit(t *testing.T) {
	h := newHarness(t, 3)

	require.NoError(t, h.renderer.RecordFrame(0))
	// The first recording is thrown away, it never reached the queue.
	require.NoError(t, h.renderer.RecordFrame(0))
	require.NoError(t, h.renderer.SubmitFrame())
	h.frame(t, 0)

	assert.Equal(t, []vk.ImageLayout{
		vk.ImageLayoutUndefined,
		vk.ImageLayoutColorAttachmentOptimal,
		vk.ImageLayoutUndefined,
		vk.ImageLayoutColorAttachmentOptimal,
		vk.ImageLayoutPresentSrc,
		vk.ImageLayoutColorAttachmentOptimal,
	}, h.oldLayoutsFor(h.swapchain.Image(0)))
	assert.Equal(t, []vk.ImageLayout{
		vk.ImageLayoutUndefined,
		vk.ImageLayoutUndefined,
	}, h.oldLayoutsFor(h.swapchain.DepthImage().Handle))

	v, ok := h.renderer.Context().Validator.(*vulkan.LayoutHazardValidator)
	require.True(t, ok)
	assert.Zero(t, v.Violations())
	assert.Equal(t, uint64(2), h.renderer.Recorder().FrameCounter())
}

func TestRecordFrameImageOutOfRange(t *testing.T) {
	h := newHarness(t, 4)

	err := h.renderer.RecordFrame(7)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrImageIndexOutOfRange)
	assert.Equal(t, core.ResultFrameDropped, core.ResultOf(err))

	assert.Zero(t, h.device.Count(vulkantest.OpBeginCommandBuffer))
	assert.Zero(t, h.device.Count(vulkantest.OpResetCommandBuffer))
	assert.Zero(t, h.device.Count(vulkantest.OpWaitForFence))
	assert.Equal(t, uint64(1), h.metrics.DroppedFrames())
	assert.Equal(t, uint64(0), h.renderer.Recorder().FrameCounter())
}

func TestRecordFrameInvalidSwapchain(t *testing.T) {
	h := newHarness(t, 3)

	h.swapchain.Resize(h.device, 3, 0, 720)
	err := h.renderer.RecordFrame(0)
	assert.ErrorIs(t, err, core.ErrZeroExtent)

	h.swapchain.Resize(h.device, 3, 1280, 720)
	h.swapchain.DropViews()
	err = h.renderer.RecordFrame(0)
	assert.ErrorIs(t, err, core.ErrSwapchainImagesMissing)

	assert.Zero(t, h.device.Count(vulkantest.OpBeginCommandBuffer))
}

func TestFenceGuardsBufferReuse(t *testing.T) {
	h := newHarness(t, 3)
	h.device.HoldSubmissions(true)

	for i := uint32(0); i < 3; i++ {
		h.frame(t, i)
	}
	primary := h.slot(t, 0).Primary.Handle
	require.Equal(t, 1, countOps(h.device.Ops(primary), vulkantest.OpBeginCommandBuffer))

	// Frame 3 reuses slot 0 while frame 0 is still on the GPU.
	err := h.renderer.RecordFrame(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, vulkantest.ErrTimeout)
	assert.Equal(t, core.ResultFrameDropped, core.ResultOf(err))
	ops := h.device.Ops(primary)
	assert.Equal(t, 1, countOps(ops, vulkantest.OpResetCommandBuffer))
	assert.Equal(t, 1, countOps(ops, vulkantest.OpBeginCommandBuffer))

	h.device.CompleteSubmissions()
	require.NoError(t, h.renderer.RecordFrame(0))
	assert.Equal(t, 2, countOps(h.device.Ops(primary), vulkantest.OpBeginCommandBuffer))
}

func TestRecordFrameRenderingScope(t *testing.T) {
	h := newHarness(t, 3)
	h.frame(t, 1)

	slot := h.slot(t, 0)
	scopes := renderingCalls(h.device, slot.Primary.Handle)
	require.Len(t, scopes, 1)
	info := scopes[0]
	assert.True(t, info.SecondaryContents)
	assert.Equal(t, vk.Extent2D{Width: 1280, Height: 720}, info.Extent)
	require.Len(t, info.Color, 1)
	assert.Equal(t, handleID(h.swapchain.Views()[1]), handleID(info.Color[0].View))
	assert.Equal(t, vk.AttachmentLoadOpClear, info.Color[0].LoadOp)
	assert.Equal(t, vulkan.CLEAR_COLOR, info.Color[0].ClearColor)
	require.NotNil(t, info.Depth)
	assert.Equal(t, vulkan.CLEAR_DEPTH, info.Depth.ClearDepth)

	for _, c := range h.device.CallsFor(slot.Primary.Handle) {
		if c.Op == vulkantest.OpExecuteCommands {
			assert.Equal(t, handleIDs(slot.SceneSecondary.Handle), handleIDs(c.Secondaries...))
		}
	}
	assert.Empty(t, h.device.Draws(slot.Primary.Handle))

	inheritance := h.device.Inheritance(slot.SceneSecondary.Handle)
	require.NotNil(t, inheritance)
	require.NotNil(t, inheritance.Rendering)
	assert.Equal(t, []vk.Format{vk.FormatB8g8r8a8Unorm}, inheritance.Rendering.ColorFormats)
	assert.Equal(t, vk.FormatD32Sfloat, inheritance.Rendering.DepthFormat)
}

func TestRecordFrameOverlayPasses(t *testing.T) {
	h := newHarness(t, 3)
	h.renderer.SetEnvironmentPass(func(cmd *vulkan.VulkanCommandBuffer) error {
		h.device.RecordDraw(cmd.Handle, "sky")
		return nil
	})
	h.renderer.SetUIPass(func(cmd *vulkan.VulkanCommandBuffer) error {
		h.device.RecordDraw(cmd.Handle, "ui")
		return errors.New("font atlas missing")
	})
	h.frame(t, 0)

	primary := h.slot(t, 0).Primary.Handle
	assert.Equal(t, []string{
		vulkantest.OpResetCommandBuffer,
		vulkantest.OpBeginCommandBuffer,
		vulkantest.OpPipelineBarrier,
		vulkantest.OpBeginRendering,
		vulkantest.OpExecuteCommands,
		vulkantest.OpEndRendering,
		vulkantest.OpBeginRendering,
		vulkantest.OpSetViewportScissor,
		vulkantest.OpDraw,
		vulkantest.OpEndRendering,
		vulkantest.OpBeginRendering,
		vulkantest.OpSetViewportScissor,
		vulkantest.OpDraw,
		vulkantest.OpEndRendering,
		vulkantest.OpPipelineBarrier,
		vulkantest.OpEndCommandBuffer,
	}, h.device.Ops(primary))

	scopes := renderingCalls(h.device, primary)
	require.Len(t, scopes, 3)
	for _, overlay := range scopes[1:] {
		assert.Equal(t, vk.AttachmentLoadOpLoad, overlay.Color[0].LoadOp)
		assert.False(t, overlay.SecondaryContents)
	}
	assert.Equal(t, []string{"sky", "ui"}, h.device.Draws(primary))
}

func TestRecordFrameEndsBufferOnFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.renderer.Context().Tracker.Release()

	err := h.renderer.RecordFrame(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTrackerAbsent)

	primary := h.slot(t, 0).Primary.Handle
	assert.Equal(t, []string{
		vulkantest.OpResetCommandBuffer,
		vulkantest.OpBeginCommandBuffer,
		vulkantest.OpEndCommandBuffer,
	}, h.device.Ops(primary))
	assert.False(t, h.device.IsRecording(primary))
	assert.Equal(t, vulkan.FrameEnded, h.renderer.Recorder().FrameState())

	err = h.renderer.SubmitFrame()
	assert.ErrorIs(t, err, core.ErrNotRecording)
}

func TestRecordFrameScopeClosedOnSceneFailure(t *testing.T) {
	h := newHarness(t, 3, singleThreaded)
	slot := h.slot(t, 0)
	h.device.FailFor(vulkantest.OpBeginCommandBuffer, slot.SceneSecondary.Handle)
	h.scene.FailNext.Store(1)

	err := h.renderer.RecordFrame(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, vulkantest.ErrSceneFailed)

	ops := h.device.Ops(slot.Primary.Handle)
	assert.Equal(t, countOps(ops, vulkantest.OpBeginRendering), countOps(ops, vulkantest.OpEndRendering))
	assert.Equal(t, vulkantest.OpEndCommandBuffer, ops[len(ops)-1])

	// The dropped frame never ran, so the image is still UNDEFINED.
	initialized, err := h.renderer.Context().Tracker.IsInitialized(0)
	require.NoError(t, err)
	assert.False(t, initialized)
}

func TestRecordFrameDegradesToPrimary(t *testing.T) {
	h := newHarness(t, 3)
	slot := h.slot(t, 0)
	h.device.FailFor(vulkantest.OpBeginCommandBuffer, slot.SceneSecondary.Handle)

	h.frame(t, 0)

	assert.Equal(t, uint64(1), h.metrics.DegradedRecordings())
	assert.Equal(t, sceneDraws, h.device.Draws(slot.Primary.Handle))
	assert.Zero(t, countOps(h.device.Ops(slot.Primary.Handle), vulkantest.OpExecuteCommands))
	scopes := renderingCalls(h.device, slot.Primary.Handle)
	require.Len(t, scopes, 1)
	assert.False(t, scopes[0].SecondaryContents)
	assert.Equal(t, 1, h.scene.Calls())
}

func TestSceneRecordingPathsAreEquivalent(t *testing.T) {
	worker := newHarness(t, 3)
	require.True(t, worker.renderer.IsMultithreaded())
	worker.frame(t, 0)
	workerSecondary := worker.slot(t, 0).SceneSecondary.Handle

	inline := newHarness(t, 3)
	require.NoError(t, inline.renderer.Context().Manager.Shutdown())
	require.Nil(t, inline.renderer.GetCommandManager())
	inline.frame(t, 0)
	inlineSecondary := inline.slot(t, 0).SceneSecondary.Handle

	direct := newHarness(t, 3)
	directSlot := direct.slot(t, 0)
	direct.device.FailFor(vulkantest.OpBeginCommandBuffer, directSlot.SceneSecondary.Handle)
	direct.frame(t, 0)

	assert.Equal(t, sceneDraws, worker.device.Draws(workerSecondary))
	assert.Equal(t, sceneDraws, inline.device.Draws(inlineSecondary))
	assert.Equal(t, sceneDraws, direct.device.Draws(directSlot.Primary.Handle))
	assert.Equal(t, worker.device.Ops(workerSecondary), inline.device.Ops(inlineSecondary))
}

func TestRecordFrameAlternateBuffer(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.renderer.SetBufferIndex(1))
	h.frame(t, 0)

	slot := h.slot(t, 0)
	assert.Empty(t, h.device.Ops(slot.Primary.Handle))
	assert.Contains(t, h.device.Ops(slot.Alternate.Handle), vulkantest.OpBeginCommandBuffer)

	err := h.renderer.SetBufferIndex(2)
	assert.ErrorIs(t, err, core.ErrInvalidBufferIndex)
	assert.Equal(t, uint32(1), h.renderer.Recorder().BufferIndex())
}

func TestSubmitFrameSignalsTimeline(t *testing.T) {
	h := newHarness(t, 3)
	timeline := h.renderer.Timeline()
	slot := h.slot(t, 0)

	h.frame(t, 0)

	var submission *vulkan.QueueSubmission
	for _, c := range h.device.Calls() {
		if c.Op == vulkantest.OpQueueSubmit {
			submission = c.Submission
		}
	}
	require.NotNil(t, submission)
	assert.Equal(t, handleIDs(slot.ImageAcquired), handleIDs(submission.WaitSemaphores...))
	assert.Equal(t, handleIDs(slot.RenderFinished, timeline.Semaphore), handleIDs(submission.SignalSemaphores...))
	assert.Equal(t, []uint64{0, 2}, submission.SignalValues)

	assert.Equal(t, vulkan.TimelineValues{CurrentFrame: 2, ImageAvailable: 3, RenderComplete: 4}, timeline.Values())
	completed, err := timeline.CompletedValue()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), completed)
	assert.Equal(t, uint64(1), h.renderer.Recorder().FrameCounter())
	assert.Equal(t, uint32(1), h.renderer.Recorder().CurrentFrame())
	assert.Equal(t, vulkan.FrameIdle, h.renderer.Recorder().FrameState())
}

func TestSubmitFrameFailureRestoresSlot(t *testing.T) {
	h := newHarness(t, 3)
	h.device.FailNext(vulkantest.OpQueueSubmit, 1)

	require.NoError(t, h.renderer.RecordFrame(0))
	err := h.renderer.SubmitFrame()
	require.Error(t, err)
	assert.Equal(t, core.ResultFrameDropped, core.ResultOf(err))
	assert.Equal(t, uint64(0), h.renderer.Recorder().FrameCounter())

	slot := h.slot(t, 0)
	assert.True(t, h.device.FenceSignaled(slot.InFlight.Handle))

	h.device.ResetCalls()
	h.frame(t, 0)
	colors := h.colorBarriers()
	require.NotEmpty(t, colors)
	assert.Equal(t, vk.ImageLayoutUndefined, colors[0].OldLayout)
	assert.Equal(t, uint64(1), h.renderer.Recorder().FrameCounter())
}

func TestSubmitFrameFenceLostIsFatal(t *testing.T) {
	h := newHarness(t, 3)
	h.device.FailNext(vulkantest.OpQueueSubmit, 1)
	h.device.FailNext(vulkantest.OpCreateFence, 1)

	require.NoError(t, h.renderer.RecordFrame(0))
	err := h.renderer.SubmitFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSlotFenceLost)
	assert.Equal(t, core.ResultFatalInit, core.ResultOf(err))

	// No later frame waits out the timeout on the unsignalled fence.
	h.device.ResetCalls()
	err = h.renderer.RecordFrame(1)
	assert.ErrorIs(t, err, core.ErrSlotFenceLost)
	assert.Zero(t, h.device.Count(vulkantest.OpWaitForFence))
	assert.Zero(t, h.device.Count(vulkantest.OpBeginCommandBuffer))

	// Recreating the frame core recovers.
	require.NoError(t, h.renderer.Shutdown())
	require.NoError(t, h.renderer.Initialize())
	h.frame(t, 0)
}

func TestFrameSlotsRotate(t *testing.T) {
	h := newHarness(t, 3)

	var used []vk.CommandBuffer
	for i := uint32(0); i < 4; i++ {
		assert.Equal(t, i%3, h.renderer.Recorder().CurrentFrame())
		h.frame(t, i%3)
		used = append(used, h.slot(t, i%3).Primary.Handle)
	}
	assert.Equal(t, handleID(used[0]), handleID(used[3]))
	assert.NotEqual(t, handleID(used[0]), handleID(used[1]))
	assert.NotEqual(t, handleID(used[1]), handleID(used[2]))
	assert.Equal(t, uint64(4), h.metrics.RecordedFrames())
}

func TestFrameStateString(t *testing.T) {
	assert.Equal(t, "idle", vulkan.FrameIdle.String())
	assert.Equal(t, "rendering-open", vulkan.FrameRenderingOpen.String())
	assert.Equal(t, "ended", vulkan.FrameEnded.String())
	assert.Equal(t, "unknown", vulkan.FrameState(99).String())
}

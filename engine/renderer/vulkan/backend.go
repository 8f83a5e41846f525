package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/framesync/engine/config"
	"github.com/spaghettifunk/framesync/engine/core"
)

// VulkanRenderer is the entry point of the frame core for the engine and for
// producers that want to use the recording workers.
type VulkanRenderer struct {
	context *VulkanContext
	config  config.RendererConfig
	events  *core.EventSystem
	metrics *core.Metrics

	scene       SceneRecorder
	environment PassRecorder
	ui          PassRecorder
}

func New(device Device, queueFamilyIndex uint32, swapchain SwapchainProvider, cfg config.RendererConfig, events *core.EventSystem, metrics *core.Metrics) *VulkanRenderer {
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	locks := NewVulkanLockPool()
	locks.SetQueueFamily(queueFamilyIndex)
	return &VulkanRenderer{
		context: &VulkanContext{
			Device:           device,
			Locks:            locks,
			QueueFamilyIndex: queueFamilyIndex,
			Swapchain:        swapchain,
			Tracker:          NewImageLayoutTracker(),
		},
		config:  cfg,
		events:  events,
		metrics: metrics,
	}
}

func (vr *VulkanRenderer) Initialize() error {
	return vr.CreateFrameSync(vr.config.MaxFramesInFlight)
}

func (vr *VulkanRenderer) Shutdown() error {
	return vr.DestroyFrameSync()
}

// CreateFrameSync creates the frame slots, the frame timeline, the timeline
// semaphore pool and the recording workers. Any failure is fatal to renderer
// startup; the recording workers are the exception and only degrade.
func (vr *VulkanRenderer) CreateFrameSync(maxFramesInFlight uint32) error {
	ctx := vr.context
	if ctx.Slots != nil {
		return nil
	}
	if maxFramesInFlight != MAX_FRAMES_IN_FLIGHT {
		core.LogWarn("running with %d frames in flight instead of %d", maxFramesInFlight, MAX_FRAMES_IN_FLIGHT)
	}

	slots, err := NewFrameSlotPool(ctx.Device, ctx.QueueFamilyIndex, maxFramesInFlight)
	if err != nil {
		return err
	}
	timeline, err := NewTimelineSynchronizer(ctx.Device)
	if err != nil {
		_ = slots.Destroy()
		return err
	}
	pool, err := NewTimelineSemaphorePool(ctx.Device, ctx.Locks, vr.config.TimelinePool.MaxSize, vr.config.TimelinePool.IdleTTL.Duration, nil)
	if err != nil {
		timeline.Destroy()
		_ = slots.Destroy()
		return err
	}
	ctx.Slots = slots
	ctx.Timeline = timeline
	ctx.TimelinePool = pool

	ctx.Manager = NewCommandManager(ctx.Device, ctx.Locks, ctx.QueueFamilyIndex, CommandManagerOptions{
		MaxThreads:   vr.config.MaxRecordingThreads,
		QueueSize:    vr.config.TaskQueueSize,
		PollInterval: vr.config.TaskPollInterval.Duration,
	})
	if err := ctx.Manager.Start(); err != nil {
		core.LogWarn("recording workers unavailable, recording on the render thread: %s", err)
	}

	ctx.Validator = vr.validatorFor(vr.config)
	ctx.Recorder = NewFrameRecorder(FrameRecorderOptions{
		Device:               ctx.Device,
		Locks:                ctx.Locks,
		QueueFamilyIndex:     ctx.QueueFamilyIndex,
		Slots:                ctx.Slots,
		Tracker:              ctx.Tracker,
		Swapchain:            ctx.Swapchain,
		Timeline:             ctx.Timeline,
		Manager:              ctx.Manager,
		Validator:            ctx.Validator,
		Metrics:              vr.metrics,
		FenceTimeout:         vr.config.FenceTimeout.Duration,
		WorkerSceneRecording: vr.config.WorkerSceneRecording,
	})
	ctx.Recorder.SetScene(vr.scene)
	ctx.Recorder.SetEnvironmentPass(vr.environment)
	ctx.Recorder.SetUIPass(vr.ui)
	ctx.Recorder.RecreateImages()

	if vr.events != nil {
		vr.events.Register(core.EVENT_CODE_SWAPCHAIN_RECREATED, vr, vr.onSwapchainRecreated)
	}
	core.LogInfo("frame sync created with %d frames in flight", maxFramesInFlight)
	return nil
}

func (vr *VulkanRenderer) validatorFor(cfg config.RendererConfig) BarrierValidator {
	if cfg.BarrierValidation {
		return NewLayoutHazardValidator()
	}
	return NopValidator{}
}

// DestroyFrameSync stops the workers and releases every object created by
// CreateFrameSync. No submission may still be in flight on return.
func (vr *VulkanRenderer) DestroyFrameSync() error {
	ctx := vr.context
	if ctx.Slots == nil {
		return nil
	}
	if vr.events != nil {
		vr.events.Unregister(core.EVENT_CODE_SWAPCHAIN_RECREATED, vr, vr.onSwapchainRecreated)
	}
	if ctx.Manager != nil {
		if err := ctx.Manager.Shutdown(); err != nil {
			core.LogError("failed to stop recording workers: %s", err)
		}
		ctx.Manager.ProcessCompleted()
	}
	// Waits for the device to go idle first.
	if err := ctx.Slots.Destroy(); err != nil {
		return err
	}
	ctx.Timeline.Destroy()
	ctx.TimelinePool.Destroy()
	ctx.Tracker.Release()

	ctx.Slots = nil
	ctx.Timeline = nil
	ctx.TimelinePool = nil
	ctx.Recorder = nil
	core.LogInfo("frame sync destroyed")
	return nil
}

// RecreateImagesInFlight resets the layout tracker for the swapchain's
// current images. Call it after every swapchain recreation.
func (vr *VulkanRenderer) RecreateImagesInFlight() error {
	ctx := vr.context
	if ctx.Recorder == nil {
		return core.ErrSwapchainBooting
	}
	ctx.Recorder.RecreateImages()
	ctx.SwapchainGeneration++
	core.LogDebug("images in flight recreated for %d swapchain images (generation %d)", ctx.Tracker.ImageCount(), ctx.SwapchainGeneration)
	return nil
}

func (vr *VulkanRenderer) onSwapchainRecreated(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if err := vr.RecreateImagesInFlight(); err != nil {
		core.LogError("failed to recreate images in flight: %s", err)
	}
	// Other listeners may also need to know.
	return false
}

func (vr *VulkanRenderer) RecordFrame(imageIndex uint32) error {
	ctx := vr.context
	if ctx.Recorder == nil {
		return core.NewError(core.KindFrameDropped, "record frame", core.ErrSwapchainBooting)
	}
	err := ctx.Recorder.RecordFrame(imageIndex)
	if err != nil && vr.events != nil {
		vr.events.Fire(core.EVENT_CODE_FRAME_DROPPED, vr, core.EventContext{
			U32: [4]uint32{imageIndex},
			U64: [2]uint64{ctx.Recorder.FrameCounter()},
		})
	}
	return err
}

func (vr *VulkanRenderer) SubmitFrame() error {
	if vr.context.Recorder == nil {
		return core.NewError(core.KindFrameDropped, "submit frame", core.ErrSwapchainBooting)
	}
	return vr.context.Recorder.SubmitFrame()
}

func (vr *VulkanRenderer) SetBufferIndex(bufferIndex uint32) error {
	if vr.context.Recorder == nil {
		return core.ErrSwapchainBooting
	}
	return vr.context.Recorder.SetBufferIndex(bufferIndex)
}

// SubmitRecordTask hands fn to the recording workers. When they are not
// running the task runs before this returns. It reports false only when the
// task could not be accepted at all.
func (vr *VulkanRenderer) SubmitRecordTask(fn RecordFunc, data interface{}, callback CompletionFunc) bool {
	if fn == nil {
		return false
	}
	if vr.context.Manager == nil {
		task := NewCommandRecordTask(fn, data, callback)
		task.run(nil, nil)
		if callback != nil {
			callback(task, task.Succeeded())
		}
		return true
	}
	vr.context.Manager.SubmitRecordTask(fn, data, callback)
	return true
}

// GetCommandManager returns nil unless the recording workers are running.
func (vr *VulkanRenderer) GetCommandManager() *CommandManager {
	if vr.context.Manager == nil || !vr.context.Manager.IsRunning() {
		return nil
	}
	return vr.context.Manager
}

func (vr *VulkanRenderer) IsMultithreaded() bool {
	return vr.GetCommandManager() != nil
}

// ProcessCompletedTasks drains finished recording tasks on the calling goroutine.
func (vr *VulkanRenderer) ProcessCompletedTasks() int {
	if vr.context.Manager == nil {
		return 0
	}
	return vr.context.Manager.ProcessCompleted()
}

// CleanupIdleTimelines sweeps the timeline semaphore pool.
func (vr *VulkanRenderer) CleanupIdleTimelines() int {
	if vr.context.TimelinePool == nil {
		return 0
	}
	return vr.context.TimelinePool.CleanupIdle(core.SystemTime.Now())
}

func (vr *VulkanRenderer) TimelinePool() *TimelineSemaphorePool {
	return vr.context.TimelinePool
}

func (vr *VulkanRenderer) Timeline() *TimelineSynchronizer {
	return vr.context.Timeline
}

func (vr *VulkanRenderer) Recorder() *FrameRecorder {
	return vr.context.Recorder
}

func (vr *VulkanRenderer) Context() *VulkanContext {
	return vr.context
}

func (vr *VulkanRenderer) Metrics() *core.Metrics {
	return vr.metrics
}

func (vr *VulkanRenderer) SetScene(scene SceneRecorder) {
	vr.scene = scene
	if vr.context.Recorder != nil {
		vr.context.Recorder.SetScene(scene)
	}
}

func (vr *VulkanRenderer) SetEnvironmentPass(pass PassRecorder) {
	vr.environment = pass
	if vr.context.Recorder != nil {
		vr.context.Recorder.SetEnvironmentPass(pass)
	}
}

func (vr *VulkanRenderer) SetUIPass(pass PassRecorder) {
	vr.ui = pass
	if vr.context.Recorder != nil {
		vr.context.Recorder.SetUIPass(pass)
	}
}

// ApplyConfig takes the settings that can change without recreating the
// frame core. Sizes and thread counts apply on the next CreateFrameSync.
func (vr *VulkanRenderer) ApplyConfig(cfg config.RendererConfig) error {
	if cfg.MaxFramesInFlight != vr.config.MaxFramesInFlight && vr.context.Slots != nil {
		core.LogWarn("max_frames_in_flight change from %d to %d ignored until restart", vr.config.MaxFramesInFlight, cfg.MaxFramesInFlight)
		cfg.MaxFramesInFlight = vr.config.MaxFramesInFlight
	}
	vr.config = cfg
	if r := vr.context.Recorder; r != nil {
		vr.context.Validator = vr.validatorFor(cfg)
		r.SetValidator(vr.context.Validator)
		r.SetWorkerSceneRecording(cfg.WorkerSceneRecording)
	}
	return nil
}

func (vr *VulkanRenderer) String() string {
	return fmt.Sprintf("VulkanRenderer(frames=%d, workers=%v)", vr.config.MaxFramesInFlight, vr.IsMultithreaded())
}

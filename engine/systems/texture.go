package systems

import (
	"errors"
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
)

var (
	ErrTextureTableFull = errors.New("texture streaming table is full")
	ErrUploadQueueFull  = errors.New("texture upload queue is full")
)

// UploadRecorder records the copy commands of one texture upload.
type UploadRecorder interface {
	RecordUpload(cmd *vulkan.VulkanCommandBuffer) error
}

// UploadRecorderFunc adapts a function to UploadRecorder.
type UploadRecorderFunc func(cmd *vulkan.VulkanCommandBuffer) error

func (f UploadRecorderFunc) RecordUpload(cmd *vulkan.VulkanCommandBuffer) error {
	return f(cmd)
}

type TextureStreamingConfig struct {
	/** @brief The maximum number of textures that can be tracked at once. */
	MaxTextureCount uint32
	/** @brief The maximum number of uploads waiting for the next flush. */
	MaxPendingUploads uint32
	/** @brief How long a flush waits for the GPU to finish a batch. */
	WaitTimeout time.Duration
}

// StreamedTexture is the residency record of a texture.
type StreamedTexture struct {
	Name string
	// Generation counts completed uploads. Zero means not resident yet.
	Generation uint32
	// LastBatch is the batch that made the current generation resident.
	LastBatch uuid.UUID
}

type textureUpload struct {
	id       uuid.UUID
	name     string
	recorder UploadRecorder
}

// UploadBatchReport describes one flush.
type UploadBatchReport struct {
	ID       uuid.UUID
	Uploaded int
	Failed   int
	// Recorded on worker goroutines; the rest were recorded directly.
	OnWorkers   int
	SignalValue uint64
}

// TextureStreamingSystem batches texture uploads and records them on the
// renderer's recording workers. Every flush is a synchronisation point: the
// batch is submitted with a pooled timeline semaphore and waited on before
// the worker pools are reset.
type TextureStreamingSystem struct {
	Config *TextureStreamingConfig

	backend *vulkan.VulkanRenderer
	device  vulkan.Device

	mutex    sync.Mutex
	pending  []*textureUpload
	textures map[string]*StreamedTexture

	pool    vk.CommandPool
	primary *vulkan.VulkanCommandBuffer
	// A batch whose wait timed out. The primary and the worker buffers stay
	// untouched until it completes.
	inFlight *submittedBatch
}

type submittedBatch struct {
	report     UploadBatchReport
	allocation vulkan.TimelineAllocation
	uploads    []*textureUpload
	recorded   map[uuid.UUID]bool
}

func NewTextureStreamingSystem(config *TextureStreamingConfig, backend *vulkan.VulkanRenderer) (*TextureStreamingSystem, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureStreamingSystem - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.MaxPendingUploads == 0 {
		config.MaxPendingUploads = config.MaxTextureCount
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = time.Second
	}
	return &TextureStreamingSystem{
		Config:   config,
		backend:  backend,
		textures: make(map[string]*StreamedTexture, config.MaxTextureCount),
	}, nil
}

// Initialize creates the primary buffer batches are stitched into. The
// renderer must already be initialized.
func (ts *TextureStreamingSystem) Initialize() error {
	ctx := ts.backend.Context()
	ts.device = ctx.Device
	pool, err := ts.device.CreateCommandPool(ctx.QueueFamilyIndex, true)
	if err != nil {
		return core.NewError(core.KindFatalInit, "texture streaming pool", err)
	}
	primary, err := vulkan.NewVulkanCommandBuffer(ts.device, pool, true)
	if err != nil {
		ts.device.DestroyCommandPool(pool)
		return core.NewError(core.KindFatalInit, "texture streaming buffer", err)
	}
	ts.pool = pool
	ts.primary = primary
	return nil
}

func (ts *TextureStreamingSystem) Shutdown() error {
	if ts.pool == vk.NullCommandPool {
		return nil
	}
	if pending := ts.PendingCount(); pending > 0 {
		core.LogWarn("texture streaming shut down with %d uploads pending", pending)
	}
	if ts.inFlight != nil {
		if err := ts.device.WaitIdle(); err != nil {
			return err
		}
		ts.inFlight = nil
	}
	ts.device.DestroyCommandPool(ts.pool)
	ts.pool = vk.NullCommandPool
	ts.primary = nil
	return nil
}

// Queue schedules an upload of the named texture for the next flush and
// returns its id.
func (ts *TextureStreamingSystem) Queue(name string, recorder UploadRecorder) (uuid.UUID, error) {
	if recorder == nil {
		return uuid.Nil, fmt.Errorf("texture %q queued without an upload recorder", name)
	}
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	if _, ok := ts.textures[name]; !ok && uint32(len(ts.textures)) >= ts.Config.MaxTextureCount {
		core.LogError("texture streaming table is full, %q not queued", name)
		return uuid.Nil, ErrTextureTableFull
	}
	if uint32(len(ts.pending)) >= ts.Config.MaxPendingUploads {
		return uuid.Nil, ErrUploadQueueFull
	}
	if _, ok := ts.textures[name]; !ok {
		ts.textures[name] = &StreamedTexture{Name: name}
	}
	upload := &textureUpload{id: uuid.New(), name: name, recorder: recorder}
	ts.pending = append(ts.pending, upload)
	return upload.id, nil
}

func (ts *TextureStreamingSystem) PendingCount() int {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	return len(ts.pending)
}

// Texture returns the residency record of name.
func (ts *TextureStreamingSystem) Texture(name string) (StreamedTexture, bool) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	t, ok := ts.textures[name]
	if !ok {
		return StreamedTexture{}, false
	}
	return *t, true
}

// Update flushes pending uploads. Called once per frame on the render thread.
func (ts *TextureStreamingSystem) Update() error {
	if ts.PendingCount() == 0 {
		return nil
	}
	report, err := ts.Flush()
	if err != nil {
		return err
	}
	core.LogDebug("texture batch %s: %d uploaded, %d failed, %d on workers", report.ID, report.Uploaded, report.Failed, report.OnWorkers)
	return nil
}

// Flush records, submits and waits for every pending upload. Uploads whose
// worker recording fails are recorded directly into the batch buffer. When no
// timeline semaphore is available the uploads stay queued.
func (ts *TextureStreamingSystem) Flush() (UploadBatchReport, error) {
	if ts.primary == nil {
		return UploadBatchReport{}, core.NewError(core.KindDegraded, "texture flush", core.ErrBuffersNotInitialized)
	}
	if ts.inFlight != nil {
		if err := ts.complete(ts.inFlight); err != nil {
			return UploadBatchReport{}, err
		}
	}

	ts.mutex.Lock()
	batch := ts.pending
	ts.pending = nil
	ts.mutex.Unlock()

	report := UploadBatchReport{ID: uuid.New()}
	if len(batch) == 0 {
		return report, nil
	}

	timelines := ts.backend.TimelinePool()
	if timelines == nil {
		ts.requeue(batch)
		return report, core.NewError(core.KindDegraded, "texture flush", core.ErrSwapchainBooting)
	}
	allocation, err := timelines.Allocate()
	if err != nil {
		ts.requeue(batch)
		return report, err
	}

	manager := ts.backend.GetCommandManager()
	onWorkers, direct := ts.recordOnWorkers(manager, batch)
	report.OnWorkers = len(onWorkers)

	recorded, err := ts.recordPrimary(manager, onWorkers, direct)
	if err != nil {
		_ = timelines.Deallocate(allocation.Handle, allocation.BaseValue)
		ts.resetWorkers(manager)
		ts.requeue(batch)
		return report, err
	}

	report.SignalValue = allocation.BaseValue + 1
	submission := &vulkan.QueueSubmission{
		CommandBuffers:   []vk.CommandBuffer{ts.primary.Handle},
		SignalSemaphores: []vk.Semaphore{allocation.Semaphore},
		SignalValues:     []uint64{report.SignalValue},
	}
	ctx := ts.backend.Context()
	err = ctx.Locks.SafeQueueCall(ctx.QueueFamilyIndex, func() error {
		return ts.device.QueueSubmit(submission)
	})
	if err != nil {
		_ = timelines.Deallocate(allocation.Handle, allocation.BaseValue)
		ts.resetWorkers(manager)
		ts.requeue(batch)
		return report, core.NewError(core.KindDegraded, "texture submit", err)
	}
	ts.primary.UpdateSubmitted()

	submitted := &submittedBatch{
		report:     report,
		allocation: allocation,
		uploads:    batch,
		recorded:   recorded,
	}
	if err := ts.complete(submitted); err != nil {
		return report, err
	}
	return submitted.report, nil
}

// complete waits for a submitted batch and makes its uploads resident. On
// timeout the batch stays in flight and the next flush waits for it again.
func (ts *TextureStreamingSystem) complete(b *submittedBatch) error {
	value := b.report.SignalValue
	if err := ts.device.WaitSemaphore(b.allocation.Semaphore, value, uint64(ts.Config.WaitTimeout.Nanoseconds())); err != nil {
		ts.inFlight = b
		return core.NewError(core.KindDegraded, "texture wait", err)
	}
	ts.inFlight = nil
	ts.primary.Retire()
	// Nothing recorded by the workers is pending any more.
	ts.resetWorkers(ts.backend.GetCommandManager())
	if timelines := ts.backend.TimelinePool(); timelines != nil {
		if err := timelines.Deallocate(b.allocation.Handle, value); err != nil {
			core.LogWarn("failed to return texture timeline: %s", err)
		}
	}

	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	for _, upload := range b.uploads {
		if !b.recorded[upload.id] {
			b.report.Failed++
			continue
		}
		if t, ok := ts.textures[upload.name]; ok {
			t.Generation++
			t.LastBatch = b.report.ID
		}
		b.report.Uploaded++
	}
	return nil
}

// InFlight reports whether a batch timed out and has not completed yet.
func (ts *TextureStreamingSystem) InFlight() bool {
	return ts.inFlight != nil
}

type workerUpload struct {
	upload    *textureUpload
	secondary *vulkan.SecondaryCommandContext
}

// recordOnWorkers fans the batch out as one recording task per upload. It
// returns the uploads recorded into ended secondaries, in batch order, and
// the uploads left to record directly.
func (ts *TextureStreamingSystem) recordOnWorkers(manager *vulkan.CommandManager, batch []*textureUpload) ([]workerUpload, []*textureUpload) {
	if manager == nil {
		return nil, batch
	}

	contexts := make([]*vulkan.SecondaryCommandContext, len(batch))
	tasks := make([]*vulkan.CommandRecordTask, len(batch))
	for i, upload := range batch {
		i, upload := i, upload
		tasks[i], _ = manager.SubmitRecordTask(func(pool *vulkan.ThreadCommandPool, _ interface{}) bool {
			sc, err := manager.AllocateSecondaryBuffer(pool)
			if err != nil {
				return false
			}
			// Executed outside any rendering scope.
			if err := manager.BeginSecondary(sc, &vulkan.InheritanceInfo{}); err != nil {
				return false
			}
			recordErr := upload.recorder.RecordUpload(sc.Buffer.VulkanCommandBuffer)
			if err := manager.EndSecondary(sc); err != nil || recordErr != nil {
				return false
			}
			contexts[i] = sc
			return true
		}, nil, nil)
	}

	result := manager.AwaitBatch(tasks)
	if result.Outcome == vulkan.PartialFailure {
		core.LogWarn("%d of %d texture uploads failed on workers, recording them directly", result.Failed, len(tasks))
	}
	var onWorkers []workerUpload
	var direct []*textureUpload
	for i, task := range tasks {
		if task.Succeeded() && contexts[i] != nil {
			onWorkers = append(onWorkers, workerUpload{upload: batch[i], secondary: contexts[i]})
			continue
		}
		direct = append(direct, batch[i])
	}
	return onWorkers, direct
}

// recordPrimary stitches the worker secondaries into the batch buffer and
// records the remaining uploads directly. It returns which uploads made it
// into the buffer.
func (ts *TextureStreamingSystem) recordPrimary(manager *vulkan.CommandManager, onWorkers []workerUpload, direct []*textureUpload) (map[uuid.UUID]bool, error) {
	if err := ts.primary.Reset(ts.device); err != nil {
		return nil, core.NewError(core.KindDegraded, "texture batch reset", err)
	}
	if err := ts.primary.Begin(ts.device, true, false, false, nil); err != nil {
		return nil, core.NewError(core.KindDegraded, "texture batch begin", err)
	}

	recorded := make(map[uuid.UUID]bool, len(onWorkers)+len(direct))
	if len(onWorkers) > 0 {
		contexts := make([]*vulkan.SecondaryCommandContext, len(onWorkers))
		for i, w := range onWorkers {
			contexts[i] = w.secondary
			recorded[w.upload.id] = true
		}
		if err := manager.ExecuteSecondary(ts.primary, contexts); err != nil {
			_ = ts.primary.End(ts.device)
			return nil, err
		}
	}
	for _, upload := range direct {
		if err := upload.recorder.RecordUpload(ts.primary); err != nil {
			core.LogError("texture upload %q failed: %s", upload.name, err)
			continue
		}
		recorded[upload.id] = true
	}

	if err := ts.primary.End(ts.device); err != nil {
		return nil, core.NewError(core.KindDegraded, "texture batch end", err)
	}
	return recorded, nil
}

func (ts *TextureStreamingSystem) resetWorkers(manager *vulkan.CommandManager) {
	if manager == nil {
		return
	}
	if err := manager.ResetAllPools(); err != nil {
		core.LogError("failed to reset recording pools after texture batch: %s", err)
	}
}

func (ts *TextureStreamingSystem) requeue(batch []*textureUpload) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	ts.pending = append(batch, ts.pending...)
}

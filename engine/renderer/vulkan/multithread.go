package vulkan

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/framesync/engine/containers"
	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/math"
)

// RecordFunc records commands for a task. pool is the worker's own command
// pool, or nil when the task runs inline on the submitting goroutine.
type RecordFunc func(pool *ThreadCommandPool, userData interface{}) bool

// CompletionFunc is invoked on the goroutine that drains completed tasks.
type CompletionFunc func(task *CommandRecordTask, success bool)

type CommandRecordTask struct {
	ID         uuid.UUID
	Record     RecordFunc
	UserData   interface{}
	OnComplete CompletionFunc

	completed atomic.Bool
	success   atomic.Bool
}

func NewCommandRecordTask(fn RecordFunc, userData interface{}, onComplete CompletionFunc) *CommandRecordTask {
	return &CommandRecordTask{
		ID:         uuid.New(),
		Record:     fn,
		UserData:   userData,
		OnComplete: onComplete,
	}
}

func (t *CommandRecordTask) IsCompleted() bool {
	return t.completed.Load()
}

// Succeeded is only meaningful once IsCompleted reports true.
func (t *CommandRecordTask) Succeeded() bool {
	return t.success.Load()
}

// run executes the task. published is called before the completion flag is
// set, so a waiter that observes completion also observes its effects.
func (t *CommandRecordTask) run(pool *ThreadCommandPool, published func(*CommandRecordTask)) {
	ok := t.Record != nil && t.Record(pool, t.UserData)
	t.success.Store(ok)
	if published != nil {
		published(t)
	}
	t.completed.Store(true)
}

// ThreadCommandPool is owned by exactly one worker goroutine.
type ThreadCommandPool struct {
	ThreadID int
	pool     vk.CommandPool
	buffers  []InheritedSecondaryBuffer
	next     int
	active   bool
}

func (tp *ThreadCommandPool) Active() bool {
	return tp.active
}

// Allocated returns how many secondary buffers the pool holds.
func (tp *ThreadCommandPool) Allocated() int {
	return len(tp.buffers)
}

// SecondaryCommandContext ties a secondary buffer to the pool that owns it.
// It is recycled implicitly when the pool is next reset.
type SecondaryCommandContext struct {
	Buffer InheritedSecondaryBuffer
	Pool   *ThreadCommandPool
	begun  bool
	ended  bool
}

func (sc *SecondaryCommandContext) IsEnded() bool {
	return sc.ended
}

type BatchOutcome int

const (
	AllSucceeded BatchOutcome = iota
	PartialFailure
)

func (o BatchOutcome) String() string {
	if o == AllSucceeded {
		return "all-succeeded"
	}
	return "partial-failure"
}

type BatchResult struct {
	Outcome   BatchOutcome
	Succeeded int
	Failed    int
}

type CommandManagerOptions struct {
	// OptimalThreads is the platform hint. Zero means runtime.NumCPU().
	OptimalThreads int
	// MaxThreads further limits the worker count. Zero means no extra limit.
	MaxThreads   int
	QueueSize    int
	PollInterval time.Duration
	Clock        core.TimeSource
}

// CommandManager runs command recording tasks on a small pool of worker
// goroutines, each owning its own command pool of secondary buffers. When it
// is not running, or its queue is full, tasks run on the caller instead.
type CommandManager struct {
	device           Device
	queueFamilyIndex uint32
	options          CommandManagerOptions

	// Guards pools and every ThreadCommandPool inside it.
	locks     *VulkanLockPool
	poolMutex *sync.Mutex
	pools     []*ThreadCommandPool

	queueMutex sync.Mutex
	queueCond  *sync.Cond
	queue      *containers.RingQueue[*CommandRecordTask]
	stopping   bool
	running    atomic.Bool
	wg         sync.WaitGroup

	completedMutex sync.Mutex
	completed      []*CommandRecordTask
	outstanding    atomic.Int64
}

func NewCommandManager(device Device, locks *VulkanLockPool, queueFamilyIndex uint32, options CommandManagerOptions) *CommandManager {
	if options.QueueSize < 1 {
		options.QueueSize = DEFAULT_TASK_QUEUE_SIZE
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DEFAULT_TASK_POLL
	}
	if options.Clock == nil {
		options.Clock = core.SystemTime
	}
	if locks == nil {
		locks = NewVulkanLockPool()
	}
	cm := &CommandManager{
		device:           device,
		queueFamilyIndex: queueFamilyIndex,
		options:          options,
		locks:            locks,
		poolMutex:        locks.Lock(CommandPoolManagement),
		queue:            containers.NewRingQueue[*CommandRecordTask](options.QueueSize),
	}
	cm.queueCond = sync.NewCond(&cm.queueMutex)
	return cm
}

// ThreadCount is the number of workers Start creates: the platform hint
// clamped to [1, MAX_RECORDING_THREADS].
func (cm *CommandManager) ThreadCount() int {
	optimal := cm.options.OptimalThreads
	if optimal <= 0 {
		optimal = runtime.NumCPU()
	}
	if cm.options.MaxThreads > 0 {
		optimal = math.Min(optimal, cm.options.MaxThreads)
	}
	return math.Clamp(optimal, 1, MAX_RECORDING_THREADS)
}

func (cm *CommandManager) IsRunning() bool {
	return cm.running.Load()
}

// Start creates the worker pools and goroutines. Failure leaves the manager
// stopped, which degrades every caller to inline recording.
func (cm *CommandManager) Start() error {
	if cm.running.Load() {
		return nil
	}
	count := cm.ThreadCount()

	cm.poolMutex.Lock()
	pools := make([]*ThreadCommandPool, 0, count)
	for i := 0; i < count; i++ {
		tp, err := cm.createThreadPool(i)
		if err != nil {
			for _, p := range pools {
				cm.device.DestroyCommandPool(p.pool)
			}
			cm.poolMutex.Unlock()
			core.LogError("failed to create recording thread pool %d: %s", i, err)
			return core.NewError(core.KindDegraded, "command manager start", err)
		}
		pools = append(pools, tp)
	}
	cm.pools = pools
	cm.poolMutex.Unlock()

	cm.queueMutex.Lock()
	cm.stopping = false
	cm.queueMutex.Unlock()

	for _, tp := range pools {
		cm.wg.Add(1)
		go cm.worker(tp)
	}
	cm.running.Store(true)
	core.LogInfo("multi-threaded recording started with %d workers", count)
	return nil
}

func (cm *CommandManager) createThreadPool(threadID int) (*ThreadCommandPool, error) {
	pool, err := cm.device.CreateCommandPool(cm.queueFamilyIndex, true)
	if err != nil {
		return nil, err
	}
	buffers, err := AllocateCommandBuffers(cm.device, pool, vk.CommandBufferLevelSecondary, SECONDARY_BUFFERS_PER_THREAD)
	if err != nil {
		cm.device.DestroyCommandPool(pool)
		return nil, err
	}
	tp := &ThreadCommandPool{
		ThreadID: threadID,
		pool:     pool,
		buffers:  make([]InheritedSecondaryBuffer, len(buffers)),
		active:   true,
	}
	for i, b := range buffers {
		tp.buffers[i] = InheritedSecondaryBuffer{b}
	}
	return tp, nil
}

func (cm *CommandManager) worker(tp *ThreadCommandPool) {
	defer cm.wg.Done()
	for {
		cm.queueMutex.Lock()
		for cm.queue.IsEmpty() && !cm.stopping {
			cm.queueCond.Wait()
		}
		// Queued work is finished before the worker exits.
		task, err := cm.queue.Dequeue()
		cm.queueMutex.Unlock()
		if err != nil {
			return
		}
		task.run(tp, cm.publishCompleted)
	}
}

func (cm *CommandManager) publishCompleted(task *CommandRecordTask) {
	cm.completedMutex.Lock()
	cm.completed = append(cm.completed, task)
	cm.completedMutex.Unlock()
}

// Shutdown drains the queue, stops the workers and destroys their pools.
// Completed tasks stay available to ProcessCompleted.
func (cm *CommandManager) Shutdown() error {
	if !cm.running.Load() {
		return nil
	}
	cm.queueMutex.Lock()
	cm.stopping = true
	cm.queueCond.Broadcast()
	cm.queueMutex.Unlock()
	cm.wg.Wait()
	cm.running.Store(false)

	cm.poolMutex.Lock()
	defer cm.poolMutex.Unlock()
	for _, tp := range cm.pools {
		tp.active = false
		cm.device.DestroyCommandPool(tp.pool)
		tp.pool = vk.NullCommandPool
		tp.buffers = nil
		tp.next = 0
	}
	cm.pools = nil
	core.LogInfo("multi-threaded recording stopped")
	return nil
}

// SubmitTask queues task for a worker and reports true. When the manager is
// not running or the queue is full the task runs on the caller before
// SubmitTask returns false; its completion callback has then already run.
func (cm *CommandManager) SubmitTask(task *CommandRecordTask) bool {
	if cm.running.Load() {
		cm.queueMutex.Lock()
		if !cm.stopping {
			if err := cm.queue.Enqueue(task); err == nil {
				cm.outstanding.Add(1)
				cm.queueCond.Signal()
				cm.queueMutex.Unlock()
				return true
			}
			core.LogDebug("recording queue full, running task %s inline", task.ID)
		}
		cm.queueMutex.Unlock()
	}
	task.run(nil, nil)
	if task.OnComplete != nil {
		task.OnComplete(task, task.Succeeded())
	}
	return false
}

func (cm *CommandManager) SubmitRecordTask(fn RecordFunc, userData interface{}, onComplete CompletionFunc) (*CommandRecordTask, bool) {
	task := NewCommandRecordTask(fn, userData, onComplete)
	return task, cm.SubmitTask(task)
}

// AwaitBatch polls the completion flags of tasks, sleeping between polls,
// until every task has completed.
func (cm *CommandManager) AwaitBatch(tasks []*CommandRecordTask) BatchResult {
	for {
		done := true
		for _, t := range tasks {
			if !t.IsCompleted() {
				done = false
				break
			}
		}
		if done {
			break
		}
		cm.options.Clock.Sleep(cm.options.PollInterval)
	}
	result := BatchResult{Outcome: AllSucceeded}
	for _, t := range tasks {
		if t.Succeeded() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	if result.Failed > 0 {
		result.Outcome = PartialFailure
	}
	return result
}

// ProcessCompleted invokes the completion callbacks of finished tasks on the
// calling goroutine and releases them. It returns how many were drained.
func (cm *CommandManager) ProcessCompleted() int {
	cm.completedMutex.Lock()
	drained := cm.completed
	cm.completed = nil
	cm.completedMutex.Unlock()

	for _, task := range drained {
		if task.OnComplete != nil {
			task.OnComplete(task, task.Succeeded())
		}
		cm.outstanding.Add(-1)
	}
	return len(drained)
}

// Outstanding is the number of queued tasks not yet drained.
func (cm *CommandManager) Outstanding() int {
	return int(cm.outstanding.Load())
}

// Pool returns the command pool of worker threadID.
func (cm *CommandManager) Pool(threadID int) *ThreadCommandPool {
	cm.poolMutex.Lock()
	defer cm.poolMutex.Unlock()
	if threadID < 0 || threadID >= len(cm.pools) {
		return nil
	}
	return cm.pools[threadID]
}

// AllocateSecondaryBuffer hands out the next free secondary buffer of pool,
// allocating more when the preallocated ones are used up.
func (cm *CommandManager) AllocateSecondaryBuffer(tp *ThreadCommandPool) (*SecondaryCommandContext, error) {
	if tp == nil {
		return nil, core.NewError(core.KindDegraded, "allocate secondary buffer", core.ErrPoolInactive)
	}
	cm.poolMutex.Lock()
	defer cm.poolMutex.Unlock()

	if !tp.active {
		return nil, core.NewError(core.KindDegraded, "allocate secondary buffer", core.ErrPoolInactive)
	}
	if tp.next >= len(tp.buffers) {
		buffer, err := NewVulkanCommandBuffer(cm.device, tp.pool, false)
		if err != nil {
			return nil, core.NewError(core.KindDegraded, "allocate secondary buffer", err)
		}
		tp.buffers = append(tp.buffers, InheritedSecondaryBuffer{buffer})
	}
	buffer := tp.buffers[tp.next]
	tp.next++
	return &SecondaryCommandContext{Buffer: buffer, Pool: tp}, nil
}

// BeginSecondary begins ctx with the inheritance of the rendering scope it
// will be executed in.
func (cm *CommandManager) BeginSecondary(ctx *SecondaryCommandContext, inheritance *InheritanceInfo) error {
	continueRendering := inheritance != nil && inheritance.Rendering != nil
	if err := ctx.Buffer.Begin(cm.device, true, continueRendering, false, inheritance); err != nil {
		return core.NewError(core.KindDegraded, "begin secondary", err)
	}
	ctx.begun = true
	ctx.ended = false
	return nil
}

func (cm *CommandManager) EndSecondary(ctx *SecondaryCommandContext) error {
	if !ctx.begun {
		return core.NewError(core.KindDegraded, "end secondary", core.ErrNotRecording)
	}
	if err := ctx.Buffer.End(cm.device); err != nil {
		return core.NewError(core.KindDegraded, "end secondary", err)
	}
	ctx.begun = false
	ctx.ended = true
	return nil
}

// ExecuteSecondary records the execution of every context into primary. The
// caller must already have opened a compatible rendering scope.
func (cm *CommandManager) ExecuteSecondary(primary *VulkanCommandBuffer, contexts []*SecondaryCommandContext) error {
	if !primary.IsRecording() {
		return core.NewError(core.KindDegraded, "execute secondary", core.ErrNotRecording)
	}
	handles := make([]vk.CommandBuffer, 0, len(contexts))
	for _, ctx := range contexts {
		if !ctx.ended {
			return core.NewError(core.KindDegraded, "execute secondary", core.ErrSecondaryNotEnded)
		}
		handles = append(handles, ctx.Buffer.Handle)
	}
	cm.device.CmdExecuteCommands(primary.Handle, handles)
	return nil
}

// ResetAllPools reclaims every secondary buffer of every worker. Only call
// it after a synchronisation point where none of them is pending execution.
func (cm *CommandManager) ResetAllPools() error {
	return cm.locks.SafeCall(CommandPoolManagement, func() error {
		for _, tp := range cm.pools {
			if !tp.active {
				continue
			}
			if err := cm.device.ResetCommandPool(tp.pool); err != nil {
				core.LogError("failed to reset recording pool of thread %d: %s", tp.ThreadID, err)
				return err
			}
			for _, b := range tp.buffers {
				b.State = COMMAND_BUFFER_STATE_READY
			}
			tp.next = 0
		}
		return nil
	})
}

// RecordSceneInto records scene content into buffer on a worker and waits
// for it. It fails with ErrSubsystemNotRunning when no worker is available
// so the caller can record inline instead.
func (cm *CommandManager) RecordSceneInto(buffer InheritedSecondaryBuffer, inheritance *InheritanceInfo, extent vk.Extent2D, scene SceneRecorder) error {
	if !cm.running.Load() {
		return core.NewError(core.KindDegraded, "record scene on worker", core.ErrSubsystemNotRunning)
	}
	var recordErr error
	task := NewCommandRecordTask(func(_ *ThreadCommandPool, _ interface{}) bool {
		recordErr = recordSecondary(cm.device, buffer, inheritance, extent, scene)
		return recordErr == nil
	}, nil, nil)
	cm.SubmitTask(task)
	if result := cm.AwaitBatch([]*CommandRecordTask{task}); result.Outcome != AllSucceeded {
		return core.NewError(core.KindDegraded, "record scene on worker", recordErr)
	}
	return nil
}

// recordSecondary fills a secondary buffer with scene content. Dynamic
// viewport and scissor are set inside the secondary because a scope opened
// for secondary contents accepts nothing but execute commands.
func recordSecondary(device Device, buffer InheritedSecondaryBuffer, inheritance *InheritanceInfo, extent vk.Extent2D, scene SceneRecorder) error {
	if err := buffer.Reset(device); err != nil {
		return err
	}
	continueRendering := inheritance != nil && inheritance.Rendering != nil
	if err := buffer.Begin(device, true, continueRendering, false, inheritance); err != nil {
		return err
	}
	device.CmdSetViewportScissor(buffer.Handle, extent)
	sceneErr := scene.RecordSceneContent(buffer.VulkanCommandBuffer)
	if err := buffer.End(device); err != nil {
		return err
	}
	return sceneErr
}

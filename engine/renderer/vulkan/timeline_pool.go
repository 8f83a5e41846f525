package vulkan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/containers"
	"github.com/spaghettifunk/framesync/engine/core"
)

// TimelineHandle addresses an entry of the timeline semaphore pool.
type TimelineHandle uint32

type TimelinePoolEntry struct {
	Semaphore vk.Semaphore
	// Floor for the next signal value; reuse must keep values monotonic.
	LastSignaledValue uint64
	InUse             bool
	CreationTime      time.Time
	LastUsed          time.Time
}

// TimelineAllocation is what callers hold while using a pooled semaphore.
type TimelineAllocation struct {
	Handle    TimelineHandle
	Semaphore vk.Semaphore
	// BaseValue is the last value the semaphore was signalled to. Signal
	// values for this allocation must be greater than it.
	BaseValue uint64
}

type TimelinePoolStats struct {
	Allocations   uint64
	Deallocations uint64
	CacheHits     uint64
	CacheMisses   uint64
	ActiveCount   int64
}

// TimelineSemaphorePool caches timeline semaphores for auxiliary async work.
// The pool owns every entry; callers only hold handles. Mutation is guarded
// by one mutex, statistics are atomic and readable without it.
type TimelineSemaphorePool struct {
	device  Device
	idleTTL time.Duration
	clock   core.TimeSource

	mutex   *sync.Mutex
	entries []TimelinePoolEntry
	// Slots holding a created semaphore are acquired from here.
	slots *containers.FreeList
	// Created entries waiting for reuse, most recently returned last.
	idle []TimelineHandle

	allocations   atomic.Uint64
	deallocations atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	activeCount   atomic.Int64
}

func NewTimelineSemaphorePool(device Device, locks *VulkanLockPool, maxSize int, idleTTL time.Duration, clock core.TimeSource) (*TimelineSemaphorePool, error) {
	if maxSize < 1 {
		return nil, core.NewError(core.KindFatalInit, "timeline pool create", fmt.Errorf("max size must be at least 1, got %d", maxSize))
	}
	if idleTTL <= 0 {
		idleTTL = DEFAULT_TIMELINE_IDLE_TTL
	}
	if clock == nil {
		clock = core.SystemTime
	}
	mutex := &sync.Mutex{}
	if locks != nil {
		mutex = locks.Lock(SynchronizationManagement)
	}
	return &TimelineSemaphorePool{
		device:  device,
		idleTTL: idleTTL,
		clock:   clock,
		mutex:   mutex,
		entries: make([]TimelinePoolEntry, maxSize),
		slots:   containers.NewFreeList(uint32(maxSize)),
		idle:    make([]TimelineHandle, 0, maxSize),
	}, nil
}

// Allocate hands out an idle semaphore when one exists (cache hit) and
// otherwise creates one if capacity allows (cache miss).
func (tp *TimelineSemaphorePool) Allocate() (TimelineAllocation, error) {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	now := tp.clock.Now()
	if n := len(tp.idle); n > 0 {
		handle := tp.idle[n-1]
		tp.idle = tp.idle[:n-1]
		entry := &tp.entries[handle]
		entry.InUse = true
		entry.LastUsed = now

		tp.cacheHits.Add(1)
		tp.allocations.Add(1)
		tp.activeCount.Add(1)
		return TimelineAllocation{Handle: handle, Semaphore: entry.Semaphore, BaseValue: entry.LastSignaledValue}, nil
	}

	id, ok := tp.slots.Acquire()
	if !ok {
		return TimelineAllocation{}, core.NewError(core.KindDegraded, "timeline pool allocate", core.ErrPoolExhausted)
	}
	semaphore, err := tp.device.CreateTimelineSemaphore(0)
	if err != nil {
		_ = tp.slots.Release(id)
		core.LogError("failed to create pooled timeline semaphore: %s", err)
		return TimelineAllocation{}, core.NewError(core.KindDegraded, "timeline pool allocate", err)
	}
	tp.entries[id] = TimelinePoolEntry{
		Semaphore:    semaphore,
		InUse:        true,
		CreationTime: now,
		LastUsed:     now,
	}

	tp.cacheMisses.Add(1)
	tp.allocations.Add(1)
	tp.activeCount.Add(1)
	return TimelineAllocation{Handle: TimelineHandle(id), Semaphore: semaphore}, nil
}

// Deallocate returns an entry to the pool, stamping the last value it was signalled to.
func (tp *TimelineSemaphorePool) Deallocate(handle TimelineHandle, lastValue uint64) error {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	if !tp.slots.InUse(uint32(handle)) {
		return core.ErrInvalidHandle
	}
	entry := &tp.entries[handle]
	if !entry.InUse {
		return core.ErrNotInUse
	}
	entry.InUse = false
	if lastValue > entry.LastSignaledValue {
		entry.LastSignaledValue = lastValue
	}
	entry.LastUsed = tp.clock.Now()
	tp.idle = append(tp.idle, handle)

	tp.deallocations.Add(1)
	tp.activeCount.Add(-1)
	return nil
}

// CleanupIdle destroys deallocated entries unused for longer than the idle
// TTL and returns how many were destroyed. In-use entries are never touched.
func (tp *TimelineSemaphorePool) CleanupIdle(now time.Time) int {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	destroyed := 0
	kept := tp.idle[:0]
	for _, handle := range tp.idle {
		entry := &tp.entries[handle]
		if now.Sub(entry.LastUsed) <= tp.idleTTL {
			kept = append(kept, handle)
			continue
		}
		tp.device.DestroySemaphore(entry.Semaphore)
		tp.entries[handle] = TimelinePoolEntry{}
		_ = tp.slots.Release(uint32(handle))
		destroyed++
	}
	tp.idle = kept
	if destroyed > 0 {
		core.LogDebug("timeline pool: destroyed %d idle semaphores", destroyed)
	}
	return destroyed
}

func (tp *TimelineSemaphorePool) Stats() TimelinePoolStats {
	return TimelinePoolStats{
		Allocations:   tp.allocations.Load(),
		Deallocations: tp.deallocations.Load(),
		CacheHits:     tp.cacheHits.Load(),
		CacheMisses:   tp.cacheMisses.Load(),
		ActiveCount:   tp.activeCount.Load(),
	}
}

// Size returns the number of semaphores currently created, in use or idle.
func (tp *TimelineSemaphorePool) Size() int {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()
	return int(tp.slots.Capacity()) - tp.slots.Available()
}

// Destroy releases every pooled semaphore. The device must be idle.
func (tp *TimelineSemaphorePool) Destroy() {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	for i := range tp.entries {
		entry := &tp.entries[i]
		if !tp.slots.InUse(uint32(i)) {
			continue
		}
		if entry.InUse {
			core.LogWarn("timeline pool: destroying semaphore %d still in use", i)
		}
		tp.device.DestroySemaphore(entry.Semaphore)
		*entry = TimelinePoolEntry{}
		_ = tp.slots.Release(uint32(i))
	}
	tp.idle = tp.idle[:0]
	tp.activeCount.Store(0)
}

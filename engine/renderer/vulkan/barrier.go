package vulkan

import (
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

// RenderThreadID identifies the orchestrator when validating barriers.
const RenderThreadID = 0

// BarrierValidator checks a batch of barriers before it is recorded. A
// false result is advisory: it is logged and the barriers are still recorded.
type BarrierValidator interface {
	Validate(dependency *DependencyInfo, cmd vk.CommandBuffer, threadID int) bool
}

type NopValidator struct{}

func (NopValidator) Validate(*DependencyInfo, vk.CommandBuffer, int) bool { return true }

type hazardKey struct {
	threadID int
	image    vk.Image
}

// LayoutHazardValidator tracks the last layout each (thread, image) pair was
// transitioned to and flags barriers whose old layout disagrees with it, as
// well as transitions that do not change the layout.
type LayoutHazardValidator struct {
	mutex      sync.Mutex
	layouts    map[hazardKey]vk.ImageLayout
	violations atomic.Uint64
}

func NewLayoutHazardValidator() *LayoutHazardValidator {
	return &LayoutHazardValidator{
		layouts: make(map[hazardKey]vk.ImageLayout),
	}
}

func (v *LayoutHazardValidator) Validate(dependency *DependencyInfo, cmd vk.CommandBuffer, threadID int) bool {
	if dependency == nil {
		return true
	}
	v.mutex.Lock()
	defer v.mutex.Unlock()

	ok := true
	for _, b := range dependency.ImageBarriers {
		key := hazardKey{threadID: threadID, image: b.Image}
		if b.OldLayout == b.NewLayout {
			core.LogWarn("barrier validation: redundant transition of image %d to layout %d (thread %d)", b.ImageIndex, b.NewLayout, threadID)
			ok = false
		}
		// UNDEFINED discards the contents and is valid from any layout.
		if last, seen := v.layouts[key]; seen && b.OldLayout != vk.ImageLayoutUndefined && b.OldLayout != last {
			core.LogWarn("barrier validation: image %d old layout %d does not match tracked layout %d (thread %d)", b.ImageIndex, b.OldLayout, last, threadID)
			ok = false
		}
		v.layouts[key] = b.NewLayout
	}
	if !ok {
		v.violations.Add(1)
	}
	return ok
}

// Reset forgets every tracked layout. Used when the swapchain images change.
func (v *LayoutHazardValidator) Reset() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.layouts = make(map[hazardKey]vk.ImageLayout)
}

func (v *LayoutHazardValidator) Violations() uint64 {
	return v.violations.Load()
}

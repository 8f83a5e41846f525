package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

// TimelineValues are the per-frame checkpoints on the frame timeline.
type TimelineValues struct {
	CurrentFrame   uint64
	ImageAvailable uint64
	RenderComplete uint64
}

func timelineValuesFrom(base uint64) TimelineValues {
	return TimelineValues{
		CurrentFrame:   base,
		ImageAvailable: base + 1,
		RenderComplete: base + 2,
	}
}

// TimelineSynchronizer owns the frame timeline semaphore. Values are only
// mutated at frame boundaries by the render thread.
type TimelineSynchronizer struct {
	device    Device
	Semaphore vk.Semaphore
	values    TimelineValues
}

func NewTimelineSynchronizer(device Device) (*TimelineSynchronizer, error) {
	semaphore, err := device.CreateTimelineSemaphore(0)
	if err != nil {
		core.LogError("failed to create frame timeline semaphore: %s", err)
		return nil, core.NewError(core.KindFatalInit, "timeline synchronizer create", err)
	}
	return &TimelineSynchronizer{
		device:    device,
		Semaphore: semaphore,
		values:    timelineValuesFrom(0),
	}, nil
}

func (ts *TimelineSynchronizer) Values() TimelineValues {
	return ts.values
}

// Advance moves the three checkpoints together. The new baseline is the
// value the previous frame signals on render completion, so the sequence
// stays strictly increasing.
func (ts *TimelineSynchronizer) Advance() TimelineValues {
	ts.values = timelineValuesFrom(ts.values.RenderComplete)
	return ts.values
}

// CompletedValue returns the value the GPU has signalled so far.
func (ts *TimelineSynchronizer) CompletedValue() (uint64, error) {
	return ts.device.SemaphoreCounterValue(ts.Semaphore)
}

func (ts *TimelineSynchronizer) Wait(value uint64, timeoutNs uint64) error {
	return ts.device.WaitSemaphore(ts.Semaphore, value, timeoutNs)
}

func (ts *TimelineSynchronizer) Destroy() {
	if ts.Semaphore != vk.NullSemaphore {
		ts.device.DestroySemaphore(ts.Semaphore)
		ts.Semaphore = vk.NullSemaphore
	}
}

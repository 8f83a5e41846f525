package vulkan_test

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan/vulkantest"
)

func TestNewFrameSlotPool(t *testing.T) {
	dev := vulkantest.NewFakeDevice()
	slots, err := vulkan.NewFrameSlotPool(dev, 0, vulkan.MAX_FRAMES_IN_FLIGHT)
	require.NoError(t, err)

	assert.Equal(t, vulkan.MAX_FRAMES_IN_FLIGHT, slots.Count())
	assert.Equal(t, 3, dev.LivePools())
	assert.Equal(t, 6, dev.LiveSemaphores())
	assert.Equal(t, 3, dev.LiveFences())

	for i := uint32(0); i < slots.Count(); i++ {
		slot, err := slots.Slot(i)
		require.NoError(t, err)
		assert.True(t, dev.FenceSignaled(slot.InFlight.Handle), "slot %d fence starts signalled", i)
		assert.NotEqual(t, handleID(slot.Primary.Handle), handleID(slot.Alternate.Handle))
		assert.Equal(t, vk.CommandBufferLevelSecondary, slot.SceneSecondary.Level)
		assert.NotEqual(t, handleID(slot.ImageAcquired), handleID(slot.RenderFinished))
	}

	_, err = slots.Slot(3)
	assert.ErrorIs(t, err, core.ErrInvalidFrameSlot)
}

func TestNewFrameSlotPoolReleasesOnFailure(t *testing.T) {
	tests := []struct {
		name string
		op   string
		skip int
	}{
		{name: "first pool", op: vulkantest.OpCreateCommandPool},
		{name: "second slot buffers", op: vulkantest.OpAllocateCommandBuffers, skip: 2},
		{name: "render finished semaphore", op: vulkantest.OpCreateSemaphore, skip: 1},
		{name: "last fence", op: vulkantest.OpCreateFence, skip: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := vulkantest.NewFakeDevice()
			dev.FailAfter(tt.op, tt.skip)

			slots, err := vulkan.NewFrameSlotPool(dev, 0, 3)
			require.Error(t, err)
			assert.Nil(t, slots)
			assert.Equal(t, core.KindFatalInit, core.KindOf(err))
			assert.ErrorIs(t, err, vulkantest.ErrInjected)

			assert.Zero(t, dev.LivePools())
			assert.Zero(t, dev.LiveSemaphores())
			assert.Zero(t, dev.LiveFences())
		})
	}
}

func TestNewFrameSlotPoolRejectsZero(t *testing.T) {
	_, err := vulkan.NewFrameSlotPool(vulkantest.NewFakeDevice(), 0, 0)
	assert.Equal(t, core.KindFatalInit, core.KindOf(err))
}

func TestFrameSlotPoolDestroyOrder(t *testing.T) {
	dev := vulkantest.NewFakeDevice()
	slots, err := vulkan.NewFrameSlotPool(dev, 0, 3)
	require.NoError(t, err)
	dev.ResetCalls()

	require.NoError(t, slots.Destroy())

	var ops []string
	for _, c := range dev.Calls() {
		ops = append(ops, c.Op)
	}
	require.NotEmpty(t, ops)
	assert.Equal(t, vulkantest.OpWaitIdle, ops[0])
	last := map[string]int{}
	first := map[string]int{}
	for i, op := range ops {
		if _, ok := first[op]; !ok {
			first[op] = i
		}
		last[op] = i
	}
	assert.Less(t, last[vulkantest.OpDestroyFence], first[vulkantest.OpDestroySemaphore])
	assert.Less(t, last[vulkantest.OpDestroySemaphore], first[vulkantest.OpDestroyCommandPool])
	assert.Equal(t, 3, dev.Count(vulkantest.OpDestroyFence))
	assert.Equal(t, 6, dev.Count(vulkantest.OpDestroySemaphore))
	assert.Equal(t, 3, dev.Count(vulkantest.OpDestroyCommandPool))

	assert.Zero(t, dev.LivePools())
	assert.Zero(t, dev.LiveFences())
	assert.Zero(t, dev.LiveSemaphores())
	assert.Zero(t, slots.Count())

	// A second destroy has nothing left to do.
	require.NoError(t, slots.Destroy())
}

func TestFrameSlotPoolDestroyWaitIdleFailure(t *testing.T) {
	dev := vulkantest.NewFakeDevice()
	slots, err := vulkan.NewFrameSlotPool(dev, 0, 3)
	require.NoError(t, err)

	dev.FailNext(vulkantest.OpWaitIdle, 1)
	require.Error(t, slots.Destroy())
	assert.Equal(t, 3, dev.LiveFences(), "nothing is released while the device may be busy")

	require.NoError(t, slots.Destroy())
	assert.Zero(t, dev.LiveFences())
}

func TestFrameSlotPoolSelectBuffer(t *testing.T) {
	dev := vulkantest.NewFakeDevice()
	slots, err := vulkan.NewFrameSlotPool(dev, 0, 3)
	require.NoError(t, err)

	primary, err := slots.SelectBuffer(0, 0)
	require.NoError(t, err)
	alternate, err := slots.SelectBuffer(0, 1)
	require.NoError(t, err)
	assert.NotEqual(t, handleID(primary.Handle), handleID(alternate.Handle))

	_, err = slots.SelectBuffer(0, 2)
	assert.ErrorIs(t, err, core.ErrInvalidBufferIndex)
	_, err = slots.SelectBuffer(5, 0)
	assert.ErrorIs(t, err, core.ErrInvalidFrameSlot)

	require.NoError(t, slots.MarkSubmitted(0, primary))
	_, err = slots.SelectBuffer(0, 0)
	assert.ErrorIs(t, err, core.ErrBufferInFlight)
	_, err = slots.SelectBuffer(0, 1)
	assert.NoError(t, err, "the alternate buffer is independent of the primary")

	require.NoError(t, slots.WaitForSlot(0, 0))
	_, err = slots.SelectBuffer(0, 0)
	assert.NoError(t, err)

	require.NoError(t, slots.Destroy())
	_, err = slots.SelectBuffer(0, 0)
	assert.ErrorIs(t, err, core.ErrInvalidFrameSlot)
}

func TestFrameSlotPoolWaitTimeout(t *testing.T) {
	dev := vulkantest.NewFakeDevice()
	slots, err := vulkan.NewFrameSlotPool(dev, 0, 3)
	require.NoError(t, err)
	slot, err := slots.Slot(1)
	require.NoError(t, err)

	require.NoError(t, slot.InFlight.Reset(dev))
	require.NoError(t, slots.MarkSubmitted(1, slot.Primary))

	assert.ErrorIs(t, slots.WaitForSlot(1, 0), vulkantest.ErrTimeout)
	assert.Equal(t, vulkan.COMMAND_BUFFER_STATE_SUBMITTED, slot.Primary.State, "a buffer is only retired once its fence signals")
}

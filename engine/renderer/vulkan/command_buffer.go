package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in-render-pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording-ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	default:
		return "not-allocated"
	}
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	Pool   vk.CommandPool
	Level  vk.CommandBufferLevel
	// Command buffer state.
	State VulkanCommandBufferState
}

// AlternatePrimaryBuffer is the second primary-level buffer of a frame slot,
// used as a CPU-side double buffer. It is never executed from another buffer.
type AlternatePrimaryBuffer struct {
	*VulkanCommandBuffer
}

// InheritedSecondaryBuffer is a secondary-level buffer that declares the
// attachment formats of the rendering scope it will be executed in.
type InheritedSecondaryBuffer struct {
	*VulkanCommandBuffer
}

// AllocateCommandBuffers allocates count buffers of the given level from pool.
func AllocateCommandBuffers(device Device, pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]*VulkanCommandBuffer, error) {
	handles, err := device.AllocateCommandBuffers(pool, level, count)
	if err != nil {
		core.LogError("failed to allocate command buffer: %s", err)
		return nil, err
	}
	buffers := make([]*VulkanCommandBuffer, len(handles))
	for i, h := range handles {
		buffers[i] = &VulkanCommandBuffer{
			Handle: h,
			Pool:   pool,
			Level:  level,
			State:  COMMAND_BUFFER_STATE_READY,
		}
	}
	return buffers, nil
}

func NewVulkanCommandBuffer(device Device, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}
	buffers, err := AllocateCommandBuffers(device, pool, level, 1)
	if err != nil {
		return nil, err
	}
	return buffers[0], nil
}

func (v *VulkanCommandBuffer) Begin(device Device, isSingleUse, isRenderpassContinue, isSimultaneousUse bool, inheritance *InheritanceInfo) error {
	var flags vk.CommandBufferUsageFlags
	if isSingleUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if err := device.BeginCommandBuffer(v.Handle, flags, inheritance); err != nil {
		core.LogError("failed to begin command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End(device Device) error {
	if err := device.EndCommandBuffer(v.Handle); err != nil {
		core.LogError("failed to end command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// Reset returns the buffer to the initial state on the device.
func (v *VulkanCommandBuffer) Reset(device Device) error {
	if err := device.ResetCommandBuffer(v.Handle); err != nil {
		core.LogError("failed to reset command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Retire marks a submitted buffer as reusable once its fence has signalled.
func (v *VulkanCommandBuffer) Retire() {
	if v.State == COMMAND_BUFFER_STATE_SUBMITTED {
		v.State = COMMAND_BUFFER_STATE_READY
	}
}

func (v *VulkanCommandBuffer) IsRecording() bool {
	return v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

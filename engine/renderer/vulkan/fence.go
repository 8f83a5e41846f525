package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(device Device, createSignaled bool) (*VulkanFence, error) {
	handle, err := device.CreateFence(createSignaled)
	if err != nil {
		core.LogError("failed to create fence: %s", err)
		return nil, err
	}
	return &VulkanFence{
		Handle: handle,
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}, nil
}

func (vf *VulkanFence) Destroy(device Device) {
	if vf.Handle != vk.NullFence {
		device.DestroyFence(vf.Handle)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence is signalled or the timeout expires. The
// device wait is issued even when the fence is known to be signalled, which
// returns immediately on a real device.
func (vf *VulkanFence) Wait(device Device, timeoutNs uint64) error {
	if err := device.WaitForFence(vf.Handle, timeoutNs); err != nil {
		core.LogError("vk_fence_wait - %s", err)
		return err
	}
	vf.IsSignaled = true
	return nil
}

func (vf *VulkanFence) Reset(device Device) error {
	if !vf.IsSignaled {
		return nil
	}
	if err := device.ResetFence(vf.Handle); err != nil {
		core.LogError("failed to reset fence: %s", err)
		return err
	}
	vf.IsSignaled = false
	return nil
}

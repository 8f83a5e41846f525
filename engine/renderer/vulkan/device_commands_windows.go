//go:build windows

package vulkan

import (
	"errors"

	vk "github.com/goki/vulkan"
)

// deviceCommands on Windows: vulkan-1.dll is not loaded through dlopen, so
// dynamic rendering and timeline host access are unavailable.
type deviceCommands struct{}

func loadDeviceCommands(vk.Device) (*deviceCommands, error) {
	return nil, errors.New("dynamic rendering entry points are not resolved on windows")
}

func (*deviceCommands) CmdBeginRendering(vk.CommandBuffer, *vk.RenderingInfo) {}

func (*deviceCommands) CmdEndRendering(vk.CommandBuffer) {}

func (*deviceCommands) WaitSemaphores(*vk.SemaphoreWaitInfo, uint64) vk.Result {
	return vk.ErrorFeatureNotPresent
}

func (*deviceCommands) GetSemaphoreCounterValue(vk.Semaphore, *uint64) vk.Result {
	return vk.ErrorFeatureNotPresent
}

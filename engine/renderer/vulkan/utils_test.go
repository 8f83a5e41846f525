package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestVulkanResult(t *testing.T) {
	assert.Equal(t, "VK_TIMEOUT", VulkanResultString(vk.Timeout))
	assert.Equal(t, "VkResult(-1000012000)", VulkanResultString(vk.Result(-1000012000)))

	assert.True(t, VulkanResultIsSuccess(vk.Success))
	assert.True(t, VulkanResultIsSuccess(vk.Suboptimal))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorDeviceLost))
	assert.False(t, VulkanResultIsSuccess(vk.Result(-1000012000)))

	assert.EqualError(t, resultError("vkQueueSubmit", vk.ErrorDeviceLost), "vkQueueSubmit failed with result: VK_ERROR_DEVICE_LOST")
}

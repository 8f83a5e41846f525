package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Format vk.Format
	Width  uint32
	Height uint32
}

// DepthAspect returns the aspect mask for a depth attachment of the image's format.
func (vi *VulkanImage) DepthAspect() vk.ImageAspectFlags {
	aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	switch vi.Format {
	case vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD16UnormS8Uint:
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return aspect
}

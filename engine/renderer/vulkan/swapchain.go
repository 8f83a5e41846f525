package vulkan

import (
	vk "github.com/goki/vulkan"
)

// SwapchainProvider exposes the presentable images the frame core renders
// into. Surface negotiation, acquire and present live with the provider;
// it calls RecreateImagesInFlight whenever any of these values change.
type SwapchainProvider interface {
	ImageCount() uint32
	Images() []vk.Image
	Views() []vk.ImageView
	ColorFormat() vk.Format
	// DepthFormat is vk.FormatUndefined when there is no depth attachment.
	DepthFormat() vk.Format
	// DepthImage is nil when there is no depth attachment.
	DepthImage() *VulkanImage
	Extent() vk.Extent2D
}

// VulkanSwapchain is a snapshot of a swapchain created by the platform layer.
type VulkanSwapchain struct {
	ImageFormat     vk.SurfaceFormat
	Handle          vk.Swapchain
	SwapchainImages []vk.Image
	SwapchainViews  []vk.ImageView
	SwapchainExtent vk.Extent2D

	DepthAttachment *VulkanImage
}

var _ SwapchainProvider = (*VulkanSwapchain)(nil)

func (vs *VulkanSwapchain) ImageCount() uint32 {
	return uint32(len(vs.SwapchainImages))
}

func (vs *VulkanSwapchain) Images() []vk.Image {
	return vs.SwapchainImages
}

func (vs *VulkanSwapchain) Views() []vk.ImageView {
	return vs.SwapchainViews
}

func (vs *VulkanSwapchain) ColorFormat() vk.Format {
	return vs.ImageFormat.Format
}

func (vs *VulkanSwapchain) DepthFormat() vk.Format {
	if vs.DepthAttachment == nil {
		return vk.FormatUndefined
	}
	return vs.DepthAttachment.Format
}

func (vs *VulkanSwapchain) DepthImage() *VulkanImage {
	return vs.DepthAttachment
}

func (vs *VulkanSwapchain) Extent() vk.Extent2D {
	return vs.SwapchainExtent
}

// Update replaces the snapshot after the platform layer recreated the swapchain.
func (vs *VulkanSwapchain) Update(handle vk.Swapchain, images []vk.Image, views []vk.ImageView, extent vk.Extent2D, depth *VulkanImage) {
	vs.Handle = handle
	vs.SwapchainImages = images
	vs.SwapchainViews = views
	vs.SwapchainExtent = extent
	vs.DepthAttachment = depth
}

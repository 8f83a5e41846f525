package vulkan

import (
	vk "github.com/goki/vulkan"
)

// Device is the slice of the explicit graphics API the frame core drives.
// VulkanDevice implements it on top of a logical device; tests use an
// in-memory fake. Implementations must be safe for concurrent use on
// distinct objects, which is the guarantee Vulkan itself gives: worker
// goroutines record into their own pools while the render thread records
// the frame.
type Device interface {
	CreateCommandPool(queueFamilyIndex uint32, resetBuffers bool) (vk.CommandPool, error)
	ResetCommandPool(pool vk.CommandPool) error
	DestroyCommandPool(pool vk.CommandPool)
	AllocateCommandBuffers(pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]vk.CommandBuffer, error)
	ResetCommandBuffer(cmd vk.CommandBuffer) error
	BeginCommandBuffer(cmd vk.CommandBuffer, usage vk.CommandBufferUsageFlags, inheritance *InheritanceInfo) error
	EndCommandBuffer(cmd vk.CommandBuffer) error

	CreateFence(signaled bool) (vk.Fence, error)
	WaitForFence(fence vk.Fence, timeoutNs uint64) error
	ResetFence(fence vk.Fence) error
	DestroyFence(fence vk.Fence)

	CreateSemaphore() (vk.Semaphore, error)
	CreateTimelineSemaphore(initialValue uint64) (vk.Semaphore, error)
	SemaphoreCounterValue(semaphore vk.Semaphore) (uint64, error)
	WaitSemaphore(semaphore vk.Semaphore, value uint64, timeoutNs uint64) error
	DestroySemaphore(semaphore vk.Semaphore)

	WaitIdle() error
	QueueSubmit(submission *QueueSubmission) error

	CmdPipelineBarrier(cmd vk.CommandBuffer, dependency *DependencyInfo)
	CmdBeginRendering(cmd vk.CommandBuffer, info *RenderingInfo)
	CmdEndRendering(cmd vk.CommandBuffer)
	CmdSetViewportScissor(cmd vk.CommandBuffer, extent vk.Extent2D)
	CmdExecuteCommands(cmd vk.CommandBuffer, secondaries []vk.CommandBuffer)
}

// ImageBarrier describes one image layout transition.
type ImageBarrier struct {
	Image vk.Image
	// ImageIndex is the swapchain index, or DepthImageIndex for the depth image.
	ImageIndex int
	Aspect     vk.ImageAspectFlags
	OldLayout  vk.ImageLayout
	NewLayout  vk.ImageLayout
	SrcStage   vk.PipelineStageFlags
	DstStage   vk.PipelineStageFlags
	SrcAccess  vk.AccessFlags
	DstAccess  vk.AccessFlags
}

const DepthImageIndex = -1

// DependencyInfo groups the barriers recorded by one pipeline barrier command.
type DependencyInfo struct {
	ImageBarriers []ImageBarrier
}

type RenderingAttachment struct {
	View         vk.ImageView
	Layout       vk.ImageLayout
	LoadOp       vk.AttachmentLoadOp
	StoreOp      vk.AttachmentStoreOp
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
}

// RenderingInfo opens a dynamic rendering scope.
type RenderingInfo struct {
	Extent vk.Extent2D
	Color  []RenderingAttachment
	Depth  *RenderingAttachment
	// The scope body only executes secondary command buffers.
	SecondaryContents bool
}

// InheritanceRenderingInfo declares the attachment formats of the rendering
// scope a secondary command buffer will be executed in.
type InheritanceRenderingInfo struct {
	ColorFormats []vk.Format
	DepthFormat  vk.Format
	Samples      vk.SampleCountFlagBits
}

// InheritanceInfo is passed when beginning a secondary command buffer.
// Rendering is nil for secondaries executed outside a rendering scope.
type InheritanceInfo struct {
	Rendering *InheritanceRenderingInfo
}

// QueueSubmission is one batch for the graphics queue. Values are the
// timeline values for timeline semaphores and are ignored for binary ones.
type QueueSubmission struct {
	CommandBuffers   []vk.CommandBuffer
	WaitSemaphores   []vk.Semaphore
	WaitStages       []vk.PipelineStageFlags
	WaitValues       []uint64
	SignalSemaphores []vk.Semaphore
	SignalValues     []uint64
	Fence            vk.Fence
}

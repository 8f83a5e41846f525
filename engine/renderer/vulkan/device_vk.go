package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

// VulkanDevice implements Device on a logical device created elsewhere
// (instance, physical device selection and surface negotiation happen in
// the platform layer).
type VulkanDevice struct {
	LogicalDevice      vk.Device
	GraphicsQueue      vk.Queue
	GraphicsQueueIndex uint32
	Allocator          *vk.AllocationCallbacks

	commands *deviceCommands
}

var _ Device = (*VulkanDevice)(nil)

// NewVulkanDevice wraps logicalDevice, which must have been created with
// dynamic rendering and timeline semaphores enabled.
func NewVulkanDevice(logicalDevice vk.Device, graphicsQueue vk.Queue, graphicsQueueIndex uint32) (*VulkanDevice, error) {
	commands, err := loadDeviceCommands(logicalDevice)
	if err != nil {
		return nil, core.NewError(core.KindFatalInit, "load device commands", err)
	}
	return &VulkanDevice{
		LogicalDevice:      logicalDevice,
		GraphicsQueue:      graphicsQueue,
		GraphicsQueueIndex: graphicsQueueIndex,
		commands:           commands,
	}, nil
}

func (d *VulkanDevice) CreateCommandPool(queueFamilyIndex uint32, resetBuffers bool) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
	}
	if resetBuffers {
		poolCreateInfo.Flags = vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, d.Allocator, &pool); res != vk.Success {
		return vk.NullCommandPool, resultError("vkCreateCommandPool", res)
	}
	return pool, nil
}

func (d *VulkanDevice) ResetCommandPool(pool vk.CommandPool) error {
	if res := vk.ResetCommandPool(d.LogicalDevice, pool, 0); res != vk.Success {
		return resultError("vkResetCommandPool", res)
	}
	return nil
}

func (d *VulkanDevice) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(d.LogicalDevice, pool, d.Allocator)
}

func (d *VulkanDevice) AllocateCommandBuffers(pool vk.CommandPool, level vk.CommandBufferLevel, count uint32) ([]vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              level,
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	return buffers, nil
}

func (d *VulkanDevice) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	if res := vk.ResetCommandBuffer(cmd, 0); res != vk.Success {
		return resultError("vkResetCommandBuffer", res)
	}
	return nil
}

func (d *VulkanDevice) BeginCommandBuffer(cmd vk.CommandBuffer, usage vk.CommandBufferUsageFlags, inheritance *InheritanceInfo) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: usage,
	}
	if inheritance != nil {
		inheritanceInfo := vk.CommandBufferInheritanceInfo{
			SType: vk.StructureTypeCommandBufferInheritanceInfo,
		}
		if r := inheritance.Rendering; r != nil {
			renderingInfo := vk.CommandBufferInheritanceRenderingInfo{
				SType:                   vk.StructureTypeCommandBufferInheritanceRenderingInfo,
				ColorAttachmentCount:    uint32(len(r.ColorFormats)),
				PColorAttachmentFormats: r.ColorFormats,
				DepthAttachmentFormat:   r.DepthFormat,
				StencilAttachmentFormat: vk.FormatUndefined,
				RasterizationSamples:    r.Samples,
			}
			ref, _ := renderingInfo.PassRef()
			defer renderingInfo.Free()
			inheritanceInfo.PNext = unsafe.Pointer(ref)
		}
		beginInfo.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{inheritanceInfo}
	}
	if res := vk.BeginCommandBuffer(cmd, &beginInfo); res != vk.Success {
		return resultError("vkBeginCommandBuffer", res)
	}
	return nil
}

func (d *VulkanDevice) EndCommandBuffer(cmd vk.CommandBuffer) error {
	if res := vk.EndCommandBuffer(cmd); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}
	return nil
}

func (d *VulkanDevice) CreateFence(signaled bool) (vk.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.Allocator, &fence); res != vk.Success {
		return vk.NullFence, resultError("vkCreateFence", res)
	}
	return fence, nil
}

func (d *VulkanDevice) WaitForFence(fence vk.Fence, timeoutNs uint64) error {
	switch res := vk.WaitForFences(d.LogicalDevice, 1, []vk.Fence{fence}, vk.True, timeoutNs); res {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
		return resultError("vkWaitForFences", res)
	default:
		return resultError("vkWaitForFences", res)
	}
}

func (d *VulkanDevice) ResetFence(fence vk.Fence) error {
	if res := vk.ResetFences(d.LogicalDevice, 1, []vk.Fence{fence}); res != vk.Success {
		return resultError("vkResetFences", res)
	}
	return nil
}

func (d *VulkanDevice) DestroyFence(fence vk.Fence) {
	vk.DestroyFence(d.LogicalDevice, fence, d.Allocator)
}

func (d *VulkanDevice) CreateSemaphore() (vk.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.Allocator, &semaphore); res != vk.Success {
		return vk.NullSemaphore, resultError("vkCreateSemaphore", res)
	}
	return semaphore, nil
}

func (d *VulkanDevice) CreateTimelineSemaphore(initialValue uint64) (vk.Semaphore, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  initialValue,
	}
	typeRef, _ := typeInfo.PassRef()
	defer typeInfo.Free()
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafe.Pointer(typeRef),
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.Allocator, &semaphore); res != vk.Success {
		return vk.NullSemaphore, resultError("vkCreateSemaphore(timeline)", res)
	}
	return semaphore, nil
}

func (d *VulkanDevice) SemaphoreCounterValue(semaphore vk.Semaphore) (uint64, error) {
	var value uint64
	if res := d.commands.GetSemaphoreCounterValue(semaphore, &value); res != vk.Success {
		return 0, resultError("vkGetSemaphoreCounterValue", res)
	}
	return value, nil
}

func (d *VulkanDevice) WaitSemaphore(semaphore vk.Semaphore, value uint64, timeoutNs uint64) error {
	waitInfo := vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    []vk.Semaphore{semaphore},
		PValues:        []uint64{value},
	}
	if res := d.commands.WaitSemaphores(&waitInfo, timeoutNs); res != vk.Success {
		return resultError("vkWaitSemaphores", res)
	}
	return nil
}

func (d *VulkanDevice) DestroySemaphore(semaphore vk.Semaphore) {
	vk.DestroySemaphore(d.LogicalDevice, semaphore, d.Allocator)
}

func (d *VulkanDevice) WaitIdle() error {
	if res := vk.DeviceWaitIdle(d.LogicalDevice); !VulkanResultIsSuccess(res) {
		return resultError("vkDeviceWaitIdle", res)
	}
	return nil
}

func (d *VulkanDevice) QueueSubmit(submission *QueueSubmission) error {
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(submission.WaitSemaphores)),
		PWaitSemaphores:      submission.WaitSemaphores,
		PWaitDstStageMask:    submission.WaitStages,
		CommandBufferCount:   uint32(len(submission.CommandBuffers)),
		PCommandBuffers:      submission.CommandBuffers,
		SignalSemaphoreCount: uint32(len(submission.SignalSemaphores)),
		PSignalSemaphores:    submission.SignalSemaphores,
	}
	if len(submission.WaitValues) > 0 || len(submission.SignalValues) > 0 {
		timelineInfo := vk.TimelineSemaphoreSubmitInfo{
			SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
			WaitSemaphoreValueCount:   uint32(len(submission.WaitValues)),
			PWaitSemaphoreValues:      submission.WaitValues,
			SignalSemaphoreValueCount: uint32(len(submission.SignalValues)),
			PSignalSemaphoreValues:    submission.SignalValues,
		}
		timelineRef, _ := timelineInfo.PassRef()
		defer timelineInfo.Free()
		submitInfo.PNext = unsafe.Pointer(timelineRef)
	}
	if res := vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, submission.Fence); res != vk.Success {
		return resultError("vkQueueSubmit", res)
	}
	return nil
}

func (d *VulkanDevice) CmdPipelineBarrier(cmd vk.CommandBuffer, dependency *DependencyInfo) {
	// One command per barrier keeps the stage masks exact for mixed colour/depth batches.
	for _, b := range dependency.ImageBarriers {
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			OldLayout:           b.OldLayout,
			NewLayout:           b.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               b.Image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: b.Aspect,
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		vk.CmdPipelineBarrier(cmd, b.SrcStage, b.DstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	}
}

func renderingAttachmentInfo(a *RenderingAttachment, depth bool) vk.RenderingAttachmentInfo {
	var clear vk.ClearValue
	if depth {
		clear = vk.NewClearDepthStencil(a.ClearDepth, a.ClearStencil)
	} else {
		clear = vk.NewClearValue(a.ClearColor[:])
	}
	return vk.RenderingAttachmentInfo{
		SType:       vk.StructureTypeRenderingAttachmentInfo,
		ImageView:   a.View,
		ImageLayout: a.Layout,
		LoadOp:      a.LoadOp,
		StoreOp:     a.StoreOp,
		ClearValue:  clear,
	}
}

func (d *VulkanDevice) CmdBeginRendering(cmd vk.CommandBuffer, info *RenderingInfo) {
	colorAttachments := make([]vk.RenderingAttachmentInfo, len(info.Color))
	for i := range info.Color {
		colorAttachments[i] = renderingAttachmentInfo(&info.Color[i], false)
	}
	renderingInfo := vk.RenderingInfo{
		SType: vk.StructureTypeRenderingInfo,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: info.Extent,
		},
		LayerCount:           1,
		ColorAttachmentCount: uint32(len(colorAttachments)),
		PColorAttachments:    colorAttachments,
	}
	if info.Depth != nil {
		renderingInfo.PDepthAttachment = []vk.RenderingAttachmentInfo{renderingAttachmentInfo(info.Depth, true)}
	}
	if info.SecondaryContents {
		renderingInfo.Flags = vk.RenderingFlags(vk.RenderingContentsSecondaryCommandBuffersBit)
	}
	d.commands.CmdBeginRendering(cmd, &renderingInfo)
}

func (d *VulkanDevice) CmdEndRendering(cmd vk.CommandBuffer) {
	d.commands.CmdEndRendering(cmd)
}

func (d *VulkanDevice) CmdSetViewportScissor(cmd vk.CommandBuffer, extent vk.Extent2D) {
	viewport := vk.Viewport{
		X:        0.0,
		Y:        0.0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})
}

func (d *VulkanDevice) CmdExecuteCommands(cmd vk.CommandBuffer, secondaries []vk.CommandBuffer) {
	if len(secondaries) == 0 {
		return
	}
	vk.CmdExecuteCommands(cmd, uint32(len(secondaries)), secondaries)
}

package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

// ImageLayoutTracker remembers which swapchain images and whether the depth
// image have had their first transition. Each image starts Uninitialized,
// takes exactly one transition from UNDEFINED, then cycles between the
// attachment and presentable layouts. Render thread only.
type ImageLayoutTracker struct {
	initialized      []bool
	depthInitialized bool
}

func NewImageLayoutTracker() *ImageLayoutTracker {
	return &ImageLayoutTracker{}
}

// Reset reallocates the state for imageCount images, all Uninitialized.
// Must follow every swapchain recreation, even when the count is unchanged.
func (t *ImageLayoutTracker) Reset(imageCount uint32) {
	t.initialized = make([]bool, imageCount)
	t.depthInitialized = false
}

// Release drops the state. Every operation fails until the next Reset.
func (t *ImageLayoutTracker) Release() {
	t.initialized = nil
	t.depthInitialized = false
}

func (t *ImageLayoutTracker) IsAllocated() bool {
	return t.initialized != nil
}

func (t *ImageLayoutTracker) ImageCount() uint32 {
	return uint32(len(t.initialized))
}

func (t *ImageLayoutTracker) check(index uint32) error {
	if t.initialized == nil {
		return core.ErrTrackerAbsent
	}
	if index >= uint32(len(t.initialized)) {
		return core.ErrImageIndexOutOfRange
	}
	return nil
}

func (t *ImageLayoutTracker) IsInitialized(index uint32) (bool, error) {
	if err := t.check(index); err != nil {
		return false, err
	}
	return t.initialized[index], nil
}

func (t *ImageLayoutTracker) IsDepthInitialized() bool {
	return t.depthInitialized
}

// ColorToAttachment builds the barrier that makes a swapchain image
// renderable. The first use of an image comes from UNDEFINED; afterwards the
// image was left presentable by the previous frame.
func (t *ImageLayoutTracker) ColorToAttachment(index uint32, image vk.Image) (ImageBarrier, error) {
	if err := t.check(index); err != nil {
		return ImageBarrier{}, err
	}
	oldLayout := vk.ImageLayoutPresentSrc
	if !t.initialized[index] {
		oldLayout = vk.ImageLayoutUndefined
	}
	return ImageBarrier{
		Image:      image,
		ImageIndex: int(index),
		Aspect:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		OldLayout:  oldLayout,
		NewLayout:  vk.ImageLayoutColorAttachmentOptimal,
		SrcStage:   vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStage:   vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccess:  0,
		DstAccess:  vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}, nil
}

// CommitColor records that the attachment barrier for index was recorded.
func (t *ImageLayoutTracker) CommitColor(index uint32) error {
	if err := t.check(index); err != nil {
		return err
	}
	t.initialized[index] = true
	return nil
}

// ColorToPresent builds the end-of-frame barrier back to the presentable layout.
func (t *ImageLayoutTracker) ColorToPresent(index uint32, image vk.Image) (ImageBarrier, error) {
	if err := t.check(index); err != nil {
		return ImageBarrier{}, err
	}
	if !t.initialized[index] {
		return ImageBarrier{}, core.ErrImageNotInitialized
	}
	return ImageBarrier{
		Image:      image,
		ImageIndex: int(index),
		Aspect:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		OldLayout:  vk.ImageLayoutColorAttachmentOptimal,
		NewLayout:  vk.ImageLayoutPresentSrc,
		SrcStage:   vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStage:   vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		SrcAccess:  vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstAccess:  0,
	}, nil
}

// DepthToAttachment returns the one-shot depth barrier. needed is false once
// the depth image has been committed; depth stays in the attachment layout.
func (t *ImageLayoutTracker) DepthToAttachment(depth *VulkanImage) (barrier ImageBarrier, needed bool, err error) {
	if t.initialized == nil {
		return ImageBarrier{}, false, core.ErrTrackerAbsent
	}
	if depth == nil || t.depthInitialized {
		return ImageBarrier{}, false, nil
	}
	depthStages := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
	return ImageBarrier{
		Image:      depth.Handle,
		ImageIndex: DepthImageIndex,
		Aspect:     depth.DepthAspect(),
		OldLayout:  vk.ImageLayoutUndefined,
		NewLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
		SrcStage:   depthStages,
		DstStage:   depthStages,
		SrcAccess:  0,
		DstAccess:  vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
	}, true, nil
}

func (t *ImageLayoutTracker) CommitDepth() error {
	if t.initialized == nil {
		return core.ErrTrackerAbsent
	}
	t.depthInitialized = true
	return nil
}

// Restore puts an image and the depth image back to a previously observed
// state. Used when a recorded frame is dropped before it reaches the GPU.
func (t *ImageLayoutTracker) Restore(index uint32, colorInitialized, depthInitialized bool) error {
	if err := t.check(index); err != nil {
		return err
	}
	t.initialized[index] = colorInitialized
	t.depthInitialized = depthInitialized
	return nil
}

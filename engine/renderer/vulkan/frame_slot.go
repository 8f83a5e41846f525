package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/core"
)

// FrameSlot bundles the resources of one frame in flight.
type FrameSlot struct {
	CommandPool    vk.CommandPool
	Primary        *VulkanCommandBuffer
	Alternate      AlternatePrimaryBuffer
	SceneSecondary InheritedSecondaryBuffer
	ImageAcquired  vk.Semaphore
	RenderFinished vk.Semaphore
	InFlight       *VulkanFence
}

// Buffer returns the primary (0) or alternate primary (1) buffer.
func (fs *FrameSlot) Buffer(bufferIndex uint32) *VulkanCommandBuffer {
	switch bufferIndex {
	case 0:
		return fs.Primary
	case 1:
		return fs.Alternate.VulkanCommandBuffer
	default:
		return nil
	}
}

// FrameSlotPool owns the ring of frame slots. It is used only from the
// render thread and does no locking.
type FrameSlotPool struct {
	device           Device
	queueFamilyIndex uint32
	slots            []*FrameSlot
}

func NewFrameSlotPool(device Device, queueFamilyIndex uint32, maxFramesInFlight uint32) (*FrameSlotPool, error) {
	if maxFramesInFlight == 0 {
		return nil, core.NewError(core.KindFatalInit, "frame slot pool create", fmt.Errorf("maxFramesInFlight must be greater than 0"))
	}
	fsp := &FrameSlotPool{
		device:           device,
		queueFamilyIndex: queueFamilyIndex,
		slots:            make([]*FrameSlot, 0, maxFramesInFlight),
	}
	for i := uint32(0); i < maxFramesInFlight; i++ {
		slot, err := fsp.createSlot()
		if slot != nil {
			fsp.slots = append(fsp.slots, slot)
		}
		if err != nil {
			core.LogError("failed to create frame slot %d: %s", i, err)
			fsp.release()
			return nil, core.NewError(core.KindFatalInit, "frame slot pool create", err)
		}
	}
	core.LogDebug("created %d frame slots", maxFramesInFlight)
	return fsp, nil
}

// createSlot returns the partially built slot along with any error so the
// caller can release what was created.
func (fsp *FrameSlotPool) createSlot() (*FrameSlot, error) {
	pool, err := fsp.device.CreateCommandPool(fsp.queueFamilyIndex, true)
	if err != nil {
		return nil, err
	}
	slot := &FrameSlot{CommandPool: pool}

	primaries, err := AllocateCommandBuffers(fsp.device, pool, vk.CommandBufferLevelPrimary, 2)
	if err != nil {
		return slot, err
	}
	slot.Primary = primaries[0]
	slot.Alternate = AlternatePrimaryBuffer{primaries[1]}

	secondary, err := NewVulkanCommandBuffer(fsp.device, pool, false)
	if err != nil {
		return slot, err
	}
	slot.SceneSecondary = InheritedSecondaryBuffer{secondary}

	if slot.ImageAcquired, err = fsp.device.CreateSemaphore(); err != nil {
		return slot, err
	}
	if slot.RenderFinished, err = fsp.device.CreateSemaphore(); err != nil {
		return slot, err
	}
	// Created signalled so the first frame does not wait on a submission that never happened.
	if slot.InFlight, err = NewFence(fsp.device, true); err != nil {
		return slot, err
	}
	return slot, nil
}

func (fsp *FrameSlotPool) Count() uint32 {
	return uint32(len(fsp.slots))
}

func (fsp *FrameSlotPool) Slot(index uint32) (*FrameSlot, error) {
	if index >= uint32(len(fsp.slots)) {
		return nil, core.ErrInvalidFrameSlot
	}
	return fsp.slots[index], nil
}

// WaitForSlot blocks on the slot fence. Once it signals, every buffer of the
// slot is retired and may be recorded again.
func (fsp *FrameSlotPool) WaitForSlot(index uint32, timeoutNs uint64) error {
	slot, err := fsp.Slot(index)
	if err != nil {
		return err
	}
	if err := slot.InFlight.Wait(fsp.device, timeoutNs); err != nil {
		return err
	}
	slot.Primary.Retire()
	slot.Alternate.Retire()
	slot.SceneSecondary.Retire()
	return nil
}

// SelectBuffer picks the primary (0) or alternate primary (1) buffer of a slot.
func (fsp *FrameSlotPool) SelectBuffer(index uint32, bufferIndex uint32) (*VulkanCommandBuffer, error) {
	slot, err := fsp.Slot(index)
	if err != nil {
		return nil, err
	}
	if bufferIndex > 1 {
		return nil, core.ErrInvalidBufferIndex
	}
	buffer := slot.Buffer(bufferIndex)
	if buffer == nil || buffer.Handle == nil || buffer.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return nil, core.ErrBuffersNotInitialized
	}
	if buffer.State == COMMAND_BUFFER_STATE_SUBMITTED {
		return nil, core.ErrBufferInFlight
	}
	return buffer, nil
}

// MarkSubmitted flags the buffers handed to the queue for a slot.
func (fsp *FrameSlotPool) MarkSubmitted(index uint32, buffers ...*VulkanCommandBuffer) error {
	if _, err := fsp.Slot(index); err != nil {
		return err
	}
	for _, b := range buffers {
		if b != nil {
			b.UpdateSubmitted()
		}
	}
	return nil
}

// Destroy waits for the device to go idle and then releases fences,
// semaphores and command pools in that order. Buffers go with their pool.
func (fsp *FrameSlotPool) Destroy() error {
	if len(fsp.slots) == 0 {
		return nil
	}
	if err := fsp.device.WaitIdle(); err != nil {
		core.LogError("device wait idle before frame slot destruction failed: %s", err)
		return err
	}
	fsp.release()
	return nil
}

func (fsp *FrameSlotPool) release() {
	for _, slot := range fsp.slots {
		if slot.InFlight != nil {
			slot.InFlight.Destroy(fsp.device)
			slot.InFlight = nil
		}
	}
	for _, slot := range fsp.slots {
		if slot.ImageAcquired != vk.NullSemaphore {
			fsp.device.DestroySemaphore(slot.ImageAcquired)
			slot.ImageAcquired = vk.NullSemaphore
		}
		if slot.RenderFinished != vk.NullSemaphore {
			fsp.device.DestroySemaphore(slot.RenderFinished)
			slot.RenderFinished = vk.NullSemaphore
		}
	}
	for _, slot := range fsp.slots {
		for _, b := range []*VulkanCommandBuffer{slot.Primary, slot.Alternate.VulkanCommandBuffer, slot.SceneSecondary.VulkanCommandBuffer} {
			if b != nil {
				b.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
			}
		}
		if slot.CommandPool != vk.NullCommandPool {
			fsp.device.DestroyCommandPool(slot.CommandPool)
			slot.CommandPool = vk.NullCommandPool
		}
	}
	fsp.slots = nil
}

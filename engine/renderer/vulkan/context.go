package vulkan

// VulkanContext holds every object of the frame core. It is created by the
// backend and shared by reference with the recorder and producers.
type VulkanContext struct {
	Device           Device
	Locks            *VulkanLockPool
	QueueFamilyIndex uint32

	Swapchain SwapchainProvider

	// Current generation of the swapchain images. Incremented by every
	// RecreateImagesInFlight.
	SwapchainGeneration uint64

	Slots        *FrameSlotPool
	Tracker      *ImageLayoutTracker
	Timeline     *TimelineSynchronizer
	TimelinePool *TimelineSemaphorePool
	Manager      *CommandManager
	Recorder     *FrameRecorder
	Validator    BarrierValidator
}

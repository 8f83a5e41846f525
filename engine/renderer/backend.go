package renderer

// RendererBackend is the frame core a Renderer drives. The Vulkan backend is
// the only implementation.
type RendererBackend interface {
	Initialize() error
	Shutdown() error
	RecreateImagesInFlight() error
	RecordFrame(imageIndex uint32) error
	SubmitFrame() error
	SetBufferIndex(bufferIndex uint32) error
	ProcessCompletedTasks() int
	CleanupIdleTimelines() int
	IsMultithreaded() bool
}

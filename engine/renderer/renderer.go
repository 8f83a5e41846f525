package renderer

import (
	"fmt"

	"github.com/spaghettifunk/framesync/engine/core"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	DirectX
	Metal
	OpenGL
)

func (t RendererType) String() string {
	switch t {
	case Vulkan:
		return "vulkan"
	case DirectX:
		return "directx"
	case Metal:
		return "metal"
	default:
		return "opengl"
	}
}

// RenderPacket carries what the renderer needs to draw one frame.
type RenderPacket struct {
	DeltaTime float64
	// ImageIndex is the swapchain image acquired for this frame.
	ImageIndex uint32
}

type Renderer struct {
	backend RendererBackend
	metrics *core.Metrics
	clock   *core.Clock
}

func NewRenderer(backend RendererBackend, metrics *core.Metrics) *Renderer {
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	return &Renderer{
		backend: backend,
		metrics: metrics,
		clock:   core.NewClock(),
	}
}

func (r *Renderer) Initialize() error {
	if r.backend == nil {
		return fmt.Errorf("renderer has no backend")
	}
	if err := r.backend.Initialize(); err != nil {
		core.LogError("renderer backend failed to initialize: %s", err)
		return err
	}
	r.clock.Start()
	return nil
}

func (r *Renderer) Shutdown() error {
	r.clock.Stop()
	return r.backend.Shutdown()
}

// OnResize must be called once the swapchain has been recreated.
func (r *Renderer) OnResize(width, height uint32) error {
	core.LogDebug("renderer resized to %dx%d", width, height)
	return r.backend.RecreateImagesInFlight()
}

// DrawFrame records and submits one frame, then drains completed recording
// tasks. A dropped frame is returned to the caller, which may simply go on
// with the next one.
func (r *Renderer) DrawFrame(packet *RenderPacket) error {
	if err := r.backend.RecordFrame(packet.ImageIndex); err != nil {
		r.backend.ProcessCompletedTasks()
		return err
	}
	if err := r.backend.SubmitFrame(); err != nil {
		core.LogError("frame submission failed: %s", err)
		r.backend.ProcessCompletedTasks()
		return err
	}
	r.backend.ProcessCompletedTasks()

	r.clock.Update()
	r.metrics.Update(r.clock.Elapsed())
	r.clock.Start()
	return nil
}

// SetBufferIndex selects the primary (0) or alternate (1) command buffer for
// the next frame.
func (r *Renderer) SetBufferIndex(bufferIndex uint32) error {
	return r.backend.SetBufferIndex(bufferIndex)
}

// Maintain runs the housekeeping that does not need to happen every frame.
func (r *Renderer) Maintain() {
	if n := r.backend.CleanupIdleTimelines(); n > 0 {
		core.LogDebug("released %d idle timeline semaphores", n)
	}
}

func (r *Renderer) IsMultithreaded() bool {
	return r.backend.IsMultithreaded()
}

func (r *Renderer) Metrics() *core.Metrics {
	return r.metrics
}

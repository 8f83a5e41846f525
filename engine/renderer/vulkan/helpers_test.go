package vulkan_test

import (
	"reflect"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framesync/engine/config"
	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan/vulkantest"
)

var sceneDraws = []string{"terrain", "meshes", "particles"}

type harness struct {
	device    *vulkantest.FakeDevice
	swapchain *vulkantest.Swapchain
	scene     *vulkantest.Scene
	events    *core.EventSystem
	metrics   *core.Metrics
	renderer  *vulkan.VulkanRenderer
}

// newUninitialized builds a renderer over a fake device without creating the
// frame core yet.
func newUninitialized(t *testing.T, imageCount uint32, mutate ...func(*config.RendererConfig)) *harness {
	t.Helper()
	dev := vulkantest.NewFakeDevice()
	cfg := config.Default().Renderer
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		device:    dev,
		swapchain: vulkantest.NewSwapchain(dev, imageCount, 1280, 720, true),
		scene:     vulkantest.NewScene(dev, sceneDraws...),
		events:    core.NewEventSystem(),
		metrics:   core.NewMetrics(),
	}
	h.renderer = vulkan.New(dev, 0, h.swapchain, cfg, h.events, h.metrics)
	h.renderer.SetScene(h.scene)
	t.Cleanup(func() {
		_ = h.renderer.DestroyFrameSync()
		h.events.Shutdown()
	})
	return h
}

func newHarness(t *testing.T, imageCount uint32, mutate ...func(*config.RendererConfig)) *harness {
	t.Helper()
	h := newUninitialized(t, imageCount, mutate...)
	require.NoError(t, h.renderer.Initialize())
	return h
}

func singleThreaded(cfg *config.RendererConfig) {
	cfg.WorkerSceneRecording = false
}

func (h *harness) frame(t *testing.T, imageIndex uint32) {
	t.Helper()
	require.NoError(t, h.renderer.RecordFrame(imageIndex))
	require.NoError(t, h.renderer.SubmitFrame())
}

func (h *harness) slot(t *testing.T, index uint32) *vulkan.FrameSlot {
	t.Helper()
	slot, err := h.renderer.Context().Slots.Slot(index)
	require.NoError(t, err)
	return slot
}

// colorBarriers returns the swapchain image barriers, leaving out depth.
func (h *harness) colorBarriers() []vulkan.ImageBarrier {
	var out []vulkan.ImageBarrier
	for _, b := range h.device.Barriers() {
		if b.ImageIndex != vulkan.DepthImageIndex {
			out = append(out, b)
		}
	}
	return out
}

func (h *harness) oldLayoutsFor(image vk.Image) []vk.ImageLayout {
	var out []vk.ImageLayout
	for _, b := range h.device.Barriers() {
		if b.Image == image {
			out = append(out, b.OldLayout)
		}
	}
	return out
}

// handleID is the identity of a Vulkan handle. Handles point at zero-size
// structs, so deep equality treats any two of them as equal.
func handleID(handle interface{}) uintptr {
	return reflect.ValueOf(handle).Pointer()
}

func handleIDs[H any](handles ...H) []uintptr {
	out := make([]uintptr, len(handles))
	for i, h := range handles {
		out[i] = handleID(h)
	}
	return out
}

func countOps(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func renderingCalls(dev *vulkantest.FakeDevice, cmd vk.CommandBuffer) []*vulkan.RenderingInfo {
	var out []*vulkan.RenderingInfo
	for _, c := range dev.CallsFor(cmd) {
		if c.Op == vulkantest.OpBeginRendering {
			out = append(out, c.Rendering)
		}
	}
	return out
}

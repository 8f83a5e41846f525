package renderer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framesync/engine/config"
	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/renderer"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan/vulkantest"
)

type stubBackend struct {
	calls     []string
	recordErr error
	submitErr error
}

func (s *stubBackend) Initialize() error             { s.calls = append(s.calls, "init"); return nil }
func (s *stubBackend) Shutdown() error               { s.calls = append(s.calls, "shutdown"); return nil }
func (s *stubBackend) RecreateImagesInFlight() error { s.calls = append(s.calls, "recreate"); return nil }
func (s *stubBackend) RecordFrame(uint32) error      { s.calls = append(s.calls, "record"); return s.recordErr }
func (s *stubBackend) SubmitFrame() error            { s.calls = append(s.calls, "submit"); return s.submitErr }
func (s *stubBackend) SetBufferIndex(uint32) error   { s.calls = append(s.calls, "buffer"); return nil }
func (s *stubBackend) ProcessCompletedTasks() int    { s.calls = append(s.calls, "drain"); return 0 }
func (s *stubBackend) CleanupIdleTimelines() int     { s.calls = append(s.calls, "cleanup"); return 0 }
func (s *stubBackend) IsMultithreaded() bool         { return false }

func TestDrawFrameOrder(t *testing.T) {
	backend := &stubBackend{}
	r := renderer.NewRenderer(backend, nil)
	require.NoError(t, r.Initialize())

	require.NoError(t, r.DrawFrame(&renderer.RenderPacket{ImageIndex: 1}))
	assert.Equal(t, []string{"init", "record", "submit", "drain"}, backend.calls)
}

func TestDrawFrameDroppedSkipsSubmit(t *testing.T) {
	dropped := core.NewError(core.KindFrameDropped, "record frame", core.ErrZeroExtent)
	backend := &stubBackend{recordErr: dropped}
	r := renderer.NewRenderer(backend, nil)

	err := r.DrawFrame(&renderer.RenderPacket{})
	assert.Equal(t, core.ResultFrameDropped, core.ResultOf(err))
	assert.Equal(t, []string{"record", "drain"}, backend.calls)

	backend.calls = nil
	backend.recordErr = nil
	backend.submitErr = errors.New("device lost")
	assert.Error(t, r.DrawFrame(&renderer.RenderPacket{}))
	assert.Equal(t, []string{"record", "submit", "drain"}, backend.calls)
}

func TestRendererWithoutBackend(t *testing.T) {
	assert.Error(t, renderer.NewRenderer(nil, nil).Initialize())
}

func TestRendererOverVulkan(t *testing.T) {
	dev := vulkantest.NewFakeDevice()
	sc := vulkantest.NewSwapchain(dev, 3, 640, 480, true)
	metrics := core.NewMetrics()
	backend := vulkan.New(dev, 0, sc, config.Default().Renderer, nil, metrics)
	backend.SetScene(vulkantest.NewScene(dev, "cube"))

	r := renderer.NewRenderer(backend, metrics)
	require.NoError(t, r.Initialize())
	t.Cleanup(func() { _ = r.Shutdown() })
	assert.True(t, r.IsMultithreaded())

	for i := uint32(0); i < 6; i++ {
		require.NoError(t, r.DrawFrame(&renderer.RenderPacket{ImageIndex: i % 3}))
	}
	require.NoError(t, r.SetBufferIndex(1))
	require.NoError(t, r.DrawFrame(&renderer.RenderPacket{ImageIndex: 0}))
	assert.Equal(t, uint64(7), metrics.RecordedFrames())

	require.NoError(t, r.OnResize(800, 600))
	assert.Equal(t, uint64(1), backend.Context().SwapchainGeneration)
	r.Maintain()

	err := r.DrawFrame(&renderer.RenderPacket{ImageIndex: 5})
	assert.Equal(t, core.ResultFrameDropped, core.ResultOf(err))
	assert.Equal(t, uint64(1), metrics.DroppedFrames())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framesync/engine/core"
)

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level = "debug"

[renderer]
max_recording_threads = 2
fence_timeout = "250ms"

[renderer.timeline_pool]
idle_ttl = "1m"
`))
	require.NoError(t, err)

	assert.Equal(t, core.DebugLevel, cfg.Level())
	assert.Equal(t, 2, cfg.Renderer.MaxRecordingThreads)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.FenceTimeout.Duration)
	assert.Equal(t, time.Minute, cfg.Renderer.TimelinePool.IdleTTL.Duration)

	def := Default()
	assert.Equal(t, def.Renderer.MaxFramesInFlight, cfg.Renderer.MaxFramesInFlight)
	assert.Equal(t, def.Renderer.TaskQueueSize, cfg.Renderer.TaskQueueSize)
	assert.Equal(t, def.Renderer.TimelinePool.MaxSize, cfg.Renderer.TimelinePool.MaxSize)
	assert.True(t, cfg.Renderer.BarrierValidation)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "syntax", data: `log_level = `},
		{name: "log level", data: `log_level = "loud"`},
		{name: "duration", data: "[renderer]\nfence_timeout = \"soon\""},
		{name: "frames in flight", data: "[renderer]\nmax_frames_in_flight = 0"},
		{name: "threads", data: "[renderer]\nmax_recording_threads = -1"},
		{name: "task queue", data: "[renderer]\ntask_queue_size = 0"},
		{name: "fence timeout", data: "[renderer]\nfence_timeout = \"0s\""},
		{name: "poll interval", data: "[renderer]\ntask_poll_interval = \"-1ms\""},
		{name: "pool size", data: "[renderer.timeline_pool]\nmax_size = 0"},
		{name: "idle ttl", data: "[renderer.timeline_pool]\nidle_ttl = \"0s\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDefaultRoundTripsThroughTOML(t *testing.T) {
	data, err := toml.Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), "fence_timeout")

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framesync.toml")
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`log_level = "error"`), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, core.ErrorLevel, cfg.Level())
}

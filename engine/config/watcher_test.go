package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig replaces path with a fully written file, so the watcher never
// sees a truncated one.
func writeConfig(t *testing.T, path, data string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(data), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framesync.toml")
	writeConfig(t, path, `log_level = "info"`)
	initial, err := Load(path)
	require.NoError(t, err)

	var last atomic.Pointer[Config]
	w, err := NewWatcher(path, initial, func(cfg *Config) { last.Store(cfg) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Close() })
	assert.Same(t, initial, w.Current())

	writeConfig(t, path, "log_level = \"warn\"\n[renderer]\nmax_recording_threads = 1\n")
	require.Eventually(t, func() bool {
		cfg := last.Load()
		return cfg != nil && cfg.Renderer.MaxRecordingThreads == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "warn", w.Current().LogLevel)

	// A broken file keeps the last good config.
	good := w.Current()
	writeConfig(t, path, "[renderer]\ntask_queue_size = 0\n")
	writeConfig(t, path, "log_level = \"broken")
	time.Sleep(100 * time.Millisecond)
	assert.Same(t, good, w.Current())
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framesync.toml")
	writeConfig(t, path, `log_level = "info"`)

	var reloads atomic.Int32
	w, err := NewWatcher(path, Default(), func(*Config) { reloads.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Close() })

	writeConfig(t, filepath.Join(dir, "other.toml"), `log_level = "debug"`)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}

func TestWatcherClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framesync.toml")
	writeConfig(t, path, `log_level = "info"`)

	w, err := NewWatcher(path, Default(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "closing twice is a no-op")
	assert.Error(t, w.Start())
}

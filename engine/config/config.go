package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/framesync/engine/core"
)

// Duration decodes TOML strings such as "5s" or "1ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type TimelinePoolConfig struct {
	// Maximum number of pooled timeline semaphores.
	MaxSize int `toml:"max_size"`
	// Idle entries older than this are destroyed by the cleanup sweep.
	IdleTTL Duration `toml:"idle_ttl"`
}

type RendererConfig struct {
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
	// Upper bound on recording worker threads; never more than 4 are started.
	MaxRecordingThreads int `toml:"max_recording_threads"`
	// Capacity of the pending task queue. A full queue runs tasks inline.
	TaskQueueSize int `toml:"task_queue_size"`
	// Record scene content on a worker thread into the dedicated secondary buffer.
	WorkerSceneRecording bool     `toml:"worker_scene_recording"`
	BarrierValidation    bool     `toml:"barrier_validation"`
	FenceTimeout         Duration `toml:"fence_timeout"`
	TaskPollInterval     Duration `toml:"task_poll_interval"`

	TimelinePool TimelinePoolConfig `toml:"timeline_pool"`
}

type Config struct {
	LogLevel string         `toml:"log_level"`
	Renderer RendererConfig `toml:"renderer"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Renderer: RendererConfig{
			MaxFramesInFlight:    3,
			MaxRecordingThreads:  4,
			TaskQueueSize:        256,
			WorkerSceneRecording: true,
			BarrierValidation:    true,
			FenceTimeout:         Duration{time.Second},
			TaskPollInterval:     Duration{time.Millisecond},
			TimelinePool: TimelinePoolConfig{
				MaxSize: 32,
				IdleTTL: Duration{5 * time.Second},
			},
		},
	}
}

// Parse decodes TOML on top of the defaults, so omitted keys keep their default value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Config) Validate() error {
	if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	r := c.Renderer
	if r.MaxFramesInFlight == 0 {
		return fmt.Errorf("renderer.max_frames_in_flight must be greater than 0")
	}
	if r.MaxRecordingThreads < 0 {
		return fmt.Errorf("renderer.max_recording_threads must not be negative")
	}
	if r.TaskQueueSize < 1 {
		return fmt.Errorf("renderer.task_queue_size must be at least 1")
	}
	if r.FenceTimeout.Duration <= 0 {
		return fmt.Errorf("renderer.fence_timeout must be positive")
	}
	if r.TaskPollInterval.Duration <= 0 {
		return fmt.Errorf("renderer.task_poll_interval must be positive")
	}
	if r.TimelinePool.MaxSize < 1 {
		return fmt.Errorf("renderer.timeline_pool.max_size must be at least 1")
	}
	if r.TimelinePool.IdleTTL.Duration <= 0 {
		return fmt.Errorf("renderer.timeline_pool.idle_ttl must be positive")
	}
	return nil
}

// Level returns the parsed log level. Validate must have succeeded.
func (c *Config) Level() core.LogLevel {
	l, err := core.ParseLogLevel(c.LogLevel)
	if err != nil {
		return core.InfoLevel
	}
	return l
}

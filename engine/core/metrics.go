package core

import (
	"sync"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

// Metrics keeps a rolling frame time average, the frames per second and
// counters for the frame outcomes of the recorder.
type Metrics struct {
	mu                 sync.Mutex
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAVG              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	recorded atomic.Uint64
	dropped  atomic.Uint64
	degraded atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Update feeds the elapsed time of the last frame, in seconds.
func (m *Metrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAVG = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAVG += m.msTimes[i]
		}
		m.msAVG /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAVG
}

func (m *Metrics) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps, m.msAVG
}

func (m *Metrics) FrameRecorded()     { m.recorded.Add(1) }
func (m *Metrics) FrameDropped()      { m.dropped.Add(1) }
func (m *Metrics) RecordingDegraded() { m.degraded.Add(1) }

func (m *Metrics) RecordedFrames() uint64     { return m.recorded.Load() }
func (m *Metrics) DroppedFrames() uint64      { return m.dropped.Load() }
func (m *Metrics) DegradedRecordings() uint64 { return m.degraded.Load() }

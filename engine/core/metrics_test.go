package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsFrameTiming(t *testing.T) {
	m := NewMetrics()
	// 31.25ms frames, exact in binary.
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.03125)
	}
	assert.Equal(t, 31.25, m.FrameTime())
	assert.Zero(t, m.FPS(), "less than a second accumulated")

	for i := 0; i < 3; i++ {
		m.Update(0.03125)
	}
	fps, ms := m.Frame()
	assert.Equal(t, 32.0, fps)
	assert.Equal(t, 31.25, ms)
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.FrameRecorded()
				if i%10 == 0 {
					m.FrameDropped()
					m.RecordingDegraded()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(400), m.RecordedFrames())
	assert.Equal(t, uint64(40), m.DroppedFrames())
	assert.Equal(t, uint64(40), m.DegradedRecordings())
}

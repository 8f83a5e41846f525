package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
)

// MAX_FRAMES_IN_FLIGHT is the number of frame slots in the ring.
const MAX_FRAMES_IN_FLIGHT uint32 = 3

// MAX_RECORDING_THREADS caps the recording worker pool regardless of the
// platform's thread hint.
const MAX_RECORDING_THREADS int = 4

// Secondary buffers preallocated per worker pool. Pools grow lazily past this.
const SECONDARY_BUFFERS_PER_THREAD uint32 = 8

const (
	DEFAULT_TASK_QUEUE_SIZE   = 256
	DEFAULT_FENCE_TIMEOUT     = time.Second
	DEFAULT_TASK_POLL         = time.Millisecond
	DEFAULT_TIMELINE_POOL_MAX = 32
	DEFAULT_TIMELINE_IDLE_TTL = 5 * time.Second
)

// CLEAR_COLOR is the background every frame is cleared to.
var CLEAR_COLOR = [4]float32{0.1, 0.12, 0.15, 1.0}

const (
	CLEAR_DEPTH   float32 = 1.0
	CLEAR_STENCIL uint32  = 0
)

const SAMPLE_COUNT = vk.SampleCount1Bit

package core

import (
	"errors"
	"fmt"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// frame validation
	ErrImageIndexOutOfRange   = errors.New("swapchain image index out of range")
	ErrSwapchainImagesMissing = errors.New("swapchain images or views missing")
	ErrZeroExtent             = errors.New("swapchain extent has a zero dimension")
	ErrTrackerAbsent          = errors.New("image layout tracker not allocated")
	ErrImageNotInitialized    = errors.New("image has not been transitioned to attachment layout yet")

	// frame slots and command buffers
	ErrBuffersNotInitialized = errors.New("frame slot command buffers not initialized")
	ErrBufferInFlight        = errors.New("command buffer still referenced by an unretired submission")
	ErrInvalidFrameSlot      = errors.New("frame slot index out of range")
	ErrInvalidBufferIndex    = errors.New("buffer index must be 0 or 1")
	ErrNotRecording          = errors.New("command buffer is not in the recording state")
	ErrSlotFenceLost         = errors.New("frame slot fence was reset and could not be replaced")

	// multi-threaded recording
	ErrSubsystemNotRunning = errors.New("multi-threaded recording subsystem not running")
	ErrPoolInactive        = errors.New("thread command pool is inactive")
	ErrSecondaryNotEnded   = errors.New("secondary command buffer has not been ended")

	// timeline pool
	ErrPoolExhausted = errors.New("timeline semaphore pool exhausted")
	ErrInvalidHandle = errors.New("invalid pool handle")
	ErrNotInUse      = errors.New("pool entry is not in use")
)

// ErrorKind classifies failures by what the caller is expected to do about them.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	// Allocation or object creation failed during setup. Renderer startup must abort.
	KindFatalInit
	// The current frame is dropped; the next tick may retry with a new image.
	KindFrameDropped
	// A cheaper fallback was taken, output is still correct.
	KindDegraded
	// Diagnostic only.
	KindAdvisory
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatalInit:
		return "fatal-init"
	case KindFrameDropped:
		return "frame-dropped"
	case KindDegraded:
		return "degraded"
	case KindAdvisory:
		return "advisory"
	default:
		return "none"
	}
}

// RenderError tags an error with the operation that produced it and its kind.
type RenderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		err = ErrUnknown
	}
	return &RenderError{Kind: kind, Op: op, Err: err}
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Op, e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost RenderError in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindNone
}

// Result is the tagged outcome returned at public boundaries.
type Result uint8

const (
	ResultOK Result = iota
	ResultFatalInit
	ResultFrameDropped
	ResultDegraded
	ResultAdvisory
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFatalInit:
		return "fatal-init"
	case ResultFrameDropped:
		return "frame-dropped"
	case ResultDegraded:
		return "degraded"
	case ResultAdvisory:
		return "advisory"
	default:
		return "failed"
	}
}

// ResultOf maps any error to a Result. Untagged errors map to ResultFailed.
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	switch KindOf(err) {
	case KindFatalInit:
		return ResultFatalInit
	case KindFrameDropped:
		return ResultFrameDropped
	case KindDegraded:
		return ResultDegraded
	case KindAdvisory:
		return ResultAdvisory
	default:
		return ResultFailed
	}
}

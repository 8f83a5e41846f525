package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Result
	}{
		{name: "nil", err: nil, want: ResultOK},
		{name: "fatal", err: NewError(KindFatalInit, "create fence", errors.New("oom")), want: ResultFatalInit},
		{name: "dropped", err: NewError(KindFrameDropped, "record frame", ErrZeroExtent), want: ResultFrameDropped},
		{name: "degraded", err: NewError(KindDegraded, "start workers", nil), want: ResultDegraded},
		{name: "advisory", err: NewError(KindAdvisory, "validate barrier", nil), want: ResultAdvisory},
		{name: "untagged", err: errors.New("plain"), want: ResultFailed},
		{name: "wrapped", err: fmt.Errorf("frame 3: %w", NewError(KindFrameDropped, "wait fence", ErrUnknown)), want: ResultFrameDropped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultOf(tt.err))
		})
	}
}

func TestRenderErrorUnwraps(t *testing.T) {
	err := NewError(KindFrameDropped, "validate image", ErrImageIndexOutOfRange)
	assert.ErrorIs(t, err, ErrImageIndexOutOfRange)
	assert.Equal(t, "validate image (frame-dropped): swapchain image index out of range", err.Error())

	assert.ErrorIs(t, NewError(KindDegraded, "op", nil), ErrUnknown)
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, "failed", ResultFailed.String())
	assert.Equal(t, "fatal-init", KindFatalInit.String())
}

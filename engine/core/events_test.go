package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type listener struct {
	seen    []SystemEventCode
	handled bool
}

func (l *listener) onEvent(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool {
	l.seen = append(l.seen, code)
	return l.handled
}

func TestEventSystemFire(t *testing.T) {
	es := NewEventSystem()
	first := &listener{}
	second := &listener{}

	assert.True(t, es.Register(EVENT_CODE_SWAPCHAIN_RECREATED, first, first.onEvent))
	assert.True(t, es.Register(EVENT_CODE_SWAPCHAIN_RECREATED, second, second.onEvent))
	assert.False(t, es.Register(EVENT_CODE_SWAPCHAIN_RECREATED, first, first.onEvent), "duplicate")
	assert.False(t, es.Register(MAX_MESSAGE_CODES, first, first.onEvent))
	assert.False(t, es.Register(EVENT_CODE_FRAME_DROPPED, first, nil))

	assert.False(t, es.Fire(EVENT_CODE_SWAPCHAIN_RECREATED, nil, EventContext{U32: [4]uint32{3, 800, 600}}))
	assert.Len(t, first.seen, 1)
	assert.Len(t, second.seen, 1)

	// A handled event stops at the first listener.
	first.handled = true
	assert.True(t, es.Fire(EVENT_CODE_SWAPCHAIN_RECREATED, nil, EventContext{}))
	assert.Len(t, first.seen, 2)
	assert.Len(t, second.seen, 1)

	assert.False(t, es.Fire(EVENT_CODE_CONFIG_RELOADED, nil, EventContext{}), "no listeners")
}

func TestEventSystemUnregister(t *testing.T) {
	es := NewEventSystem()
	l := &listener{}
	es.Register(EVENT_CODE_FRAME_DROPPED, l, l.onEvent)

	assert.True(t, es.Unregister(EVENT_CODE_FRAME_DROPPED, l, l.onEvent))
	assert.False(t, es.Unregister(EVENT_CODE_FRAME_DROPPED, l, l.onEvent))
	es.Fire(EVENT_CODE_FRAME_DROPPED, nil, EventContext{})
	assert.Empty(t, l.seen)

	es.Register(EVENT_CODE_APPLICATION_QUIT, l, l.onEvent)
	es.Shutdown()
	es.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{})
	assert.Empty(t, l.seen)
}

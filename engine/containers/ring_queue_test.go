package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())
	assert.Equal(t, 3, rq.Cap())

	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, rq.Enqueue(round*10+i))
		}
		assert.True(t, rq.IsFull())
		assert.ErrorIs(t, rq.Enqueue(99), ErrQueueFull)

		front, err := rq.Peek()
		require.NoError(t, err)
		assert.Equal(t, round*10, front)

		for i := 0; i < 3; i++ {
			v, err := rq.Dequeue()
			require.NoError(t, err)
			assert.Equal(t, round*10+i, v)
		}
		assert.Zero(t, rq.Len())
	}

	_, err := rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueMinimumSize(t *testing.T) {
	rq := NewRingQueue[*int](0)
	assert.Equal(t, 1, rq.Cap())

	v := 7
	require.NoError(t, rq.Enqueue(&v))
	got, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Same(t, &v, got)
	assert.Nil(t, rq.data[0], "dequeued slots drop their reference")
}

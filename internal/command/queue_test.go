package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAssignsIdentity(t *testing.T) {
	q := NewQueue()

	cmd := q.Enqueue("abc", json.RawMessage(`{"action":"ping"}`))
	assert.NotEmpty(t, cmd.ID)
	assert.False(t, cmd.EnqueuedAt.IsZero())
	assert.JSONEq(t, `{"action":"ping"}`, string(cmd.Payload))
}

func TestDequeueFIFO(t *testing.T) {
	q := NewQueue()

	first := q.Enqueue("abc", json.RawMessage(`{"n":1}`))
	second := q.Enqueue("abc", json.RawMessage(`{"n":2}`))
	third := q.Enqueue("abc", json.RawMessage(`{"n":3}`))

	for _, want := range []Command{first, second, third} {
		got, ok := q.DequeueOne("abc")
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}

	_, ok := q.DequeueOne("abc")
	assert.False(t, ok)
}

func TestDequeueEmptyAgent(t *testing.T) {
	q := NewQueue()

	_, ok := q.DequeueOne("never-seen")
	assert.False(t, ok)
	assert.Zero(t, q.Len("never-seen"))
}

func TestQueuesIsolatedPerAgent(t *testing.T) {
	q := NewQueue()

	forA := q.Enqueue("a", json.RawMessage(`{"target":"a"}`))
	q.Enqueue("b", json.RawMessage(`{"target":"b"}`))

	got, ok := q.DequeueOne("a")
	require.True(t, ok)
	assert.Equal(t, forA.ID, got.ID)

	_, ok = q.DequeueOne("a")
	assert.False(t, ok, "a's queue is drained")
	assert.Equal(t, 1, q.Len("b"), "b's command is untouched")
}

func TestDequeueDiscardsDelivered(t *testing.T) {
	q := NewQueue()
	q.Enqueue("abc", json.RawMessage(`{}`))

	_, ok := q.DequeueOne("abc")
	require.True(t, ok)

	// No redelivery: delivery is at-most-once.
	_, ok = q.DequeueOne("abc")
	assert.False(t, ok)
}

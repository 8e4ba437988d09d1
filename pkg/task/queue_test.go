package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id string, p Priority, s Status) *Task {
	return &Task{
		ID:        id,
		Type:      TypeProfile,
		Priority:  p,
		Status:    s,
		CreatedAt: time.Now(),
	}
}

func TestNextPendingStrictPriority(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("low1", PriorityLow, StatusPending))
	q.Push(newTask("med1", PriorityMedium, StatusPending))
	q.Push(newTask("high1", PriorityHigh, StatusPending))

	next := q.NextPending()
	require.NotNil(t, next)
	assert.Equal(t, "high1", next.ID)

	// A pending low task never surfaces while higher tiers have pending work.
	q.Remove("high1")
	assert.Equal(t, "med1", q.NextPending().ID)
	q.Remove("med1")
	assert.Equal(t, "low1", q.NextPending().ID)
}

func TestNextPendingFIFOWithinTier(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("a", PriorityHigh, StatusPending))
	q.Push(newTask("b", PriorityHigh, StatusPending))

	assert.Equal(t, "a", q.NextPending().ID)
}

func TestNextPendingSkipsTerminal(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("done", PriorityHigh, StatusCompleted))
	q.Push(newTask("dead", PriorityHigh, StatusFailed))
	q.Push(newTask("next", PriorityHigh, StatusPending))

	assert.Equal(t, "next", q.NextPending().ID)

	q.Remove("next")
	assert.Nil(t, q.NextPending())
}

func TestRemove(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("a", PriorityMedium, StatusPending))
	q.Push(newTask("b", PriorityMedium, StatusPending))

	removed := q.Remove("a")
	require.NotNil(t, removed)
	assert.Equal(t, "a", removed.ID)
	assert.Nil(t, q.Find("a"))
	assert.NotNil(t, q.Find("b"))

	assert.Nil(t, q.Remove("missing"))
}

func TestPurgeTerminal(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("done", PriorityHigh, StatusCompleted))
	q.Push(newTask("dead", PriorityMedium, StatusFailed))
	q.Push(newTask("gone", PriorityLow, StatusCancelled))
	q.Push(newTask("live", PriorityLow, StatusPending))

	assert.Equal(t, 3, q.PurgeTerminal())

	h, m, l := q.Counts()
	assert.Equal(t, 0, h)
	assert.Equal(t, 0, m)
	assert.Equal(t, 1, l)
	assert.NotNil(t, q.Find("live"))
}

func TestPendingCount(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("a", PriorityHigh, StatusPending))
	q.Push(newTask("b", PriorityLow, StatusPending))
	q.Push(newTask("c", PriorityLow, StatusCompleted))

	assert.Equal(t, 2, q.PendingCount())
}

func TestTaskClone(t *testing.T) {
	orig := newTask("a", PriorityHigh, StatusRunning)
	orig.Params = json.RawMessage(`{"url":"https://example.com/in/someone"}`)
	orig.Progress = &Progress{Current: 3, Total: 10}

	clone := orig.Clone()
	clone.Status = StatusCompleted
	clone.Progress.Current = 10
	clone.Params[2] = 'X'

	assert.Equal(t, StatusRunning, orig.Status)
	assert.Equal(t, 3, orig.Progress.Current)
	assert.Equal(t, byte('u'), orig.Params[2])
}

func TestQueueSetJSONRoundTrip(t *testing.T) {
	q := NewQueueSet()
	q.Push(newTask("a", PriorityHigh, StatusPending))
	q.Push(newTask("b", PriorityLow, StatusFailed))

	data, err := json.Marshal(q)
	require.NoError(t, err)

	restored := NewQueueSet()
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Len(t, restored.High, 1)
	assert.Len(t, restored.Low, 1)
	assert.Equal(t, "a", restored.High[0].ID)
	assert.Equal(t, StatusFailed, restored.Low[0].Status)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Publish(Event{Type: EventTaskCompleted, Data: TaskCompleted{TaskID: "t1"}})

	select {
	case e := <-ch:
		assert.Equal(t, EventTaskCompleted, e.Type)
		assert.False(t, e.Time.IsZero())
		data, ok := e.Data.(TaskCompleted)
		require.True(t, ok)
		assert.Equal(t, "t1", data.TaskID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := New()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Type: EventTaskFailed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	// Buffer of one: second publish must be dropped, not block.
	bus.Publish(Event{Type: EventTaskCompleted})
	bus.Publish(Event{Type: EventTaskFailed})

	assert.Len(t, ch, 1)
	e := <-ch
	assert.Equal(t, EventTaskCompleted, e.Type)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := New()
	_, unsub := bus.Subscribe(1)

	unsub()
	unsub()

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: EventQueueDrained})
}

func TestFanout(t *testing.T) {
	bus := New()
	ch1, unsub1 := bus.Subscribe(2)
	ch2, unsub2 := bus.Subscribe(2)
	defer unsub1()
	defer unsub2()

	bus.Publish(Event{Type: EventTaskProgress})

	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)
}

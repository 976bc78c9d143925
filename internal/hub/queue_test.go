package hub

import (
	"strconv"
	"testing"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/stretchr/testify/assert"
)

func typingEvent(n int) event.Event {
	ev := event.New(event.KindTyping, "channel:general", nil)
	ev.Id = "typing-" + strconv.Itoa(n)
	return ev
}

func messageEvent(n int) event.Event {
	ev := event.New(event.KindMessageCreated, "channel:general", nil)
	ev.Id = "message-" + strconv.Itoa(n)
	return ev
}

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue(4)

	assert.Equal(t, PushOk, q.Push(typingEvent(1)))
	assert.Equal(t, PushOk, q.Push(typingEvent(2)))
	assert.Equal(t, 2, q.Len())

	ev, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "typing-1", ev.Id)

	ev, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "typing-2", ev.Id)
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2)

	assert.Equal(t, PushOk, q.Push(typingEvent(1)))
	assert.Equal(t, PushOk, q.Push(typingEvent(2)))
	assert.Equal(t, PushDroppedOldest, q.Push(typingEvent(3)))
	assert.Equal(t, 2, q.Len())

	ev, _ := q.Pop()
	assert.Equal(t, "typing-2", ev.Id)
	ev, _ = q.Pop()
	assert.Equal(t, "typing-3", ev.Id)
}

func TestQueue_DurableOverflow(t *testing.T) {
	q := NewQueue(2)

	q.Push(typingEvent(1))
	q.Push(typingEvent(2))

	assert.Equal(t, PushOverflow, q.Push(messageEvent(1)))
	// Nothing was evicted and nothing was queued.
	assert.Equal(t, 2, q.Len())
}

func TestQueue_DurableBacklogSurvivesBestEffortPressure(t *testing.T) {
	q := NewQueue(2)

	q.Push(messageEvent(1))
	q.Push(typingEvent(1))

	// The durable event is older, but eviction skips it and removes
	// the oldest droppable entry instead.
	assert.Equal(t, PushDroppedOldest, q.Push(typingEvent(2)))

	ev, _ := q.Pop()
	assert.Equal(t, "message-1", ev.Id)
	ev, _ = q.Pop()
	assert.Equal(t, "typing-2", ev.Id)
}

func TestQueue_EvictionKeepsOrderAroundDurables(t *testing.T) {
	q := NewQueue(3)

	q.Push(typingEvent(1))
	q.Push(messageEvent(1))
	q.Push(typingEvent(2))

	assert.Equal(t, PushDroppedOldest, q.Push(typingEvent(3)))

	var ids []string
	for q.Len() > 0 {
		ev, _ := q.Pop()
		ids = append(ids, ev.Id)
	}
	assert.Equal(t, []string{"message-1", "typing-2", "typing-3"}, ids)
}

func TestQueue_AllDurableDropsIncomingBestEffort(t *testing.T) {
	q := NewQueue(2)

	q.Push(messageEvent(1))
	q.Push(messageEvent(2))

	assert.Equal(t, PushDroppedNewest, q.Push(typingEvent(1)))
	assert.Equal(t, 2, q.Len())

	ev, _ := q.Pop()
	assert.Equal(t, "message-1", ev.Id)
	ev, _ = q.Pop()
	assert.Equal(t, "message-2", ev.Id)
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue(4)

	q.Push(typingEvent(1))
	q.Push(typingEvent(2))
	q.Close()

	assert.Equal(t, PushClosed, q.Push(typingEvent(3)))

	ev, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "typing-1", ev.Id)

	ev, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "typing-2", ev.Id)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_KillDiscards(t *testing.T) {
	q := NewQueue(4)

	q.Push(typingEvent(1))
	q.Kill("QueueOverflow")

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, PushClosed, q.Push(typingEvent(2)))

	// The first kill's reason sticks.
	q.Kill("TransportError")
	assert.Equal(t, "QueueOverflow", q.KillReason())
}

func TestQueue_CloseLeavesNoKillReason(t *testing.T) {
	q := NewQueue(4)

	q.Close()

	assert.Empty(t, q.KillReason())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(4)

	popped := make(chan event.Event, 1)
	go func() {
		ev, ok := q.Pop()
		if ok {
			popped <- ev
		}
	}()

	q.Push(typingEvent(1))

	ev := <-popped
	assert.Equal(t, "typing-1", ev.Id)
}

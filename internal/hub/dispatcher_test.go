package hub

import (
	"sync"
	"testing"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()

	logger := zap.NewNop()
	registry := NewRegistry(logger)
	dispatcher := NewDispatcher(logger, registry, metrics.New(prometheus.NewRegistry()))

	return dispatcher, registry
}

func drain(q *Queue) []event.Event {
	var events []event.Event
	for q.Len() > 0 {
		ev, ok := q.Pop()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	return events
}

func TestDispatcher_ScopeSequenceIsMonotonic(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)
	q := register(t, registry, "c1", "alice")

	_, err := registry.Subscribe("channel:general", "c1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		dispatcher.Publish(event.New(event.KindTyping, "channel:general", nil))
	}
	// A different scope sequences independently.
	_, err = registry.Subscribe("channel:random", "c1")
	require.NoError(t, err)
	dispatcher.Publish(event.New(event.KindTyping, "channel:random", nil))

	var generalSeqs, randomSeqs []uint64
	for _, ev := range drain(q) {
		switch ev.ScopeId {
		case "channel:general":
			generalSeqs = append(generalSeqs, ev.ScopeSeq)
		case "channel:random":
			randomSeqs = append(randomSeqs, ev.ScopeSeq)
		}
	}

	assert.Equal(t, []uint64{1, 2, 3}, generalSeqs)
	assert.Equal(t, []uint64{1}, randomSeqs)
}

func TestDispatcher_DeliversOncePerConnection(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)
	phone := register(t, registry, "phone", "alice")
	laptop := register(t, registry, "laptop", "alice")

	_, err := registry.Subscribe("workspace:w1", "phone")
	require.NoError(t, err)
	_, err = registry.Subscribe("workspace:w1", "laptop")
	require.NoError(t, err)

	count := dispatcher.Publish(event.New(event.KindMessageCreated, "workspace:w1", nil))

	assert.Equal(t, 2, count)
	assert.Len(t, drain(phone), 1)
	assert.Len(t, drain(laptop), 1)
}

func TestDispatcher_ExcludesOrigin(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)
	origin := register(t, registry, "origin", "alice")
	other := register(t, registry, "other", "bob")

	_, err := registry.Subscribe("channel:general", "origin")
	require.NoError(t, err)
	_, err = registry.Subscribe("channel:general", "other")
	require.NoError(t, err)

	ev := event.New(event.KindTyping, "channel:general", nil)
	ev.OriginConnectionId = "origin"
	ev.ExcludeOrigin = true

	count := dispatcher.Publish(ev)

	assert.Equal(t, 1, count)
	assert.Empty(t, drain(origin))
	assert.Len(t, drain(other), 1)
}

func TestDispatcher_NoSubscribersNoDelivery(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)
	q := register(t, registry, "c1", "alice")

	count := dispatcher.Publish(event.New(event.KindMessageCreated, "channel:general", nil))

	assert.Equal(t, 0, count)
	assert.Empty(t, drain(q))
}

func TestDispatcher_Backpressure(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)

	q := NewQueue(2)
	_, err := registry.Register(Endpoint{ConnectionId: "slow", UserId: "alice", Queue: q})
	require.NoError(t, err)
	_, err = registry.Subscribe("channel:general", "slow")
	require.NoError(t, err)

	// Fill the ring with best-effort events, then publish one more:
	// the oldest is dropped, the connection survives.
	for i := 0; i < 3; i++ {
		count := dispatcher.Publish(event.New(event.KindTyping, "channel:general", nil))
		assert.Equal(t, 1, count)
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, registry.ConnectionCount())

	// A durable event beyond capacity kills the connection instead.
	count := dispatcher.Publish(event.New(event.KindMessageCreated, "channel:general", nil))

	assert.Equal(t, 0, count)
	assert.Equal(t, 0, registry.ConnectionCount())
	assert.Empty(t, resolvedIds(registry, "channel:general"))

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestDispatcher_DurableBacklogOutlivesBestEffortTraffic(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)

	q := NewQueue(1)
	_, err := registry.Register(Endpoint{ConnectionId: "slow", UserId: "alice", Queue: q})
	require.NoError(t, err)
	_, err = registry.Subscribe("channel:general", "slow")
	require.NoError(t, err)

	dispatcher.Publish(event.New(event.KindMessageCreated, "channel:general", nil))
	dispatcher.Publish(event.New(event.KindTyping, "channel:general", nil))

	// The typing event is discarded; the queued durable event and the
	// connection both survive.
	assert.Equal(t, 1, registry.ConnectionCount())
	ev, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.KindMessageCreated, ev.Kind)
}

func TestDispatcher_OverflowRecordsKillReason(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)

	q := NewQueue(1)
	_, err := registry.Register(Endpoint{ConnectionId: "slow", UserId: "alice", Queue: q})
	require.NoError(t, err)
	_, err = registry.Subscribe("channel:general", "slow")
	require.NoError(t, err)

	dispatcher.Publish(event.New(event.KindMessageCreated, "channel:general", nil))
	dispatcher.Publish(event.New(event.KindMessageCreated, "channel:general", nil))

	assert.Equal(t, 0, registry.ConnectionCount())
	assert.Equal(t, string(ierr.ErrorCodeQueueOverflow), q.KillReason())
}

func TestDispatcher_StopMakesPublishNoOp(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)
	q := register(t, registry, "c1", "alice")

	_, err := registry.Subscribe("channel:general", "c1")
	require.NoError(t, err)

	dispatcher.Stop()

	assert.False(t, dispatcher.Accepting())
	assert.Equal(t, 0, dispatcher.Publish(event.New(event.KindTyping, "channel:general", nil)))
	assert.Empty(t, drain(q))
}

func TestDispatcher_ConcurrentPublishAndSubscribe(t *testing.T) {
	dispatcher, registry := newTestDispatcher(t)

	const connections = 8
	const publishes = 50

	queues := make([]*Queue, connections)
	for i := 0; i < connections; i++ {
		id := "c" + string(rune('a'+i))
		queues[i] = NewQueue(publishes * 2)
		_, err := registry.Register(Endpoint{ConnectionId: id, UserId: "user-" + id, Queue: queues[i]})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup

	for i := 0; i < connections; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "c" + string(rune('a'+i))
			for j := 0; j < publishes; j++ {
				if j%2 == 0 {
					registry.Subscribe("channel:busy", id)
				} else {
					registry.Unsubscribe("channel:busy", id)
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < publishes; j++ {
			dispatcher.Publish(event.New(event.KindTyping, "channel:busy", nil))
		}
	}()

	wg.Wait()

	// No crash, no delivery beyond the number of publishes.
	for i := 0; i < connections; i++ {
		assert.LessOrEqual(t, queues[i].Len(), publishes)
	}
}

package hub

import (
	"sync"
	"sync/atomic"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/metrics"
	"go.uber.org/zap"
)

// Dispatcher is the single entry point for outbound events. It stamps
// each event with a scope-monotonic sequence number, resolves the scope
// to live connections and enqueues without ever blocking on a consumer.
type Dispatcher struct {
	logger   *zap.Logger
	registry *Registry
	metrics  *metrics.Metrics

	mu       sync.Mutex
	scopeSeq map[string]uint64

	accepting atomic.Bool
}

func NewDispatcher(logger *zap.Logger, registry *Registry, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		logger:   logger,
		registry: registry,
		metrics:  m,
		scopeSeq: make(map[string]uint64),
	}
	d.accepting.Store(true)

	return d
}

// Publish fans an event out to every connection resolved for its scope
// and returns the number of connections it was queued for. Connections
// whose queue overflows on a durable event are torn down here; their
// client must reconnect and re-sync from storage.
func (d *Dispatcher) Publish(ev event.Event) int {
	if !d.accepting.Load() {
		return 0
	}

	d.mu.Lock()
	d.scopeSeq[ev.ScopeId]++
	ev.ScopeSeq = d.scopeSeq[ev.ScopeId]
	d.mu.Unlock()

	d.metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	endpoints := d.registry.Resolve(ev.ScopeId)

	var overflowed []Endpoint
	queued := 0

	for _, ep := range endpoints {
		if ev.ExcludeOrigin && ep.ConnectionId == ev.OriginConnectionId {
			continue
		}

		switch ep.Queue.Push(ev) {
		case PushOk:
			queued++
			d.metrics.EventsDelivered.WithLabelValues(string(ev.Kind)).Inc()
		case PushDroppedOldest:
			queued++
			d.metrics.EventsDelivered.WithLabelValues(string(ev.Kind)).Inc()
			d.metrics.EventsDropped.WithLabelValues("ring_full").Inc()
		case PushDroppedNewest:
			d.metrics.EventsDropped.WithLabelValues("ring_full").Inc()
		case PushOverflow:
			overflowed = append(overflowed, ep)
		case PushClosed:
			d.metrics.EventsDropped.WithLabelValues("queue_closed").Inc()
		}
	}

	for _, ep := range overflowed {
		d.logger.Warn("durable event overflowed outbound queue, closing connection",
			zap.String("connectionId", ep.ConnectionId),
			zap.String("userId", ep.UserId),
			zap.String("scopeId", ev.ScopeId))

		d.metrics.QueueOverflows.Inc()
		result := d.registry.Deregister(ep.ConnectionId)
		ep.Queue.Kill(string(ierr.ErrorCodeQueueOverflow))

		for _, scopeId := range result.RemovedScopes {
			d.Publish(event.NewPresenceChanged(scopeId, ep.UserId, false))
		}
	}

	return queued
}

// Stop makes Publish a no-op; used during shutdown and surfaced by the
// liveness probe.
func (d *Dispatcher) Stop() {
	d.accepting.Store(false)
}

func (d *Dispatcher) Accepting() bool {
	return d.accepting.Load()
}

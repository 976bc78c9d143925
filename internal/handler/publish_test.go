package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/JoshJarabek7/messenger-backend/internal/auth"
	"github.com/JoshJarabek7/messenger-backend/internal/authz"
	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/hub"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/metrics"
	"github.com/JoshJarabek7/messenger-backend/internal/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	mu      sync.Mutex
	records []persistence.Record
}

func (f *fakeEngine) Setup(ctx context.Context) error {
	return nil
}

func (f *fakeEngine) Save(ctx context.Context, request persistence.SaveRequest) (persistence.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record := persistence.Record{
		Id:      "record-" + strconv.Itoa(len(f.records)+1),
		ScopeId: request.ScopeId,
		Kind:    request.Kind,
		Payload: request.Payload,
	}
	f.records = append(f.records, record)

	return record, nil
}

func (f *fakeEngine) List(ctx context.Context, scopeId string, lastSeenId string) ([]persistence.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var records []persistence.Record
	for _, record := range f.records {
		if record.ScopeId == scopeId {
			records = append(records, record)
		}
	}

	return records, nil
}

func newTestPublishHandler(t *testing.T) (*PublishHandler, *fakeEngine, *authz.StaticAuthorizer, *hub.Registry) {
	t.Helper()

	logger := zap.NewNop()
	registry := hub.NewRegistry(logger)
	dispatcher := hub.NewDispatcher(logger, registry, metrics.New(prometheus.NewRegistry()))
	engine := &fakeEngine{}
	authorizer := authz.NewStaticAuthorizer()

	return NewPublishHandler(engine, authorizer, dispatcher), engine, authorizer, registry
}

func TestPublishHandler_DurableEventPersistsFirst(t *testing.T) {
	h, engine, _, registry := newTestPublishHandler(t)

	q := hub.NewQueue(16)
	_, err := registry.Register(hub.Endpoint{ConnectionId: "c1", UserId: "alice", Queue: q})
	require.NoError(t, err)
	_, err = registry.Subscribe("channel:general", "c1")
	require.NoError(t, err)

	response, err := h.Handle(context.Background(), PublishRequest{
		ScopeId: "channel:general",
		Kind:    event.KindMessageCreated,
		Payload: json.RawMessage(`{"text":"hi"}`),
	}, &auth.Authentication{UserId: "api", IsService: true})

	require.NoError(t, err)
	assert.Equal(t, 1, response.Recipients)
	assert.Equal(t, "record-1", response.RecordId)
	require.Len(t, engine.records, 1)

	// The delivered payload embeds the storage record's canonical id.
	ev, ok := q.Pop()
	require.True(t, ok)

	var payload durablePayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "record-1", payload.RecordId)
	assert.JSONEq(t, `{"text":"hi"}`, string(payload.Data))
}

func TestPublishHandler_BestEffortSkipsPersistence(t *testing.T) {
	h, engine, authorizer, _ := newTestPublishHandler(t)
	require.NoError(t, authorizer.Grant(context.Background(), "alice", "channel:general"))

	response, err := h.Handle(context.Background(), PublishRequest{
		ScopeId: "channel:general",
		Kind:    event.KindTyping,
	}, &auth.Authentication{UserId: "alice"})

	require.NoError(t, err)
	assert.Empty(t, response.RecordId)
	assert.Empty(t, engine.records)
}

func TestPublishHandler_NonMemberForbidden(t *testing.T) {
	h, engine, _, _ := newTestPublishHandler(t)

	_, err := h.Handle(context.Background(), PublishRequest{
		ScopeId: "channel:general",
		Kind:    event.KindMessageCreated,
	}, &auth.Authentication{UserId: "mallory"})

	require.Error(t, err)
	assert.Equal(t, ierr.ErrorCodeScopeForbidden, err.(ierr.Error).Code)
	assert.Empty(t, engine.records)
}

func TestPublishHandler_InvalidInput(t *testing.T) {
	h, _, _, _ := newTestPublishHandler(t)
	service := &auth.Authentication{UserId: "api", IsService: true}

	t.Run("invalid scope id", func(t *testing.T) {
		_, err := h.Handle(context.Background(), PublishRequest{
			ScopeId: "not a scope!",
			Kind:    event.KindMessageCreated,
		}, service)

		require.Error(t, err)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, err.(ierr.Error).Code)
	})

	t.Run("unpublishable kind", func(t *testing.T) {
		_, err := h.Handle(context.Background(), PublishRequest{
			ScopeId: "channel:general",
			Kind:    event.KindSubscriptionAck,
		}, service)

		require.Error(t, err)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, err.(ierr.Error).Code)
	})
}

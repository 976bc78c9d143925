package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/auth"
	"github.com/JoshJarabek7/messenger-backend/internal/authz"
	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/hub"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/persistence"
)

type PublishRequest struct {
	ScopeId string          `json:"scopeId"`
	Kind    event.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type PublishResponse struct {
	EventId    string    `json:"eventId"`
	RecordId   string    `json:"recordId,omitempty"`
	ScopeId    string    `json:"scopeId"`
	Recipients int       `json:"recipients"`
	CreateTime time.Time `json:"createTime"`
}

// durablePayload is the wire payload of a persisted event: the storage
// record's canonical id plus the producer's data, so clients can line
// live deliveries up against history.
type durablePayload struct {
	RecordId string          `json:"recordId"`
	Data     json.RawMessage `json:"data"`
}

// PublishHandler is the producer path: persist durable events first,
// then fan out through the dispatcher.
type PublishHandler struct {
	engine     persistence.Engine
	authorizer authz.Authorizer
	dispatcher *hub.Dispatcher
}

func NewPublishHandler(
	engine persistence.Engine,
	authorizer authz.Authorizer,
	dispatcher *hub.Dispatcher,
) *PublishHandler {
	return &PublishHandler{
		engine,
		authorizer,
		dispatcher,
	}
}

func (h *PublishHandler) Handle(ctx context.Context, req PublishRequest, authentication *auth.Authentication) (PublishResponse, error) {
	if !event.ValidScopeId(req.ScopeId) {
		return PublishResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid scopeId"))
	}

	switch req.Kind {
	case event.KindMessageCreated, event.KindMessageEdited, event.KindMessageDeleted,
		event.KindTyping, event.KindPresenceChanged:
	default:
		return PublishResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("kind not publishable: "+string(req.Kind)))
	}

	if !authentication.IsService {
		member, err := h.authorizer.IsMember(ctx, authentication.UserId, req.ScopeId)
		if err != nil {
			return PublishResponse{}, ierr.New(ierr.ErrorCodeInternal, err)
		}
		if !member {
			return PublishResponse{}, ierr.New(ierr.ErrorCodeScopeForbidden,
				errors.New("user not authorized to publish to this scope"))
		}
	}

	ev := event.New(req.Kind, req.ScopeId, req.Payload)

	var recordId string
	if ev.Durable {
		record, err := h.engine.Save(ctx, persistence.SaveRequest{
			ScopeId: req.ScopeId,
			Kind:    req.Kind,
			Payload: req.Payload,
		})
		if err != nil {
			return PublishResponse{}, ierr.New(ierr.ErrorCodeInternal, err)
		}

		recordId = record.Id
		ev.Payload, _ = json.Marshal(durablePayload{
			RecordId: record.Id,
			Data:     req.Payload,
		})
	}

	recipients := h.dispatcher.Publish(ev)

	return PublishResponse{
		EventId:    ev.Id,
		RecordId:   recordId,
		ScopeId:    req.ScopeId,
		Recipients: recipients,
		CreateTime: ev.CreateTime,
	}, nil
}

package handler

import (
	"context"
	"errors"

	"github.com/JoshJarabek7/messenger-backend/internal/auth"
	"github.com/JoshJarabek7/messenger-backend/internal/authz"
	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/JoshJarabek7/messenger-backend/internal/persistence"
)

type HistoryRequest struct {
	ScopeId    string
	LastSeenId string
}

// HistoryHandler serves the re-sync path: a reconnecting client replays
// persisted events it missed, keyed by the last record id it saw.
type HistoryHandler struct {
	engine     persistence.Engine
	authorizer authz.Authorizer
}

func NewHistoryHandler(
	engine persistence.Engine,
	authorizer authz.Authorizer,
) *HistoryHandler {
	return &HistoryHandler{
		engine,
		authorizer,
	}
}

func (h *HistoryHandler) Handle(ctx context.Context, req HistoryRequest, authentication *auth.Authentication) ([]persistence.Record, error) {
	if !event.ValidScopeId(req.ScopeId) {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid scopeId"))
	}

	if !authentication.IsService {
		member, err := h.authorizer.IsMember(ctx, authentication.UserId, req.ScopeId)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeInternal, err)
		}
		if !member {
			return nil, ierr.New(ierr.ErrorCodeScopeForbidden,
				errors.New("user not authorized to read this scope"))
		}
	}

	records, err := h.engine.List(ctx, req.ScopeId, req.LastSeenId)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInternal, err)
	}

	// An empty listing serializes as [] rather than null.
	if records == nil {
		records = []persistence.Record{}
	}

	return records, nil
}

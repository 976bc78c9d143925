// Package persistence is the storage collaborator boundary. Producers
// persist durable events here first, then hand them to the dispatcher.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
)

type Engine interface {
	Setup(ctx context.Context) error
	Save(ctx context.Context, request SaveRequest) (Record, error)
	List(ctx context.Context, scopeId string, lastSeenId string) ([]Record, error)
}

type SaveRequest struct {
	ScopeId string
	Kind    event.Kind
	Payload json.RawMessage
}

// Record is a persisted event with its storage-canonical id. The id is
// embedded in the published payload so reconnecting clients can re-sync
// from history.
type Record struct {
	Id         string          `json:"id"`
	ScopeId    string          `json:"scopeId"`
	Kind       event.Kind      `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	CreateTime time.Time       `json:"createTime"`
}

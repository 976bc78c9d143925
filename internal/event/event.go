package event

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Kind string

const (
	KindMessageCreated  Kind = "message-created"
	KindMessageEdited   Kind = "message-edited"
	KindMessageDeleted  Kind = "message-deleted"
	KindTyping          Kind = "typing"
	KindPresenceChanged Kind = "presence-changed"
	KindSubscriptionAck Kind = "subscription-ack"
	KindError           Kind = "error"
	KindPong            Kind = "pong"
)

// Durable reports whether losing this kind of event on a slow consumer is
// unacceptable. Droppable kinds are simply discarded under backpressure;
// durable kinds force the connection closed instead.
func (k Kind) Durable() bool {
	switch k {
	case KindMessageCreated, KindMessageEdited, KindMessageDeleted:
		return true
	default:
		return false
	}
}

// Event is a single unit of fan-out. The payload is opaque to the core;
// producers fill it and clients interpret it.
type Event struct {
	Id         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	ScopeId    string          `json:"scopeId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreateTime time.Time       `json:"createTime"`

	// ScopeSeq is stamped exactly once by the dispatcher, strictly
	// increasing per scope.
	ScopeSeq uint64 `json:"scopeSeq,omitempty"`

	Durable bool `json:"-"`

	// OriginConnectionId identifies the connection that produced the
	// event, when it came in over a socket. ExcludeOrigin keeps the
	// event from echoing back to that connection.
	OriginConnectionId string `json:"-"`
	ExcludeOrigin      bool   `json:"-"`
}

func New(kind Kind, scopeId string, payload json.RawMessage) Event {
	return Event{
		Id:         gonanoid.Must(),
		Kind:       kind,
		ScopeId:    scopeId,
		Payload:    payload,
		CreateTime: time.Now(),
		Durable:    kind.Durable(),
	}
}

func NewError(ierrErr ierr.Error) Event {
	payload, _ := json.Marshal(ierrErr)

	ev := New(KindError, "", payload)
	ev.Durable = false

	return ev
}

type PresencePayload struct {
	UserId    string    `json:"userId"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPresenceChanged(scopeId string, userId string, online bool) Event {
	payload, _ := json.Marshal(PresencePayload{
		UserId:    userId,
		Online:    online,
		Timestamp: time.Now(),
	})

	return New(KindPresenceChanged, scopeId, payload)
}

var scopeIdRegex = regexp.MustCompile(`^([\w-]+:?)*\w$`)

func ValidScopeId(scopeId string) bool {
	return scopeIdRegex.MatchString(scopeId)
}

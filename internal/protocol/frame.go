// Package protocol defines the wire format shared with clients: a flat
// JSON frame carrying a type tag, an optional scope, sequence numbers and
// an opaque payload.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/JoshJarabek7/messenger-backend/internal/event"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
)

type FrameType string

const (
	FrameAuth        FrameType = "auth"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
	FrameError       FrameType = "error"
	FrameTyping      FrameType = FrameType(event.KindTyping)
)

type Frame struct {
	Type    FrameType       `json:"type"`
	ScopeId string          `json:"scopeId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Seq is the per-connection delivery sequence, stamped by the
	// writer loop. ScopeSeq is the dispatcher's scope-monotonic
	// sequence, meaningful only on event frames.
	Seq      uint64 `json:"seq,omitempty"`
	ScopeSeq uint64 `json:"scopeSeq,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

// Decode parses an inbound frame. Any parse failure or missing type tag
// is a MalformedFrame.
func Decode(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, ierr.New(ierr.ErrorCodeMalformedFrame, err)
	}

	if frame.Type == "" {
		return Frame{}, ierr.New(ierr.ErrorCodeMalformedFrame, errors.New("missing frame type"))
	}

	return frame, nil
}

// FromEvent serializes an event for one connection, tagged with that
// connection's delivery sequence.
func FromEvent(ev event.Event, seq uint64) Frame {
	return Frame{
		Type:     FrameType(ev.Kind),
		ScopeId:  ev.ScopeId,
		Payload:  ev.Payload,
		Seq:      seq,
		ScopeSeq: ev.ScopeSeq,
	}
}

func NewErrorFrame(ierrErr ierr.Error) Frame {
	payload, _ := json.Marshal(ierrErr)

	return Frame{
		Type:    FrameError,
		Payload: payload,
	}
}

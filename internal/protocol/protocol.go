// Package protocol defines the websocket frames exchanged between editing
// clients and the server. Every frame is {"event": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"fmt"

	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/presence"
)

const (
	EventJoinDocument   = "join-document"
	EventJoinAck        = "join-ack"
	EventLeaveDocument  = "leave-document"
	EventInit           = "doc:init"
	EventEdit           = "doc:edit"
	EventAck            = "doc:ack"
	EventUpdate         = "doc:update"
	EventReject         = "doc:reject"
	EventError          = "doc:error"
	EventCursorUpdate   = "doc:cursor:update"
	EventPresenceUpdate = "doc:presence:update"
	EventTitle          = "doc:title"
	EventPing           = "ping"
	EventPong           = "pong"
)

const RejectReasonStale = "stale"

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Snapshot is the document state carried by doc:init, doc:ack, doc:update
// and inside doc:reject.
type Snapshot = engine.Snapshot[json.RawMessage]

type JoinPayload struct {
	DocumentID string `json:"documentId" validate:"required"`
}

type EditPayload struct {
	DocumentID  string          `json:"documentId" validate:"required"`
	Content     json.RawMessage `json:"content" validate:"required"`
	BaseVersion *int64          `json:"baseVersion" validate:"required,gte=0"`
}

type CursorPayload struct {
	DocumentID  string                `json:"documentId" validate:"required"`
	UserID      uint64                `json:"userId"`
	CursorRange *presence.CursorRange `json:"cursorRange"`
}

type RejectPayload struct {
	Reason  string   `json:"reason"`
	Current Snapshot `json:"current"`
}

// ErrorPayload answers a request that failed. Event names the request, so a
// client can tell a failed doc:edit from a failed join.
type ErrorPayload struct {
	Message    string `json:"message"`
	DocumentID string `json:"documentId,omitempty"`
	Event      string `json:"event,omitempty"`
}

type PresencePayload struct {
	DocumentID string           `json:"documentId"`
	Users      []presence.Entry `json:"users"`
}

type TitlePayload struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
}

// Encode builds a frame ready to be written as a websocket text message.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// MustEncode is Encode for payloads built from known-good values.
func MustEncode(event string, data any) []byte {
	b, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event")
	}
	return env, nil
}

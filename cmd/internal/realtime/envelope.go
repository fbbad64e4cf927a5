package realtime

import (
	"encoding/json"
	"time"

	"gatehouse/cmd/identity/ids"
)

// Version is the envelope schema version.
const Version = 1

// Subprotocol must be offered by clients during the handshake.
const Subprotocol = "gatehouse.v1"

// Envelope types.
const (
	TypeHello           = "hello"
	TypeHelloAck        = "hello.ack"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeSessionRevoked  = "session.revoked"
	TypeSessionsRevoked = "sessions.revoked_all"
	TypeError           = "error"
)

// Envelope is the only frame shape on the wire, in both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id,omitempty"`
}

type SessionRevokedPayload struct {
	SessionID string `json:"session_id"`
	// Current is true on the connection that was authenticated by that session.
	Current bool `json:"current"`
}

type SessionsRevokedPayload struct {
	Removed int64 `json:"removed"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, now time.Time) Envelope {
	env := Envelope{V: Version, Type: typ, TS: now}
	if id, err := ids.NewULID(now); err == nil {
		env.ID = id
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			env.Payload = b
		}
	}
	return env
}

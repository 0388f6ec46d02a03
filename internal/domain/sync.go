package domain

import "encoding/json"

// ConnectionState tracks the push channel lifecycle.
type ConnectionState string

const (
	ConnClosed     ConnectionState = "closed"
	ConnConnecting ConnectionState = "connecting"
	ConnOpen       ConnectionState = "open"
)

// SyncState is the single mutable synchronization state, owned exclusively
// by one sync engine per dashboard view.
type SyncState struct {
	ConnectionState  ConnectionState
	ReconnectAttempt int
	LastSyncEpochMs  int64
	PollTimerActive  bool
}

// Envelope is the push-channel wire format.
type Envelope struct {
	Type string          `json:"type"` // "new_message" | "status_update" | "pong"
	Data json.RawMessage `json:"data,omitempty"`
}

// PushMessage is the payload of a new_message envelope.
type PushMessage struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

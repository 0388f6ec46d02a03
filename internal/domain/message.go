package domain

// Account identifies a Chatwork user.
type Account struct {
	ID   int64  `json:"account_id"`
	Name string `json:"name"`
}

// Message is a single chat message as delivered by the backend.
// Immutable once received; Body is raw Chatwork markup until decoded.
type Message struct {
	ID     string  `json:"message_id"`
	RoomID string  `json:"room_id"`
	Sender Account `json:"account"`
	Body   string  `json:"body"`
	SentAt int64   `json:"send_time"` // unix seconds
}

// DeletedMessage is a log entry for a message that disappeared from a room
// or carried a [delete] tag.
type DeletedMessage struct {
	RoomID       string `json:"room_id"`
	MessageID    string `json:"message_id"`
	Sender       string `json:"sender"`
	Body         string `json:"body"`
	SentAt       int64  `json:"send_time"`
	DeletionType string `json:"deletion_type"` // "vanished" | "tag"
	DeletedAt    string `json:"deleted_at"`    // "2006-01-02 15:04:05" local time
}

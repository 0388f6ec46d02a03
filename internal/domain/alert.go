package domain

import "time"

// Priority classifies how urgently an alert needs a reply.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Alert is a "needs reply" entry for one message. Once marked replied it is
// never resurrected for the same message id.
type Alert struct {
	RoomID          string    `json:"room_id"`
	MessageID       string    `json:"message_id"`
	Sender          string    `json:"sender"`
	Body            string    `json:"body"`
	Priority        Priority  `json:"priority"`
	AddedAt         time.Time `json:"added_at"`
	AlertsSent      int       `json:"alerts_sent"`
	EscalationLevel int       `json:"escalation_level"`
	LastAlertAt     time.Time `json:"last_alert_at"` // zero until the first notification fires
}

// Key returns the pending-alert map key for an alert.
func (a Alert) Key() string { return a.RoomID + "_" + a.MessageID }

// AlertSummary aggregates pending alerts for the status counters.
type AlertSummary struct {
	Total      int              `json:"total"`
	ByPriority map[Priority]int `json:"by_priority"`
	ByRoom     map[string]int   `json:"by_room"`
	Oldest     *Alert           `json:"oldest_alert,omitempty"`
}

// StatusSummary is the backend's system status snapshot.
type StatusSummary struct {
	MonitoredRooms     int `json:"monitored_rooms"`
	ProcessedMessages  int `json:"processed_messages_count"`
	PendingAlerts      int `json:"pending_alerts"`
	HighPriorityAlerts int `json:"high_priority_alerts"`
}

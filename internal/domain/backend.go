package domain

import "context"

// Backend is the boundary to the dashboard's backend service. Fetch methods
// with a silent flag must not create any server-visible side effect (no read
// receipts, no typing indicators); that is the contract that distinguishes
// silent sync from explicit user actions.
type Backend interface {
	Rooms(ctx context.Context) ([]Room, error)
	RoomCategories(ctx context.Context) (map[Category][]Room, error)
	RoomMembers(ctx context.Context, roomID string) ([]Member, error)
	Messages(ctx context.Context, roomID string, silent bool) ([]Message, error)
	LatestMessages(ctx context.Context, limit int) ([]Message, error)
	Status(ctx context.Context) (StatusSummary, error)
	Alerts(ctx context.Context) ([]Alert, error)
	MarkReplied(ctx context.Context, roomID, messageID string) error
	PostMessage(ctx context.Context, roomID, body string) error
	PostReaction(ctx context.Context, roomID, messageID, emoji string) error
	PostQuote(ctx context.Context, roomID, body string) error
	CreateRoom(ctx context.Context, name string, memberIDs []int64) (string, error)
	MonitoredRooms(ctx context.Context) ([]string, error)
	SetMonitoredRooms(ctx context.Context, roomIDs []string) error
}

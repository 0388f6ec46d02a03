// Package dispatch turns explicit user actions (reply, send, react, quote,
// room management) into backend writes, and keeps the local stores in step
// afterwards. Everything here is user-initiated; background sync never calls
// into this package.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/alerts"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/directory"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/markup"
)

var ErrEmptyMessage = errors.New("message text is empty")

// Refresher re-fetches a room after a write so the view reflects it.
type Refresher interface {
	RefreshRoom(ctx context.Context, roomID string, silent bool) ([]domain.Message, error)
}

type Dispatcher struct {
	backend domain.Backend
	dir     *directory.Directory
	alerts  *alerts.Store
	refresh Refresher
	logger  *slog.Logger
}

func New(backend domain.Backend, dir *directory.Directory, alertStore *alerts.Store, refresh Refresher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		dir:     dir,
		alerts:  alertStore,
		refresh: refresh,
		logger:  logger,
	}
}

// ReplyInput describes a reply action taken on one message.
type ReplyInput struct {
	RoomID       string
	MessageID    string   // alert bookkeeping; empty when not replying to an alert
	ToNames      []string // display names, resolved against the room roster
	OriginalBody string   // quoted in the reply
	Text         string
}

// Reply encodes and posts a reply. When the reply answers a tracked alert the
// alert is marked replied on both sides.
func (d *Dispatcher) Reply(ctx context.Context, in ReplyInput) error {
	if strings.TrimSpace(in.Text) == "" {
		return ErrEmptyMessage
	}

	body := markup.Encode(markup.Outgoing{
		ToNames:     in.ToNames,
		ReplyToBody: in.OriginalBody,
		Text:        in.Text,
	}, d.dir)

	if err := d.backend.PostMessage(ctx, in.RoomID, body); err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	if in.MessageID != "" {
		if err := d.MarkReplied(ctx, in.RoomID, in.MessageID); err != nil {
			d.logger.Warn("reply sent but alert not marked", "room", in.RoomID, "message", in.MessageID, "error", err)
		}
	}
	d.refreshRoom(ctx, in.RoomID)
	return nil
}

// Send posts a plain message with no reply context.
func (d *Dispatcher) Send(ctx context.Context, roomID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if err := d.backend.PostMessage(ctx, roomID, text); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	d.refreshRoom(ctx, roomID)
	return nil
}

// React posts a reaction to one message.
func (d *Dispatcher) React(ctx context.Context, roomID, messageID, kind string) error {
	emoji := markup.EncodeReaction(kind)
	if err := d.backend.PostReaction(ctx, roomID, messageID, emoji); err != nil {
		return fmt.Errorf("post reaction: %w", err)
	}
	return nil
}

// Quote posts a standalone quote of an existing message with an optional
// comment.
func (d *Dispatcher) Quote(ctx context.Context, roomID, originalBody, comment string) error {
	body := markup.EncodeQuote(originalBody, comment)
	if err := d.backend.PostQuote(ctx, roomID, body); err != nil {
		return fmt.Errorf("post quote: %w", err)
	}
	d.refreshRoom(ctx, roomID)
	return nil
}

// MarkReplied clears an alert on the backend and locally.
func (d *Dispatcher) MarkReplied(ctx context.Context, roomID, messageID string) error {
	if err := d.backend.MarkReplied(ctx, roomID, messageID); err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	d.alerts.MarkReplied(roomID, messageID)
	return nil
}

// CreateRoom creates a group chat from display names. Names the roster cannot
// resolve are skipped with a warning rather than failing the whole creation.
func (d *Dispatcher) CreateRoom(ctx context.Context, name string, memberNames []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("room name is empty")
	}
	var ids []int64
	for _, n := range memberNames {
		id, ok := d.dir.Resolve(n)
		if !ok {
			d.logger.Warn("member name not in roster, skipping", "name", n)
			continue
		}
		ids = append(ids, id)
	}
	roomID, err := d.backend.CreateRoom(ctx, name, ids)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return roomID, nil
}

// SetMonitoredRooms updates the monitored set on the backend and locally.
func (d *Dispatcher) SetMonitoredRooms(ctx context.Context, roomIDs []string) error {
	if err := d.backend.SetMonitoredRooms(ctx, roomIDs); err != nil {
		return fmt.Errorf("set monitored rooms: %w", err)
	}
	d.dir.SetMonitored(roomIDs)
	return nil
}

func (d *Dispatcher) refreshRoom(ctx context.Context, roomID string) {
	if d.refresh == nil {
		return
	}
	if _, err := d.refresh.RefreshRoom(ctx, roomID, true); err != nil {
		d.logger.Warn("room refresh after write failed", "room", roomID, "error", err)
	}
}

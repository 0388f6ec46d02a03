// Package sync keeps the dashboard's local state in step with the backend:
// a websocket push channel with linear-backoff reconnect, and a read-only
// polling loop ("silent sync") that never produces server-visible side
// effects such as read receipts.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/alerts"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/directory"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/markup"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/metrics"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/store"
)

// Tabs the poll loop adapts its fetch set to.
const (
	TabMessages = "messages"
	TabAlerts   = "alerts"
)

// Engine owns the single synchronization state for one dashboard view. All
// mutation goes through the engine; consumers observe via the event bus.
type Engine struct {
	cfg       config.SyncConfig
	backend   domain.Backend
	wsURL     string
	dir       *directory.Directory
	alerts    *alerts.Store
	deletions *store.DeletionLog // nil disables the deletion log
	events    *bus.EventBus
	logger    *slog.Logger

	mu          sync.Mutex
	pushRunning bool
	state       domain.SyncState
	activeTab   string
	currentRoom string
	seen        map[string]map[string]domain.Message // room id -> message id -> last seen
	conn        *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.SyncConfig, backend domain.Backend, wsURL string, dir *directory.Directory, alertStore *alerts.Store, deletions *store.DeletionLog, events *bus.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		backend:   backend,
		wsURL:     wsURL,
		dir:       dir,
		alerts:    alertStore,
		deletions: deletions,
		events:    events,
		logger:    logger,
		activeTab: TabMessages,
		seen:      make(map[string]map[string]domain.Message),
		state:     domain.SyncState{ConnectionState: domain.ConnClosed},
	}
}

// Start launches the push channel and the poll loop. It returns immediately;
// both loops run until Close.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.mu.Lock()
	if e.state.LastSyncEpochMs == 0 {
		// Messages older than startup are history, not news.
		e.state.LastSyncEpochMs = time.Now().UnixMilli()
	}
	e.mu.Unlock()

	e.mu.Lock()
	e.pushRunning = true
	e.mu.Unlock()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		defer e.pushDone()
		e.runPush()
	}()
	go func() {
		defer e.wg.Done()
		e.runPoll()
	}()
}

func (e *Engine) pushDone() {
	e.mu.Lock()
	e.pushRunning = false
	e.mu.Unlock()
}

// Reconnect restarts the push channel after it has given up, resetting the
// attempt budget. A no-op while the channel is still running or after Close.
func (e *Engine) Reconnect() {
	e.mu.Lock()
	if e.pushRunning || e.ctx == nil || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.pushRunning = true
	e.state.ReconnectAttempt = 0
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.pushDone()
		e.runPush()
	}()
}

// Close tears the engine down. When it returns, no further events are
// emitted and no timers remain.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.mu.Unlock()
	e.wg.Wait()

	e.mu.Lock()
	e.state.ConnectionState = domain.ConnClosed
	e.state.PollTimerActive = false
	e.mu.Unlock()
}

// State returns a snapshot of the synchronization state.
func (e *Engine) State() domain.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetActiveTab switches the poll loop's fetch set.
func (e *Engine) SetActiveTab(tab string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeTab = tab
}

// SetCurrentRoom records which room the user is viewing. Deletion detection
// runs against the current room's fetches.
func (e *Engine) SetCurrentRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentRoom = roomID
}

// alive reports whether emitting is still permitted. Nothing is emitted
// after Close.
func (e *Engine) alive() bool {
	return e.ctx != nil && e.ctx.Err() == nil
}

func (e *Engine) emit(eventType string, payload map[string]any) {
	if !e.alive() {
		return
	}
	e.events.Emit(bus.Event{Type: eventType, Source: "sync", Payload: payload})
}

// RefreshRoom fetches one room's messages and runs new-message accounting and
// deletion detection on the result. Background refreshes pass silent=true;
// a user explicitly opening a room passes silent=false so the server marks
// it read.
func (e *Engine) RefreshRoom(ctx context.Context, roomID string, silent bool) ([]domain.Message, error) {
	msgs, err := e.backend.Messages(ctx, roomID, silent)
	if err != nil {
		metrics.FetchErrors.Inc()
		return nil, err
	}
	e.trackRoom(roomID, msgs)
	return msgs, nil
}

// trackRoom reconciles a full room fetch against the last seen set: a message
// that disappeared is a vanished deletion, one whose body gained a delete tag
// is a tag deletion.
func (e *Engine) trackRoom(roomID string, msgs []domain.Message) {
	now := time.Now().Format("2006-01-02 15:04:05")

	e.mu.Lock()
	prev := e.seen[roomID]
	next := make(map[string]domain.Message, len(msgs))
	var deleted []domain.DeletedMessage
	for _, m := range msgs {
		next[m.ID] = m
		old, ok := prev[m.ID]
		if ok && !markup.HasDeleteTag(old.Body) && markup.HasDeleteTag(m.Body) {
			deleted = append(deleted, domain.DeletedMessage{
				RoomID:       roomID,
				MessageID:    m.ID,
				Sender:       old.Sender.Name,
				Body:         old.Body,
				SentAt:       old.SentAt,
				DeletionType: "tag",
				DeletedAt:    now,
			})
		}
	}
	for id, old := range prev {
		if _, ok := next[id]; !ok {
			deleted = append(deleted, domain.DeletedMessage{
				RoomID:       roomID,
				MessageID:    id,
				Sender:       old.Sender.Name,
				Body:         old.Body,
				SentAt:       old.SentAt,
				DeletionType: "vanished",
				DeletedAt:    now,
			})
		}
	}
	e.seen[roomID] = next
	e.mu.Unlock()

	for _, d := range deleted {
		metrics.DeletionsLogged.Inc()
		if e.deletions != nil {
			if err := e.deletions.Record(context.Background(), d); err != nil {
				e.logger.Error("cannot record deletion", "room", d.RoomID, "message", d.MessageID, "error", err)
			}
		}
		e.logger.Info("message deleted", "room", d.RoomID, "message", d.MessageID, "type", d.DeletionType)
		e.emit(bus.EventMessageDeleted, map[string]any{"deleted": d})
	}
}

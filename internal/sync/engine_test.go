package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/alerts"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/directory"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

// fakeBackend serves canned responses and counts fetches.
type fakeBackend struct {
	mu          gosync.Mutex
	latest      []domain.Message
	latestErr   error
	latestCalls int
	status      domain.StatusSummary
	statusErr   error
	statusCalls int
	alertList   []domain.Alert
	alertCalls  int
	roomMsgs    map[string][]domain.Message
}

func (f *fakeBackend) LatestMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	return f.latest, f.latestErr
}

func (f *fakeBackend) Status(ctx context.Context) (domain.StatusSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, f.statusErr
}

func (f *fakeBackend) Alerts(ctx context.Context) ([]domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCalls++
	return f.alertList, nil
}

func (f *fakeBackend) Messages(ctx context.Context, roomID string, silent bool) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomMsgs[roomID], nil
}

func (f *fakeBackend) Rooms(context.Context) ([]domain.Room, error) { return nil, nil }
func (f *fakeBackend) RoomCategories(context.Context) (map[domain.Category][]domain.Room, error) {
	return nil, nil
}
func (f *fakeBackend) RoomMembers(context.Context, string) ([]domain.Member, error) {
	return nil, nil
}
func (f *fakeBackend) MarkReplied(context.Context, string, string) error    { return nil }
func (f *fakeBackend) PostMessage(context.Context, string, string) error    { return nil }
func (f *fakeBackend) PostReaction(context.Context, string, string, string) error {
	return nil
}
func (f *fakeBackend) PostQuote(context.Context, string, string) error { return nil }
func (f *fakeBackend) CreateRoom(context.Context, string, []int64) (string, error) {
	return "", nil
}
func (f *fakeBackend) MonitoredRooms(context.Context) ([]string, error)  { return nil, nil }
func (f *fakeBackend) SetMonitoredRooms(context.Context, []string) error { return nil }

func (f *fakeBackend) counts() (latest, status, alerts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestCalls, f.statusCalls, f.alertCalls
}

func testEngine(t *testing.T, fb *fakeBackend) (*Engine, *bus.EventBus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := bus.NewEventBus(logger)
	cfg := config.Defaults()
	// Slow timers so only explicit Tick calls drive the test.
	cfg.Sync.PollIntervalSeconds = 3600
	cfg.Sync.InitialDelaySeconds = 3600
	cfg.Sync.ReconnectBaseDelayMs = 1

	alertStore := alerts.New(cfg.Alerts, events, logger)
	dir := directory.New(nil, nil)
	e := New(cfg.Sync, fb, "", dir, alertStore, nil, events, logger)
	e.Start(context.Background())
	t.Cleanup(e.Close)
	return e, events
}

func msgAt(id string, sentAt int64) domain.Message {
	return domain.Message{ID: id, RoomID: "r1", Sender: domain.Account{ID: 1, Name: "tanaka"}, Body: "hi", SentAt: sentAt}
}

func TestTickDeduplicatesByLastSync(t *testing.T) {
	const lastSync = int64(1_000_000) // ms
	fb := &fakeBackend{latest: []domain.Message{
		msgAt("old", 999),      // 999_000 ms, before the cursor
		msgAt("boundary", 1000), // exactly the cursor, not new
		msgAt("fresh", 1001),    // 1_001_000 ms, new
	}}
	e, events := testEngine(t, fb)
	e.mu.Lock()
	e.state.LastSyncEpochMs = lastSync
	e.mu.Unlock()

	var got []string
	var mu gosync.Mutex
	events.On(bus.EventMessageNew, func(ev bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Payload["message"].(domain.Message).ID)
	})

	tick := time.Now()
	e.Tick(tick)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "fresh" {
		t.Errorf("new messages = %v, want [fresh]", got)
	}
	if e.State().LastSyncEpochMs != tick.UnixMilli() {
		t.Errorf("cursor = %d, want tick start %d", e.State().LastSyncEpochMs, tick.UnixMilli())
	}
}

func TestFailedFetchLeavesCursorUntouched(t *testing.T) {
	fb := &fakeBackend{latestErr: errors.New("backend down")}
	e, _ := testEngine(t, fb)
	e.mu.Lock()
	e.state.LastSyncEpochMs = 42
	e.mu.Unlock()

	e.Tick(time.Now())

	if got := e.State().LastSyncEpochMs; got != 42 {
		t.Errorf("cursor advanced on failed fetch: %d", got)
	}
}

func TestTickFetchesAreIndependent(t *testing.T) {
	fb := &fakeBackend{
		latestErr: errors.New("messages endpoint down"),
		status:    domain.StatusSummary{PendingAlerts: 7},
	}
	e, events := testEngine(t, fb)

	var statusSeen bool
	var mu gosync.Mutex
	events.On(bus.EventStatusUpdated, func(ev bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		statusSeen = true
	})

	e.Tick(time.Now())

	mu.Lock()
	defer mu.Unlock()
	if !statusSeen {
		t.Error("status fetch blocked by failing message fetch")
	}
}

func TestTickFetchSetFollowsActiveTab(t *testing.T) {
	fb := &fakeBackend{}
	e, _ := testEngine(t, fb)

	e.SetActiveTab(TabMessages)
	e.Tick(time.Now())
	latest, status, alertFetches := fb.counts()
	if latest != 1 || status != 1 || alertFetches != 0 {
		t.Errorf("messages tab: latest=%d status=%d alerts=%d", latest, status, alertFetches)
	}

	e.SetActiveTab(TabAlerts)
	e.Tick(time.Now())
	latest, status, alertFetches = fb.counts()
	if latest != 1 || status != 2 || alertFetches != 1 {
		t.Errorf("alerts tab: latest=%d status=%d alerts=%d", latest, status, alertFetches)
	}
}

func TestReconnectDelayIsLinear(t *testing.T) {
	fb := &fakeBackend{}
	e, _ := testEngine(t, fb)
	e.cfg.ReconnectBaseDelayMs = 1000

	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		5: 5 * time.Second,
	} {
		if got := e.reconnectDelay(attempt); got != want {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	fb := &fakeBackend{}
	e, _ := testEngine(t, fb)

	cause := errors.New("dial refused")
	var granted int
	for i := 0; i < 10; i++ {
		if e.scheduleReconnect(cause) {
			granted++
		}
	}

	if granted != e.cfg.MaxReconnectAttempts {
		t.Errorf("granted %d reconnects, want %d", granted, e.cfg.MaxReconnectAttempts)
	}
}

func TestReconnectResetsAttemptBudget(t *testing.T) {
	fb := &fakeBackend{}
	e, _ := testEngine(t, fb)

	cause := errors.New("dial refused")
	for i := 0; i < 10; i++ {
		e.scheduleReconnect(cause)
	}
	if got := e.State().ReconnectAttempt; got <= e.cfg.MaxReconnectAttempts {
		t.Fatalf("budget not exhausted: attempt = %d", got)
	}

	e.Reconnect()
	// wsURL is empty in tests, so the restarted push loop exits at once;
	// the reset is what matters.
	if got := e.State().ReconnectAttempt; got != 0 {
		t.Errorf("attempt after Reconnect = %d", got)
	}
}

func TestDeletionDetection(t *testing.T) {
	fb := &fakeBackend{}
	e, events := testEngine(t, fb)

	var deleted []domain.DeletedMessage
	var mu gosync.Mutex
	events.On(bus.EventMessageDeleted, func(ev bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		deleted = append(deleted, ev.Payload["deleted"].(domain.DeletedMessage))
	})

	first := []domain.Message{
		msgAt("m1", 100),
		msgAt("m2", 200),
		msgAt("m3", 300),
	}
	e.trackRoom("r1", first)

	second := []domain.Message{
		first[0],
		{ID: "m2", RoomID: "r1", Sender: first[1].Sender, Body: "[deleted]", SentAt: 200},
		// m3 is gone entirely
	}
	e.trackRoom("r1", second)

	mu.Lock()
	defer mu.Unlock()
	if len(deleted) != 2 {
		t.Fatalf("got %d deletions, want 2", len(deleted))
	}
	byID := map[string]domain.DeletedMessage{}
	for _, d := range deleted {
		byID[d.MessageID] = d
	}
	if d := byID["m2"]; d.DeletionType != "tag" || d.Body != "hi" {
		t.Errorf("m2 = %+v, want tag deletion preserving original body", d)
	}
	if d := byID["m3"]; d.DeletionType != "vanished" {
		t.Errorf("m3 = %+v, want vanished", d)
	}
}

func TestDeletionNotReportedTwice(t *testing.T) {
	fb := &fakeBackend{}
	e, events := testEngine(t, fb)

	var count int
	var mu gosync.Mutex
	events.On(bus.EventMessageDeleted, func(bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	e.trackRoom("r1", []domain.Message{msgAt("m1", 100)})
	gone := []domain.Message{}
	e.trackRoom("r1", gone)
	e.trackRoom("r1", gone)
	e.trackRoom("r1", gone)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("vanished message reported %d times", count)
	}
}

func TestNoEventsAfterClose(t *testing.T) {
	fb := &fakeBackend{latest: []domain.Message{msgAt("m1", time.Now().Unix() + 100)}}
	e, events := testEngine(t, fb)

	var count int
	var mu gosync.Mutex
	events.On("*", func(bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	e.Close()
	e.Tick(time.Now())
	e.trackRoom("r1", nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("%d events emitted after Close", count)
	}
	if got := e.State(); got.ConnectionState != domain.ConnClosed || got.PollTimerActive {
		t.Errorf("state after Close = %+v", got)
	}
}

func TestHandleEnvelope(t *testing.T) {
	fb := &fakeBackend{roomMsgs: map[string][]domain.Message{"r9": {msgAt("m1", 1)}}}
	e, events := testEngine(t, fb)
	e.SetCurrentRoom("r9")

	var newMsgs, statusUpdates int
	var mu gosync.Mutex
	events.On(bus.EventMessageNew, func(bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		newMsgs++
	})
	events.On(bus.EventStatusUpdated, func(bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		statusUpdates++
	})

	e.handleEnvelope([]byte(`{"type":"new_message","data":{"room_id":"r9","message_id":"m5","sender":"tanaka","body":"hi","timestamp":100}}`))
	e.handleEnvelope([]byte(`{"type":"status_update","data":{"pending_alerts":3}}`))
	e.handleEnvelope([]byte(`{"type":"pong"}`))
	e.handleEnvelope([]byte(`{"type":"totally_unknown","data":{}}`))
	e.handleEnvelope([]byte(`not json at all`))

	mu.Lock()
	defer mu.Unlock()
	if newMsgs != 1 {
		t.Errorf("new message events = %d", newMsgs)
	}
	if statusUpdates != 1 {
		t.Errorf("status events = %d", statusUpdates)
	}
}

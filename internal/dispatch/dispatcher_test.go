package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/alerts"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/directory"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

// writeRecorder records backend writes.
type writeRecorder struct {
	posted      map[string][]string // room id -> bodies
	reactions   []string
	quotes      []string
	marked      []string
	monitored   []string
	createdName string
	createdIDs  []int64
	postErr     error
}

func newWriteRecorder() *writeRecorder {
	return &writeRecorder{posted: make(map[string][]string)}
}

func (w *writeRecorder) PostMessage(ctx context.Context, roomID, body string) error {
	if w.postErr != nil {
		return w.postErr
	}
	w.posted[roomID] = append(w.posted[roomID], body)
	return nil
}

func (w *writeRecorder) PostReaction(ctx context.Context, roomID, messageID, emoji string) error {
	w.reactions = append(w.reactions, roomID+"/"+messageID+"/"+emoji)
	return nil
}

func (w *writeRecorder) PostQuote(ctx context.Context, roomID, body string) error {
	w.quotes = append(w.quotes, body)
	return nil
}

func (w *writeRecorder) MarkReplied(ctx context.Context, roomID, messageID string) error {
	w.marked = append(w.marked, roomID+"_"+messageID)
	return nil
}

func (w *writeRecorder) CreateRoom(ctx context.Context, name string, memberIDs []int64) (string, error) {
	w.createdName = name
	w.createdIDs = memberIDs
	return "900", nil
}

func (w *writeRecorder) SetMonitoredRooms(ctx context.Context, roomIDs []string) error {
	w.monitored = roomIDs
	return nil
}

func (w *writeRecorder) Rooms(context.Context) ([]domain.Room, error) { return nil, nil }
func (w *writeRecorder) RoomCategories(context.Context) (map[domain.Category][]domain.Room, error) {
	return nil, nil
}
func (w *writeRecorder) RoomMembers(context.Context, string) ([]domain.Member, error) {
	return nil, nil
}
func (w *writeRecorder) Messages(context.Context, string, bool) ([]domain.Message, error) {
	return nil, nil
}
func (w *writeRecorder) LatestMessages(context.Context, int) ([]domain.Message, error) {
	return nil, nil
}
func (w *writeRecorder) Status(context.Context) (domain.StatusSummary, error) {
	return domain.StatusSummary{}, nil
}
func (w *writeRecorder) Alerts(context.Context) ([]domain.Alert, error) { return nil, nil }
func (w *writeRecorder) MonitoredRooms(context.Context) ([]string, error) {
	return nil, nil
}

type refreshRecorder struct {
	rooms []string
}

func (r *refreshRecorder) RefreshRoom(ctx context.Context, roomID string, silent bool) ([]domain.Message, error) {
	r.rooms = append(r.rooms, roomID)
	return nil, nil
}

func testDispatcher(t *testing.T) (*Dispatcher, *writeRecorder, *refreshRecorder, *alerts.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := newWriteRecorder()
	refresh := &refreshRecorder{}
	dir := directory.New(nil, nil)
	dir.SetRoster([]domain.Member{
		{AccountID: 123, Name: "Tanaka"},
		{AccountID: 456, Name: "Suzuki"},
	})
	alertStore := alerts.New(config.Defaults().Alerts, bus.NewEventBus(logger), logger)
	return New(backend, dir, alertStore, refresh, logger), backend, refresh, alertStore
}

func TestReplyEncodesAndPosts(t *testing.T) {
	d, backend, refresh, _ := testDispatcher(t)

	err := d.Reply(context.Background(), ReplyInput{
		RoomID:       "r1",
		ToNames:      []string{"Tanaka"},
		OriginalBody: "original",
		Text:         "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	bodies := backend.posted["r1"]
	if len(bodies) != 1 {
		t.Fatalf("posted %d messages", len(bodies))
	}
	if bodies[0] != "[To:123] [返信] [qt]original[/qt]\nhello" {
		t.Errorf("body = %q", bodies[0])
	}
	if len(refresh.rooms) != 1 || refresh.rooms[0] != "r1" {
		t.Errorf("refresh = %v", refresh.rooms)
	}
}

func TestReplyRejectsEmptyText(t *testing.T) {
	d, backend, _, _ := testDispatcher(t)

	err := d.Reply(context.Background(), ReplyInput{RoomID: "r1", Text: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v", err)
	}
	if len(backend.posted) != 0 {
		t.Error("empty reply reached the backend")
	}
}

func TestReplyToAlertMarksReplied(t *testing.T) {
	d, backend, _, alertStore := testDispatcher(t)
	alertStore.Replace([]domain.Alert{{RoomID: "r1", MessageID: "m1", Priority: domain.PriorityHigh}})

	err := d.Reply(context.Background(), ReplyInput{
		RoomID:    "r1",
		MessageID: "m1",
		Text:      "on it",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(backend.marked) != 1 || backend.marked[0] != "r1_m1" {
		t.Errorf("marked = %v", backend.marked)
	}
	if len(alertStore.Pending()) != 0 {
		t.Error("alert still pending after reply")
	}
}

func TestReactTranslatesKeyword(t *testing.T) {
	d, backend, _, _ := testDispatcher(t)

	if err := d.React(context.Background(), "r1", "m1", "thumbsup"); err != nil {
		t.Fatal(err)
	}
	if len(backend.reactions) != 1 || backend.reactions[0] != "r1/m1/👍" {
		t.Errorf("reactions = %v", backend.reactions)
	}
}

func TestQuotePostsEncodedBody(t *testing.T) {
	d, backend, _, _ := testDispatcher(t)

	if err := d.Quote(context.Background(), "r1", "original", "nice"); err != nil {
		t.Fatal(err)
	}
	if len(backend.quotes) != 1 || backend.quotes[0] != "[qt]original[/qt]\nnice" {
		t.Errorf("quotes = %v", backend.quotes)
	}
}

func TestCreateRoomSkipsUnresolvableNames(t *testing.T) {
	d, backend, _, _ := testDispatcher(t)

	id, err := d.CreateRoom(context.Background(), "new project", []string{"Tanaka", "Nobody", "Suzuki"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "900" {
		t.Errorf("room id = %q", id)
	}
	if backend.createdName != "new project" {
		t.Errorf("name = %q", backend.createdName)
	}
	if len(backend.createdIDs) != 2 || backend.createdIDs[0] != 123 || backend.createdIDs[1] != 456 {
		t.Errorf("member ids = %v", backend.createdIDs)
	}
}

func TestSetMonitoredRoomsUpdatesDirectory(t *testing.T) {
	d, backend, _, _ := testDispatcher(t)

	if err := d.SetMonitoredRooms(context.Background(), []string{"5", "6"}); err != nil {
		t.Fatal(err)
	}
	if len(backend.monitored) != 2 {
		t.Errorf("backend monitored = %v", backend.monitored)
	}
	if !d.dir.Monitored("5") || !d.dir.Monitored("6") {
		t.Error("directory not updated")
	}
}

func TestSendFailureDoesNotRefresh(t *testing.T) {
	d, backend, refresh, _ := testDispatcher(t)
	backend.postErr = errors.New("backend down")

	if err := d.Send(context.Background(), "r1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if len(refresh.rooms) != 0 {
		t.Error("refresh ran after failed post")
	}
}

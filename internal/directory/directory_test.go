package directory

import (
	"testing"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

func TestCategorizePrecedence(t *testing.T) {
	d := New(nil, []string{"100"})
	d.ReplaceCategories(map[domain.Category][]domain.Room{
		domain.CategoryProjects: {{ID: "200", Name: "whatever"}},
	})

	tests := []struct {
		name string
		room domain.Room
		want domain.Category
	}{
		{"monitored wins over everything", domain.Room{ID: "100", Name: "クライアント対応", Type: "direct"}, domain.CategoryMonitored},
		{"server assignment beats keywords", domain.Room{ID: "200", Name: "会議メモ"}, domain.CategoryProjects},
		{"direct room type", domain.Room{ID: "1", Type: "direct"}, domain.CategoryTO},
		{"my chat room type", domain.Room{ID: "2", Type: "my"}, domain.CategoryMyChat},
		{"client keyword japanese", domain.Room{ID: "3", Name: "〇〇クライアント様"}, domain.CategoryClientDesk},
		{"project keyword case-insensitive", domain.Room{ID: "4", Name: "Apollo PJ"}, domain.CategoryProjects},
		{"meeting keyword", domain.Room{ID: "5", Name: "週次ミーティング"}, domain.CategoryMeetings},
		{"no match falls through", domain.Room{ID: "6", Name: "雑談"}, domain.CategoryOthers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Categorize(tt.room); got != tt.want {
				t.Errorf("Categorize(%q) = %q, want %q", tt.room.Name, got, tt.want)
			}
		})
	}
}

func TestGroupedOrdersStickyThenRecent(t *testing.T) {
	d := New(nil, nil)
	d.ReplaceRooms([]domain.Room{
		{ID: "1", Name: "雑談A", LastUpdate: 10},
		{ID: "2", Name: "雑談B", LastUpdate: 30},
		{ID: "3", Name: "雑談C", LastUpdate: 20, Sticky: true},
	})

	rooms := d.Grouped()[domain.CategoryOthers]
	if len(rooms) != 3 {
		t.Fatalf("got %d rooms", len(rooms))
	}
	if rooms[0].ID != "3" {
		t.Errorf("sticky room not first: %v", rooms[0].ID)
	}
	if rooms[1].ID != "2" || rooms[2].ID != "1" {
		t.Errorf("rooms not ordered by last update: %s, %s", rooms[1].ID, rooms[2].ID)
	}
}

func TestRosterResolve(t *testing.T) {
	d := New(nil, nil)
	d.SetRoster([]domain.Member{
		{AccountID: 123, Name: "Tanaka"},
		{AccountID: 456, Name: "Suzuki"},
	})

	if id, ok := d.Resolve("Tanaka"); !ok || id != 123 {
		t.Errorf("Resolve(Tanaka) = %d, %v", id, ok)
	}
	if _, ok := d.Resolve("Unknown"); ok {
		t.Error("unknown name should not resolve")
	}

	// Switching rooms replaces the table wholesale.
	d.SetRoster([]domain.Member{{AccountID: 789, Name: "Sato"}})
	if _, ok := d.Resolve("Tanaka"); ok {
		t.Error("stale roster entry survived SetRoster")
	}
}

func TestMonitoredSet(t *testing.T) {
	d := New(nil, []string{"b", "a"})
	if got := d.MonitoredIDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("MonitoredIDs = %v", got)
	}

	d.SetMonitored([]string{"c"})
	if d.Monitored("a") {
		t.Error("old monitored id survived SetMonitored")
	}
	if !d.Monitored("c") {
		t.Error("new monitored id missing")
	}
}

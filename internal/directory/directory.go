// Package directory maintains the client-side view of rooms: categorized
// grouping for the sidebar, the monitored set, and the roster used to resolve
// display names to account ids when composing mentions.
package directory

import (
	"sort"
	"strings"
	"sync"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

// Directory is safe for concurrent use; the sync engine writes while UI
// consumers read.
type Directory struct {
	mu         sync.RWMutex
	rooms      map[string]domain.Room
	categories map[string]domain.Category // room id -> category, as served
	monitored  map[string]bool
	roster     map[string]int64 // display name -> account id, current room
	rules      *config.CategoryRules
}

func New(rules *config.CategoryRules, monitored []string) *Directory {
	if rules == nil {
		rules = config.DefaultRules()
	}
	d := &Directory{
		rooms:      make(map[string]domain.Room),
		categories: make(map[string]domain.Category),
		monitored:  make(map[string]bool),
		roster:     make(map[string]int64),
		rules:      rules,
	}
	for _, id := range monitored {
		d.monitored[id] = true
	}
	return d
}

// ReplaceRooms swaps in a fresh room list from the backend.
func (d *Directory) ReplaceRooms(rooms []domain.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = make(map[string]domain.Room, len(rooms))
	for _, r := range rooms {
		d.rooms[r.ID] = r
	}
}

// ReplaceCategories swaps in server-provided category assignments. They take
// precedence over the local keyword rules.
func (d *Directory) ReplaceCategories(grouped map[domain.Category][]domain.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categories = make(map[string]domain.Category)
	for cat, rooms := range grouped {
		for _, r := range rooms {
			d.categories[r.ID] = cat
			if _, ok := d.rooms[r.ID]; !ok {
				d.rooms[r.ID] = r
			}
		}
	}
}

// SetRoster replaces the name resolution table with the given room's members.
func (d *Directory) SetRoster(members []domain.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roster = make(map[string]int64, len(members))
	for _, m := range members {
		d.roster[m.Name] = m.AccountID
	}
}

// Resolve maps a display name to an account id. It satisfies markup.Resolver.
func (d *Directory) Resolve(name string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.roster[name]
	return id, ok
}

// Room returns a room by id.
func (d *Directory) Room(id string) (domain.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[id]
	return r, ok
}

// Monitored reports whether a room is in the monitored set.
func (d *Directory) Monitored(roomID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.monitored[roomID]
}

// MonitoredIDs returns the monitored room ids, sorted for stable output.
func (d *Directory) MonitoredIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.monitored))
	for id := range d.monitored {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetMonitored replaces the monitored set.
func (d *Directory) SetMonitored(roomIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitored = make(map[string]bool, len(roomIDs))
	for _, id := range roomIDs {
		d.monitored[id] = true
	}
}

// Categorize files one room. Precedence: monitored set, then a server-side
// assignment, then room type, then name keywords, then the catch-all bucket.
func (d *Directory) Categorize(r domain.Room) domain.Category {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.categorizeLocked(r)
}

func (d *Directory) categorizeLocked(r domain.Room) domain.Category {
	if d.monitored[r.ID] {
		return domain.CategoryMonitored
	}
	if cat, ok := d.categories[r.ID]; ok {
		return cat
	}
	switch r.Type {
	case "direct":
		return domain.CategoryTO
	case "my":
		return domain.CategoryMyChat
	}
	name := strings.ToLower(r.Name)
	for _, cat := range domain.CategoryOrder {
		keywords, ok := d.rules.Categories[string(cat)]
		if !ok {
			continue
		}
		for _, kw := range keywords {
			if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
				return cat
			}
		}
	}
	return domain.CategoryOthers
}

// Grouped returns every room filed into its category, categories in the fixed
// sidebar order and rooms within a category ordered sticky first, then by
// last update descending.
func (d *Directory) Grouped() map[domain.Category][]domain.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[domain.Category][]domain.Room, len(domain.CategoryOrder))
	for _, r := range d.rooms {
		cat := d.categorizeLocked(r)
		out[cat] = append(out[cat], r)
	}
	for cat := range out {
		rooms := out[cat]
		sort.Slice(rooms, func(i, j int) bool {
			if rooms[i].Sticky != rooms[j].Sticky {
				return rooms[i].Sticky
			}
			return rooms[i].LastUpdate > rooms[j].LastUpdate
		})
	}
	return out
}

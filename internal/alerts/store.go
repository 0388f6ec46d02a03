// Package alerts tracks reply-pending alerts mirrored from the backend and
// runs the local escalation clock that re-notifies on long-unanswered ones.
package alerts

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

// Store holds the pending alert set. The backend list is authoritative for
// which alerts exist; escalation counters are client-local and survive a
// Replace.
type Store struct {
	mu      sync.Mutex
	pending map[string]*domain.Alert
	replied map[string]bool // tombstones: replied locally, server list may lag
	cfg     config.AlertsConfig
	events  *bus.EventBus
	logger  *slog.Logger
}

func New(cfg config.AlertsConfig, events *bus.EventBus, logger *slog.Logger) *Store {
	return &Store{
		pending: make(map[string]*domain.Alert),
		replied: make(map[string]bool),
		cfg:     cfg,
		events:  events,
		logger:  logger,
	}
}

// Replace swaps in the backend's pending alert list. Alerts already marked
// replied locally are dropped even if the server still lists them, and local
// escalation state is carried over for alerts that persist.
func (s *Store) Replace(list []domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*domain.Alert, len(list))
	for _, a := range list {
		a := a
		key := a.Key()
		if s.replied[key] {
			continue
		}
		if prev, ok := s.pending[key]; ok {
			a.AlertsSent = prev.AlertsSent
			a.EscalationLevel = prev.EscalationLevel
			a.LastAlertAt = prev.LastAlertAt
		}
		next[key] = &a
	}
	s.pending = next
}

// MarkReplied removes an alert and tombstones its key so a stale server list
// cannot resurrect it.
func (s *Store) MarkReplied(roomID, messageID string) {
	key := roomID + "_" + messageID
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	s.replied[key] = true
}

// Pending returns the pending alerts ordered oldest first.
func (s *Store) Pending() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Alert, 0, len(s.pending))
	for _, a := range s.pending {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out
}

// Summary aggregates the pending set for the status bar.
func (s *Store) Summary() domain.AlertSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.AlertSummary{
		ByPriority: make(map[domain.Priority]int),
		ByRoom:     make(map[string]int),
	}
	for _, a := range s.pending {
		sum.Total++
		sum.ByPriority[a.Priority]++
		sum.ByRoom[a.RoomID]++
		if sum.Oldest == nil || a.AddedAt.Before(sum.Oldest.AddedAt) {
			oldest := *a
			sum.Oldest = &oldest
		}
	}
	return sum
}

// Run drives the escalation clock until the context is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.CheckIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep fires every notification that has come due by now: the initial
// notification once an alert has been pending past its priority threshold,
// then one escalation per configured interval up to the maximum level.
func (s *Store) Sweep(now time.Time) {
	s.mu.Lock()
	var fired []domain.Alert
	for _, a := range s.pending {
		if s.dueLocked(a, now) {
			a.AlertsSent++
			if a.AlertsSent > 1 {
				a.EscalationLevel++
			}
			a.LastAlertAt = now
			fired = append(fired, *a)
		}
	}
	s.mu.Unlock()

	for _, a := range fired {
		s.logger.Info("alert escalated",
			"room", a.RoomID,
			"message", a.MessageID,
			"priority", string(a.Priority),
			"level", a.EscalationLevel,
		)
		s.events.Emit(bus.Event{
			Type:   bus.EventAlertEscalated,
			Source: "alerts",
			Payload: map[string]any{
				"alert": a,
			},
		})
	}
}

func (s *Store) dueLocked(a *domain.Alert, now time.Time) bool {
	if a.AlertsSent == 0 {
		return now.Sub(a.AddedAt) >= s.threshold(a.Priority)
	}
	if a.EscalationLevel >= s.cfg.MaxEscalationLevel {
		return false
	}
	intervals := s.cfg.EscalationIntervalsMinutes
	idx := a.EscalationLevel
	if idx >= len(intervals) {
		idx = len(intervals) - 1
	}
	// Escalations are spaced from the previous notification, not from
	// AddedAt, so a long-overdue alert still escalates one step at a time.
	return now.Sub(a.LastAlertAt) >= time.Duration(intervals[idx])*time.Minute
}

// threshold returns how long an alert of the given priority may sit pending
// before its first notification.
func (s *Store) threshold(p domain.Priority) time.Duration {
	switch p {
	case domain.PriorityHigh:
		return time.Duration(s.cfg.HighPriorityThresholdMinutes) * time.Minute
	case domain.PriorityMedium:
		return time.Duration(s.cfg.MediumPriorityThresholdHours) * time.Hour
	default:
		return time.Duration(s.cfg.LowPriorityThresholdHours) * time.Hour
	}
}

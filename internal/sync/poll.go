package sync

import (
	"context"
	sdsync "sync"
	"time"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/metrics"
)

// runPoll drives the silent sync loop: an initial grace delay, then one tick
// per poll interval until Close.
func (e *Engine) runPoll() {
	grace := time.Duration(e.cfg.InitialDelaySeconds) * time.Second
	select {
	case <-e.ctx.Done():
		return
	case <-time.After(grace):
	}

	e.mu.Lock()
	e.state.PollTimerActive = true
	e.mu.Unlock()

	ticker := time.NewTicker(time.Duration(e.cfg.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()

	e.Tick(time.Now())
	for {
		select {
		case <-e.ctx.Done():
			e.mu.Lock()
			e.state.PollTimerActive = false
			e.mu.Unlock()
			return
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// Tick runs one silent sync pass. The fetches are independent and run
// concurrently: latest messages when the messages tab is showing, the status
// snapshot always, and the alert list when the alerts tab is showing. A
// failure in one fetch never blocks the others.
func (e *Engine) Tick(now time.Time) {
	metrics.PollTicks.Inc()
	tickStart := now.UnixMilli()

	e.mu.Lock()
	tab := e.activeTab
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.PollIntervalSeconds)*time.Second)
	defer cancel()

	var wg sdsync.WaitGroup

	if tab == TabMessages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.fetchLatest(ctx, tickStart)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.fetchStatus(ctx)
	}()

	if tab == TabAlerts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.fetchAlerts(ctx)
		}()
	}

	wg.Wait()
}

// fetchLatest pulls the cross-room latest messages, surfaces the ones newer
// than the last successful sync, and only then advances the sync cursor to
// the tick's start time. A failed fetch leaves the cursor untouched so the
// next tick retries the same window.
func (e *Engine) fetchLatest(ctx context.Context, tickStart int64) {
	start := time.Now()
	msgs, err := e.backend.LatestMessages(ctx, e.cfg.LatestLimit)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchErrors.Inc()
		e.logger.Warn("latest message fetch failed", "error", err)
		return
	}

	e.mu.Lock()
	lastSync := e.state.LastSyncEpochMs
	e.state.LastSyncEpochMs = tickStart
	e.mu.Unlock()

	for _, m := range msgs {
		if m.SentAt*1000 > lastSync {
			metrics.MessagesSynced.Inc()
			e.emit(bus.EventMessageNew, map[string]any{"message": m})
		}
	}
}

func (e *Engine) fetchStatus(ctx context.Context) {
	start := time.Now()
	status, err := e.backend.Status(ctx)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchErrors.Inc()
		e.logger.Warn("status fetch failed", "error", err)
		return
	}
	metrics.PendingAlerts.Set(int64(status.PendingAlerts))
	e.emit(bus.EventStatusUpdated, map[string]any{"status": status})
}

func (e *Engine) fetchAlerts(ctx context.Context) {
	list, err := e.backend.Alerts(ctx)
	if err != nil {
		metrics.FetchErrors.Inc()
		e.logger.Warn("alert fetch failed", "error", err)
		return
	}
	e.alerts.Replace(list)
	e.emit(bus.EventAlertsUpdated, map[string]any{"count": len(list)})
}

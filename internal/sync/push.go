package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/metrics"
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// runPush maintains the websocket push channel: dial, read until the
// connection drops, reconnect with linear backoff. After the attempt budget
// is spent it gives up for good; the poll loop keeps the dashboard usable.
func (e *Engine) runPush() {
	if e.wsURL == "" {
		return
	}
	for {
		if e.ctx.Err() != nil {
			return
		}

		e.setConnState(domain.ConnConnecting)
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, resp, err := dialer.DialContext(e.ctx, e.wsURL, nil)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			if !e.scheduleReconnect(err) {
				return
			}
			continue
		}

		e.mu.Lock()
		e.conn = conn
		e.state.ReconnectAttempt = 0
		e.mu.Unlock()
		e.setConnState(domain.ConnOpen)
		metrics.ConnectionUp.Set(1)
		e.logger.Info("push channel connected", "url", e.wsURL)

		e.readLoop(conn)

		metrics.ConnectionUp.Set(0)
		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()
		e.setConnState(domain.ConnClosed)

		if !e.scheduleReconnect(nil) {
			return
		}
	}
}

// readLoop pumps envelopes off one connection until it fails, pinging the
// server on a fixed cadence so half-dead connections are noticed.
func (e *Engine) readLoop(conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteJSON(domain.Envelope{Type: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if e.ctx.Err() == nil {
				e.logger.Warn("push channel read failed", "error", err)
			}
			return
		}
		e.handleEnvelope(data)
	}
}

// scheduleReconnect sleeps out the linear backoff for the next attempt.
// It returns false once the attempt budget is exhausted or the engine is
// closing.
func (e *Engine) scheduleReconnect(cause error) bool {
	if e.ctx.Err() != nil {
		return false
	}

	e.mu.Lock()
	e.state.ReconnectAttempt++
	attempt := e.state.ReconnectAttempt
	e.mu.Unlock()

	if attempt > e.cfg.MaxReconnectAttempts {
		e.logger.Error("push channel gave up, polling remains active",
			"attempts", e.cfg.MaxReconnectAttempts)
		return false
	}

	delay := e.reconnectDelay(attempt)
	metrics.Reconnects.Inc()
	e.logger.Warn("push channel reconnecting",
		"attempt", attempt, "delay", delay, "cause", cause)

	select {
	case <-e.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// reconnectDelay grows linearly with the attempt number.
func (e *Engine) reconnectDelay(attempt int) time.Duration {
	return time.Duration(attempt) * time.Duration(e.cfg.ReconnectBaseDelayMs) * time.Millisecond
}

func (e *Engine) setConnState(s domain.ConnectionState) {
	e.mu.Lock()
	e.state.ConnectionState = s
	attempt := e.state.ReconnectAttempt
	e.mu.Unlock()
	e.emit(bus.EventConnectionState, map[string]any{
		"state":   string(s),
		"attempt": attempt,
	})
}

// handleEnvelope dispatches one push frame. Unknown envelope types are
// ignored so the server can grow the protocol without breaking old clients.
func (e *Engine) handleEnvelope(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.logger.Debug("malformed push envelope", "error", err)
		return
	}

	switch env.Type {
	case "new_message":
		var pm domain.PushMessage
		if err := json.Unmarshal(env.Data, &pm); err != nil {
			e.logger.Debug("malformed new_message payload", "error", err)
			return
		}
		metrics.MessagesSynced.Inc()
		e.emit(bus.EventMessageNew, map[string]any{"push": pm})

		e.mu.Lock()
		current := e.currentRoom
		e.mu.Unlock()
		if current != "" && current == pm.RoomID && e.alive() {
			ctx, cancel := context.WithTimeout(e.ctx, handshakeTimeout)
			if _, err := e.RefreshRoom(ctx, current, true); err != nil {
				e.logger.Warn("room refresh after push failed", "room", current, "error", err)
			}
			cancel()
		}

	case "status_update":
		var status domain.StatusSummary
		if err := json.Unmarshal(env.Data, &status); err != nil {
			e.logger.Debug("malformed status_update payload", "error", err)
			return
		}
		metrics.PendingAlerts.Set(int64(status.PendingAlerts))
		e.emit(bus.EventStatusUpdated, map[string]any{"status": status})

	case "pong":
		// keepalive answer, nothing to do

	default:
		e.logger.Debug("unknown push envelope type", "type", env.Type)
	}
}

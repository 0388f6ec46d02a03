// Package notify relays escalated alerts to external channels. Telegram is
// the only channel; it is entirely config-gated and the dashboard runs fine
// without it.
package notify

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

// TelegramRelay forwards alert.escalated events to a Telegram chat.
type TelegramRelay struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	logger    *slog.Logger
	events    *bus.EventBus
	handlerID string
}

// NewTelegramRelay connects the bot and subscribes to escalation events.
// Returns nil without error when the relay is disabled in config.
func NewTelegramRelay(cfg config.TelegramConfig, events *bus.EventBus, logger *slog.Logger) (*TelegramRelay, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id %q: %w", cfg.ChatID, err)
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	logger.Info("telegram relay connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	r := &TelegramRelay{
		bot:    bot,
		chatID: chatID,
		logger: logger,
		events: events,
	}
	r.handlerID = events.On(bus.EventAlertEscalated, r.onEscalated)
	return r, nil
}

// Close unsubscribes the relay; in-flight sends finish on their own.
func (r *TelegramRelay) Close() {
	r.events.Off(bus.EventAlertEscalated, r.handlerID)
}

func (r *TelegramRelay) onEscalated(ev bus.Event) {
	alert, ok := ev.Payload["alert"].(domain.Alert)
	if !ok {
		return
	}
	msg := tgbotapi.NewMessage(r.chatID, FormatAlert(alert))
	if _, err := r.bot.Send(msg); err != nil {
		r.logger.Error("telegram send failed", "room", alert.RoomID, "message", alert.MessageID, "error", err)
	}
}

// FormatAlert renders one escalation notification.
func FormatAlert(a domain.Alert) string {
	var b strings.Builder
	b.WriteString(priorityEmoji(a.Priority))
	b.WriteString(" 未返信アラート")
	if a.EscalationLevel > 0 {
		fmt.Fprintf(&b, "（エスカレーション Lv.%d）", a.EscalationLevel)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "ルーム: %s\n", a.RoomID)
	fmt.Fprintf(&b, "送信者: %s\n", a.Sender)
	fmt.Fprintf(&b, "経過: %s から未返信\n", a.AddedAt.Format("2006-01-02 15:04"))
	body := a.Body
	if runes := []rune(body); len(runes) > 200 {
		body = string(runes[:200]) + "..."
	}
	fmt.Fprintf(&b, "本文: %s", body)
	return b.String()
}

func priorityEmoji(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return "🚨"
	case domain.PriorityMedium:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/alerts"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/backend"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/bus"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/directory"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/dispatch"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/markup"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/metrics"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/notify"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/store"
	dashsync "github.com/engetsu-hub/chatwork-ai-manager/internal/sync"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatwork-dashboard",
		Short: "Mirror Chatwork rooms into a local dashboard",
		Long:  "chatwork-dashboard keeps a local mirror of the backend's rooms, messages and reply alerts, with a websocket push channel and a read-only polling fallback.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatwork-dashboard/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(roomsCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(deletedCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// buildLogger replaces the bootstrap logger with the configured one.
func buildLogger(cfg config.GeneralConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	out := os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.DefaultConfigPath()
			if configPath != "" {
				cfgPath = configPath
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long:  "Connects the push channel, starts the silent sync loop and the alert escalation clock. Press Ctrl+C to stop.",
		RunE:  runDashboard,
	}
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var closeLog func()
	logger, closeLog, err = buildLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)

	deletionLog, err := store.NewDeletionLog(cfg.Store.DBPath, cfg.Store.MaxDeletedPerRoom, logger)
	if err != nil {
		return fmt.Errorf("deletion log: %w", err)
	}
	defer deletionLog.Close()

	client := backend.New(cfg.Backend, logger)

	rules, err := config.LoadRules(cfg.Rooms.RulesFile)
	if err != nil {
		logger.Warn("cannot load category rules, using built-ins", "error", err)
		rules = config.DefaultRules()
	}
	dir := directory.New(rules, cfg.Rooms.Monitored)
	bootstrapDirectory(ctx, client, dir)

	alertStore := alerts.New(cfg.Alerts, events, logger)
	go alertStore.Run(ctx)

	relay, err := notify.NewTelegramRelay(cfg.Notify.Telegram, events, logger)
	if err != nil {
		return fmt.Errorf("telegram relay: %w", err)
	}
	if relay != nil {
		defer relay.Close()
	}

	engine := dashsync.New(cfg.Sync, client, client.WSURL(), dir, alertStore, deletionLog, events, logger)
	logEvents(events, logger)
	engine.Start(ctx)
	defer engine.Close()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint up", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("dashboard sync running. Press Ctrl+C to stop.")
	<-ctx.Done()
	logger.Info("shutting down...")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	return nil
}

// bootstrapDirectory fills the room directory from the backend. Failures are
// not fatal; the poll loop repairs the view once the backend is reachable.
func bootstrapDirectory(ctx context.Context, client *backend.Client, dir *directory.Directory) {
	if rooms, err := client.Rooms(ctx); err != nil {
		logger.Warn("cannot fetch rooms at startup", "error", err)
	} else {
		dir.ReplaceRooms(rooms)
	}
	if cats, err := client.RoomCategories(ctx); err != nil {
		logger.Warn("cannot fetch room categories at startup", "error", err)
	} else {
		dir.ReplaceCategories(cats)
	}
	if ids, err := client.MonitoredRooms(ctx); err != nil {
		logger.Warn("cannot fetch monitored rooms at startup", "error", err)
	} else if len(ids) > 0 {
		dir.SetMonitored(ids)
	}
}

// logEvents wires the sync events into the log so a headless run is
// observable.
func logEvents(events *bus.EventBus, logger *slog.Logger) {
	events.On(bus.EventMessageNew, func(ev bus.Event) {
		if m, ok := ev.Payload["message"].(domain.Message); ok {
			dec := markup.Decode(m.Body)
			logger.Info("new message", "room", m.RoomID, "sender", m.Sender.Name, "reply", dec.IsReply, "mentions", len(dec.ToTargets))
			return
		}
		if pm, ok := ev.Payload["push"].(domain.PushMessage); ok {
			logger.Info("new message (push)", "room", pm.RoomID, "sender", pm.Sender)
		}
	})
	events.On(bus.EventMessageDeleted, func(ev bus.Event) {
		if d, ok := ev.Payload["deleted"].(domain.DeletedMessage); ok {
			logger.Info("message deleted", "room", d.RoomID, "type", d.DeletionType)
		}
	})
	events.On(bus.EventConnectionState, func(ev bus.Event) {
		logger.Info("push channel state", "state", ev.Payload["state"], "attempt", ev.Payload["attempt"])
	})
	events.On(bus.EventStatusUpdated, func(ev bus.Event) {
		logger.Debug("status updated")
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the backend status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
			defer cancel()

			client := backend.New(cfg.Backend, logger)
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			pending, err := client.Alerts(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("monitored rooms:      %d\n", status.MonitoredRooms)
			fmt.Printf("processed messages:   %d\n", status.ProcessedMessages)
			fmt.Printf("pending alerts:       %d (high: %d)\n", status.PendingAlerts, status.HighPriorityAlerts)
			for _, a := range pending {
				fmt.Printf("  [%s] room %s, %s: %s\n", a.Priority, a.RoomID, a.Sender, firstLine(a.Body))
			}
			return nil
		},
	}
}

func roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List rooms grouped by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
			defer cancel()

			rules, err := config.LoadRules(cfg.Rooms.RulesFile)
			if err != nil {
				return err
			}
			client := backend.New(cfg.Backend, logger)
			dir := directory.New(rules, cfg.Rooms.Monitored)
			bootstrapDirectory(ctx, client, dir)

			grouped := dir.Grouped()
			for _, cat := range domain.CategoryOrder {
				rooms := grouped[cat]
				if len(rooms) == 0 {
					continue
				}
				fmt.Printf("%s (%d)\n", cat, len(rooms))
				for _, r := range rooms {
					marker := " "
					if r.Sticky {
						marker = "*"
					}
					fmt.Printf("  %s %s  %s (unread: %d)\n", marker, r.ID, r.Name, r.UnreadCount)
				}
			}
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var toNames []string
	var replyTo string

	cmd := &cobra.Command{
		Use:   "send <room-id> <text>",
		Short: "Send a message, optionally as a mention or reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
			defer cancel()

			roomID := args[0]
			text := strings.Join(args[1:], " ")

			client := backend.New(cfg.Backend, logger)
			dir := directory.New(nil, nil)
			if members, err := client.RoomMembers(ctx, roomID); err != nil {
				logger.Warn("cannot fetch roster, mentions stay literal", "error", err)
			} else {
				dir.SetRoster(members)
			}

			events := bus.NewEventBus(logger)
			alertStore := alerts.New(cfg.Alerts, events, logger)
			d := dispatch.New(client, dir, alertStore, nil, logger)

			if len(toNames) > 0 || replyTo != "" {
				return d.Reply(ctx, dispatch.ReplyInput{
					RoomID:       roomID,
					ToNames:      toNames,
					OriginalBody: replyTo,
					Text:         text,
				})
			}
			return d.Send(ctx, roomID, text)
		},
	}
	cmd.Flags().StringSliceVar(&toNames, "to", nil, "display names to mention")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "original body to quote as a reply")
	return cmd
}

func deletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deleted [room-id]",
		Short: "Show the locally logged deleted messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			deletionLog, err := store.NewDeletionLog(cfg.Store.DBPath, cfg.Store.MaxDeletedPerRoom, logger)
			if err != nil {
				return err
			}
			defer deletionLog.Close()

			var entries []domain.DeletedMessage
			if len(args) == 1 {
				entries, err = deletionLog.ByRoom(cmd.Context(), args[0])
			} else {
				entries, err = deletionLog.All(cmd.Context())
			}
			if err != nil {
				return err
			}
			for _, d := range entries {
				fmt.Printf("%s  room %s  %s (%s): %s\n", d.DeletedAt, d.RoomID, d.Sender, d.DeletionType, firstLine(d.Body))
			}
			if len(entries) == 0 {
				fmt.Println("no deletions logged")
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (token masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			masked := *cfg
			if masked.Backend.Token != "" {
				masked.Backend.Token = "****"
			}
			if masked.Notify.Telegram.Token != "" {
				masked.Notify.Telegram.Token = "****"
			}
			data, _ := json.MarshalIndent(masked, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if runes := []rune(s); len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return s
}

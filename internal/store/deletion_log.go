// Package store persists locally observed message deletions. The service does
// not expose deleted messages, so the log is the only record of what a
// vanished or [delete]-tagged message used to say.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"

	_ "modernc.org/sqlite"
)

// DeletionLog is a SQLite-backed log of deleted messages, pruned per room.
type DeletionLog struct {
	db         *sql.DB
	maxPerRoom int
	logger     *slog.Logger
}

func NewDeletionLog(dbPath string, maxPerRoom int, logger *slog.Logger) (*DeletionLog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	log := &DeletionLog{db: db, maxPerRoom: maxPerRoom, logger: logger}

	if err := log.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return log, nil
}

func (l *DeletionLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deleted_messages (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id       TEXT NOT NULL,
		message_id    TEXT NOT NULL,
		sender        TEXT,
		body          TEXT,
		sent_at       INTEGER,
		deletion_type TEXT NOT NULL,
		deleted_at    TEXT NOT NULL,
		UNIQUE(room_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deleted_room ON deleted_messages(room_id, id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record stores one deletion. Re-recording the same message is a no-op, so
// a message observed as deleted on every poll tick is logged once.
func (l *DeletionLog) Record(ctx context.Context, d domain.DeletedMessage) error {
	res, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deleted_messages
			(room_id, message_id, sender, body, sent_at, deletion_type, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.RoomID, d.MessageID, d.Sender, d.Body, d.SentAt, d.DeletionType, d.DeletedAt)
	if err != nil {
		return fmt.Errorf("record deletion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return l.prune(ctx, d.RoomID)
}

// prune drops the oldest entries beyond the per-room cap.
func (l *DeletionLog) prune(ctx context.Context, roomID string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM deleted_messages
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM deleted_messages
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)`, roomID, roomID, l.maxPerRoom)
	if err != nil {
		return fmt.Errorf("prune deletions: %w", err)
	}
	return nil
}

// ByRoom returns a room's logged deletions, newest first.
func (l *DeletionLog) ByRoom(ctx context.Context, roomID string) ([]domain.DeletedMessage, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT room_id, message_id, sender, body, sent_at, deletion_type, deleted_at
		FROM deleted_messages
		WHERE room_id = ?
		ORDER BY id DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query deletions: %w", err)
	}
	defer rows.Close()
	return scanDeletions(rows)
}

// All returns every logged deletion, newest first.
func (l *DeletionLog) All(ctx context.Context) ([]domain.DeletedMessage, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT room_id, message_id, sender, body, sent_at, deletion_type, deleted_at
		FROM deleted_messages
		ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query deletions: %w", err)
	}
	defer rows.Close()
	return scanDeletions(rows)
}

func scanDeletions(rows *sql.Rows) ([]domain.DeletedMessage, error) {
	var out []domain.DeletedMessage
	for rows.Next() {
		var d domain.DeletedMessage
		if err := rows.Scan(&d.RoomID, &d.MessageID, &d.Sender, &d.Body, &d.SentAt, &d.DeletionType, &d.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan deletion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Clear removes one room's log, or everything when roomID is empty.
func (l *DeletionLog) Clear(ctx context.Context, roomID string) error {
	var err error
	if roomID == "" {
		_, err = l.db.ExecContext(ctx, `DELETE FROM deleted_messages`)
	} else {
		_, err = l.db.ExecContext(ctx, `DELETE FROM deleted_messages WHERE room_id = ?`, roomID)
	}
	if err != nil {
		return fmt.Errorf("clear deletions: %w", err)
	}
	return nil
}

func (l *DeletionLog) Close() error {
	return l.db.Close()
}

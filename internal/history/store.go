// Package history keeps a rolling log of inbound and outbound chat messages
// and broadcast runs in SQLite, for the dashboard and the status command.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const DefaultKeep = 200

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Record is one logged message.
type Record struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender,omitempty"`
	PushName  string    `json:"pushName,omitempty"`
	Content   string    `json:"content"`
	Command   string    `json:"command,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Broadcast summarizes one broadcast run.
type Broadcast struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Queued     int       `json:"queued"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Config struct {
	Path string
	// Keep is how many messages survive pruning. Default DefaultKeep.
	Keep   int
	Logger *slog.Logger
}

// Store is the SQLite message log.
type Store struct {
	db     *sql.DB
	keep   int
	logger *slog.Logger
}

func Open(cfg Config) (*Store, error) {
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create history directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("history migration failed: %w", err)
	}
	return &Store{db: db, keep: cfg.Keep, logger: cfg.Logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores r, assigning an id and timestamp when missing, and prunes the
// log down to the configured size.
func (s *Store) Add(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, direction, chat_id, sender, push_name, content, command, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Direction), r.ChatID, r.Sender, r.PushName, r.Content, r.Command, r.Status, r.CreatedAt.UTC(),
	)
	if err != nil {
		return r, fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.Prune(ctx, s.keep); err != nil {
		s.logger.Warn("prune history", "err", err)
	}
	return r, nil
}

// Recent returns up to limit messages, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, chat_id, sender, push_name, content, command, status, created_at
		 FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var dir string
		var sender, push, content, command, status sql.NullString
		if err := rows.Scan(&r.ID, &dir, &r.ChatID, &sender, &push, &content, &command, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.Direction = Direction(dir)
		r.Sender, r.PushName, r.Content = sender.String, push.String, content.String
		r.Command, r.Status = command.String, status.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep messages and reports how many went.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id NOT IN (
			SELECT id FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// SaveBroadcast inserts or updates a broadcast summary.
func (s *Store) SaveBroadcast(ctx context.Context, b Broadcast) (Broadcast, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	var finished any
	if !b.FinishedAt.IsZero() {
		finished = b.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts (id, message, total, sent, queued, failed, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET sent=excluded.sent, queued=excluded.queued,
		   failed=excluded.failed, finished_at=excluded.finished_at`,
		b.ID, b.Message, b.Total, b.Sent, b.Queued, b.Failed, b.StartedAt.UTC(), finished,
	)
	if err != nil {
		return b, fmt.Errorf("save broadcast: %w", err)
	}
	return b, nil
}

// Broadcasts returns the latest broadcast runs, newest first.
func (s *Store) Broadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, total, sent, queued, failed, started_at, finished_at
		 FROM broadcasts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query broadcasts: %w", err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		var b Broadcast
		var finished sql.NullTime
		if err := rows.Scan(&b.ID, &b.Message, &b.Total, &b.Sent, &b.Queued, &b.Failed, &b.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		if finished.Valid {
			b.FinishedAt = finished.Time
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

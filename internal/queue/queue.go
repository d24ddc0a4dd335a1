// Package queue holds outbound messages that could not be delivered, in a
// single JSON file, until the WhatsApp session is back.
//
// The file is the only source of truth and is rewritten in full, through a
// temporary file and rename, after every mutation. Delivery is at-least-once:
// a crash between a send and the following rewrite resends that entry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"zideebot/internal/pacing"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusRetry   Status = "retry"
	StatusFailed  Status = "failed"
)

// Tag records why a message ended up in the queue.
type Tag string

const (
	TagNormal        Tag = "normal"
	TagAutoReply     Tag = "auto-reply"
	TagManual        Tag = "manual"
	TagErrorResponse Tag = "error-response"
)

const DefaultMaxAttempts = 3

var ErrNotFound = errors.New("queue entry not found")

type Entry struct {
	ID           string     `json:"id"`
	PhoneNumber  string     `json:"phoneNumber"`
	Message      string     `json:"message"`
	Type         Tag        `json:"type"`
	Timestamp    time.Time  `json:"timestamp"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Counts summarizes the queue by status.
type Counts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Retry   int `json:"retry"`
	Failed  int `json:"failed"`
}

// SendFunc delivers one queued message.
type SendFunc func(ctx context.Context, destination, text string) error

// DrainResult reports one pass over the queue.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Retry     int `json:"retry"`
	Failed    int `json:"failed"`
}

type Config struct {
	Path        string
	MaxAttempts int
	// Spacing is the pause between two deliveries of one drain pass.
	Spacing time.Duration
	Logger  *slog.Logger
	// OnChange, if set, is called with fresh counts after every persisted mutation.
	OnChange func(Counts)
}

type Queue struct {
	mu          sync.Mutex
	drainMu     sync.Mutex
	path        string
	entries     []Entry
	maxAttempts int
	spacing     time.Duration
	logger      *slog.Logger
	onChange    func(Counts)
	now         func() time.Time
	lastID      int64
}

// Open loads the queue file, creating an empty queue when it does not exist.
// A corrupt file is moved aside and the queue starts empty.
func Open(cfg Config) (*Queue, error) {
	if cfg.Path == "" {
		return nil, errors.New("queue: path is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	q := &Queue{
		path:        cfg.Path,
		maxAttempts: cfg.MaxAttempts,
		spacing:     cfg.Spacing,
		logger:      cfg.Logger,
		onChange:    cfg.OnChange,
		now:         time.Now,
	}

	data, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		q.entries = []Entry{}
	case err != nil:
		return nil, fmt.Errorf("read queue file: %w", err)
	default:
		if err := json.Unmarshal(data, &q.entries); err != nil {
			aside := cfg.Path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
			q.logger.Error("queue file is corrupt, starting empty", "path", cfg.Path, "moved_to", aside, "err", err)
			if rerr := os.Rename(cfg.Path, aside); rerr != nil {
				return nil, fmt.Errorf("move corrupt queue file: %w", rerr)
			}
			q.entries = []Entry{}
		}
	}
	for _, e := range q.entries {
		if n, err := strconv.ParseInt(e.ID, 10, 64); err == nil && n > q.lastID {
			q.lastID = n
		}
	}
	q.notify()
	return q, nil
}

// Path returns the backing file.
func (q *Queue) Path() string { return q.path }

// Enqueue appends a pending entry and persists the queue. The entry stays
// queued in memory even when persisting fails.
func (q *Queue) Enqueue(destination, text string, tag Tag) (string, error) {
	if tag == "" {
		tag = TagNormal
	}
	q.mu.Lock()
	now := q.now()
	e := Entry{
		ID:          q.nextID(now),
		PhoneNumber: destination,
		Message:     text,
		Type:        tag,
		Timestamp:   now.UTC(),
		Status:      StatusPending,
	}
	q.entries = append(q.entries, e)
	err := q.persistLocked()
	q.mu.Unlock()

	q.logger.Info("message queued", "id", e.ID, "destination", destination, "type", tag)
	q.notify()
	return e.ID, err
}

// nextID returns the millisecond timestamp, bumped when two entries land in
// the same millisecond.
func (q *Queue) nextID(now time.Time) string {
	id := now.UnixMilli()
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id
	return strconv.FormatInt(id, 10)
}

// Drain tries to deliver every pending and retry entry in insertion order.
// A failed delivery increments the attempt count and marks the entry retry,
// or failed once it reaches the attempt limit. Sent entries are pruned at the
// end of the pass. Only one drain runs at a time; entries enqueued during a
// pass wait for the next one.
func (q *Queue) Drain(ctx context.Context, send SendFunc) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var res DrainResult

	q.mu.Lock()
	var ids []string
	for _, e := range q.entries {
		if e.Status == StatusPending || e.Status == StatusRetry {
			ids = append(ids, e.ID)
		}
	}
	q.mu.Unlock()

	if len(ids) == 0 {
		q.logger.Debug("queue empty, nothing to send")
		return res, q.prune()
	}
	q.logger.Info("draining offline queue", "entries", len(ids))

	var runErr error
	for i, id := range ids {
		if i > 0 && q.spacing > 0 {
			if err := pacing.Sleep(ctx, q.spacing); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		e, ok := q.get(id)
		if !ok || (e.Status != StatusPending && e.Status != StatusRetry) {
			continue // removed or cleared meanwhile
		}

		res.Attempted++
		sendErr := send(ctx, e.PhoneNumber, e.Message)

		q.mu.Lock()
		idx := q.indexLocked(id)
		if idx < 0 {
			q.mu.Unlock()
			continue
		}
		cur := &q.entries[idx]
		if sendErr == nil {
			t := q.now().UTC()
			cur.Status = StatusSent
			cur.SentAt = &t
			cur.ErrorMessage = ""
			res.Sent++
		} else {
			cur.Attempts++
			cur.ErrorMessage = sendErr.Error()
			if cur.Attempts >= q.maxAttempts {
				cur.Status = StatusFailed
				res.Failed++
			} else {
				cur.Status = StatusRetry
				res.Retry++
			}
		}
		perr := q.persistLocked()
		q.mu.Unlock()

		if sendErr != nil {
			q.logger.Warn("queued send failed", "id", id, "destination", e.PhoneNumber, "attempts", e.Attempts+1, "err", sendErr)
		} else {
			q.logger.Info("queued message sent", "id", id, "destination", e.PhoneNumber)
		}
		if perr != nil {
			q.logger.Error("persist queue", "err", perr)
		}
	}

	if err := q.prune(); err != nil {
		return res, err
	}
	q.logger.Info("queue drain finished", "sent", res.Sent, "retry", res.Retry, "failed", res.Failed)
	return res, runErr
}

// prune drops sent entries and rewrites the file.
func (q *Queue) prune() error {
	q.mu.Lock()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Status != StatusSent {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	err := q.persistLocked()
	q.mu.Unlock()
	q.notify()
	return err
}

// Status returns counts by state.
func (q *Queue) Status() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countsLocked()
}

func (q *Queue) countsLocked() Counts {
	c := Counts{Total: len(q.entries)}
	for _, e := range q.entries {
		switch e.Status {
		case StatusPending:
			c.Pending++
		case StatusRetry:
			c.Retry++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Entries returns a copy of the queue in insertion order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Clear empties the queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	q.entries = []Entry{}
	err := q.persistLocked()
	q.mu.Unlock()
	q.logger.Info("queue cleared")
	q.notify()
	return err
}

// Remove deletes one entry.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return ErrNotFound
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	err := q.persistLocked()
	q.mu.Unlock()
	q.notify()
	return err
}

// RetryFailed resets failed entries to pending with a fresh attempt count and
// returns how many were reset.
func (q *Queue) RetryFailed() (int, error) {
	q.mu.Lock()
	n := 0
	for i := range q.entries {
		if q.entries[i].Status == StatusFailed {
			q.entries[i].Status = StatusPending
			q.entries[i].Attempts = 0
			q.entries[i].ErrorMessage = ""
			n++
		}
	}
	var err error
	if n > 0 {
		err = q.persistLocked()
	}
	q.mu.Unlock()
	q.notify()
	return n, err
}

func (q *Queue) get(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexLocked(id); idx >= 0 {
		return q.entries[idx], true
	}
	return Entry{}, false
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.entries {
		if q.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the whole queue to a temporary file and renames it
// over the real one. Callers hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.MarshalIndent(q.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(q.path), filepath.Base(q.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}

func (q *Queue) notify() {
	if q.onChange == nil {
		return
	}
	q.onChange(q.Status())
}

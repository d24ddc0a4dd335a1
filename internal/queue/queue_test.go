package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "message-queue.json")
	q, err := Open(Config{Path: path, Logger: testLogger()})
	require.NoError(t, err)
	return q, path
}

func readFile(t *testing.T, path string) []Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func okSender(sent *[]string) SendFunc {
	var mu sync.Mutex
	return func(ctx context.Context, destination, text string) error {
		mu.Lock()
		defer mu.Unlock()
		*sent = append(*sent, destination+":"+text)
		return nil
	}
}

func failingSender(ctx context.Context, destination, text string) error {
	return errors.New("not connected")
}

func TestEnqueue_PersistsPendingEntry(t *testing.T) {
	q, path := openTestQueue(t)

	id, err := q.Enqueue("628123456789", "halo", TagAutoReply)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries := readFile(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "628123456789", entries[0].PhoneNumber)
	assert.Equal(t, TagAutoReply, entries[0].Type)
	assert.Equal(t, StatusPending, entries[0].Status)
	assert.Zero(t, entries[0].Attempts)
	assert.Nil(t, entries[0].SentAt)
}

func TestEnqueue_DefaultTagAndUniqueIDs(t *testing.T) {
	q, _ := openTestQueue(t)
	fixed := time.UnixMilli(1700000000000)
	q.now = func() time.Time { return fixed }

	a, _ := q.Enqueue("1", "a", "")
	b, _ := q.Enqueue("2", "b", "")
	c, _ := q.Enqueue("3", "c", "")

	assert.Equal(t, "1700000000000", a)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	for _, e := range q.Entries() {
		assert.Equal(t, TagNormal, e.Type)
	}
}

func TestDrain_SuccessEmptiesQueueFile(t *testing.T) {
	q, path := openTestQueue(t)
	_, err := q.Enqueue("628111", "pesan", TagNormal)
	require.NoError(t, err)

	var sent []string
	res, err := q.Drain(context.Background(), okSender(&sent))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"628111:pesan"}, sent)
	assert.Empty(t, readFile(t, path))
	assert.Equal(t, Counts{}, q.Status())
}

func TestDrain_SizeDecreasesByOne(t *testing.T) {
	q, _ := openTestQueue(t)
	_, _ = q.Enqueue("1", "failed-before", TagNormal)
	q.entries[0].Status = StatusFailed
	_, _ = q.Enqueue("2", "to-send", TagNormal)

	before := q.Status().Total
	var sent []string
	_, err := q.Drain(context.Background(), okSender(&sent))
	require.NoError(t, err)
	assert.Equal(t, before-1, q.Status().Total)
	assert.Equal(t, []string{"2:to-send"}, sent, "failed entries must not be retried")
}

func TestDrain_FailureMovesToRetryThenFailed(t *testing.T) {
	q, path := openTestQueue(t)
	_, _ = q.Enqueue("628111", "pesan", TagNormal)

	_, err := q.Drain(context.Background(), failingSender)
	require.NoError(t, err)
	e := q.Entries()[0]
	assert.Equal(t, StatusRetry, e.Status)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, "not connected", e.ErrorMessage)

	_, _ = q.Drain(context.Background(), failingSender)
	assert.Equal(t, StatusRetry, q.Entries()[0].Status)
	assert.Equal(t, 2, q.Entries()[0].Attempts)

	res, _ := q.Drain(context.Background(), failingSender)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, StatusFailed, q.Entries()[0].Status)
	assert.Equal(t, 3, q.Entries()[0].Attempts)

	// Failed entries are never attempted again and stay in the file.
	calls := 0
	_, _ = q.Drain(context.Background(), func(ctx context.Context, d, t string) error {
		calls++
		return nil
	})
	assert.Zero(t, calls)
	require.Len(t, readFile(t, path), 1)
	assert.Equal(t, Counts{Total: 1, Failed: 1}, q.Status())
}

func TestDrain_InsertionOrderAndSpacing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	q, err := Open(Config{Path: path, Spacing: 20 * time.Millisecond, Logger: testLogger()})
	require.NoError(t, err)

	for _, m := range []string{"one", "two", "three"} {
		_, _ = q.Enqueue("6281", m, TagNormal)
	}

	var sent []string
	start := time.Now()
	_, err = q.Drain(context.Background(), okSender(&sent))
	require.NoError(t, err)

	assert.Equal(t, []string{"6281:one", "6281:two", "6281:three"}, sent)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDrain_CancelledStopsEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	q, err := Open(Config{Path: path, Spacing: time.Hour, Logger: testLogger()})
	require.NoError(t, err)
	_, _ = q.Enqueue("1", "a", TagNormal)
	_, _ = q.Enqueue("2", "b", TagNormal)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var sent []string
	_, err = q.Drain(ctx, okSender(&sent))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sent, 1)
	assert.Equal(t, Counts{Total: 1, Pending: 1}, q.Status())
}

func TestOpen_ReloadsExistingFile(t *testing.T) {
	q, path := openTestQueue(t)
	id, _ := q.Enqueue("628", "persist me", TagManual)

	reopened, err := Open(Config{Path: path, Logger: testLogger()})
	require.NoError(t, err)
	entries := reopened.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	// New ids continue after the persisted ones.
	next, _ := reopened.Enqueue("628", "next", TagManual)
	assert.Greater(t, next, id)
}

func TestOpen_CorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	q, err := Open(Config{Path: path, Logger: testLogger()})
	require.NoError(t, err)
	assert.Zero(t, q.Status().Total)

	matches, _ := filepath.Glob(filepath.Join(dir, "q.json.corrupt-*"))
	assert.Len(t, matches, 1)
}

func TestClearRemoveRetryFailed(t *testing.T) {
	q, path := openTestQueue(t)
	a, _ := q.Enqueue("1", "a", TagNormal)
	_, _ = q.Enqueue("2", "b", TagNormal)

	require.NoError(t, q.Remove(a))
	require.ErrorIs(t, q.Remove(a), ErrNotFound)
	assert.Equal(t, 1, q.Status().Total)

	q.mu.Lock()
	q.entries[0].Status = StatusFailed
	q.entries[0].Attempts = 3
	q.mu.Unlock()
	n, err := q.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Counts{Total: 1, Pending: 1}, q.Status())

	require.NoError(t, q.Clear())
	assert.Empty(t, readFile(t, path))
}

func TestOnChangeReceivesCounts(t *testing.T) {
	var last Counts
	path := filepath.Join(t.TempDir(), "q.json")
	q, err := Open(Config{Path: path, Logger: testLogger(), OnChange: func(c Counts) { last = c }})
	require.NoError(t, err)

	_, _ = q.Enqueue("1", "a", TagNormal)
	_, _ = q.Enqueue("2", "b", TagNormal)
	assert.Equal(t, Counts{Total: 2, Pending: 2}, last)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	q, path := openTestQueue(t)
	for i := 0; i < 5; i++ {
		_, _ = q.Enqueue("1", "x", TagNormal)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	assert.Empty(t, matches)
}

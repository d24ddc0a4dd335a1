package whatsapp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zideebot/internal/bus"
)

// Start runs on the errgroup while the dashboard, health server and
// dispatcher poll the client; run with -race.
func TestClient_StartWithConcurrentReaders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(ClientConfig{
		SessionPath: filepath.Join(t.TempDir(), "session.db"),
		Logger:      logger,
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = c.Online()
			_ = c.HasSession()
			_ = c.SelfIDs()
			_ = c.Status()
		}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()
	// Without network access Connect fails; either way Start must return.
	_ = c.Start(ctx, bus.New(1, logger))

	close(stop)
	wg.Wait()
	assert.False(t, c.Online())
}

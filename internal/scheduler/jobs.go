package scheduler

import (
	"context"
	"time"
)

// SendFunc delivers a text message to a chat or phone number.
type SendFunc func(ctx context.Context, chatID, text string) error

// MessageJob sends text to chatID on every run. "{greeting}" in the text is
// replaced by the greeting for the local time of the run.
func MessageJob(chatID, text string, loc *time.Location, send SendFunc) func(ctx context.Context) error {
	if loc == nil {
		loc = time.Local
	}
	return func(ctx context.Context) error {
		return send(ctx, chatID, ExpandMessage(text, time.Now().In(loc)))
	}
}

// CleanupJob wraps a cleanup call that reports how many items it removed.
func CleanupJob(cleanup func() (int, error), onRemoved func(n int)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := cleanup()
		if n > 0 && onRemoved != nil {
			onRemoved(n)
		}
		return err
	}
}

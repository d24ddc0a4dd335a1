package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// DefaultRetries is the number of retries after the first attempt.
const DefaultRetries = 3

// StatusError is returned when the server kept answering with a retryable
// status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retrier executes requests with backoff for transient errors (network
// failures, 5xx, 429). The wait before retry n is n² × Unit plus jitter.
type Retrier struct {
	Client  *http.Client
	Retries int
	Unit    time.Duration
	Logger  *slog.Logger
}

// NewRetrier returns a Retrier with DefaultRetries and a one second unit.
func NewRetrier(client *http.Client, logger *slog.Logger) *Retrier {
	if client == nil {
		client = NewClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{Client: client, Retries: DefaultRetries, Unit: time.Second, Logger: logger}
}

// Do runs buildReq until it gets a non-retryable response or the retries
// are exhausted. buildReq is called once per attempt so bodies can be
// replayed.
func (r *Retrier) Do(ctx context.Context, buildReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * r.Unit
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			r.Logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := r.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < r.Retries {
				r.Logger.Warn("request failed, will retry", "url", req.URL.Redacted(), "err", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", r.Retries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			if attempt < r.Retries {
				r.Logger.Warn("server error, will retry", "status", resp.StatusCode, "url", req.URL.Redacted())
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", r.Retries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

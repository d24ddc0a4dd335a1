// Package ai answers the bot's AI commands: free chat, short creative
// pieces and translation. Provider failures never reach the user as raw
// errors; they are mapped to canned Indonesian replies or offline texts.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoAPIKey is returned when no usable API key is configured.
var ErrNoAPIKey = errors.New("ai: API key missing or invalid")

// StatusError is a provider error carrying the HTTP status of the failed call.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// statusCode extracts the HTTP status from err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func isAuthError(err error) bool {
	c := statusCode(err)
	return c == http.StatusForbidden || c == http.StatusUnauthorized
}

func isRateLimited(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}

// Options tune one generation call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Generator turns a prompt into text.
type Generator interface {
	// Name is the provider label shown in replies, e.g. "Gemini".
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// placeholderKey is the value shipped in the example .env file.
const placeholderKey = "YOUR_GEMINI_API_KEY"

// ValidKey reports whether key looks like a real API key.
func ValidKey(key string) bool {
	return key != "" && key != placeholderKey && len(key) >= 30
}

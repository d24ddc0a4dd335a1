// Package pacing decides how long the bot waits before it answers and how
// fast it may push messages to WhatsApp. Each reply kind has a randomized
// delay range; all outbound sends share one token bucket.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Kind names a delay range.
type Kind string

const (
	None            Kind = ""
	AutoReply       Kind = "autoReply"
	Broadcast       Kind = "broadcast"
	Command         Kind = "command"
	Greeting        Kind = "greeting"
	GroupManagement Kind = "groupManagement"
)

// Range is an inclusive [Min, Max] pause.
type Range struct {
	Min time.Duration
	Max time.Duration
}

type Config struct {
	Ranges map[Kind]Range
	// SendsPerMinute limits outbound messages; 0 disables the limiter.
	SendsPerMinute float64
	SendBurst      int
}

// Pacer is immutable after construction and safe for concurrent use.
type Pacer struct {
	ranges  map[Kind]Range
	limiter *rate.Limiter
	jitter  func() float64
}

func New(cfg Config) *Pacer {
	ranges := make(map[Kind]Range, len(cfg.Ranges))
	for k, r := range cfg.Ranges {
		if r.Max < r.Min {
			r.Max = r.Min
		}
		ranges[k] = r
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendsPerMinute > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.SendsPerMinute/60.0), burst)
	}
	return &Pacer{ranges: ranges, limiter: lim, jitter: rand.Float64}
}

// Immediate returns a Pacer that never waits. Used by the console and tests.
func Immediate() *Pacer {
	return New(Config{})
}

// Pick returns a random duration from the kind's range, or zero for unknown
// kinds. Kinds without their own range fall back to AutoReply.
func (p *Pacer) Pick(kind Kind) time.Duration {
	if kind == None {
		return 0
	}
	r, ok := p.ranges[kind]
	if !ok {
		r, ok = p.ranges[AutoReply]
		if !ok {
			return 0
		}
	}
	if r.Max == r.Min {
		return r.Min
	}
	return r.Min + time.Duration(p.jitter()*float64(r.Max-r.Min))
}

// Delay sleeps for Pick(kind) or until ctx is done.
func (p *Pacer) Delay(ctx context.Context, kind Kind) error {
	return Sleep(ctx, p.Pick(kind))
}

// WaitSend blocks until the outbound limiter admits one more message.
func (p *Pacer) WaitSend(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

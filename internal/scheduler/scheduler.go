// Package scheduler runs housekeeping and scheduled-message jobs on fixed
// intervals or at a daily wall-clock time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Job is one scheduled task. Exactly one of Every and At is set.
type Job struct {
	ID   string
	Name string
	// Every runs the job at a fixed interval.
	Every time.Duration
	// At runs the job daily at "HH:MM" in the scheduler's location.
	At      string
	Run     func(ctx context.Context) error
	Enabled bool

	LastRun time.Time
	NextRun time.Time
	LastErr string

	hour, minute int
	running      bool
}

type Config struct {
	Location *time.Location
	// Tick is how often due jobs are checked. Default 1s.
	Tick   time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

type Scheduler struct {
	jobs     map[string]*Job
	loc      *time.Location
	tick     time.Duration
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		jobs:   make(map[string]*Job),
		loc:    cfg.Location,
		tick:   cfg.Tick,
		logger: cfg.Logger,
		now:    cfg.Now,
		stopCh: make(chan struct{}),
	}
}

// Add registers or replaces a job.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return errors.New("scheduler: job id is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run function", job.ID)
	}
	switch {
	case job.At != "" && job.Every > 0:
		return fmt.Errorf("scheduler: job %s sets both at and every", job.ID)
	case job.At != "":
		h, m, err := ParseClock(job.At)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: %w", job.ID, err)
		}
		job.hour, job.minute = h, m
	case job.Every <= 0:
		return fmt.Errorf("scheduler: job %s needs at or every", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job.NextRun = s.next(&job, s.now())
	s.jobs[job.ID] = &job
	s.logger.Info("scheduled job added", "id", job.ID, "name", job.Name, "next", job.NextRun.Format(time.RFC3339))
	return nil
}

func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// List returns a copy of all jobs ordered by id.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Start checks for due jobs every tick until ctx is done or Stop is called,
// then waits for running jobs to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "jobs", len(s.List()))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDue(ctx, s.now())
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunDue starts every enabled job whose next run is not after now. A job
// that is still running from a previous tick is skipped.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if !j.Enabled || j.running || now.Before(j.NextRun) {
			continue
		}
		j.running = true
		j.LastRun = now
		j.NextRun = s.next(j, now)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.wg.Add(1)
		go func(j *Job) {
			defer s.wg.Done()
			s.logger.Debug("running scheduled job", "id", j.ID)
			err := j.Run(ctx)

			s.mu.Lock()
			j.running = false
			j.LastErr = ""
			if err != nil {
				j.LastErr = err.Error()
			}
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn("scheduled job failed", "id", j.ID, "err", err)
			}
		}(j)
	}
	return len(due)
}

// Wait blocks until all started jobs have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) next(j *Job, after time.Time) time.Time {
	if j.Every > 0 {
		return after.Add(j.Every)
	}
	return NextDaily(after, j.hour, j.minute, s.loc)
}

// NextDaily returns the first hh:mm strictly after t in loc.
func NextDaily(t time.Time, hour, minute int, loc *time.Location) time.Time {
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ParseClock parses "HH:MM" (24 hour).
func ParseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err1 := strconv.Atoi(hs)
	minute, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return hour, minute, nil
}

// Greeting returns the time-of-day greeting for t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "🌅 Selamat pagi! Ada yang bisa saya bantu?"
	case h >= 12 && h < 17:
		return "☀️ Selamat siang! Bagaimana kabarnya?"
	case h >= 17 && h < 21:
		return "🌆 Selamat sore! Semoga harimu menyenangkan."
	}
	return "🌙 Selamat malam! Jangan begadang ya."
}

// ExpandMessage replaces {greeting} in a scheduled message text.
func ExpandMessage(text string, t time.Time) string {
	return strings.ReplaceAll(text, "{greeting}", Greeting(t))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zideebot/internal/bot"
	"zideebot/internal/config"
	"zideebot/internal/dashboard"
	"zideebot/internal/health"
	"zideebot/internal/metrics"
	"zideebot/internal/scheduler"
	"zideebot/internal/whatsapp"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (WhatsApp + dashboard + scheduler)",
		Long:  "Connects to WhatsApp, answers commands and serves the dashboard and health endpoints. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func newWhatsApp(cfg *config.Config, rt *core, onConnected func()) *whatsapp.Client {
	c := whatsapp.ClientConfig{
		SessionPath:       cfg.WhatsApp.SessionDB,
		ReconnectAttempts: cfg.WhatsApp.MaxReconnectAttempts,
		ReconnectDelay:    time.Duration(cfg.WhatsApp.ReconnectDelaySeconds) * time.Second,
		AllowFrom:         cfg.WhatsApp.AllowFrom,
		IgnoreGroups:      cfg.WhatsApp.IgnoreGroups,
		Events:            rt.events,
		OnConnected:       onConnected,
		Logger:            logger.With("component", "whatsapp"),
	}
	if cfg.WhatsApp.QRInTerminal {
		c.QRWriter = os.Stdout
	}
	return whatsapp.New(c)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.WhatsApp.Enabled {
		return errors.New("whatsapp.enabled is false; use `zideebot chat` for the local console")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var outbox *bot.Outbox
	client := newWhatsApp(cfg, rt, func() {
		res, err := outbox.DrainQueue(ctx)
		if err != nil {
			logger.Warn("queue drain after connect", "err", err)
			return
		}
		if res.Attempted > 0 {
			logger.Info("queue drained after connect", "sent", res.Sent, "retry", res.Retry, "failed", res.Failed)
		}
	})
	if err := rt.buildDispatcher(client); err != nil {
		return err
	}
	outbox = rt.newOutbox(client)
	loop := rt.newLoop(outbox)

	sched, err := newScheduler(cfg, rt, outbox)
	if err != nil {
		return err
	}
	watcher, err := rt.newWatcher()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return client.Start(gctx, rt.bus) })
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = newDashboard(cfg, rt, client, outbox)
		g.Go(func() error { return dash.Start(gctx) })
	}
	if cfg.Health.Enabled {
		hs := health.New(health.Config{
			Host:    cfg.Health.Host,
			Port:    cfg.Health.Port,
			Version: version,
			Probe:   client,
			Queue:   rt.queue,
			Logger:  logger.With("component", "health"),
		})
		g.Go(func() error { return hs.Start(gctx) })
	}

	logger.Info("zideebot started. Press Ctrl+C to stop.", "version", version, "bot", cfg.General.BotName)

	<-gctx.Done()
	logger.Info("shutting down...")

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		if dash != nil {
			dash.Wait()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// newScheduler registers housekeeping jobs and the configured schedules.
func newScheduler(cfg *config.Config, rt *core, outbox *bot.Outbox) (*scheduler.Scheduler, error) {
	loc := cfg.Location()
	sched := scheduler.New(scheduler.Config{
		Location: loc,
		Logger:   logger.With("component", "scheduler"),
	})

	if rt.video != nil && cfg.Video.CleanupIntervalMinute > 0 {
		maxAge := time.Duration(cfg.Video.CleanupAfterMinutes) * time.Minute
		if err := sched.Add(scheduler.Job{
			ID:    "video-cleanup",
			Name:  "Remove old downloads",
			Every: time.Duration(cfg.Video.CleanupIntervalMinute) * time.Minute,
			Run: scheduler.CleanupJob(func() (int, error) { return rt.video.CleanupOld(maxAge) }, func(n int) {
				logger.Info("old downloads removed", "count", n)
			}),
			Enabled: true,
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Queue.DrainIntervalSeconds > 0 {
		if err := sched.Add(scheduler.Job{
			ID:    "queue-drain",
			Name:  "Deliver queued messages",
			Every: time.Duration(cfg.Queue.DrainIntervalSeconds) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := outbox.DrainQueue(ctx)
				return err
			},
			Enabled: true,
		}); err != nil {
			return nil, err
		}
	}

	send := func(ctx context.Context, chatID, text string) error {
		d, err := outbox.SendTo(ctx, chatID, text)
		if d == bot.Failed {
			return err
		}
		return nil
	}
	for _, s := range cfg.Schedules {
		name := s.Name
		if name == "" {
			name = "Message to " + s.ChatID
		}
		job := scheduler.Job{
			ID:      "schedule-" + s.ID,
			Name:    name,
			At:      s.Time,
			Run:     scheduler.MessageJob(s.ChatID, s.Message, loc, send),
			Enabled: s.Enabled,
		}
		if s.IntervalSeconds > 0 {
			job.At = ""
			job.Every = time.Duration(s.IntervalSeconds) * time.Second
		}
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
	}
	return sched, nil
}

func newDashboard(cfg *config.Config, rt *core, client *whatsapp.Client, outbox *bot.Outbox) *dashboard.Server {
	dc := dashboard.Config{
		Host:         cfg.Dashboard.Host,
		Port:         cfg.Dashboard.Port,
		BotName:      cfg.General.BotName,
		Version:      version,
		AuthEnabled:  cfg.Dashboard.Auth.Enabled,
		Username:     cfg.Dashboard.Auth.Username,
		PasswordHash: cfg.Dashboard.Auth.PasswordHash,
		Connection:   client,
		Messenger:    outbox,
		Queue:        rt.queue,
		Assistant:    rt.assistant,
		Events:       rt.events,
		Location:     cfg.Location(),
		Logger:       logger.With("component", "dashboard"),
	}
	if cfg.Metrics.Enabled {
		dc.MetricsPath = cfg.Metrics.Endpoint
		dc.MetricsHandler = metrics.Collector.Handler()
	}
	if rt.history != nil {
		dc.History = rt.history
	}
	return dashboard.New(dc)
}

// withOutbox connects to WhatsApp with the stored session, runs fn once the
// connection is up and disconnects again.
func withOutbox(parent context.Context, cfg *config.Config, fn func(ctx context.Context, out *bot.Outbox) error) error {
	if _, err := os.Stat(cfg.WhatsApp.SessionDB); err != nil {
		return fmt.Errorf("no WhatsApp session at %s; pair first with `zideebot run`", cfg.WhatsApp.SessionDB)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	connected := make(chan struct{}, 1)
	cfg.WhatsApp.QRInTerminal = false
	client := newWhatsApp(cfg, rt, func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	if err := rt.buildDispatcher(client); err != nil {
		return err
	}
	out := rt.newOutbox(client)

	// Messages that arrive meanwhile are answered as usual.
	runCtx, stopClient := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	loopDone := make(chan struct{})
	go func() { errCh <- client.Start(runCtx, rt.bus) }()
	go func() {
		defer close(loopDone)
		rt.newLoop(out).Run(runCtx)
	}()
	defer func() {
		stopClient()
		<-errCh
		<-loopDone
	}()

	select {
	case <-connected:
	case err := <-errCh:
		errCh <- err
		if err == nil {
			err = errors.New("whatsapp client stopped")
		}
		return err
	case <-time.After(time.Minute):
		return errors.New("timed out waiting for WhatsApp connection")
	case <-ctx.Done():
		return ctx.Err()
	}

	return fn(ctx, out)
}

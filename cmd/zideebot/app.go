package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"zideebot/internal/ai"
	"zideebot/internal/bot"
	"zideebot/internal/bus"
	"zideebot/internal/config"
	"zideebot/internal/dispatch"
	"zideebot/internal/domain"
	"zideebot/internal/history"
	"zideebot/internal/httpx"
	"zideebot/internal/metrics"
	"zideebot/internal/pacing"
	"zideebot/internal/queue"
	"zideebot/internal/video"
	"zideebot/internal/weather"
)

// core holds the components shared by the run and chat commands.
type core struct {
	cfg        *config.Config
	events     *bus.EventBus
	bus        *bus.InMemoryBus
	pacer      *pacing.Pacer
	queue      *queue.Queue
	history    *history.Store
	assistant  *ai.Assistant
	weather    *weather.Client
	video      *video.Client
	dispatcher *dispatch.Dispatcher
	started    time.Time
}

func newCore(ctx context.Context, cfg *config.Config) (*core, error) {
	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	rt := &core{
		cfg:     cfg,
		events:  bus.NewEventBus(logger),
		bus:     bus.New(cfg.General.InboundBuffer, logger),
		pacer:   newPacer(cfg.Pacing),
		started: time.Now(),
	}

	q, err := queue.Open(queue.Config{
		Path:        cfg.Queue.Path,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Spacing:     time.Duration(cfg.Queue.SpacingMs) * time.Millisecond,
		Logger:      logger.With("component", "queue"),
		OnChange:    publishQueueGauges,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}
	rt.queue = q
	publishQueueGauges(q.Status())

	if cfg.History.Enabled {
		hs, err := history.Open(history.Config{
			Path:   cfg.History.DBPath,
			Keep:   cfg.History.MaxMessages,
			Logger: logger.With("component", "history"),
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		rt.history = hs
	}

	rt.assistant = newAssistant(ctx, cfg.AI)

	cities := weather.DefaultCities()
	if cfg.Weather.CitiesPath != "" {
		data, err := os.ReadFile(cfg.Weather.CitiesPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("read city table: %w", err)
		}
		if cities, err = weather.LoadCities(data); err != nil {
			rt.Close()
			return nil, err
		}
	}
	rt.weather = weather.New(weather.ClientConfig{
		BaseURL:    cfg.Weather.BaseURL,
		HTTPClient: httpx.NewClient(time.Duration(cfg.Weather.TimeoutSeconds) * time.Second),
		Cities:     cities,
		Location:   cfg.Location(),
		Logger:     logger.With("component", "weather"),
	})

	if cfg.Video.Enabled {
		vc, err := video.New(video.ClientConfig{
			AnalyzeURL:  cfg.Video.AnalyzeURL,
			ConvertURL:  cfg.Video.ConvertURL,
			DownloadDir: cfg.Video.DownloadDir,
			MaxSize:     int64(cfg.Video.MaxSizeMB) << 20,
			MaxDuration: time.Duration(cfg.Video.MaxDurationMinutes) * time.Minute,
			Timeout:     time.Duration(cfg.Video.TimeoutSeconds) * time.Second,
			Logger:      logger.With("component", "video"),
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("video client: %w", err)
		}
		rt.video = vc
	}
	return rt, nil
}

// buildDispatcher wires the command executor. groups is nil without a
// WhatsApp connection.
func (rt *core) buildDispatcher(groups domain.GroupAdmin) error {
	cat := dispatch.DefaultCatalog()
	if rt.cfg.Catalog.Path != "" {
		loaded, err := dispatch.LoadCatalog(rt.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		cat = loaded
	}

	exec := dispatch.ExecutorConfig{
		AI:       rt.assistant,
		Weather:  rt.weather,
		Groups:   groups,
		Queue:    rt.queue,
		Location: rt.cfg.Location(),
		Version:  version,
		Started:  rt.started,
		Logger:   logger.With("component", "dispatch"),
	}
	if rt.video != nil {
		exec.Video = rt.video
	}
	rt.dispatcher = dispatch.NewDispatcher(cat, exec)
	return nil
}

// newWatcher reloads the catalog file on change; nil when there is nothing
// to watch.
func (rt *core) newWatcher() (*dispatch.Watcher, error) {
	if rt.cfg.Catalog.Path == "" || !rt.cfg.Catalog.Watch {
		return nil, nil
	}
	return dispatch.NewWatcher(dispatch.WatcherConfig{
		Path:       rt.cfg.Catalog.Path,
		Dispatcher: rt.dispatcher,
		Logger:     logger.With("component", "catalog"),
		OnReload: func(cat *dispatch.Catalog, err error) {
			payload := map[string]any{"path": rt.cfg.Catalog.Path, "ok": err == nil}
			if err != nil {
				payload["error"] = err.Error()
			}
			rt.events.Emit(bus.Event{Type: bus.EventCatalogReloaded, Source: "catalog", Payload: payload})
		},
	})
}

func (rt *core) newOutbox(sender domain.Sender) *bot.Outbox {
	return bot.NewOutbox(bot.OutboxConfig{
		Sender:  sender,
		Queue:   rt.queue,
		Pacer:   rt.pacer,
		History: rt.history,
		Events:  rt.events,
		Logger:  logger.With("component", "outbox"),
	})
}

func (rt *core) newLoop(outbox *bot.Outbox) *bot.Loop {
	return bot.NewLoop(bot.LoopConfig{
		Bus:        rt.bus,
		Dispatcher: rt.dispatcher,
		Outbox:     outbox,
		Pacer:      rt.pacer,
		History:    rt.history,
		Events:     rt.events,
		Logger:     logger.With("component", "loop"),
	})
}

func (rt *core) Close() {
	rt.bus.Close()
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			logger.Warn("close history", "err", err)
		}
	}
}

func newPacer(cfg config.PacingConfig) *pacing.Pacer {
	if !cfg.Enabled {
		return pacing.Immediate()
	}
	ranges := make(map[pacing.Kind]pacing.Range, len(cfg.Ranges))
	for name, r := range cfg.Ranges {
		ranges[pacing.Kind(name)] = pacing.Range{
			Min: time.Duration(r.MinMs) * time.Millisecond,
			Max: time.Duration(r.MaxMs) * time.Millisecond,
		}
	}
	return pacing.New(pacing.Config{
		Ranges:         ranges,
		SendsPerMinute: cfg.SendsPerMinute,
		SendBurst:      cfg.SendBurst,
	})
}

// newAssistant picks the configured provider. Without a usable key every AI
// command is answered offline.
func newAssistant(ctx context.Context, cfg config.AIConfig) *ai.Assistant {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var gen ai.Generator
	switch cfg.Provider {
	case "openai":
		g, err := ai.NewOpenAIGenerator(ai.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			HTTPClient: httpx.NewClient(timeout),
		})
		if err != nil {
			logger.Warn("AI offline", "provider", cfg.Provider, "err", err)
		} else {
			gen = g
		}
	default:
		g, err := ai.NewGeminiGenerator(ctx, ai.GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			HTTPClient: httpx.NewClient(timeout),
		})
		if err != nil {
			logger.Warn("AI offline", "provider", "gemini", "err", err)
		} else {
			gen = g
		}
	}
	return ai.NewAssistant(ai.AssistantConfig{
		Generator:   gen,
		Temperature: float32(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Timeout:     timeout,
		Limiter:     ai.NewRateLimiter(cfg.Burst, cfg.RequestsPerMinute),
		Logger:      logger.With("component", "ai"),
	})
}

func publishQueueGauges(c queue.Counts) {
	metrics.QueueGauge(string(queue.StatusPending)).Set(int64(c.Pending))
	metrics.QueueGauge(string(queue.StatusRetry)).Set(int64(c.Retry))
	metrics.QueueGauge(string(queue.StatusFailed)).Set(int64(c.Failed))
}

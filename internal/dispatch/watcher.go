package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatcherConfig struct {
	Path       string
	Dispatcher *Dispatcher
	// Debounce collapses bursts of writes from editors. Default 500ms.
	Debounce time.Duration
	Logger   *slog.Logger
	// OnReload is called after every reload attempt; err is nil on success.
	OnReload func(cat *Catalog, err error)
}

// Watcher reloads a catalog file when it changes on disk. An invalid file is
// logged and the running catalog is kept.
type Watcher struct {
	path     string
	disp     *Dispatcher
	debounce time.Duration
	logger   *slog.Logger
	onReload func(*Catalog, error)
	fsw      *fsnotify.Watcher
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("catalog watcher: path is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("catalog watcher: dispatcher is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	// Watch the directory: editors often replace the file, which drops a
	// watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("catalog watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		disp:     cfg.Dispatcher,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		onReload: cfg.OnReload,
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	w.logger.Info("watching catalog", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "err", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cat, err := LoadCatalog(w.path)
	if err != nil {
		w.logger.Error("catalog reload failed, keeping current catalog", "path", w.path, "err", err)
	} else {
		w.disp.Swap(cat)
		w.logger.Info("catalog reloaded", "path", w.path, "commands", len(cat.Commands()), "faq", len(cat.FAQEntries()))
	}
	if w.onReload != nil {
		w.onReload(cat, err)
	}
}

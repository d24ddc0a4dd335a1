package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"zideebot/internal/bot"
	"zideebot/internal/config"
	"zideebot/internal/history"
	"zideebot/internal/queue"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logFile    *os.File
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("cannot read .env", "err", err)
	}

	root := &cobra.Command{
		Use:   "zideebot",
		Short: "ZideeBot: WhatsApp keyword chat bot",
		Long:  "ZideeBot answers WhatsApp commands (calculator, AI, weather, video, group admin) with a web dashboard and an offline queue.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.zideebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(setupCmd())
	root.AddCommand(versionCmd())

	err := root.Execute()
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// setupLogger switches the global logger to the configured level, teeing
// into general.logFile when set.
func setupLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err == nil {
			f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				logger.Warn("cannot open log file", "path", cfg.General.LogFile, "err", err)
			} else {
				logFile = f
				w = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, or defaults when it does not exist yet.
func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)
	return cfg, cfgPath, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data", dataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zideebot %s\n", version)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, session and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(cfgPath)
			fmt.Printf("Config:     %s (exists: %v)\n", cfgPath, statErr == nil)
			fmt.Printf("Bot name:   %s\n", cfg.General.BotName)

			if info, err := os.Stat(cfg.WhatsApp.SessionDB); err == nil {
				fmt.Printf("Session:    %s (%s, updated %s)\n", cfg.WhatsApp.SessionDB,
					humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
			} else {
				fmt.Printf("Session:    none, a QR code will be shown on first run\n")
			}

			q, err := queue.Open(queue.Config{Path: cfg.Queue.Path, MaxAttempts: cfg.Queue.MaxAttempts, Logger: logger})
			if err != nil {
				return err
			}
			c := q.Status()
			fmt.Printf("Queue:      %d pending, %d retry, %d failed\n", c.Pending, c.Retry, c.Failed)

			if cfg.History.Enabled {
				if _, err := os.Stat(cfg.History.DBPath); err == nil {
					hs, err := history.Open(history.Config{Path: cfg.History.DBPath, Logger: logger})
					if err != nil {
						return err
					}
					defer hs.Close()
					n, err := hs.Count(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Printf("History:    %s messages\n", humanize.Comma(int64(n)))
				}
			}

			if cfg.Dashboard.Enabled {
				fmt.Printf("Dashboard:  http://%s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
			}
			if cfg.Health.Enabled {
				fmt.Printf("Health:     http://%s:%d/health\n", cfg.Health.Host, cfg.Health.Port)
			}
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline message queue",
	}

	openQueue := func() (*queue.Queue, error) {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return queue.Open(queue.Config{
			Path:        cfg.Queue.Path,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Spacing:     time.Duration(cfg.Queue.SpacingMs) * time.Millisecond,
			Logger:      logger,
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			c := q.Status()
			fmt.Printf("%s: %d pending, %d retry, %d failed\n", q.Path(), c.Pending, c.Retry, c.Failed)
			for _, e := range q.Entries() {
				fmt.Printf("  %s  %-8s %-7s attempts=%d  %s  %q\n",
					e.ID, e.Status, e.Type, e.Attempts, e.PhoneNumber, truncate(e.Message, 40))
			}
			return nil
		},
	})

	var retryFailed bool
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Connect to WhatsApp and deliver queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if retryFailed {
				q, err := queue.Open(queue.Config{Path: cfg.Queue.Path, MaxAttempts: cfg.Queue.MaxAttempts, Logger: logger})
				if err != nil {
					return err
				}
				n, err := q.RetryFailed()
				if err != nil {
					return err
				}
				logger.Info("failed entries reset", "count", n)
			}
			return withOutbox(cmd.Context(), cfg, func(ctx context.Context, out *bot.Outbox) error {
				res, err := out.DrainQueue(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("attempted %d, sent %d, retry %d, failed %d\n", res.Attempted, res.Sent, res.Retry, res.Failed)
				return nil
			})
		},
	}
	drain.Flags().BoolVar(&retryFailed, "retry-failed", false, "reset failed entries to pending first")
	cmd.AddCommand(drain)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every queued message",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			if err := q.Clear(); err != nil {
				return err
			}
			logger.Info("queue cleared", "path", q.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Remove one queued message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			return q.Remove(args[0])
		},
	})

	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send [phone] [message...]",
		Short: "Send one message, queueing it if WhatsApp cannot be reached",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return withOutbox(cmd.Context(), cfg, func(ctx context.Context, out *bot.Outbox) error {
				d, err := out.SendTo(ctx, args[0], text)
				if err != nil && d != bot.Queued {
					return err
				}
				fmt.Println(d)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. ai.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. dashboard.port 3000)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadForEdit(cfgPath)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

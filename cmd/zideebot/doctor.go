package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"zideebot/internal/ai"
	"zideebot/internal/config"
	"zideebot/internal/dispatch"
	"zideebot/internal/queue"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ZideeBot installation",
		Long: `Verifies that ZideeBot's configuration, WhatsApp session, databases,
queue file and ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ZideeBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 2. Data directory
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				printFail("Data directory", err.Error())
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}

			// 3. WhatsApp session
			if info, err := os.Stat(cfg.WhatsApp.SessionDB); err != nil {
				printWarn("WhatsApp session", "not paired yet, `zideebot run` shows a QR code")
				warned++
			} else {
				printPass("WhatsApp session", fmt.Sprintf("%s (%s)", cfg.WhatsApp.SessionDB, humanize.Bytes(uint64(info.Size()))))
				passed++
			}

			// 4. History database
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", cfg.History.DBPath)
					passed++
				}
			}

			// 5. Offline queue
			if q, err := queue.Open(queue.Config{Path: cfg.Queue.Path, Logger: logger}); err != nil {
				printFail("Offline queue", err.Error())
				failed++
			} else {
				c := q.Status()
				detail := fmt.Sprintf("%s (%d pending, %d retry, %d failed)", cfg.Queue.Path, c.Pending, c.Retry, c.Failed)
				if c.Failed > 0 {
					printWarn("Offline queue", detail)
					warned++
				} else {
					printPass("Offline queue", detail)
					passed++
				}
			}

			// 6. Command catalog
			if cfg.Catalog.Path != "" {
				if _, err := dispatch.LoadCatalog(cfg.Catalog.Path); err != nil {
					printFail("Command catalog", err.Error())
					failed++
				} else {
					printPass("Command catalog", cfg.Catalog.Path)
					passed++
				}
			} else {
				printPass("Command catalog", "built-in")
				passed++
			}

			// 7. AI key
			if ai.ValidKey(cfg.AI.APIKey) {
				printPass("AI: "+cfg.AI.Provider, "API key configured")
				passed++
			} else {
				printWarn("AI: "+cfg.AI.Provider, "no API key, AI commands answer with offline texts")
				warned++
			}

			// 8. Video downloads
			if cfg.Video.Enabled {
				if err := os.MkdirAll(cfg.Video.DownloadDir, 0o755); err != nil {
					printFail("Download dir", err.Error())
					failed++
				} else {
					printPass("Download dir", cfg.Video.DownloadDir)
					passed++
				}
			}

			// 9. Ports
			if cfg.Dashboard.Enabled {
				if err := checkPort(cfg.Dashboard.Host, cfg.Dashboard.Port); err != nil {
					printWarn("Dashboard port", fmt.Sprintf("port %d may be in use: %v", cfg.Dashboard.Port, err))
					warned++
				} else {
					printPass("Dashboard port", fmt.Sprintf(":%d available", cfg.Dashboard.Port))
					passed++
				}
				if cfg.Dashboard.Auth.Enabled && cfg.Dashboard.Auth.PasswordHash == "" {
					printFail("Dashboard auth", "enabled but no password hash set (run `zideebot setup`)")
					failed++
				} else if !cfg.Dashboard.Auth.Enabled && cfg.Dashboard.Host != "127.0.0.1" && cfg.Dashboard.Host != "localhost" {
					printWarn("Dashboard auth", "disabled on a non-local address")
					warned++
				}
			}
			if cfg.Health.Enabled {
				if err := checkPort(cfg.Health.Host, cfg.Health.Port); err != nil {
					printWarn("Health port", fmt.Sprintf("port %d may be in use: %v", cfg.Health.Port, err))
					warned++
				} else {
					printPass("Health port", fmt.Sprintf(":%d available", cfg.Health.Port))
					passed++
				}
			}

			// 10. Log file
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ZideeBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nZideeBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ZideeBot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"zideebot/internal/config"
)

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	os.Exit(m.Run())
}

func TestBackupRestore(t *testing.T) {
	src := t.TempDir()
	cfg := config.Defaults()
	cfg.Queue.Path = filepath.Join(src, "message-queue.json")
	cfg.WhatsApp.SessionDB = filepath.Join(src, "session.db")
	cfg.History.DBPath = filepath.Join(src, "history.db")
	cfgPath := filepath.Join(src, "config.json")

	write := func(path, data string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(cfgPath, `{"general":{"botName":"Zidee"}}`)
	write(cfg.Queue.Path, `[]`)
	write(cfg.WhatsApp.SessionDB, "session")
	write(cfg.WhatsApp.SessionDB+"-wal", "wal")
	write(cfg.History.DBPath, "history")

	files := map[string]string{}
	for name, path := range backupTargets(cfg, cfgPath) {
		if _, err := os.Stat(path); err == nil {
			files[name] = path
		}
	}
	if len(files) != 5 {
		t.Fatalf("expected 5 files to back up, got %v", files)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Restore into a different layout.
	dst := t.TempDir()
	cfg2 := config.Defaults()
	cfg2.Queue.Path = filepath.Join(dst, "q", "queue.json")
	cfg2.WhatsApp.SessionDB = filepath.Join(dst, "wa", "session.db")
	cfg2.History.DBPath = filepath.Join(dst, "history.db")
	cfgPath2 := filepath.Join(dst, "config.json")

	restored, err := extractTarGz(archive, backupTargets(cfg2, cfgPath2))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(restored) != 5 {
		t.Fatalf("expected 5 restored files, got %v", restored)
	}

	for path, want := range map[string]string{
		cfgPath2:                         `{"general":{"botName":"Zidee"}}`,
		cfg2.Queue.Path:                  `[]`,
		cfg2.WhatsApp.SessionDB:          "session",
		cfg2.WhatsApp.SessionDB + "-wal": "wal",
		cfg2.History.DBPath:              "history",
	} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestBackupTargets_HistoryDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.History.Enabled = false
	targets := backupTargets(cfg, "/tmp/config.json")
	if _, ok := targets["history.db"]; ok {
		t.Error("history.db should not be backed up when history is disabled")
	}
	if _, ok := targets["catalog.yaml"]; ok {
		t.Error("built-in catalog has no file to back up")
	}
}

func TestRunSetup(t *testing.T) {
	cfg := config.Defaults()
	input := strings.Join([]string{
		"Zidee",        // bot name
		"",             // time zone: keep
		"2",            // openai
		"sk-test",      // api key
		"",             // model: provider default
		"y",            // dashboard
		"3100",         // port
		"y",            // login
		"",             // username: admin
		"secret",       // password
		"0812, 0813 ,", // allowlist
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := runSetup(cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if cfg.General.BotName != "Zidee" || cfg.General.Timezone != "Asia/Jakarta" {
		t.Errorf("general = %+v", cfg.General)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.APIKey != "sk-test" || cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.Dashboard.Port != 3100 || !cfg.Dashboard.Auth.Enabled || cfg.Dashboard.Auth.Username != "admin" {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Dashboard.Auth.PasswordHash != hashPassword("secret") {
		t.Errorf("password hash = %q", cfg.Dashboard.Auth.PasswordHash)
	}
	if got := strings.Join(cfg.WhatsApp.AllowFrom, "|"); got != "0812|0813" {
		t.Errorf("allowFrom = %q", got)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("result should validate: %v", err)
	}
}

func TestRunSetup_LoginNeedsPassword(t *testing.T) {
	cfg := config.Defaults()
	input := "\n\n1\n\n\ny\n\ny\n\n\n"
	if err := runSetup(cfg, strings.NewReader(input), io.Discard); err == nil {
		t.Fatal("expected an error when login is enabled without a password")
	}
}

func TestHashPassword(t *testing.T) {
	// sha256("admin")
	const want = "8c6976e5b5410415bde908bd4dee15dfb167a9c873fc4bb8a81f6f2ab448a918"
	if got := hashPassword("admin"); got != want {
		t.Fatalf("hashPassword = %s", got)
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=verbose")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Dashboard.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Dashboard.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_PortClash(t *testing.T) {
	cfg := Defaults()
	cfg.Health.Port = cfg.Dashboard.Port
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when dashboard and health share a port")
	}
}

func TestValidate_InvalidProvider(t *testing.T) {
	cfg := Defaults()
	cfg.AI.Provider = "claude"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown ai provider")
	}
}

func TestValidate_ValidProviders(t *testing.T) {
	for _, p := range []string{"gemini", "openai"} {
		cfg := Defaults()
		cfg.AI.Provider = p
		if err := Validate(cfg); err != nil {
			t.Fatalf("provider %q should be valid: %v", p, err)
		}
	}
}

func TestValidate_InvalidQueue(t *testing.T) {
	cfg := Defaults()
	cfg.Queue.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=0")
	}
}

func TestValidate_InvalidDelayRange(t *testing.T) {
	cfg := Defaults()
	cfg.Pacing.Ranges["command"] = DelayRange{MinMs: 5000, MaxMs: 1000}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for inverted delay range")
	}
}

func TestValidate_Schedules(t *testing.T) {
	cfg := Defaults()
	cfg.Schedules = []ScheduleEntry{
		{ID: "pagi", ChatID: "120363@g.us", Message: "Selamat pagi", Time: "07:00", Enabled: true},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	cfg.Schedules = append(cfg.Schedules, ScheduleEntry{ID: "pagi", ChatID: "x", Message: "y", Time: "25:99"})
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for duplicate id and bad time")
	}
	if !strings.Contains(err.Error(), "duplicate id") || !strings.Contains(err.Error(), "HH:MM") {
		t.Fatalf("expected both errors to be collected, got: %v", err)
	}
}

func TestValidate_AuthRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Dashboard.Auth.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for auth without credentials")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.General.BotName = "TestBot"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.General.BotName != "TestBot" {
		t.Fatalf("expected 'TestBot', got %q", loaded.General.BotName)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("expected defaults, got: %v", err)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("expected default maxAttempts=3, got %d", cfg.Queue.MaxAttempts)
	}
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "AIzaSyTESTKEY0123456789abcdefghijklmno")
	t.Setenv("GEMINI_MAX_TOKENS", "512")
	t.Setenv("WEB_PORT", "3100")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"ai": {"temperature": 0.5}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AI.APIKey != "AIzaSyTESTKEY0123456789abcdefghijklmno" {
		t.Errorf("api key not taken from env: %q", cfg.AI.APIKey)
	}
	if cfg.AI.MaxTokens != 512 {
		t.Errorf("expected maxTokens=512, got %d", cfg.AI.MaxTokens)
	}
	if cfg.AI.Temperature != 0.5 {
		t.Errorf("expected temperature from file, got %v", cfg.AI.Temperature)
	}
	if cfg.Dashboard.Port != 3100 {
		t.Errorf("expected dashboard port 3100, got %d", cfg.Dashboard.Port)
	}
}

func TestLoadForEdit_KeepsFileValues(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "AIzaSyTESTKEY0123456789abcdefghijklmno")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"ai": {"apiKey": "${GEMINI_API_KEY}"}, "queue": {"path": "~/q.json"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadForEdit(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AI.APIKey != "${GEMINI_API_KEY}" {
		t.Errorf("placeholder should survive, got %q", cfg.AI.APIKey)
	}
	if cfg.Queue.Path != "~/q.json" {
		t.Errorf("path should not be expanded, got %q", cfg.Queue.Path)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("defaults should fill missing fields, got maxAttempts=%d", cfg.Queue.MaxAttempts)
	}

	missing, err := LoadForEdit(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || missing.General.BotName != "ZideeBot" {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "ai.provider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "gemini" {
		t.Fatalf("expected 'gemini', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "ai.model", "gemini-2.5-flash"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.AI.Model != "gemini-2.5-flash" {
		t.Fatalf("expected 'gemini-2.5-flash', got %q", cfg.AI.Model)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "history.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.History.Enabled {
		t.Fatal("expected history.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "dashboard.port", "3001"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Dashboard.Port != 3001 {
		t.Fatalf("expected 3001, got %d", cfg.Dashboard.Port)
	}
}

func TestSetByPath_NestedMap(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "pacing.ranges.command.maxMs", "6000"); err != nil {
		t.Fatalf("set nested: %v", err)
	}
	if cfg.Pacing.Ranges["command"].MaxMs != 6000 {
		t.Fatalf("expected 6000, got %d", cfg.Pacing.Ranges["command"].MaxMs)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.AI.APIKey = "AIzaSyA1234567890abcdefghijklmnop"
	cfg.Dashboard.Auth.PasswordHash = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"
	cfg.Schedules = []ScheduleEntry{{ID: "a", ChatID: "6281234567890@s.whatsapp.net", Message: "x", Time: "07:00"}}

	sanitized := Sanitize(cfg)

	if sanitized.AI.APIKey == cfg.AI.APIKey {
		t.Fatal("API key should be masked")
	}
	if sanitized.Dashboard.Auth.PasswordHash != "***" {
		t.Fatal("password hash should be masked")
	}
	if sanitized.Schedules[0].ChatID != "6281*******90@s.whatsapp.net" {
		t.Fatalf("unexpected masked chat id %q", sanitized.Schedules[0].ChatID)
	}
	if cfg.AI.APIKey != "AIzaSyA1234567890abcdefghijklmnop" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.AI.APIKey = "short"
	sanitized := Sanitize(cfg)
	if sanitized.AI.APIKey != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.AI.APIKey)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"queue": {
			"maxAttempts": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxAttempts=0")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.botName", "general.logLevel", "queue.maxAttempts", "pacing.ranges.greeting.minMs"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_PureStrings(t *testing.T) {
	input := `["a", "b", "c"]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Fatalf("unexpected: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_ZIDEEBOT_DATA_DIR", "/tmp/test-data")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"botName": "Zidee",
			"dataDir": "${TEST_ZIDEEBOT_DATA_DIR}",
			"logLevel": "info"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.DataDir != "/tmp/test-data" {
		t.Fatalf("expected dataDir '/tmp/test-data', got %q", cfg.General.DataDir)
	}
	if cfg.General.BotName != "Zidee" {
		t.Fatalf("expected botName 'Zidee', got %q", cfg.General.BotName)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.General.DataDir == "" {
		t.Fatal("dataDir should not be empty")
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("default max attempts should be 3, got %d", cfg.Queue.MaxAttempts)
	}
}

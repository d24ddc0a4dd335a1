package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Jakarta must resolve on hosts without zoneinfo
)

// Config is the root configuration for ZideeBot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Pacing    PacingConfig    `json:"pacing"`
	Queue     QueueConfig     `json:"queue"`
	AI        AIConfig        `json:"ai"`
	Weather   WeatherConfig   `json:"weather"`
	Video     VideoConfig     `json:"video"`
	Dashboard DashboardConfig `json:"dashboard"`
	Health    HealthConfig    `json:"health"`
	Metrics   MetricsConfig   `json:"metrics"`
	History   HistoryConfig   `json:"history"`
	Catalog   CatalogConfig   `json:"catalog"`
	Schedules []ScheduleEntry `json:"schedules,omitempty"`
}

type GeneralConfig struct {
	BotName       string `json:"botName"`
	DataDir       string `json:"dataDir"`
	LogLevel      string `json:"logLevel"`
	LogFile       string `json:"logFile,omitempty"`
	Timezone      string `json:"timezone"`
	InboundBuffer int    `json:"inboundBuffer"`
}

type WhatsAppConfig struct {
	Enabled               bool           `json:"enabled"`
	SessionDB             string         `json:"sessionDb"`
	QRInTerminal          bool           `json:"qrInTerminal"`
	MaxReconnectAttempts  int            `json:"maxReconnectAttempts"`
	ReconnectDelaySeconds int            `json:"reconnectDelaySeconds"`
	AllowFrom             FlexStringList `json:"allowFrom,omitempty"` // chat or sender numbers; empty = everyone
	IgnoreGroups          bool           `json:"ignoreGroups,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["628123", 628456] both become strings).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DelayRange is a randomized pause, in milliseconds, before a reply.
type DelayRange struct {
	MinMs int `json:"minMs"`
	MaxMs int `json:"maxMs"`
}

type PacingConfig struct {
	Enabled        bool                  `json:"enabled"`
	Ranges         map[string]DelayRange `json:"ranges"`
	SendsPerMinute float64               `json:"sendsPerMinute"`
	SendBurst      int                   `json:"sendBurst"`
}

type QueueConfig struct {
	Path                 string `json:"path"`
	MaxAttempts          int    `json:"maxAttempts"`
	SpacingMs            int    `json:"spacingMs"`
	DrainIntervalSeconds int    `json:"drainIntervalSeconds"`
}

type AIConfig struct {
	Provider          string  `json:"provider"` // "gemini" | "openai"
	APIKey            string  `json:"apiKey,omitempty"`
	BaseURL           string  `json:"baseUrl,omitempty"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
	RequestsPerMinute float64 `json:"requestsPerMinute"`
	Burst             int     `json:"burst"`
}

type WeatherConfig struct {
	BaseURL        string `json:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	CitiesPath     string `json:"citiesPath,omitempty"` // optional override of the built-in city table
}

type VideoConfig struct {
	Enabled               bool   `json:"enabled"`
	DownloadDir           string `json:"downloadDir"`
	MaxSizeMB             int    `json:"maxSizeMb"`
	MaxDurationMinutes    int    `json:"maxDurationMinutes"`
	CleanupAfterMinutes   int    `json:"cleanupAfterMinutes"`
	CleanupIntervalMinute int    `json:"cleanupIntervalMinutes"`
	AnalyzeURL            string `json:"analyzeUrl"`
	ConvertURL            string `json:"convertUrl"`
	TimeoutSeconds        int    `json:"timeoutSeconds"`
}

type DashboardConfig struct {
	Enabled bool    `json:"enabled"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Auth    WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // hex sha256
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// MetricsConfig configures the Prometheus text endpoint on the dashboard.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	DBPath      string `json:"dbPath"`
	MaxMessages int    `json:"maxMessages"`
}

type CatalogConfig struct {
	Path  string `json:"path,omitempty"` // empty = built-in catalog
	Watch bool   `json:"watch"`
}

// ScheduleEntry sends a fixed message to a chat every day at Time (HH:MM,
// general.timezone) or every IntervalSeconds.
type ScheduleEntry struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	ChatID          string `json:"chatId"`
	Message         string `json:"message"`
	Time            string `json:"time,omitempty"`
	IntervalSeconds int    `json:"intervalSeconds,omitempty"`
	Enabled         bool   `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.zideebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zideebot"
	}
	return filepath.Join(home, ".zideebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Defaults (plus environment
// overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		ApplyEnv(cfg)
		cfg.expandPaths()
		return cfg, Validate(cfg)
	}
	return Load(path)
}

// LoadForEdit reads path as written, without environment overrides or path
// expansion, so that saving it back does not bake those in. A missing file
// yields Defaults.
func LoadForEdit(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(ExpandPath(path))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.WhatsApp.SessionDB = ExpandPath(c.WhatsApp.SessionDB)
	c.Queue.Path = ExpandPath(c.Queue.Path)
	c.Video.DownloadDir = ExpandPath(c.Video.DownloadDir)
	c.History.DBPath = ExpandPath(c.History.DBPath)
	c.Catalog.Path = ExpandPath(c.Catalog.Path)
	c.Weather.CitiesPath = ExpandPath(c.Weather.CitiesPath)
}

// Location returns the configured time zone, or UTC+7 when it cannot be loaded.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.General.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("WIB", 7*60*60)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.InboundBuffer < 1 {
		errs = append(errs, "general.inboundBuffer must be >= 1")
	}
	if cfg.General.Timezone != "" {
		if _, err := time.LoadLocation(cfg.General.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("general.timezone: %v", err))
		}
	}

	if cfg.WhatsApp.MaxReconnectAttempts < 0 {
		errs = append(errs, "whatsapp.maxReconnectAttempts must be >= 0")
	}
	if cfg.WhatsApp.ReconnectDelaySeconds < 1 {
		errs = append(errs, "whatsapp.reconnectDelaySeconds must be >= 1")
	}

	for name, r := range cfg.Pacing.Ranges {
		if r.MinMs < 0 || r.MaxMs < r.MinMs {
			errs = append(errs, fmt.Sprintf("pacing.ranges.%s: need 0 <= minMs <= maxMs", name))
		}
	}
	if cfg.Pacing.SendsPerMinute < 0 {
		errs = append(errs, "pacing.sendsPerMinute must be >= 0")
	}

	if cfg.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue.maxAttempts must be >= 1")
	}
	if cfg.Queue.SpacingMs < 0 {
		errs = append(errs, "queue.spacingMs must be >= 0")
	}

	switch cfg.AI.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, "ai.provider must be one of: gemini, openai")
	}
	if cfg.AI.MaxTokens < 1 {
		errs = append(errs, "ai.maxTokens must be >= 1")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		errs = append(errs, "ai.temperature must be between 0 and 2")
	}

	if cfg.Video.MaxSizeMB < 1 {
		errs = append(errs, "video.maxSizeMb must be >= 1")
	}
	if cfg.Video.MaxDurationMinutes < 1 {
		errs = append(errs, "video.maxDurationMinutes must be >= 1")
	}

	if cfg.Dashboard.Port < 0 || cfg.Dashboard.Port > 65535 {
		errs = append(errs, "dashboard.port must be between 0 and 65535")
	}
	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		errs = append(errs, "health.port must be between 0 and 65535")
	}
	if cfg.Dashboard.Enabled && cfg.Health.Enabled && cfg.Dashboard.Port != 0 &&
		cfg.Dashboard.Port == cfg.Health.Port && cfg.Dashboard.Host == cfg.Health.Host {
		errs = append(errs, "dashboard.port and health.port must differ")
	}
	if cfg.Dashboard.Auth.Enabled && (cfg.Dashboard.Auth.Username == "" || cfg.Dashboard.Auth.PasswordHash == "") {
		errs = append(errs, "dashboard.auth requires username and passwordHash")
	}

	if cfg.History.MaxMessages < 1 {
		errs = append(errs, "history.maxMessages must be >= 1")
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Schedules {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d]: id is required", i))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("schedules[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
		if s.ChatID == "" || s.Message == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d]: chatId and message are required", i))
		}
		if s.Time == "" && s.IntervalSeconds <= 0 {
			errs = append(errs, fmt.Sprintf("schedules[%d]: time or intervalSeconds is required", i))
		}
		if s.Time != "" {
			if _, err := time.Parse("15:04", s.Time); err != nil {
				errs = append(errs, fmt.Sprintf("schedules[%d]: time must be HH:MM", i))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

package config

import (
	"os"
	"strconv"
)

// ApplyEnv overlays the bot's well-known environment variables on cfg. They
// are usually provided through a .env file next to the binary.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.AI.Provider == "openai" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if n, err := strconv.Atoi(os.Getenv("GEMINI_MAX_TOKENS")); err == nil && n > 0 {
		cfg.AI.MaxTokens = n
	}
	if f, err := strconv.ParseFloat(os.Getenv("GEMINI_TEMPERATURE"), 64); err == nil && f > 0 {
		cfg.AI.Temperature = f
	}
	if n, err := strconv.Atoi(os.Getenv("WEB_PORT")); err == nil && n > 0 {
		cfg.Dashboard.Port = n
	}
	if n, err := strconv.Atoi(os.Getenv("PORT")); err == nil && n > 0 {
		cfg.Health.Port = n
	}
}

package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			BotName:       "ZideeBot",
			DataDir:       "~/.zideebot",
			LogLevel:      "info",
			Timezone:      "Asia/Jakarta",
			InboundBuffer: 100,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:               true,
			SessionDB:             "~/.zideebot/session.db",
			QRInTerminal:          true,
			MaxReconnectAttempts:  5,
			ReconnectDelaySeconds: 5,
		},
		Pacing: PacingConfig{
			Enabled:        true,
			Ranges:         defaultRanges(),
			SendsPerMinute: 20,
			SendBurst:      5,
		},
		Queue: QueueConfig{
			Path:                 "~/.zideebot/message-queue.json",
			MaxAttempts:          3,
			SpacingMs:            2000,
			DrainIntervalSeconds: 300,
		},
		AI: AIConfig{
			Provider:          "gemini",
			Model:             "gemini-2.0-flash-exp",
			MaxTokens:         1000,
			Temperature:       0.7,
			TimeoutSeconds:    30,
			RequestsPerMinute: 15,
			Burst:             5,
		},
		Weather: WeatherConfig{
			BaseURL:        "https://api.open-meteo.com/v1/forecast",
			TimeoutSeconds: 10,
		},
		Video: VideoConfig{
			Enabled:               true,
			DownloadDir:           "~/.zideebot/downloads",
			MaxSizeMB:             25,
			MaxDurationMinutes:    10,
			CleanupAfterMinutes:   60,
			CleanupIntervalMinute: 30,
			AnalyzeURL:            "https://www.y2mate.com/mates/analyze/ajax",
			ConvertURL:            "https://www.y2mate.com/mates/convert",
			TimeoutSeconds:        30,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    3000,
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		History: HistoryConfig{
			Enabled:     true,
			DBPath:      "~/.zideebot/history.db",
			MaxMessages: 200,
		},
		Catalog: CatalogConfig{
			Watch: true,
		},
	}
}

// defaultRanges are the reply pauses per message kind, in milliseconds.
func defaultRanges() map[string]DelayRange {
	return map[string]DelayRange{
		"autoReply":       {MinMs: 1000, MaxMs: 3000},
		"broadcast":       {MinMs: 2000, MaxMs: 5000},
		"command":         {MinMs: 2000, MaxMs: 4000},
		"greeting":        {MinMs: 1000, MaxMs: 2000},
		"groupManagement": {MinMs: 1000, MaxMs: 3000},
	}
}

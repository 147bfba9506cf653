package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			ProfileDir: "~/.chatcast/chrome",
			Headless:   false,
			Sites:      []string{"doubao", "deepseek", "kimi"},
		},
		Profiles: ProfilesConfig{
			Path:  "~/.chatcast/profiles.yaml",
			Watch: true,
		},
		Coordinator: CoordinatorConfig{
			DebounceMs: 150,
		},
		Engine: EngineConfig{
			SyncAttempts:      5,
			SyncRetryDelayMs:  400,
			FocusSettleMs:     100,
			PostInjectMs:      500,
			QueueSize:         16,
			SyncRatePerMinute: 240,
			SyncBurst:         10,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8787,
			},
			CLI: CLIConfig{
				Enabled: false,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

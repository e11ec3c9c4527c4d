package config

// Defaults returns a fresh copy of the built-in configuration.
func Defaults() Config {
	return Config{
		Telegram: TelegramConfig{
			PollTimeout: "10s",
			ProbeText:   "test",
			ProbeReply:  "hi",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: Bool(true),
			File:    LoggingFile{Path: "./logs/stockwatch.log"},
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Catalog: CatalogConfig{
			BaseURL:   "https://chiikawamarket.jp/collections/all",
			PageParam: "page",
			Timeout:   "20s",
			Retries:   2,
			MaxPages:  50,
			PageDelay: "500ms",
		},
		Media: MediaConfig{
			Timeout:   "10s",
			CacheSize: 256,
			CacheTTL:  "30m",
			MaxBytes:  10 << 20,
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "./data/stockwatch.db",
			BusyTimeout: "5s",
		},
		Scheduler: SchedulerConfig{
			Schedule:    "1h",
			Timeout:     "10m",
			HistorySize: 20,
			RunOnStart:  Bool(true),
		},
		Dispatch: DispatchConfig{
			Concurrency:   4,
			RatePerSec:    20,
			RetryMax:      3,
			RetryBase:     "500ms",
			RetryMaxDelay: "10s",
			SendTimeout:   "15s",
			ParseMode:     "HTML",
		},
		Registry: RegistryConfig{
			Keywords: []string{"測試", "test", "bot"},
		},
	}
}

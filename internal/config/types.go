package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Catalog   CatalogConfig   `json:"catalog"`
	Media     MediaConfig     `json:"media"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Registry  RegistryConfig  `json:"registry"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via STOCKWATCH_TELEGRAM_TOKEN.
	Token       string  `json:"token"`
	APIURL      string  `json:"api_url,omitempty"`
	PollTimeout string  `json:"poll_timeout"`
	Groups      []int64 `json:"groups,omitempty"`

	// ProbeText of only whitespace disables the liveness reply.
	ProbeText  string `json:"probe_text,omitempty"`
	ProbeReply string `json:"probe_reply,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  *bool           `json:"console,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines to a chat; ChannelID uses the
// "<chat>" or "<chat>:<thread>" form.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type CatalogConfig struct {
	BaseURL          string          `json:"base_url"`
	PageParam        string          `json:"page_param,omitempty"`
	UserAgent        string          `json:"user_agent,omitempty"`
	Timeout          string          `json:"timeout"`
	Retries          int             `json:"retries,omitempty"`
	CloudflareBypass bool            `json:"cloudflare_bypass,omitempty"`
	MaxPages         int             `json:"max_pages"`
	PageDelay        string          `json:"page_delay,omitempty"`
	Selectors        SelectorsConfig `json:"selectors,omitempty"`
}

// SelectorsConfig overrides individual CSS selectors; empty fields keep the
// built-in ones.
type SelectorsConfig struct {
	Item          string `json:"item,omitempty"`
	Name          string `json:"name,omitempty"`
	NoscriptImage string `json:"noscript_image,omitempty"`
	ThumbImage    string `json:"thumb_image,omitempty"`
	SoldOutMarker string `json:"sold_out_marker,omitempty"`
}

type MediaConfig struct {
	Timeout   string `json:"timeout"`
	CacheSize int    `json:"cache_size"`
	CacheTTL  string `json:"cache_ttl"`
	MaxBytes  int64  `json:"max_bytes"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/stockwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type SchedulerConfig struct {
	// Schedule accepts cron ("0 * * * *", "@hourly"), a Go duration ("1h")
	// or an HH:MM interval ("01:00").
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone,omitempty"`
	Timeout     string `json:"timeout"`
	HistorySize int    `json:"history_size"`
	RunOnStart  *bool  `json:"run_on_start,omitempty"`
}

type DispatchConfig struct {
	Concurrency   int               `json:"concurrency"`
	RatePerSec    int               `json:"rate_per_sec"`
	RetryMax      int               `json:"retry_max"`
	RetryBase     string            `json:"retry_base"`
	RetryMaxDelay string            `json:"retry_max_delay"`
	SendTimeout   string            `json:"send_timeout"`
	Template      string            `json:"template,omitempty"`
	ParseMode     string            `json:"parse_mode"`
	Labels        map[string]string `json:"labels,omitempty"`
}

type RegistryConfig struct {
	Keywords []string `json:"keywords"`
}

// Bool returns a pointer for the optional boolean fields.
func Bool(v bool) *bool { return &v }

// IsSet reports the value of an optional boolean, treating nil as false.
func IsSet(p *bool) bool { return p != nil && *p }

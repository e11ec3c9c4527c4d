package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stockwatch/internal/dispatch"
	"stockwatch/internal/inventory"
	"stockwatch/internal/scheduler"
)

// FieldError names the offending config field.
type FieldError struct {
	Path string
	Msg  string
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Msg }

type checker struct{ errs []error }

func (c *checker) fail(path, format string, args ...any) {
	c.errs = append(c.errs, &FieldError{Path: path, Msg: fmt.Sprintf(format, args...)})
}

func (c *checker) duration(path, raw string) {
	if _, err := ParseDurationField(path, raw); err != nil {
		c.errs = append(c.errs, err)
	}
}

// Validate checks a defaulted config and joins every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	c := &checker{}

	c.duration("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if !validLevel(cfg.Logging.Level) {
		c.fail("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	if lt := cfg.Logging.Telegram; lt.Enabled {
		if strings.TrimSpace(lt.ChannelID) == "" {
			c.fail("logging.telegram.channel_id", "required when enabled")
		}
		if !validLevel(lt.MinLevel) {
			c.fail("logging.telegram.min_level", "unknown level %q", lt.MinLevel)
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		c.fail("logging.file.path", "required when enabled")
	}

	if u, err := url.Parse(strings.TrimSpace(cfg.Catalog.BaseURL)); err != nil || !u.IsAbs() || u.Host == "" {
		c.fail("catalog.base_url", "must be an absolute URL, got %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.MaxPages <= 0 {
		c.fail("catalog.max_pages", "must be > 0")
	}
	if cfg.Catalog.Retries < 0 {
		c.fail("catalog.retries", "must be >= 0")
	}
	c.duration("catalog.timeout", cfg.Catalog.Timeout)
	c.duration("catalog.page_delay", cfg.Catalog.PageDelay)

	c.duration("media.timeout", cfg.Media.Timeout)
	c.duration("media.cache_ttl", cfg.Media.CacheTTL)
	if cfg.Media.CacheSize < 0 {
		c.fail("media.cache_size", "must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			c.fail("storage.path", "required for driver %q", cfg.Storage.Driver)
		}
	case "libsql", "turso", "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			c.fail("storage.dsn", "required for driver %q", cfg.Storage.Driver)
		}
	default:
		c.fail("storage.driver", "unknown driver %q", cfg.Storage.Driver)
	}
	c.duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if cfg.Storage.MaxConns < 0 {
		c.fail("storage.max_conns", "must be >= 0")
	}

	if err := scheduler.ValidateSpec(cfg.Scheduler.Schedule); err != nil {
		c.fail("scheduler.schedule", "%v", err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			c.fail("scheduler.timezone", "%v", err)
		}
	}
	c.duration("scheduler.timeout", cfg.Scheduler.Timeout)
	if cfg.Scheduler.HistorySize < 0 {
		c.fail("scheduler.history_size", "must be >= 0")
	}

	d := cfg.Dispatch
	if d.Concurrency < 0 {
		c.fail("dispatch.concurrency", "must be >= 0")
	}
	if d.RatePerSec < 0 {
		c.fail("dispatch.rate_per_sec", "must be >= 0")
	}
	if d.RetryMax < 0 {
		c.fail("dispatch.retry_max", "must be >= 0")
	}
	c.duration("dispatch.retry_base", d.RetryBase)
	c.duration("dispatch.retry_max_delay", d.RetryMaxDelay)
	c.duration("dispatch.send_timeout", d.SendTimeout)
	switch strings.ToLower(strings.TrimSpace(d.ParseMode)) {
	case "", "none", "plain", "html", "markdown", "markdownv2":
	default:
		c.fail("dispatch.parse_mode", "unknown parse mode %q", d.ParseMode)
	}
	if _, err := dispatch.ParseTemplate(d.Template); err != nil {
		c.fail("dispatch.template", "%v", err)
	}
	for k := range d.Labels {
		if _, err := inventory.ParseStatus(k); err != nil {
			c.fail("dispatch.labels."+k, "%v", err)
		}
	}

	for i, kw := range cfg.Registry.Keywords {
		if strings.TrimSpace(kw) == "" {
			c.fail(fmt.Sprintf("registry.keywords[%d]", i), "must not be empty")
		}
	}

	return errors.Join(c.errs...)
}

func validLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// ParseDurationField parses a Go duration; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &FieldError{Path: path, Msg: fmt.Sprintf("invalid duration %q", raw)}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Msg: "duration must be >= 0"}
	}
	return d, nil
}

// Duration returns the parsed duration or def when raw is empty, invalid
// or zero. Callers use it on validated configs.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

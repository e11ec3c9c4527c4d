package app

import (
	"context"
	"strings"
	"time"

	"dario.cat/mergo"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/dispatch"
	"stockwatch/internal/inventory"
	"stockwatch/internal/media"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
	"stockwatch/internal/transport/telegram"
	logx "stockwatch/pkg/logx"
)

// The mappers assume a validated config; unparsable durations fall back to
// the component defaults.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChannelID:  cfg.Logging.Telegram.ChannelID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
		Groups:      cfg.Telegram.Groups,
		ProbeText:   cfg.Telegram.ProbeText,
		ProbeReply:  cfg.Telegram.ProbeReply,
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout, 0),
		MaxConns:    cfg.Storage.MaxConns,
	}
}

func mapCatalogConfig(cfg *config.Config) catalog.Config {
	c := cfg.Catalog
	return catalog.Config{
		BaseURL:          c.BaseURL,
		PageParam:        c.PageParam,
		Timeout:          config.Duration(c.Timeout, 0),
		UserAgent:        c.UserAgent,
		Retries:          c.Retries,
		CloudflareBypass: c.CloudflareBypass,
		Selectors: catalog.Selectors{
			Item:          c.Selectors.Item,
			Name:          c.Selectors.Name,
			NoscriptImage: c.Selectors.NoscriptImage,
			ThumbImage:    c.Selectors.ThumbImage,
			SoldOutMarker: c.Selectors.SoldOutMarker,
		},
	}
}

func mapCollectOptions(cfg *config.Config) catalog.CollectOptions {
	return catalog.CollectOptions{
		MaxPages:  cfg.Catalog.MaxPages,
		PageDelay: config.Duration(cfg.Catalog.PageDelay, 0),
	}
}

func mapMediaConfig(cfg *config.Config) media.Config {
	return media.Config{
		Timeout:   config.Duration(cfg.Media.Timeout, 0),
		CacheSize: cfg.Media.CacheSize,
		CacheTTL:  config.Duration(cfg.Media.CacheTTL, 0),
		MaxBytes:  cfg.Media.MaxBytes,
		UserAgent: cfg.Catalog.UserAgent,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Schedule:    cfg.Scheduler.Schedule,
		Timezone:    cfg.Scheduler.Timezone,
		Timeout:     config.Duration(cfg.Scheduler.Timeout, 0),
		HistorySize: cfg.Scheduler.HistorySize,
		RunOnStart:  config.IsSet(cfg.Scheduler.RunOnStart),
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	d := cfg.Dispatch
	custom := make(inventory.Labels, len(d.Labels))
	for k, v := range d.Labels {
		if st, err := inventory.ParseStatus(k); err == nil && strings.TrimSpace(v) != "" {
			custom[st] = v
		}
	}
	labels := inventory.DefaultLabels()
	if err := mergo.Merge(&labels, custom, mergo.WithOverride); err != nil {
		labels = inventory.DefaultLabels()
	}
	return dispatch.Config{
		Concurrency:   d.Concurrency,
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
		RetryBase:     config.Duration(d.RetryBase, 0),
		RetryMaxDelay: config.Duration(d.RetryMaxDelay, 0),
		SendTimeout:   config.Duration(d.SendTimeout, 0),
		Template:      d.Template,
		ParseMode:     d.ParseMode,
		Labels:        labels,
	}
}

// NewCatalogSource builds the HTTP catalog source from config.
func NewCatalogSource(cfg *config.Config, log logx.Logger) (*catalog.HTTPSource, error) {
	return catalog.NewHTTPSource(mapCatalogConfig(cfg), log.With(logx.String("comp", "catalog")))
}

// CollectOptions exposes the configured pagination limits.
func CollectOptions(cfg *config.Config) catalog.CollectOptions { return mapCollectOptions(cfg) }

// OpenStore opens the configured store.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (inventory.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return storage.Open(ctx, mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
}

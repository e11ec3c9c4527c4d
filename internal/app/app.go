// Package app wires configuration, storage, the Telegram adapter and the
// tick pipeline into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/config"
	"stockwatch/internal/dispatch"
	"stockwatch/internal/inventory"
	"stockwatch/internal/media"
	"stockwatch/internal/pipeline"
	"stockwatch/internal/reconcile"
	"stockwatch/internal/registry"
	"stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/transport/telegram"
	logx "stockwatch/pkg/logx"
)

// ErrNoToken is returned when Telegram is required but no token is configured.
var ErrNoToken = errors.New("telegram token not configured (set telegram.token or " + config.EnvToken + ")")

type Options struct {
	// RequireTelegram fails construction when no token is configured.
	// Without a token the pipeline still scrapes and reconciles but skips
	// the registry refresh and dispatch.
	RequireTelegram bool
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store      inventory.Store
	adapter    *telegram.Adapter
	images     *media.Fetcher
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	pipeline   *pipeline.Pipeline
	sched      *scheduler.Service
}

func New(ctx context.Context, cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Chat logging needs the adapter, which needs a logger first: start
	// with the chat sink off and enable it once the sender exists.
	bootCfg := mapLogConfig(cfg)
	bootCfg.Chat.Enabled = false
	logs, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, log: log, logs: logs}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		ad, err := telegram.New(mapTelegramConfig(cfg), root.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
		logs.SetSender(ad)
	} else if opt.RequireTelegram {
		return nil, ErrNoToken
	}
	logs.Apply(mapLogConfig(cfg))

	a.store, err = OpenStore(ctx, cfg, root)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	src, err := NewCatalogSource(cfg, root)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	a.images = media.New(mapMediaConfig(cfg), root.With(logx.String("comp", "media")))
	a.registry = registry.New(a.store, cfg.Registry.Keywords, root.With(logx.String("comp", "registry")))

	var groups pipeline.GroupSource
	if a.adapter != nil {
		records, err := a.store.ListChannels(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.adapter.Seed(records)
		groups = a.adapter

		a.dispatcher, err = dispatch.New(mapDispatchConfig(cfg), a.store, a.store, a.adapter, a.images,
			root.With(logx.String("comp", "dispatch")))
		if err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	} else {
		log.Warn("telegram disabled; registry refresh and notifications are skipped")
	}

	a.pipeline = pipeline.New(
		src,
		reconcile.New(a.store, root.With(logx.String("comp", "reconcile"))),
		a.registry,
		groups,
		a.dispatcher,
		mapCollectOptions(cfg),
		root,
	)

	a.sched, err = scheduler.New(mapSchedulerConfig(cfg), func(ctx context.Context) error {
		_, err := a.pipeline.Tick(ctx)
		return err
	}, root.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	ok = true
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Store() inventory.Store { return a.store }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) TelegramEnabled() bool { return a.adapter != nil }
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Tick runs the pipeline once outside the scheduler.
func (a *App) Tick(ctx context.Context) (pipeline.Report, error) {
	return a.pipeline.Tick(ctx)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches polling, the scheduler and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.sched.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("telegram", a.adapter != nil),
		logx.String("schedule", a.sched.Snapshot().Schedule),
	)
	return nil
}

// applyConfig pushes hot-reloadable settings to the running components.
func (a *App) applyConfig(prev, cfg *config.Config) {
	sections, _ := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes require a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.registry.SetKeywords(cfg.Registry.Keywords)
	a.pipeline.SetCollectOptions(mapCollectOptions(cfg))
	if a.dispatcher != nil {
		if err := a.dispatcher.Apply(mapDispatchConfig(cfg)); err != nil {
			a.log.Warn("dispatch config rejected; keeping previous", logx.Err(err))
		}
	}
	if err := a.sched.Apply(mapSchedulerConfig(cfg)); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	}
	a.log.Info("config applied", logx.String("changed", strings.Join(sections, ",")))
}

// Stop shuts components down in order, bounding each step.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "telegram", 3*time.Second, func(c context.Context) error {
		if a.adapter == nil {
			return nil
		}
		return a.adapter.Stop(c)
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

// step runs fn with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// closeResources releases the store and log sinks. Safe on a partially built App.
func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

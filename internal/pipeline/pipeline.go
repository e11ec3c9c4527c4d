// Package pipeline runs one tick: scrape the catalog, reconcile the store,
// refresh the channel registry and dispatch pending notifications.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/catalog"
	"stockwatch/internal/dispatch"
	"stockwatch/internal/reconcile"
	"stockwatch/internal/registry"
	logx "stockwatch/pkg/logx"
)

// GroupSource lists the groups the bot is currently a member of.
type GroupSource interface {
	CurrentGroups(ctx context.Context) ([]registry.Group, error)
}

type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	Pages    int
	Scraped  int
	Complete bool

	Reconcile       reconcile.Result
	Registry        registry.RefreshReport
	RegistrySkipped bool
	Dispatch        dispatch.Report
	DispatchSkipped bool
}

type Pipeline struct {
	source     catalog.Source
	reconciler *reconcile.Reconciler
	registry   *registry.Registry
	groups     GroupSource
	dispatcher *dispatch.Dispatcher
	log        logx.Logger

	mu      sync.Mutex
	collect catalog.CollectOptions
}

// New wires the stages. groups and disp may be nil: the registry refresh or
// the dispatch stage is then skipped.
func New(
	src catalog.Source,
	rec *reconcile.Reconciler,
	reg *registry.Registry,
	groups GroupSource,
	disp *dispatch.Dispatcher,
	opt catalog.CollectOptions,
	log logx.Logger,
) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		source:     src,
		reconciler: rec,
		registry:   reg,
		groups:     groups,
		dispatcher: disp,
		collect:    opt,
		log:        log.With(logx.String("comp", "pipeline")),
	}
}

func (p *Pipeline) SetCollectOptions(opt catalog.CollectOptions) {
	p.mu.Lock()
	p.collect = opt
	p.mu.Unlock()
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Tick runs every stage once. Stage failures are logged and reported; the
// returned error is non-nil only when ctx ends the run early.
func (p *Pipeline) Tick(ctx context.Context) (Report, error) {
	rep := Report{RunID: newRunID(), Started: time.Now()}
	log := p.log.With(logx.String("run", rep.RunID))

	p.mu.Lock()
	opt := p.collect
	p.mu.Unlock()

	snap := catalog.Collect(ctx, p.source, opt, log)
	rep.Pages, rep.Scraped, rep.Complete = snap.Pages, len(snap.Products), snap.Complete
	if err := ctx.Err(); err != nil {
		return p.finish(log, rep), err
	}

	res, err := p.reconciler.Reconcile(ctx, snap)
	rep.Reconcile = res
	if err != nil {
		return p.finish(log, rep), err
	}

	p.refreshRegistry(ctx, log, &rep)
	if err := ctx.Err(); err != nil {
		return p.finish(log, rep), err
	}

	if p.dispatcher == nil {
		rep.DispatchSkipped = true
	} else {
		drep, err := p.dispatcher.Dispatch(ctx)
		rep.Dispatch = drep
		if err != nil {
			return p.finish(log, rep), err
		}
	}
	return p.finish(log, rep), nil
}

func (p *Pipeline) refreshRegistry(ctx context.Context, log logx.Logger, rep *Report) {
	if p.groups == nil || p.registry == nil {
		rep.RegistrySkipped = true
		return
	}
	groups, err := p.groups.CurrentGroups(ctx)
	if err != nil {
		rep.RegistrySkipped = true
		log.Warn("group listing failed; registry left unchanged", logx.Err(err))
		return
	}
	rr, err := p.registry.Refresh(ctx, groups)
	rep.Registry = rr
	if err != nil {
		rep.RegistrySkipped = true
		log.Warn("registry refresh failed", logx.Err(err))
	}
}

func (p *Pipeline) finish(log logx.Logger, rep Report) Report {
	rep.Duration = time.Since(rep.Started)
	log.Info("tick finished",
		logx.Int("pages", rep.Pages),
		logx.Int("scraped", rep.Scraped),
		logx.Bool("complete", rep.Complete),
		logx.Int("inserted", rep.Reconcile.Inserted),
		logx.Int("changed", rep.Reconcile.Changed),
		logx.Int("removed", rep.Reconcile.Removed),
		logx.Int("channels", rep.Registry.Upserted),
		logx.Int("notified", rep.Dispatch.Notified),
		logx.Int("send_failures", rep.Dispatch.Failures),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

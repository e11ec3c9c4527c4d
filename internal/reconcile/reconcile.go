// Package reconcile merges a scraped catalog snapshot into the inventory store
// and records which products changed status.
package reconcile

import (
	"context"
	"time"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

// Transition is one status change applied during a run.
type Transition struct {
	Name string
	From inventory.Status // empty for newly seen products
	To   inventory.Status
}

// Result summarizes one Reconcile call.
type Result struct {
	Inserted  int
	Changed   int
	Refreshed int
	Removed   int
	Failed    int

	// RemovalSkipped is set when the removal pass did not run.
	RemovalSkipped bool
	Transitions    []Transition
}

type Reconciler struct {
	store inventory.ProductStore
	log   logx.Logger
	now   func() time.Time
}

func New(store inventory.ProductStore, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, log: log, now: time.Now}
}

// SetClock overrides the timestamp source.
func (r *Reconciler) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Reconcile applies snap to the store. Each record is written on its own, so
// a run that stops halfway leaves a consistent state and can be repeated.
// Per-record store failures are counted, not returned; the error is non-nil
// only when ctx ends the run early.
func (r *Reconciler) Reconcile(ctx context.Context, snap inventory.Snapshot) (Result, error) {
	var res Result
	products := snap.Dedup()
	seen := make(map[string]struct{}, len(products))

	for _, p := range products {
		if p.Name == "" {
			continue
		}
		seen[p.Name] = struct{}{}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.apply(ctx, p, &res)
	}

	switch {
	case len(seen) == 0:
		res.RemovalSkipped = true
		r.log.Warn("empty snapshot; removal pass skipped")
	case !snap.Complete:
		res.RemovalSkipped = true
		r.log.Warn("incomplete snapshot; removal pass skipped", logx.Int("pages", snap.Pages), logx.Int("products", len(seen)))
	default:
		if err := r.markRemoved(ctx, seen, &res); err != nil {
			return res, err
		}
	}

	r.log.Info("reconcile finished",
		logx.Int("inserted", res.Inserted),
		logx.Int("changed", res.Changed),
		logx.Int("refreshed", res.Refreshed),
		logx.Int("removed", res.Removed),
		logx.Int("failed", res.Failed),
		logx.Bool("removal_skipped", res.RemovalSkipped),
	)
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, p inventory.RawProduct, res *Result) {
	status := inventory.StatusFor(p.InStock)
	now := r.now().UTC()

	prev, found, err := r.store.GetProduct(ctx, p.Name)
	if err != nil {
		res.Failed++
		r.log.Error("product lookup failed", logx.String("name", p.Name), logx.Err(err))
		return
	}

	next := inventory.ProductRecord{
		Name:        p.Name,
		ImageURL:    p.ImageURL,
		Status:      status,
		LastUpdated: now,
	}
	switch {
	case !found:
		// notified stays false
	case prev.Status != status:
		// notified stays false
	default:
		next.Notified = prev.Notified
	}

	if err := r.store.UpsertProduct(ctx, next); err != nil {
		res.Failed++
		r.log.Error("product write failed", logx.String("name", p.Name), logx.Err(err))
		return
	}

	switch {
	case !found:
		res.Inserted++
		res.Transitions = append(res.Transitions, Transition{Name: p.Name, To: status})
		r.log.Debug("product added", logx.String("name", p.Name), logx.String("status", string(status)))
	case prev.Status != status:
		res.Changed++
		res.Transitions = append(res.Transitions, Transition{Name: p.Name, From: prev.Status, To: status})
		r.log.Info("product status changed",
			logx.String("name", p.Name),
			logx.String("from", string(prev.Status)),
			logx.String("to", string(status)),
		)
	default:
		res.Refreshed++
	}
}

func (r *Reconciler) markRemoved(ctx context.Context, seen map[string]struct{}, res *Result) error {
	all, err := r.store.ListProducts(ctx)
	if err != nil {
		res.RemovalSkipped = true
		r.log.Error("product scan failed; removal pass skipped", logx.Err(err))
		return nil
	}
	for _, rec := range all {
		if _, ok := seen[rec.Name]; ok || rec.Status == inventory.StatusRemoved {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		prevStatus := rec.Status
		rec.Status = inventory.StatusRemoved
		rec.LastUpdated = r.now().UTC()
		rec.Notified = false
		if err := r.store.UpsertProduct(ctx, rec); err != nil {
			res.Failed++
			r.log.Error("product removal write failed", logx.String("name", rec.Name), logx.Err(err))
			continue
		}
		res.Removed++
		res.Transitions = append(res.Transitions, Transition{Name: rec.Name, From: prevStatus, To: inventory.StatusRemoved})
		r.log.Info("product removed from catalog", logx.String("name", rec.Name), logx.String("from", string(prevStatus)))
	}
	return nil
}

package catalog

import (
	"context"
	"time"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

// DefaultMaxPages bounds a walk when no limit is configured.
const DefaultMaxPages = 50

// CollectOptions tune Collect.
type CollectOptions struct {
	MaxPages  int
	PageDelay time.Duration // pause between page requests
}

// Collect walks pages from 1 until the end of the catalog, a failed page or
// the page limit. Snapshot.Complete is true only when the end was reached
// without failures and every item on every page was parsed.
func Collect(ctx context.Context, src Source, opt CollectOptions, log logx.Logger) inventory.Snapshot {
	if log.IsZero() {
		log = logx.Nop()
	}
	maxPages := opt.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var (
		snap    inventory.Snapshot
		skipped int
	)
	for page := 1; page <= maxPages; page++ {
		if page > 1 && opt.PageDelay > 0 {
			t := time.NewTimer(opt.PageDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				log.Warn("catalog walk cancelled", logx.Int("page", page), logx.Err(ctx.Err()))
				return snap
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			log.Warn("catalog walk cancelled", logx.Int("page", page), logx.Err(err))
			return snap
		}

		res := src.FetchPage(ctx, page)
		switch res.Kind {
		case PageEnd:
			if skipped > 0 {
				log.Warn("catalog items could not be parsed; snapshot incomplete", logx.Int("skipped", skipped))
				return snap
			}
			snap.Complete = true
			log.Debug("end of catalog", logx.Int("page", page), logx.Int("products", len(snap.Products)))
			return snap
		case PageFailed:
			log.Warn("catalog page failed; snapshot incomplete", logx.Int("page", page), logx.Err(res.Err))
			return snap
		default:
			snap.Pages++
			snap.Products = append(snap.Products, res.Products...)
			if res.Skipped > 0 {
				skipped += res.Skipped
				log.Debug("catalog items skipped", logx.Int("page", page), logx.Int("skipped", res.Skipped))
			}
		}
	}
	log.Warn("catalog page limit reached; snapshot incomplete", logx.Int("max_pages", maxPages))
	return snap
}

// Package registry keeps one notification channel per joined group.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

// Candidate is a channel inside a group that could receive notifications.
type Candidate struct {
	ID   string
	Name string
}

// Group is a destination the bot currently belongs to. Candidates are in
// platform order; the first one is the fallback.
type Group struct {
	ID         string
	Name       string
	Candidates []Candidate
}

// DefaultKeywords name channels that are meant for bot traffic.
func DefaultKeywords() []string {
	return []string{"測試", "test", "bot"}
}

// SelectChannel picks the first candidate whose name contains one of the
// keywords (case-insensitive), else the first candidate. ok is false when
// there are no candidates.
func SelectChannel(cands []Candidate, keywords []string) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	for _, c := range cands {
		name := strings.ToLower(c.Name)
		for _, k := range lowered {
			if strings.Contains(name, k) {
				return c, true
			}
		}
	}
	return cands[0], true
}

// RefreshReport summarizes one Refresh call.
type RefreshReport struct {
	Upserted int
	Deleted  int
	Skipped  int // groups without candidates
	Failed   int
}

type Registry struct {
	store inventory.ChannelStore
	log   logx.Logger
	now   func() time.Time

	mu       sync.RWMutex
	keywords []string
}

func New(store inventory.ChannelStore, keywords []string, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{store: store, log: log, now: time.Now}
	r.SetKeywords(keywords)
	return r
}

// SetKeywords replaces the keyword list; an empty list restores the defaults.
func (r *Registry) SetKeywords(keywords []string) {
	var kw []string
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			kw = append(kw, k)
		}
	}
	if len(kw) == 0 {
		kw = DefaultKeywords()
	}
	r.mu.Lock()
	r.keywords = kw
	r.mu.Unlock()
}

func (r *Registry) Keywords() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.keywords...)
}

// Refresh makes the stored records match groups: one record per group with
// at least one candidate, and none for groups not in the input.
//
// A group whose upsert fails keeps its previous record. The error is non-nil
// only when the stored records cannot be listed, in which case nothing is deleted.
func (r *Registry) Refresh(ctx context.Context, groups []Group) (RefreshReport, error) {
	var rep RefreshReport
	keywords := r.Keywords()
	keep := make(map[string]struct{}, len(groups))

	for _, g := range groups {
		keep[g.ID] = struct{}{}
		c, ok := SelectChannel(g.Candidates, keywords)
		if !ok {
			rep.Skipped++
			r.log.Debug("group has no candidate channels", logx.String("group", g.ID), logx.String("name", g.Name))
			continue
		}
		err := r.store.UpsertChannel(ctx, inventory.ChannelRecord{
			GroupID:     g.ID,
			ChannelID:   c.ID,
			ChannelName: c.Name,
			GroupName:   g.Name,
			UpdatedAt:   r.now().UTC(),
		})
		if err != nil {
			rep.Failed++
			r.log.Error("channel upsert failed", logx.String("group", g.ID), logx.Err(err))
			continue
		}
		rep.Upserted++
		r.log.Debug("channel selected", logx.String("group", g.Name), logx.String("channel", c.Name), logx.String("id", c.ID))
	}

	stored, err := r.store.ListChannels(ctx)
	if err != nil {
		return rep, err
	}
	for _, rec := range stored {
		if _, ok := keep[rec.GroupID]; ok {
			continue
		}
		if err := r.store.DeleteChannel(ctx, rec.GroupID); err != nil {
			rep.Failed++
			r.log.Error("channel delete failed", logx.String("group", rec.GroupID), logx.Err(err))
			continue
		}
		rep.Deleted++
		r.log.Info("group left; channel removed", logx.String("group", rec.GroupID), logx.String("name", rec.GroupName))
	}
	return rep, nil
}

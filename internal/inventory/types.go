// Package inventory holds the persisted domain model shared by the
// reconciler, the dispatcher and the channel registry.
package inventory

import (
	"fmt"
	"strings"
	"time"
)

// Status is the availability of a product as last observed.
type Status string

const (
	StatusInStock Status = "in_stock"
	StatusSoldOut Status = "sold_out"
	StatusRemoved Status = "removed"
)

// ParseStatus maps the persisted form back to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusInStock, StatusSoldOut, StatusRemoved:
		return st, nil
	default:
		return "", fmt.Errorf("unknown product status %q", s)
	}
}

// StatusFor maps a scraped availability flag to a Status.
func StatusFor(inStock bool) Status {
	if inStock {
		return StatusInStock
	}
	return StatusSoldOut
}

// NotifyWorthy reports whether a transition into this status is announced.
// Only negative-availability events are.
func (s Status) NotifyWorthy() bool {
	return s == StatusSoldOut || s == StatusRemoved
}

// NotifyWorthyStatuses lists the statuses the dispatcher selects.
func NotifyWorthyStatuses() []Status {
	return []Status{StatusSoldOut, StatusRemoved}
}

// Labels are the human-facing names used in messages.
type Labels map[Status]string

// DefaultLabels mirror the storefront's wording.
func DefaultLabels() Labels {
	return Labels{
		StatusInStock: "在庫有",
		StatusSoldOut: "売り切れ",
		StatusRemoved: "下架",
	}
}

func (l Labels) For(s Status) string {
	if v, ok := l[s]; ok && v != "" {
		return v
	}
	return string(s)
}

// ProductRecord is the persisted state of one catalog product.
// Name is the identity and is case-sensitive.
type ProductRecord struct {
	Name        string
	ImageURL    string
	Status      Status
	LastUpdated time.Time
	Notified    bool
}

// ChannelRecord is the destination chosen for one joined group.
// ChannelName is the selected channel's own name, kept so a transport can
// rebuild its candidate list after a restart.
type ChannelRecord struct {
	GroupID     string
	ChannelID   string
	ChannelName string
	GroupName   string
	UpdatedAt   time.Time
}

// RawProduct is one product as produced by a catalog scrape.
type RawProduct struct {
	Name     string
	ImageURL string
	InStock  bool
}

// Snapshot is everything one tick observed in the catalog.
//
// Complete is true only when pagination reached the end of the catalog
// without a failed page. Removal marking depends on it.
type Snapshot struct {
	Products []RawProduct
	Complete bool
	Pages    int
}

// Dedup returns the products keyed by name; a later entry overrides an earlier one.
// The returned order is the order of first appearance.
func (s Snapshot) Dedup() []RawProduct {
	idx := make(map[string]int, len(s.Products))
	out := make([]RawProduct, 0, len(s.Products))
	for _, p := range s.Products {
		if i, ok := idx[p.Name]; ok {
			out[i] = p
			continue
		}
		idx[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}

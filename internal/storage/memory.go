package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"stockwatch/internal/inventory"
)

// Memory is an in-process store. Records are copied in and out.
type Memory struct {
	mu       sync.RWMutex
	products map[string]inventory.ProductRecord
	channels map[string]inventory.ChannelRecord
}

func NewMemory() *Memory {
	return &Memory{
		products: make(map[string]inventory.ProductRecord),
		channels: make(map[string]inventory.ChannelRecord),
	}
}

func (m *Memory) GetProduct(_ context.Context, name string) (inventory.ProductRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[name]
	return p, ok, nil
}

func (m *Memory) UpsertProduct(_ context.Context, p inventory.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Name] = p
	return nil
}

func (m *Memory) ListProducts(_ context.Context) ([]inventory.ProductRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.ProductRecord, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListUnnotified(_ context.Context, statuses ...inventory.Status) ([]inventory.ProductRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.ProductRecord
	for _, p := range m.products {
		if p.Notified || !slices.Contains(statuses, p.Status) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.Before(out[j].LastUpdated)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) MarkNotified(_ context.Context, name string, status inventory.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[name]
	if !ok || p.Status != status || p.Notified {
		return false, nil
	}
	p.Notified = true
	m.products[name] = p
	return true, nil
}

func (m *Memory) DeleteProduct(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, name)
	return nil
}

func (m *Memory) ListChannels(_ context.Context) ([]inventory.ChannelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.ChannelRecord, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (m *Memory) UpsertChannel(_ context.Context, c inventory.ChannelRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.GroupID] = c
	return nil
}

func (m *Memory) DeleteChannel(_ context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, groupID)
	return nil
}

func (m *Memory) Close() error { return nil }

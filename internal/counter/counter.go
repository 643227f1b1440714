// Package counter keeps per-file download counts outside the metadata store.
package counter

import (
	"context"
	"sync"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

// Counter counts downloads per node of a collection.
type Counter interface {
	// Increment adds one to id and returns the new count.
	Increment(ctx context.Context, c models.Collection, id string) (int64, error)
	// Counts returns the count of every id that has one. Missing ids are absent.
	Counts(ctx context.Context, c models.Collection, ids []string) (map[string]int64, error)
	// Forget drops the counts of removed nodes.
	Forget(ctx context.Context, c models.Collection, ids []string) error
	Close() error
}

// Memory is an in-process Counter.
type Memory struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

var _ Counter = (*Memory)(nil)

// NewMemory returns an empty in-process counter.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]map[string]int64)}
}

func (m *Memory) Increment(ctx context.Context, c models.Collection, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.counts[c.Key()]
	if byID == nil {
		byID = make(map[string]int64)
		m.counts[c.Key()] = byID
	}
	byID[id]++
	return byID[id], nil
}

func (m *Memory) Counts(ctx context.Context, c models.Collection, ids []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	byID := m.counts[c.Key()]
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (m *Memory) Forget(ctx context.Context, c models.Collection, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.counts[c.Key()]
	for _, id := range ids {
		delete(byID, id)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

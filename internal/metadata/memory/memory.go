// Package memory is an in-process metadata store backed by one arena per collection.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// Store keeps every collection in memory. Mutations are serialized.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*tree.Index
}

var _ metadata.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*tree.Index)}
}

func (s *Store) index(c models.Collection, create bool) *tree.Index {
	idx := s.collections[c.Key()]
	if idx == nil && create {
		idx = tree.New()
		s.collections[c.Key()] = idx
	}
	return idx
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Close() error { return nil }

func (s *Store) Snapshot(ctx context.Context, c models.Collection) ([]models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.index(c, false)
	if idx == nil {
		return []models.Node{}, nil
	}
	nodes := idx.Nodes()
	for i := range nodes {
		nodes[i].Tags = append([]string(nil), nodes[i].Tags...)
	}
	return nodes, nil
}

func (s *Store) Get(ctx context.Context, c models.Collection, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.index(c, false)
	if idx == nil {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	n, ok := idx.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	return &n, nil
}

func (s *Store) Insert(ctx context.Context, c models.Collection, n models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.Display = ""
	n.Tags = append([]string(nil), n.Tags...)
	return s.index(c, true).Insert(n)
}

func (s *Store) Move(ctx context.Context, c models.Collection, id, newParentID string) (string, error) {
	if id == models.RootID {
		return "", metadata.ErrRootImmutable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(c, false)
	if idx == nil {
		return "", fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	n, ok := idx.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	if err := idx.Reparent(id, newParentID); err != nil {
		return "", err
	}
	return n.ParentID, nil
}

func (s *Store) SetAccess(ctx context.Context, c models.Collection, id string, level models.Access) (int, error) {
	if id == models.RootID {
		return 0, metadata.ErrRootImmutable
	}
	if !level.Valid() {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidAccess, level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(c, false)
	if idx == nil {
		return 0, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	if _, ok := idx.Get(id); !ok {
		return 0, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}

	ids := []string{id}
	for _, d := range idx.Descendants(id) {
		ids = append(ids, d.ID)
	}
	for _, nid := range ids {
		if err := idx.Update(nid, func(n *models.Node) { n.Access = level }); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *Store) Update(ctx context.Context, c models.Collection, id string, p metadata.Patch) (*models.Node, error) {
	if id == models.RootID {
		return nil, metadata.ErrRootImmutable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(c, false)
	if idx == nil {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	err := idx.Update(id, func(n *models.Node) {
		if p.Name != nil {
			n.Name = *p.Name
		}
		if p.Description != nil {
			n.Description = *p.Description
		}
	})
	if err != nil {
		return nil, err
	}
	n, _ := idx.Get(id)
	return &n, nil
}

func (s *Store) Delete(ctx context.Context, c models.Collection, id string) ([]string, error) {
	if id == models.RootID {
		return nil, metadata.ErrRootImmutable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(c, false)
	if idx == nil {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	return idx.RemoveSubtree(id)
}

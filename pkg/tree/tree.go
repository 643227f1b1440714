// Package tree provides an id-indexed arena over the nodes of one collection.
//
// The arena is the primary representation: nodes are stored flat and linked by
// parent id. Nested views are built on demand. Walks are iterative so a deep
// hierarchy never grows the goroutine stack.
//
// An Index is not safe for concurrent use; callers guard it.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

var (
	ErrNotFound   = errors.New("node not found")
	ErrNotFolder  = errors.New("parent is not a folder")
	ErrCycle      = errors.New("node cannot be moved into itself or a descendant")
	ErrDuplicate  = errors.New("duplicate node id")
	ErrOrphan     = errors.New("parent does not exist")
	ErrRootTarget = errors.New("the root cannot be modified")
)

// Index is the arena.
type Index struct {
	nodes    map[string]*models.Node
	children map[string][]string
}

// New returns an empty index.
func New() *Index {
	return &Index{
		nodes:    make(map[string]*models.Node),
		children: make(map[string][]string),
	}
}

// Build creates an index from a flat node list in any order.
// It fails if a parent is missing, is a file, or the parent links form a cycle.
func Build(nodes []models.Node) (*Index, error) {
	idx := New()
	for i := range nodes {
		n := nodes[i]
		if n.ID == models.RootID {
			return nil, fmt.Errorf("%w: empty id", ErrDuplicate)
		}
		if _, exists := idx.nodes[n.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, n.ID)
		}
		idx.nodes[n.ID] = &n
	}
	for _, n := range idx.nodes {
		if n.ParentID != models.RootID {
			parent, ok := idx.nodes[n.ParentID]
			if !ok {
				return nil, fmt.Errorf("%w: %s (parent of %s)", ErrOrphan, n.ParentID, n.ID)
			}
			if !parent.IsFolder() {
				return nil, fmt.Errorf("%w: %s", ErrNotFolder, n.ParentID)
			}
		}
		idx.children[n.ParentID] = append(idx.children[n.ParentID], n.ID)
	}

	// Everything must be reachable from the root, otherwise some parent chain loops.
	if reached := len(idx.Descendants(models.RootID)); reached != len(idx.nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable from root",
			ErrCycle, len(idx.nodes)-reached, len(idx.nodes))
	}
	return idx, nil
}

// Len returns the number of nodes, excluding the virtual root.
func (idx *Index) Len() int {
	return len(idx.nodes)
}

// Root returns the virtual root entry: empty id and name, folder kind.
func Root() models.Node {
	return models.Node{ID: models.RootID, Kind: models.KindFolder}
}

// Get returns a copy of the node with the given id.
func (idx *Index) Get(id string) (models.Node, bool) {
	n, ok := idx.nodes[id]
	if !ok {
		return models.Node{}, false
	}
	return *n, true
}

// IsFolder reports whether id names the root or an existing folder.
func (idx *Index) IsFolder(id string) bool {
	if id == models.RootID {
		return true
	}
	n, ok := idx.nodes[id]
	return ok && n.IsFolder()
}

// ChildrenOf returns the direct children of parentID, folders first, then by name.
func (idx *Index) ChildrenOf(parentID string) []models.Node {
	ids := idx.children[parentID]
	out := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, *idx.nodes[id])
	}
	SortNodes(out)
	return out
}

// Ancestors returns the folders above id, nearest first. The virtual root is not included.
func (idx *Index) Ancestors(id string) ([]models.Node, error) {
	n, ok := idx.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var out []models.Node
	seen := map[string]bool{id: true}
	for p := n.ParentID; p != models.RootID; {
		parent, ok := idx.nodes[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOrphan, p)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: at %s", ErrCycle, p)
		}
		seen[p] = true
		out = append(out, *parent)
		p = parent.ParentID
	}
	return out, nil
}

// Path returns the breadcrumb chain from the virtual root to id inclusive.
// For a node at depth d the result has d+1 entries; Path(RootID) is just the root.
func (idx *Index) Path(id string) ([]models.Node, error) {
	if id == models.RootID {
		return []models.Node{Root()}, nil
	}
	ancestors, err := idx.Ancestors(id)
	if err != nil {
		return nil, err
	}
	path := make([]models.Node, 0, len(ancestors)+2)
	path = append(path, Root())
	for i := len(ancestors) - 1; i >= 0; i-- {
		path = append(path, ancestors[i])
	}
	return append(path, *idx.nodes[id]), nil
}

// IsDescendant reports whether id lies strictly below ancestorID.
// Every node is a descendant of the root.
func (idx *Index) IsDescendant(id, ancestorID string) bool {
	if id == ancestorID {
		return false
	}
	n, ok := idx.nodes[id]
	if !ok {
		return false
	}
	if ancestorID == models.RootID {
		return true
	}
	steps := 0
	for p := n.ParentID; p != models.RootID; steps++ {
		if p == ancestorID {
			return true
		}
		parent, ok := idx.nodes[p]
		if !ok || steps > len(idx.nodes) {
			return false
		}
		p = parent.ParentID
	}
	return false
}

// Descendants returns every node below id in breadth-first order.
func (idx *Index) Descendants(id string) []models.Node {
	var out []models.Node
	queue := append([]string(nil), idx.children[id]...)
	seen := make(map[string]bool, len(queue))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, *idx.nodes[cur])
		queue = append(queue, idx.children[cur]...)
	}
	return out
}

// Nodes returns every node, parents before children.
func (idx *Index) Nodes() []models.Node {
	return idx.Descendants(models.RootID)
}

// Insert adds a new node under an existing folder (or the root).
func (idx *Index) Insert(n models.Node) error {
	if n.ID == models.RootID {
		return ErrRootTarget
	}
	if _, exists := idx.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, n.ID)
	}
	if err := idx.checkParent(n.ParentID); err != nil {
		return err
	}
	idx.nodes[n.ID] = &n
	idx.children[n.ParentID] = append(idx.children[n.ParentID], n.ID)
	return nil
}

// Reparent moves id under newParentID. Moving into the current parent is a no-op.
// Moving a node into itself or one of its descendants fails with ErrCycle.
func (idx *Index) Reparent(id, newParentID string) error {
	n, ok := idx.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := idx.checkParent(newParentID); err != nil {
		return err
	}
	if newParentID == id || idx.IsDescendant(newParentID, id) {
		return fmt.Errorf("%w: %s into %s", ErrCycle, id, newParentID)
	}
	if n.ParentID == newParentID {
		return nil
	}
	idx.detach(n.ParentID, id)
	n.ParentID = newParentID
	idx.children[newParentID] = append(idx.children[newParentID], id)
	return nil
}

// Update applies fn to the stored node. Identity fields are restored afterwards.
func (idx *Index) Update(id string, fn func(n *models.Node)) error {
	n, ok := idx.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	nodeID, kind, parent := n.ID, n.Kind, n.ParentID
	fn(n)
	n.ID, n.Kind, n.ParentID = nodeID, kind, parent
	return nil
}

// RemoveSubtree deletes id and everything below it, returning the removed ids.
func (idx *Index) RemoveSubtree(id string) ([]string, error) {
	n, ok := idx.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := []string{id}
	for _, d := range idx.Descendants(id) {
		removed = append(removed, d.ID)
	}
	idx.detach(n.ParentID, id)
	for _, rid := range removed {
		delete(idx.nodes, rid)
		delete(idx.children, rid)
	}
	return removed, nil
}

func (idx *Index) checkParent(parentID string) error {
	if parentID == models.RootID {
		return nil
	}
	p, ok := idx.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	if !p.IsFolder() {
		return fmt.Errorf("%w: %s", ErrNotFolder, parentID)
	}
	return nil
}

func (idx *Index) detach(parentID, id string) {
	siblings := idx.children[parentID]
	for i, sid := range siblings {
		if sid == id {
			idx.children[parentID] = append(siblings[:i:i], siblings[i+1:]...)
			return
		}
	}
}

// SortNodes orders nodes folders first, then by case-insensitive name, then id.
func SortNodes(nodes []models.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.IsFolder() != b.IsFolder() {
			return a.IsFolder()
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}

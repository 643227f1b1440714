// Package movetarget computes where a set of nodes may be moved.
package movetarget

import (
	"errors"

	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// ErrInvalidTarget is returned for a target that is not a selectable candidate.
var ErrInvalidTarget = errors.New("invalid move target")

// RootName labels the synthetic root candidate.
const RootName = "Root"

// Candidate is one folder offered as a move target.
type Candidate struct {
	ID       string
	Name     string
	Depth    int // 0 for the synthetic root
	Disabled bool
	Children []*Candidate
}

// Targets is the filtered folder tree with the synthetic root first.
type Targets struct {
	Root  *Candidate
	byID  map[string]*Candidate
	order []*Candidate
}

// Resolve filters the collection's folders for a move of the given nodes
// out of origin. A folder is kept iff it is not being moved and its parent
// was kept, so no moving node's subtree is ever offered. The origin folder
// is kept but disabled.
func Resolve(idx *tree.Index, moving []models.Node, origin string) *Targets {
	movingIDs := make(map[string]bool, len(moving))
	for _, n := range moving {
		movingIDs[n.ID] = true
	}

	// The virtual root always renders.
	view, _ := idx.BuildFilteredView(models.RootID, func(n models.Node) bool {
		return n.IsFolder() && !movingIDs[n.ID]
	})

	root := &Candidate{
		ID:       models.RootID,
		Name:     RootName,
		Disabled: origin == models.RootID,
		Children: []*Candidate{},
	}
	t := &Targets{
		Root: root,
		byID: map[string]*Candidate{models.RootID: root},
	}

	type entry struct {
		view *tree.View
		cand *Candidate
	}
	// Pre-order in display order.
	stack := []entry{{view, root}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.order = append(t.order, e.cand)

		kids := make([]entry, 0, len(e.view.Children))
		for _, v := range e.view.Children {
			c := &Candidate{
				ID:       v.ID,
				Name:     v.Name,
				Depth:    e.cand.Depth + 1,
				Disabled: v.ID == origin,
				Children: []*Candidate{},
			}
			e.cand.Children = append(e.cand.Children, c)
			t.byID[c.ID] = c
			kids = append(kids, entry{v, c})
		}
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return t
}

// Valid reports whether id is a present, enabled candidate.
func (t *Targets) Valid(id string) bool {
	c, ok := t.byID[id]
	return ok && !c.Disabled
}

// Check returns ErrInvalidTarget unless Valid(id).
func (t *Targets) Check(id string) error {
	if !t.Valid(id) {
		return ErrInvalidTarget
	}
	return nil
}

// Get returns the candidate with the given id.
func (t *Targets) Get(id string) (*Candidate, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Flatten returns every candidate in display order, the root first.
func (t *Targets) Flatten() []*Candidate {
	return append([]*Candidate(nil), t.order...)
}

// Len returns the number of candidates including the root.
func (t *Targets) Len() int {
	return len(t.order)
}

// Package access derives displayed access levels and changes them in bulk.
//
// A file displays its own level. A folder displays the level shared by every
// file below it, Mixed when those files disagree, and its own level when it
// has no files below it.
package access

import (
	"context"
	"fmt"

	"github.com/fruitsalade/projectfiles/pkg/bulk"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// summary aggregates the file levels below a folder.
type summary struct {
	hasFiles bool
	level    models.Access
	mixed    bool
}

func (s *summary) add(o summary) {
	if !o.hasFiles || s.mixed {
		return
	}
	if o.mixed {
		s.hasFiles, s.mixed = true, true
		return
	}
	if !s.hasFiles {
		s.hasFiles, s.level = true, o.level
		return
	}
	if s.level != o.level {
		s.mixed = true
	}
}

func (s summary) display(own models.Access) models.DisplayAccess {
	switch {
	case !s.hasFiles:
		return own.Display()
	case s.mixed:
		return models.Mixed
	default:
		return s.level.Display()
	}
}

// Display computes the displayed level of one node. Unknown ids display as "".
func Display(idx *tree.Index, id string) models.DisplayAccess {
	n, ok := idx.Get(id)
	if !ok {
		return ""
	}
	if n.IsFile() {
		return n.Access.Display()
	}
	var s summary
	for _, d := range idx.Descendants(id) {
		if d.IsFile() {
			s.add(summary{hasFiles: true, level: d.Access})
		}
	}
	return s.display(n.Access)
}

// DisplayAll computes the displayed level of every node in one bottom-up pass.
func DisplayAll(idx *tree.Index) map[string]models.DisplayAccess {
	order := idx.Nodes() // parents before children
	sums := make(map[string]*summary, len(order))
	out := make(map[string]models.DisplayAccess, len(order))

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		var own summary
		if n.IsFile() {
			own = summary{hasFiles: true, level: n.Access}
			out[n.ID] = n.Access.Display()
		} else {
			if s := sums[n.ID]; s != nil {
				own = *s
			}
			out[n.ID] = own.display(n.Access)
		}
		if n.ParentID == models.RootID {
			continue
		}
		ps := sums[n.ParentID]
		if ps == nil {
			ps = &summary{}
			sums[n.ParentID] = ps
		}
		ps.add(own)
	}
	return out
}

// Annotate returns a copy of nodes with Display filled from idx.
func Annotate(idx *tree.Index, nodes []models.Node, displays map[string]models.DisplayAccess) []models.Node {
	out := make([]models.Node, len(nodes))
	for i, n := range nodes {
		if d, ok := displays[n.ID]; ok {
			n.Display = d
		} else {
			n.Display = Display(idx, n.ID)
		}
		out[i] = n
	}
	return out
}

// Mutator changes the access of a single node on the server.
type Mutator interface {
	ChangeAccess(ctx context.Context, id string, level models.Access) error
}

// Manager issues one change-access request per node through an Executor.
// The server cascades each change to the node's descendants.
type Manager struct {
	mutator  Mutator
	executor *bulk.Executor
}

// NewManager creates a Manager.
func NewManager(mutator Mutator, executor *bulk.Executor) *Manager {
	return &Manager{mutator: mutator, executor: executor}
}

// ChangeAccess validates level and then applies it to each node in order.
// An invalid level is rejected before any request is made.
func (m *Manager) ChangeAccess(ctx context.Context, nodes []models.Node, level models.Access) (*bulk.Report, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAccess, level)
	}
	return m.executor.Run(ctx, bulk.ActionAccess, nodes, func(ctx context.Context, n models.Node) error {
		return m.mutator.ChangeAccess(ctx, n.ID, level)
	})
}

// Package metadata defines the node persistence contract shared by the memory
// and PostgreSQL stores.
package metadata

import (
	"context"
	"errors"

	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

var (
	ErrNotFound      = tree.ErrNotFound
	ErrNotFolder     = tree.ErrNotFolder
	ErrCycle         = tree.ErrCycle
	ErrDuplicate     = tree.ErrDuplicate
	ErrRootImmutable = tree.ErrRootTarget
	ErrNotFile       = errors.New("node is not a file")
)

// Patch lists the editable fields of a node. Nil fields are left unchanged.
type Patch struct {
	Name        *string
	Description *string
}

// Store persists the nodes of every collection. Every method is scoped to one
// collection; ids of another collection behave as unknown.
type Store interface {
	// Snapshot returns every node of the collection, in no particular order.
	Snapshot(ctx context.Context, c models.Collection) ([]models.Node, error)

	// Get returns one node.
	Get(ctx context.Context, c models.Collection, id string) (*models.Node, error)

	// Insert adds a node under an existing folder or the root.
	Insert(ctx context.Context, c models.Collection, n models.Node) error

	// Move reparents id and returns its previous parent. Moving into the
	// current parent succeeds without change. Moving into itself or a
	// descendant fails with ErrCycle.
	Move(ctx context.Context, c models.Collection, id, newParentID string) (oldParentID string, err error)

	// SetAccess sets the level of id and of every node below it and returns
	// the number of nodes changed.
	SetAccess(ctx context.Context, c models.Collection, id string, level models.Access) (int, error)

	// Update applies a patch and returns the updated node.
	Update(ctx context.Context, c models.Collection, id string, p Patch) (*models.Node, error)

	// Delete removes id and its whole subtree atomically and returns the removed ids.
	Delete(ctx context.Context, c models.Collection, id string) ([]string, error)

	// Name identifies the backend in health output.
	Name() string

	Close() error
}

// Package navigator tracks the displayed directory of one collection.
//
// Every Navigate call takes a new generation number. Only the response to
// the newest call may replace the displayed listing; older responses are
// discarded with ErrSuperseded. A failed listing leaves the displayed one
// untouched. Refresh follows the newest request, so a refresh issued while a
// navigation is loading re-lists the directory being navigated to.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fruitsalade/projectfiles/pkg/client"
	"github.com/fruitsalade/projectfiles/pkg/logger"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

// ErrSuperseded is returned when a newer request was issued before this one completed.
var ErrSuperseded = errors.New("listing superseded by a newer request")

// Lister fetches one directory listing.
type Lister interface {
	ListChildren(ctx context.Context, parentID string) (*client.Listing, error)
}

// Crumb is one breadcrumb entry. Current marks the last entry, which is not clickable.
type Crumb struct {
	ID      string
	Name    string
	Current bool
}

// Navigator holds the displayed listing. Safe for concurrent use.
type Navigator struct {
	lister    Lister
	onDiscard func()

	mu      sync.Mutex
	gen     uint64
	target  string // directory of the newest request
	current *client.Listing
}

// Option configures a Navigator.
type Option func(*Navigator)

// OnDiscard registers a callback run for every superseded response.
func OnDiscard(fn func()) Option {
	return func(n *Navigator) {
		n.onDiscard = fn
	}
}

// New creates a navigator with nothing displayed yet.
func New(lister Lister, opts ...Option) *Navigator {
	n := &Navigator{lister: lister}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Navigate lists parentID and, if no newer call was made meanwhile, displays it.
// It reports whether the displayed directory changed.
func (n *Navigator) Navigate(ctx context.Context, parentID string) (changed bool, err error) {
	n.mu.Lock()
	n.gen++
	gen := n.gen
	n.target = parentID
	n.mu.Unlock()

	listing, err := n.lister.ListChildren(ctx, parentID)

	n.mu.Lock()
	defer n.mu.Unlock()

	if gen != n.gen {
		if n.onDiscard != nil {
			n.onDiscard()
		}
		logger.Debug("discarding superseded listing",
			logger.String("parent", parentID),
			logger.Int64("generation", int64(gen)),
		)
		return false, ErrSuperseded
	}
	if err != nil {
		n.target = n.currentIDLocked()
		return false, fmt.Errorf("list %q: %w", parentID, err)
	}

	changed = n.current == nil || n.current.Current().ID != listing.Current().ID
	n.current = listing
	return changed, nil
}

// Refresh re-lists Target under the same rules as Navigate.
func (n *Navigator) Refresh(ctx context.Context) error {
	_, err := n.Navigate(ctx, n.Target())
	return err
}

// Target returns the directory of the newest request. It differs from
// CurrentID only while a navigation is loading.
func (n *Navigator) Target() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// CurrentID returns the displayed directory id, the root before the first listing.
func (n *Navigator) CurrentID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentIDLocked()
}

func (n *Navigator) currentIDLocked() string {
	if n.current == nil {
		return models.RootID
	}
	return n.current.Current().ID
}

// Listing returns the displayed listing, or nil before the first success.
func (n *Navigator) Listing() *client.Listing {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return nil
	}
	l := *n.current
	return &l
}

// Nodes returns the displayed children.
func (n *Navigator) Nodes() []models.Node {
	if l := n.Listing(); l != nil {
		return append([]models.Node(nil), l.Nodes...)
	}
	return nil
}

// Breadcrumbs returns the path from the root to the displayed directory.
func (n *Navigator) Breadcrumbs() []Crumb {
	l := n.Listing()
	if l == nil {
		return []Crumb{{ID: models.RootID, Current: true}}
	}
	crumbs := make([]Crumb, len(l.Path))
	for i, p := range l.Path {
		crumbs[i] = Crumb{ID: p.ID, Name: p.Name, Current: i == len(l.Path)-1}
	}
	return crumbs
}

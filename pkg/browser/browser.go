// Package browser coordinates navigation, selection and bulk actions over one
// collection.
//
// Validation problems are returned inline and never reach the error handler.
// Listing and mutation failures go to the handler and are returned as well.
// After a successful bulk action the listing is refreshed and the selection
// cleared; after a failed one the listing is left as it was and the selection
// kept.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/fruitsalade/projectfiles/pkg/logger"
	"github.com/fruitsalade/projectfiles/pkg/access"
	"github.com/fruitsalade/projectfiles/pkg/bulk"
	"github.com/fruitsalade/projectfiles/pkg/client"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/movetarget"
	"github.com/fruitsalade/projectfiles/pkg/navigator"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
	"github.com/fruitsalade/projectfiles/pkg/selection"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// ErrNothingSelected is returned by bulk actions with an empty selection.
var ErrNothingSelected = errors.New("no nodes selected")

// ErrorHandler receives every listing and mutation failure.
type ErrorHandler func(error)

// Service is the server surface the browser drives. *client.Client implements it.
type Service interface {
	ListChildren(ctx context.Context, parentID string) (*client.Listing, error)
	ListAll(ctx context.Context) ([]models.Node, error)
	CreateFolder(ctx context.Context, name, parentID string) (*models.Node, error)
	Move(ctx context.Context, id, parentID string) error
	ChangeAccess(ctx context.Context, id string, level models.Access) error
	Edit(ctx context.Context, id string, req protocol.EditRequest) (*models.Node, error)
	Delete(ctx context.Context, id string) error
	DownloadURL(ctx context.Context, id string, increment bool) (string, error)
	SuggestTags(ctx context.Context, prefix string) ([]string, error)
}

// Recorder receives counters from navigation and bulk actions.
// metrics.ClientRecorder implements it.
type Recorder interface {
	RecordNavigatorDiscard()
	RecordBulkRun(action string, success bool)
}

// Browser is the UI-facing coordinator. Safe for concurrent use.
type Browser struct {
	svc     Service
	nav     *navigator.Navigator
	sel     *selection.Set
	exec    *bulk.Executor
	access  *access.Manager
	onError ErrorHandler
	rec     Recorder
}

// Option configures a Browser.
type Option func(*Browser)

// WithErrorHandler replaces the default handler, which logs the error.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Browser) {
		b.onError = h
	}
}

// WithRecorder counts superseded listings and bulk outcomes.
func WithRecorder(r Recorder) Option {
	return func(b *Browser) {
		b.rec = r
	}
}

// New creates a browser over svc. Call Open to load the first listing.
func New(svc Service, opts ...Option) *Browser {
	b := &Browser{
		svc: svc,
		sel: selection.New(),
		onError: func(err error) {
			logger.Error("browser operation failed", logger.Err(err))
		},
	}
	for _, opt := range opts {
		opt(b)
	}

	var navOpts []navigator.Option
	var execOpts []bulk.Option
	if b.rec != nil {
		navOpts = append(navOpts, navigator.OnDiscard(b.rec.RecordNavigatorDiscard))
		execOpts = append(execOpts, bulk.OnFinish(func(r *bulk.Report) {
			b.rec.RecordBulkRun(string(r.Action), r.OK())
		}))
	}
	b.nav = navigator.New(svc, navOpts...)
	b.exec = bulk.NewExecutor(execOpts...)
	b.access = access.NewManager(svc, b.exec)
	return b
}

func (b *Browser) report(err error) {
	if b.onError != nil {
		b.onError(err)
	}
}

// Open displays dir. A superseded response is dropped silently.
func (b *Browser) Open(ctx context.Context, dir string) error {
	changed, err := b.nav.Navigate(ctx, dir)
	if errors.Is(err, navigator.ErrSuperseded) {
		return nil
	}
	if err != nil {
		b.report(err)
		return err
	}
	if changed {
		b.sel.Clear()
	}
	b.sel.SetVisible(models.IDs(b.nav.Nodes()))
	return nil
}

// Refresh re-lists the displayed directory, or the one being opened if a
// navigation is still loading.
func (b *Browser) Refresh(ctx context.Context) error {
	return b.Open(ctx, b.nav.Target())
}

// CurrentID returns the displayed directory.
func (b *Browser) CurrentID() string {
	return b.nav.CurrentID()
}

// Nodes returns the displayed children.
func (b *Browser) Nodes() []models.Node {
	return b.nav.Nodes()
}

// Breadcrumbs returns the path to the displayed directory.
func (b *Browser) Breadcrumbs() []navigator.Crumb {
	return b.nav.Breadcrumbs()
}

// Toggle flips the check on one displayed node.
func (b *Browser) Toggle(id string) {
	b.sel.Toggle(id)
}

// ToggleAll clears the selection if anything is checked, otherwise checks everything.
func (b *Browser) ToggleAll() {
	b.sel.ToggleAll()
}

// ClearSelection unchecks everything.
func (b *Browser) ClearSelection() {
	b.sel.Clear()
}

// Selected returns the checked ids in listing order.
func (b *Browser) Selected() []string {
	return b.sel.Selected()
}

// IsChecked reports whether id is checked.
func (b *Browser) IsChecked(id string) bool {
	return b.sel.IsChecked(id)
}

// InProgress reports whether a bulk action is running.
func (b *Browser) InProgress() bool {
	return b.exec.InProgress()
}

// LastReport returns the per-node outcome of the most recent bulk action.
func (b *Browser) LastReport() *bulk.Report {
	return b.exec.Last()
}

func (b *Browser) selectedNodes() []models.Node {
	checked := make(map[string]bool)
	for _, id := range b.sel.Selected() {
		checked[id] = true
	}
	var out []models.Node
	for _, n := range b.nav.Nodes() {
		if checked[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// MoveTargets loads the whole collection and returns the folders the
// current selection may be moved into.
func (b *Browser) MoveTargets(ctx context.Context) (*movetarget.Targets, error) {
	nodes := b.selectedNodes()
	if len(nodes) == 0 {
		return nil, ErrNothingSelected
	}

	all, err := b.svc.ListAll(ctx)
	if err != nil {
		b.report(err)
		return nil, err
	}
	idx, err := tree.Build(all)
	if err != nil {
		err = fmt.Errorf("build move targets: %w", err)
		b.report(err)
		return nil, err
	}
	return movetarget.Resolve(idx, nodes, b.nav.CurrentID()), nil
}

// Move moves every selected node into targetID.
func (b *Browser) Move(ctx context.Context, targetID string) error {
	targets, err := b.MoveTargets(ctx)
	if err != nil {
		return err
	}
	if err := targets.Check(targetID); err != nil {
		return err
	}
	return b.runBulk(ctx, bulk.ActionMove, func(ctx context.Context, n models.Node) error {
		return b.svc.Move(ctx, n.ID, targetID)
	})
}

// Delete deletes every selected node with its subtree.
func (b *Browser) Delete(ctx context.Context) error {
	return b.runBulk(ctx, bulk.ActionDelete, func(ctx context.Context, n models.Node) error {
		return b.svc.Delete(ctx, n.ID)
	})
}

// ChangeAccess sets level on every selected node; the server cascades it.
func (b *Browser) ChangeAccess(ctx context.Context, level models.Access) error {
	nodes := b.selectedNodes()
	if len(nodes) == 0 {
		return ErrNothingSelected
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidAccess, level)
	}
	_, err := b.access.ChangeAccess(ctx, nodes, level)
	return b.finish(ctx, err)
}

func (b *Browser) runBulk(ctx context.Context, action bulk.Action, fn bulk.Func) error {
	nodes := b.selectedNodes()
	if len(nodes) == 0 {
		return ErrNothingSelected
	}
	_, err := b.exec.Run(ctx, action, nodes, fn)
	return b.finish(ctx, err)
}

func (b *Browser) finish(ctx context.Context, err error) error {
	if errors.Is(err, bulk.ErrBusy) {
		return err
	}
	defer b.exec.Acknowledge()
	if err != nil {
		b.report(err)
		return err
	}
	b.sel.Clear()
	return b.Refresh(ctx)
}

// CreateFolder creates a folder in the displayed directory.
func (b *Browser) CreateFolder(ctx context.Context, name string) (*models.Node, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}
	node, err := b.svc.CreateFolder(ctx, name, b.nav.CurrentID())
	if err != nil {
		b.report(err)
		return nil, err
	}
	return node, b.Refresh(ctx)
}

// Edit renames id and replaces its description.
func (b *Browser) Edit(ctx context.Context, id, name, description string) (*models.Node, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}
	node, err := b.svc.Edit(ctx, id, protocol.EditRequest{Name: &name, Description: &description})
	if err != nil {
		b.report(err)
		return nil, err
	}
	return node, b.Refresh(ctx)
}

// DownloadURL returns a signed link for a file. With increment set the
// download is counted and the listing refreshed to show the new count.
func (b *Browser) DownloadURL(ctx context.Context, id string, increment bool) (string, error) {
	u, err := b.svc.DownloadURL(ctx, id, increment)
	if err != nil {
		b.report(err)
		return "", err
	}
	if increment {
		_ = b.Refresh(ctx)
	}
	return u, nil
}

// SuggestTags returns tag completions. Failures are swallowed.
func (b *Browser) SuggestTags(ctx context.Context, prefix string) []string {
	tags, err := b.svc.SuggestTags(ctx, prefix)
	if err != nil {
		logger.Debug("tag suggestions unavailable", logger.Err(err))
		return nil
	}
	return tags
}

// Watch refreshes the displayed directory whenever an event touches it, and
// falls back to the root when the displayed directory or one of its
// ancestors is deleted. It returns when ctx is done or events is closed.
func (b *Browser) Watch(ctx context.Context, events <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Apply(ctx, ev)
		}
	}
}

// Apply handles one change event and reports whether the listing was reloaded.
func (b *Browser) Apply(ctx context.Context, ev protocol.Event) bool {
	if ev.Type == protocol.EventDeleted || ev.Type == protocol.EventMoved {
		for _, c := range b.nav.Breadcrumbs() {
			if c.ID != models.RootID && c.ID == ev.NodeID {
				if ev.Type == protocol.EventDeleted {
					_ = b.Open(ctx, models.RootID)
				} else {
					_ = b.Refresh(ctx)
				}
				return true
			}
		}
	}
	if ev.Touches(b.nav.CurrentID()) {
		_ = b.Refresh(ctx)
		return true
	}
	return false
}

// Package resource is the server-side authority over resource trees: it
// validates requests, applies them through the metadata store, derives the
// display access of folders and announces committed changes.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/projectfiles/internal/counter"
	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/pkg/access"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// MaxTagSuggestions caps SuggestTags results.
const MaxTagSuggestions = 20

// ErrInvalidSize is returned when a file is registered with a negative size.
var ErrInvalidSize = errors.New("size must not be negative")

// DefaultAccess applies to top-level nodes created without an explicit level.
const DefaultAccess = models.AccessPublic

// Config tunes the snapshot cache.
type Config struct {
	CacheSize   int
	CacheTTL    time.Duration
	LoadTimeout time.Duration // bounds one shared snapshot read
}

// Listing is the result of ListChildren.
type Listing struct {
	Nodes []models.Node
	Path  []models.Node
}

// FileSpec is the metadata of a file stored by the upload transport.
type FileSpec struct {
	Name        string
	ParentID    string
	Size        int64
	Access      models.Access // empty: inherit from the parent
	Description string
	Tags        []string
	License     string
	Author      string
	UploaderRef string
}

// DownloadLink is a signed URL for one file.
type DownloadLink struct {
	URL       string
	ExpiresAt time.Time
}

// snapshot is an immutable view of one collection.
type snapshot struct {
	idx     *tree.Index
	display map[string]models.DisplayAccess
}

// Service implements the resource operations for every collection.
type Service struct {
	store   metadata.Store
	signer  storage.Signer
	counter counter.Counter
	events  *events.Broadcaster
	cache   *expirable.LRU[string, *snapshot]
	loads   singleflight.Group

	loadTimeout time.Duration

	// versions guards against caching a snapshot read before a mutation
	// that committed while it was loading.
	mu       sync.Mutex
	versions map[string]uint64
}

// New creates a Service.
func New(store metadata.Store, signer storage.Signer, cnt counter.Counter, broadcaster *events.Broadcaster, cfg Config) *Service {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	return &Service{
		store:       store,
		signer:      signer,
		counter:     cnt,
		events:      broadcaster,
		cache:       expirable.NewLRU[string, *snapshot](cfg.CacheSize, nil, cfg.CacheTTL),
		loadTimeout: cfg.LoadTimeout,
		versions:    make(map[string]uint64),
	}
}

// StoreName identifies the metadata backend.
func (s *Service) StoreName() string {
	return s.store.Name()
}

func (s *Service) load(ctx context.Context, c models.Collection) (*snapshot, error) {
	key := c.Key()
	if snap, ok := s.cache.Get(key); ok {
		metrics.RecordCacheLookup(true)
		return snap, nil
	}
	metrics.RecordCacheLookup(false)

	s.mu.Lock()
	version := s.versions[key]
	s.mu.Unlock()

	// Concurrent misses for the same version share one store read. The read
	// is detached from the caller that started it; each caller stops waiting
	// when its own context ends.
	ch := s.loads.DoChan(fmt.Sprintf("%s@%d", key, version), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		nodes, err := s.store.Snapshot(lctx, c)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		idx, err := tree.Build(nodes)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", key, err)
		}
		snap := &snapshot{idx: idx, display: access.DisplayAll(idx)}
		metrics.SetSnapshotSize(string(c.Kind), idx.Len())

		s.mu.Lock()
		if s.versions[key] == version {
			s.cache.Add(key, snap)
		}
		s.mu.Unlock()
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	}
}

func (s *Service) invalidate(c models.Collection) {
	key := c.Key()
	s.mu.Lock()
	s.versions[key]++
	s.cache.Remove(key)
	s.mu.Unlock()
}

// committed finishes a successful mutation.
func (s *Service) committed(c models.Collection, eventType, nodeID string, dirs []string) {
	s.invalidate(c)
	metrics.RecordMutation(eventType, true)
	if s.events != nil {
		s.events.Publish(protocol.Event{
			Type:       eventType,
			Collection: c.Key(),
			NodeID:     nodeID,
			ParentIDs:  dirs,
		})
	}
}

func (s *Service) failed(op string, err error) error {
	metrics.RecordMutation(op, false)
	return err
}

// ListChildren returns the children of parentID and the breadcrumb path to it.
func (s *Service) ListChildren(ctx context.Context, c models.Collection, parentID string) (*Listing, error) {
	snap, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	if !snap.idx.IsFolder(parentID) {
		if _, ok := snap.idx.Get(parentID); ok {
			return nil, fmt.Errorf("%w: %s", metadata.ErrNotFolder, parentID)
		}
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, parentID)
	}
	path, err := snap.idx.Path(parentID)
	if err != nil {
		return nil, err
	}

	nodes := access.Annotate(snap.idx, snap.idx.ChildrenOf(parentID), snap.display)
	s.mergeCounts(ctx, c, nodes)
	return &Listing{Nodes: nodes, Path: access.Annotate(snap.idx, path, snap.display)}, nil
}

// ListAll returns every node of the collection, parents before children.
func (s *Service) ListAll(ctx context.Context, c models.Collection) ([]models.Node, error) {
	snap, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	nodes := access.Annotate(snap.idx, snap.idx.Nodes(), snap.display)
	s.mergeCounts(ctx, c, nodes)
	return nodes, nil
}

// mergeCounts fills DownloadCount of files. A counter outage leaves them at zero.
func (s *Service) mergeCounts(ctx context.Context, c models.Collection, nodes []models.Node) {
	var ids []string
	for i := range nodes {
		if nodes[i].IsFile() {
			ids = append(ids, nodes[i].ID)
		}
	}
	if len(ids) == 0 || s.counter == nil {
		return
	}
	counts, err := s.counter.Counts(ctx, c, ids)
	if err != nil {
		logging.Warn("download counts unavailable", logging.Collection(c.Key()), zap.Error(err))
		return
	}
	for i := range nodes {
		nodes[i].DownloadCount = counts[nodes[i].ID]
	}
}

// CreateFolder adds an empty folder. It inherits the parent's access.
func (s *Service) CreateFolder(ctx context.Context, c models.Collection, name, parentID, uploader string) (*models.Node, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}
	n := models.Node{
		ID:          uuid.NewString(),
		Name:        name,
		Kind:        models.KindFolder,
		ParentID:    parentID,
		CreatedDate: time.Now().UTC(),
		UploaderRef: uploader,
	}
	return s.insert(ctx, c, n)
}

// RegisterFile records a stored file under parentID.
func (s *Service) RegisterFile(ctx context.Context, c models.Collection, in FileSpec) (*models.Node, error) {
	if err := models.ValidateName(in.Name); err != nil {
		return nil, err
	}
	if in.Access != "" && !in.Access.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAccess, in.Access)
	}
	if in.Size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, in.Size)
	}
	n := models.Node{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Kind:        models.KindFile,
		ParentID:    in.ParentID,
		Access:      in.Access,
		Description: in.Description,
		CreatedDate: time.Now().UTC(),
		UploaderRef: in.UploaderRef,
		Size:        in.Size,
		Tags:        in.Tags,
		License:     in.License,
		Author:      in.Author,
	}
	return s.insert(ctx, c, n)
}

func (s *Service) insert(ctx context.Context, c models.Collection, n models.Node) (*models.Node, error) {
	snap, err := s.load(ctx, c)
	if err != nil {
		return nil, s.failed(protocol.EventCreated, err)
	}
	if n.Access == "" {
		n.Access = DefaultAccess
		if parent, ok := snap.idx.Get(n.ParentID); ok {
			n.Access = parent.Access
		}
	}
	if err := s.store.Insert(ctx, c, n); err != nil {
		return nil, s.failed(protocol.EventCreated, fmt.Errorf("create %q: %w", n.Name, err))
	}

	logging.Info("node created",
		logging.Collection(c.Key()),
		logging.Node(n.ID),
		zap.String("kind", string(n.Kind)),
		zap.String("parent_id", n.ParentID))
	s.committed(c, protocol.EventCreated, n.ID, withAncestors(snap.idx, n.ParentID))
	n.Display = n.Access.Display()
	return &n, nil
}

// Move reparents id under newParentID. Moving into the current parent succeeds unchanged.
func (s *Service) Move(ctx context.Context, c models.Collection, id, newParentID string) error {
	snap, err := s.load(ctx, c)
	if err != nil {
		return s.failed(protocol.EventMoved, err)
	}
	oldParent, err := s.store.Move(ctx, c, id, newParentID)
	if err != nil {
		return s.failed(protocol.EventMoved, fmt.Errorf("move %s: %w", id, err))
	}
	if oldParent == newParentID {
		metrics.RecordMutation(protocol.EventMoved, true)
		return nil
	}

	logging.Info("node moved",
		logging.Collection(c.Key()),
		logging.Node(id),
		zap.String("from", oldParent),
		zap.String("to", newParentID))
	dirs := union(withAncestors(snap.idx, oldParent), withAncestors(snap.idx, newParentID))
	s.committed(c, protocol.EventMoved, id, dirs)
	return nil
}

// ChangeAccess sets level on id and every node below it.
func (s *Service) ChangeAccess(ctx context.Context, c models.Collection, id string, level models.Access) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidAccess, level)
	}
	snap, err := s.load(ctx, c)
	if err != nil {
		return s.failed(protocol.EventAccess, err)
	}
	changed, err := s.store.SetAccess(ctx, c, id, level)
	if err != nil {
		return s.failed(protocol.EventAccess, fmt.Errorf("change access of %s: %w", id, err))
	}

	logging.Info("access changed",
		logging.Collection(c.Key()),
		logging.Node(id),
		zap.String("access", string(level)),
		zap.Int("nodes", changed))

	// Listings above id show new display values; listings below show new levels.
	dirs := []string{}
	if n, ok := snap.idx.Get(id); ok {
		dirs = withAncestors(snap.idx, n.ParentID)
		if n.IsFolder() {
			dirs = append(dirs, id)
		}
		for _, d := range snap.idx.Descendants(id) {
			if d.IsFolder() {
				dirs = append(dirs, d.ID)
			}
		}
	}
	s.committed(c, protocol.EventAccess, id, dirs)
	return nil
}

// Edit renames and/or redescribes a node. Nil fields are left unchanged.
func (s *Service) Edit(ctx context.Context, c models.Collection, id string, name, description *string) (*models.Node, error) {
	if name != nil {
		if err := models.ValidateName(*name); err != nil {
			return nil, err
		}
	}
	n, err := s.store.Update(ctx, c, id, metadata.Patch{Name: name, Description: description})
	if err != nil {
		return nil, s.failed(protocol.EventEdited, fmt.Errorf("edit %s: %w", id, err))
	}
	s.committed(c, protocol.EventEdited, id, []string{n.ParentID})

	snap, err := s.load(ctx, c)
	if err == nil {
		n.Display = snap.display[id]
	}
	return n, nil
}

// Delete removes id and its whole subtree.
func (s *Service) Delete(ctx context.Context, c models.Collection, id string) error {
	snap, err := s.load(ctx, c)
	if err != nil {
		return s.failed(protocol.EventDeleted, err)
	}
	removed, err := s.store.Delete(ctx, c, id)
	if err != nil {
		return s.failed(protocol.EventDeleted, fmt.Errorf("delete %s: %w", id, err))
	}

	logging.Info("subtree deleted",
		logging.Collection(c.Key()),
		logging.Node(id),
		zap.Int("nodes", len(removed)))

	if s.counter != nil {
		if err := s.counter.Forget(ctx, c, removed); err != nil {
			logging.Warn("cannot drop download counts", logging.Collection(c.Key()), zap.Error(err))
		}
	}
	dirs := []string{models.RootID}
	if n, ok := snap.idx.Get(id); ok {
		dirs = withAncestors(snap.idx, n.ParentID)
	}
	s.committed(c, protocol.EventDeleted, id, dirs)
	return nil
}

// DownloadURL signs a link for a file, counting the download when increment is set.
func (s *Service) DownloadURL(ctx context.Context, c models.Collection, id string, increment bool) (*DownloadLink, error) {
	n, err := s.store.Get(ctx, c, id)
	if err != nil {
		return nil, err
	}
	if !n.IsFile() {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFile, id)
	}

	url, expires, err := s.signer.Sign(ctx, c, *n)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", id, err)
	}
	if increment && s.counter != nil {
		if _, err := s.counter.Increment(ctx, c, id); err != nil {
			return nil, fmt.Errorf("count download of %s: %w", id, err)
		}
	}
	metrics.RecordDownloadURL(increment)
	return &DownloadLink{URL: url, ExpiresAt: expires}, nil
}

// SuggestTags returns distinct tags of the collection starting with prefix,
// case-insensitively, in order.
func (s *Service) SuggestTags(ctx context.Context, c models.Collection, prefix string) ([]string, error) {
	snap, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	seen := make(map[string]bool)
	tags := []string{}
	for _, n := range snap.idx.Nodes() {
		for _, tag := range n.Tags {
			if seen[tag] || !strings.HasPrefix(strings.ToLower(tag), prefix) {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		a, b := strings.ToLower(tags[i]), strings.ToLower(tags[j])
		if a != b {
			return a < b
		}
		return tags[i] < tags[j]
	})
	if len(tags) > MaxTagSuggestions {
		tags = tags[:MaxTagSuggestions]
	}
	return tags, nil
}

// withAncestors returns dir and every directory above it, root last.
func withAncestors(idx *tree.Index, dir string) []string {
	dirs := []string{dir}
	if dir == models.RootID {
		return dirs
	}
	ancestors, err := idx.Ancestors(dir)
	if err != nil {
		return append(dirs, models.RootID)
	}
	for _, a := range ancestors {
		dirs = append(dirs, a.ID)
	}
	return append(dirs, models.RootID)
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(a, b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// IsValidation reports whether err was caused by bad input rather than by
// the state of the tree.
func IsValidation(err error) bool {
	return errors.Is(err, models.ErrInvalidName) ||
		errors.Is(err, models.ErrInvalidAccess) ||
		errors.Is(err, models.ErrInvalidKind) ||
		errors.Is(err, ErrInvalidSize)
}

// Package storetest holds behaviour tests every metadata.Store must pass.
package storetest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// Factory returns an empty store for one test.
type Factory func(t *testing.T) metadata.Store

// Run executes the suite against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, metadata.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertRejectsBadParent", testInsertRejectsBadParent},
		{"MoveAcyclic", testMoveAcyclic},
		{"MoveIntoCurrentParent", testMoveIntoCurrentParent},
		{"SetAccessCascades", testSetAccessCascades},
		{"DeleteRemovesSubtree", testDeleteRemovesSubtree},
		{"Update", testUpdate},
		{"CollectionsAreIsolated", testCollectionsAreIsolated},
		{"RootIsImmutable", testRootIsImmutable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

// fixture ids are random so stores shared between subtests never collide.
type fixture struct {
	c                  models.Collection
	docs, drafts, old  string
	media              string
	draft, notes, logo string
}

func seed(t *testing.T, s metadata.Store) fixture {
	t.Helper()
	f := fixture{
		c:      models.Collection{ProjectID: uuid.NewString(), Kind: models.CollectionFiles},
		docs:   uuid.NewString(),
		drafts: uuid.NewString(),
		old:    uuid.NewString(),
		media:  uuid.NewString(),
		draft:  uuid.NewString(),
		notes:  uuid.NewString(),
		logo:   uuid.NewString(),
	}
	now := time.Now().UTC().Truncate(time.Second)
	nodes := []models.Node{
		{ID: f.docs, Name: "Docs", Kind: models.KindFolder},
		{ID: f.drafts, Name: "Drafts", Kind: models.KindFolder, ParentID: f.docs},
		{ID: f.old, Name: "Old", Kind: models.KindFolder, ParentID: f.drafts},
		{ID: f.media, Name: "Media", Kind: models.KindFolder},
		{ID: f.draft, Name: "draft.pdf", Kind: models.KindFile, ParentID: f.docs, Size: 2048, Tags: []string{"report"}},
		{ID: f.notes, Name: "notes.txt", Kind: models.KindFile, ParentID: f.old, Size: 12},
		{ID: f.logo, Name: "logo.png", Kind: models.KindFile, ParentID: f.media, Size: 99},
	}
	for _, n := range nodes {
		n.Access = models.AccessPublic
		n.CreatedDate = now
		n.UploaderRef = "u1"
		if err := s.Insert(context.Background(), f.c, n); err != nil {
			t.Fatalf("Insert %s: %v", n.Name, err)
		}
	}
	return f
}

func snapshotIndex(t *testing.T, s metadata.Store, c models.Collection) *tree.Index {
	t.Helper()
	nodes, err := s.Snapshot(context.Background(), c)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	idx, err := tree.Build(nodes)
	if err != nil {
		t.Fatalf("snapshot is not a valid forest: %v", err)
	}
	return idx
}

func testInsertAndGet(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	n, err := s.Get(context.Background(), f.c, f.draft)
	if err != nil {
		t.Fatal(err)
	}
	if n.Name != "draft.pdf" || n.Kind != models.KindFile || n.ParentID != f.docs || n.Size != 2048 {
		t.Errorf("Get = %+v", n)
	}
	if len(n.Tags) != 1 || n.Tags[0] != "report" {
		t.Errorf("tags = %v", n.Tags)
	}
	if _, err := s.Get(context.Background(), f.c, uuid.NewString()); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("Get(unknown) = %v", err)
	}
	if idx := snapshotIndex(t, s, f.c); idx.Len() != 7 {
		t.Errorf("snapshot has %d nodes, want 7", idx.Len())
	}
}

func testInsertRejectsBadParent(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()
	orphan := models.Node{ID: uuid.NewString(), Name: "x", Kind: models.KindFolder, ParentID: uuid.NewString(), Access: models.AccessPublic}
	if err := s.Insert(ctx, f.c, orphan); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("insert under unknown parent: %v", err)
	}
	underFile := models.Node{ID: uuid.NewString(), Name: "x", Kind: models.KindFile, ParentID: f.draft, Access: models.AccessPublic}
	if err := s.Insert(ctx, f.c, underFile); !errors.Is(err, metadata.ErrNotFolder) {
		t.Errorf("insert under file: %v", err)
	}
}

func testMoveAcyclic(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()

	for _, target := range []string{f.docs, f.drafts, f.old} {
		if _, err := s.Move(ctx, f.c, f.docs, target); !errors.Is(err, metadata.ErrCycle) {
			t.Errorf("move Docs into %s: %v", target, err)
		}
	}
	if _, err := s.Move(ctx, f.c, f.docs, f.logo); !errors.Is(err, metadata.ErrNotFolder) {
		t.Errorf("move into file: %v", err)
	}
	if _, err := s.Move(ctx, f.c, uuid.NewString(), f.media); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("move unknown: %v", err)
	}

	old, err := s.Move(ctx, f.c, f.drafts, f.media)
	if err != nil {
		t.Fatal(err)
	}
	if old != f.docs {
		t.Errorf("old parent = %q, want Docs", old)
	}
	idx := snapshotIndex(t, s, f.c)
	if !idx.IsDescendant(f.notes, f.media) || idx.IsDescendant(f.notes, f.docs) {
		t.Error("subtree did not follow the moved folder")
	}

	if _, err := s.Move(ctx, f.c, f.draft, models.RootID); err != nil {
		t.Fatalf("move to root: %v", err)
	}
	if n, _ := s.Get(ctx, f.c, f.draft); n.ParentID != models.RootID {
		t.Errorf("draft parent = %q", n.ParentID)
	}
}

func testMoveIntoCurrentParent(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	old, err := s.Move(context.Background(), f.c, f.draft, f.docs)
	if err != nil {
		t.Fatalf("no-op move: %v", err)
	}
	if old != f.docs {
		t.Errorf("old parent = %q", old)
	}
}

func testSetAccessCascades(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()

	n, err := s.SetAccess(ctx, f.c, f.docs, models.AccessTeam)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("changed %d nodes, want 5", n)
	}

	idx := snapshotIndex(t, s, f.c)
	below := append(idx.Descendants(f.docs), mustGet(t, idx, f.docs))
	for _, d := range below {
		if d.Access != models.AccessTeam {
			t.Errorf("%s access = %q, want team", d.Name, d.Access)
		}
	}
	for _, id := range []string{f.media, f.logo} {
		if got := mustGet(t, idx, id).Access; got != models.AccessPublic {
			t.Errorf("unrelated node changed to %q", got)
		}
	}

	if _, err := s.SetAccess(ctx, f.c, f.docs, "mixed"); !errors.Is(err, models.ErrInvalidAccess) {
		t.Errorf("mixed accepted: %v", err)
	}
}

func testDeleteRemovesSubtree(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()

	removed, err := s.Delete(ctx, f.c, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(removed)
	want := []string{f.docs, f.drafts, f.old, f.draft, f.notes}
	sort.Strings(want)
	if len(removed) != len(want) {
		t.Fatalf("removed %d ids, want %d", len(removed), len(want))
	}
	for i := range want {
		if removed[i] != want[i] {
			t.Errorf("removed[%d] = %s, want %s", i, removed[i], want[i])
		}
	}

	idx := snapshotIndex(t, s, f.c)
	if idx.Len() != 2 {
		t.Errorf("remaining = %d, want 2", idx.Len())
	}
	for _, id := range want {
		if _, err := s.Get(ctx, f.c, id); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("%s still reachable: %v", id, err)
		}
	}
	if _, err := s.Delete(ctx, f.c, f.docs); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func testUpdate(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()
	name, desc := "final.pdf", "signed copy"

	n, err := s.Update(ctx, f.c, f.draft, metadata.Patch{Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if n.Name != name || n.Description != "" {
		t.Errorf("after rename: %+v", n)
	}
	n, err = s.Update(ctx, f.c, f.draft, metadata.Patch{Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if n.Name != name || n.Description != desc || n.Kind != models.KindFile {
		t.Errorf("after describe: %+v", n)
	}
	if _, err := s.Update(ctx, f.c, uuid.NewString(), metadata.Patch{Name: &name}); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("update unknown: %v", err)
	}
}

func testCollectionsAreIsolated(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()
	other := models.Collection{ProjectID: f.c.ProjectID, Kind: models.CollectionMaterials}

	nodes, err := s.Snapshot(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Errorf("materials sees %d nodes of files", len(nodes))
	}
	if _, err := s.Get(ctx, other, f.docs); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("cross-collection Get: %v", err)
	}
	if _, err := s.Delete(ctx, other, f.docs); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("cross-collection Delete: %v", err)
	}
}

func testRootIsImmutable(t *testing.T, s metadata.Store) {
	f := seed(t, s)
	ctx := context.Background()
	if _, err := s.Delete(ctx, f.c, models.RootID); !errors.Is(err, metadata.ErrRootImmutable) {
		t.Errorf("delete root: %v", err)
	}
	if _, err := s.Move(ctx, f.c, models.RootID, f.docs); !errors.Is(err, metadata.ErrRootImmutable) {
		t.Errorf("move root: %v", err)
	}
	if _, err := s.SetAccess(ctx, f.c, models.RootID, models.AccessTeam); !errors.Is(err, metadata.ErrRootImmutable) {
		t.Errorf("set root access: %v", err)
	}
}

func mustGet(t *testing.T, idx *tree.Index, id string) models.Node {
	t.Helper()
	n, ok := idx.Get(id)
	if !ok {
		t.Fatalf("missing %s", id)
	}
	return n
}

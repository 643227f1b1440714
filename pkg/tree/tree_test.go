package tree

import (
	"errors"
	"testing"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

func folder(id, parent, name string) models.Node {
	return models.Node{ID: id, ParentID: parent, Name: name, Kind: models.KindFolder, Access: models.AccessPublic}
}

func file(id, parent, name string) models.Node {
	return models.Node{ID: id, ParentID: parent, Name: name, Kind: models.KindFile, Access: models.AccessPublic}
}

// docs/, docs/drafts/, docs/drafts/old/, docs/draft.pdf, readme.txt, media/
func sample(t *testing.T) *Index {
	t.Helper()
	idx, err := Build([]models.Node{
		file("f2", "d2", "notes.txt"),
		folder("d1", "", "docs"),
		folder("d2", "d1", "drafts"),
		folder("d3", "d2", "old"),
		file("f1", "d1", "draft.pdf"),
		file("f3", "", "readme.txt"),
		folder("m", "", "media"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestBuildRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		nodes []models.Node
		want  error
	}{
		{"duplicate id", []models.Node{folder("a", "", "a"), folder("a", "", "b")}, ErrDuplicate},
		{"missing parent", []models.Node{file("f", "nope", "f")}, ErrOrphan},
		{"file parent", []models.Node{file("f", "", "f"), file("g", "f", "g")}, ErrNotFolder},
		{"cycle", []models.Node{folder("a", "b", "a"), folder("b", "a", "b")}, ErrCycle},
		{"self parent", []models.Node{folder("a", "a", "a")}, ErrCycle},
	}
	for _, tt := range tests {
		_, err := Build(tt.nodes)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Build error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestChildrenOfOrdering(t *testing.T) {
	idx := sample(t)

	got := models.IDs(idx.ChildrenOf(models.RootID))
	want := []string{"d1", "m", "f3"}
	if len(got) != len(want) {
		t.Fatalf("ChildrenOf(root) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ChildrenOf(root)[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if n := len(idx.ChildrenOf("f1")); n != 0 {
		t.Errorf("ChildrenOf(file) returned %d nodes", n)
	}
}

func TestPath(t *testing.T) {
	idx := sample(t)

	tests := []struct {
		id   string
		want []string
	}{
		{"", []string{""}},
		{"d1", []string{"", "d1"}},
		{"d2", []string{"", "d1", "d2"}},
		{"d3", []string{"", "d1", "d2", "d3"}},
		{"f2", []string{"", "d1", "d2", "f2"}},
	}
	for _, tt := range tests {
		path, err := idx.Path(tt.id)
		if err != nil {
			t.Fatalf("Path(%q): %v", tt.id, err)
		}
		got := models.IDs(path)
		if len(got) != len(tt.want) {
			t.Errorf("Path(%q) = %v, want %v", tt.id, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Path(%q)[%d] = %q, want %q", tt.id, i, got[i], tt.want[i])
			}
		}
		if path[0].Name != "" || path[0].ID != "" {
			t.Errorf("Path(%q) root entry = %+v", tt.id, path[0])
		}
	}

	if _, err := idx.Path("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Path(missing) error = %v", err)
	}
}

func TestIsDescendant(t *testing.T) {
	idx := sample(t)

	tests := []struct {
		id, ancestor string
		want         bool
	}{
		{"d3", "d1", true},
		{"d3", "d2", true},
		{"f2", "d1", true},
		{"d1", "d3", false},
		{"d1", "d1", false},
		{"m", "d1", false},
		{"f3", "", true},
		{"missing", "", false},
	}
	for _, tt := range tests {
		if got := idx.IsDescendant(tt.id, tt.ancestor); got != tt.want {
			t.Errorf("IsDescendant(%q, %q) = %v, want %v", tt.id, tt.ancestor, got, tt.want)
		}
	}
}

func TestDescendants(t *testing.T) {
	idx := sample(t)

	got := map[string]bool{}
	for _, n := range idx.Descendants("d1") {
		got[n.ID] = true
	}
	for _, id := range []string{"d2", "d3", "f1", "f2"} {
		if !got[id] {
			t.Errorf("Descendants(d1) missing %s", id)
		}
	}
	if len(got) != 4 {
		t.Errorf("Descendants(d1) = %d nodes, want 4", len(got))
	}
	if len(idx.Nodes()) != idx.Len() {
		t.Errorf("Nodes() = %d, Len() = %d", len(idx.Nodes()), idx.Len())
	}
}

func TestReparent(t *testing.T) {
	idx := sample(t)

	if err := idx.Reparent("d1", "d3"); !errors.Is(err, ErrCycle) {
		t.Errorf("move into descendant: %v", err)
	}
	if err := idx.Reparent("d1", "d1"); !errors.Is(err, ErrCycle) {
		t.Errorf("move into self: %v", err)
	}
	if err := idx.Reparent("d1", "f3"); !errors.Is(err, ErrNotFolder) {
		t.Errorf("move into file: %v", err)
	}
	if err := idx.Reparent("d2", "d1"); err != nil {
		t.Errorf("move into current parent: %v", err)
	}
	if err := idx.Reparent("d2", "m"); err != nil {
		t.Fatalf("Reparent: %v", err)
	}

	n, _ := idx.Get("d2")
	if n.ParentID != "m" {
		t.Errorf("ParentID = %q, want m", n.ParentID)
	}
	if !idx.IsDescendant("d3", "m") || idx.IsDescendant("d3", "d1") {
		t.Error("subtree did not follow its root")
	}
	if len(idx.ChildrenOf("d1")) != 1 {
		t.Errorf("old parent still lists moved child")
	}
}

func TestRemoveSubtree(t *testing.T) {
	idx := sample(t)

	removed, err := idx.RemoveSubtree("d1")
	if err != nil {
		t.Fatalf("RemoveSubtree: %v", err)
	}
	if len(removed) != 5 {
		t.Errorf("removed %v, want 5 ids", removed)
	}
	for _, id := range []string{"d1", "d2", "d3", "f1", "f2"} {
		if _, ok := idx.Get(id); ok {
			t.Errorf("%s still present", id)
		}
	}
	if idx.Len() != 2 {
		t.Errorf("Len = %d, want 2", idx.Len())
	}
}

func TestUpdateKeepsIdentity(t *testing.T) {
	idx := sample(t)

	err := idx.Update("f1", func(n *models.Node) {
		n.Name = "final.pdf"
		n.Kind = models.KindFolder
		n.ParentID = ""
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	n, _ := idx.Get("f1")
	if n.Name != "final.pdf" || n.Kind != models.KindFile || n.ParentID != "d1" {
		t.Errorf("after Update: %+v", n)
	}
}

func findView(v *View, id string) *View {
	if v.ID == id {
		return v
	}
	for _, c := range v.Children {
		if found := findView(c, id); found != nil {
			return found
		}
	}
	return nil
}

func TestBuildView(t *testing.T) {
	idx := sample(t)

	root, err := idx.BuildView(models.RootID)
	if err != nil {
		t.Fatalf("BuildView: %v", err)
	}
	if got := CountNodes(root); got != idx.Len()+1 {
		t.Errorf("CountNodes = %d, want %d", got, idx.Len()+1)
	}

	empty := findView(root, "m")
	if empty == nil || empty.Children == nil {
		t.Errorf("empty folder view must have non-nil children: %+v", empty)
	}
	leaf := findView(root, "f3")
	if leaf == nil || leaf.Children != nil {
		t.Errorf("file view must have nil children: %+v", leaf)
	}

	sub, err := idx.BuildView("d2")
	if err != nil {
		t.Fatalf("BuildView(d2): %v", err)
	}
	if got := CountNodes(sub); got != 3 {
		t.Errorf("CountNodes(d2) = %d, want 3", got)
	}
	if _, err := idx.BuildView("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("BuildView(missing) = %v", err)
	}
}

func TestBuildFilteredView(t *testing.T) {
	idx := sample(t)

	// Rejecting d2 drops its whole subtree, d3 and f2 included.
	v, err := idx.BuildFilteredView(models.RootID, func(n models.Node) bool {
		return n.IsFolder() && n.ID != "d2"
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"d2", "d3", "f1", "f2", "f3"} {
		if findView(v, id) != nil {
			t.Errorf("%s should be filtered out", id)
		}
	}
	for _, id := range []string{"d1", "m"} {
		if findView(v, id) == nil {
			t.Errorf("%s missing from filtered view", id)
		}
	}
	if got := CountNodes(v); got != 3 {
		t.Errorf("CountNodes = %d, want 3", got)
	}
}

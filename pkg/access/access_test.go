package access

import (
	"context"
	"errors"
	"testing"

	"github.com/fruitsalade/projectfiles/pkg/bulk"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

func n(id, parent string, kind models.Kind, a models.Access) models.Node {
	return models.Node{ID: id, ParentID: parent, Name: id, Kind: kind, Access: a}
}

const (
	F = models.KindFile
	D = models.KindFolder
)

func sample(t *testing.T) *tree.Index {
	t.Helper()
	idx, err := tree.Build([]models.Node{
		n("same", "", D, models.AccessTeam), // two public files
		n("s1", "same", F, models.AccessPublic),
		n("s2", "same", F, models.AccessPublic),

		n("mix", "", D, models.AccessPublic), // public + nested team file
		n("m1", "mix", F, models.AccessPublic),
		n("sub", "mix", D, models.AccessPublic),
		n("m2", "sub", F, models.AccessTeam),

		n("empty", "", D, models.AccessInstructors),

		n("foldersonly", "", D, models.AccessUsers), // folder children, no files
		n("inner", "foldersonly", D, models.AccessTeam),

		n("top", "", F, models.AccessUsers),
	})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestDisplay(t *testing.T) {
	idx := sample(t)
	tests := []struct {
		id   string
		want models.DisplayAccess
	}{
		{"same", models.AccessPublic.Display()},
		{"mix", models.Mixed},
		{"sub", models.AccessTeam.Display()},
		{"empty", models.AccessInstructors.Display()},
		{"foldersonly", models.AccessUsers.Display()},
		{"inner", models.AccessTeam.Display()},
		{"top", models.AccessUsers.Display()},
		{"s1", models.AccessPublic.Display()},
		{"missing", ""},
	}

	all := DisplayAll(idx)
	for _, tt := range tests {
		if got := Display(idx, tt.id); got != tt.want {
			t.Errorf("Display(%s) = %q, want %q", tt.id, got, tt.want)
		}
		if tt.id == "missing" {
			continue
		}
		if got := all[tt.id]; got != tt.want {
			t.Errorf("DisplayAll[%s] = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestAnnotate(t *testing.T) {
	idx := sample(t)
	out := Annotate(idx, idx.ChildrenOf("mix"), nil)
	for _, node := range out {
		if node.Display == "" {
			t.Errorf("%s not annotated", node.ID)
		}
	}
}

type recorder struct {
	calls []string
	fail  string
}

func (r *recorder) ChangeAccess(ctx context.Context, id string, level models.Access) error {
	r.calls = append(r.calls, id+"="+string(level))
	if id == r.fail {
		return errors.New("denied")
	}
	return nil
}

func TestManager_RejectsInvalidLevelBeforeRequests(t *testing.T) {
	for _, level := range []models.Access{"", "mixed", "everyone"} {
		rec := &recorder{}
		m := NewManager(rec, bulk.NewExecutor())
		_, err := m.ChangeAccess(context.Background(), []models.Node{{ID: "a"}}, level)
		if !errors.Is(err, models.ErrInvalidAccess) {
			t.Errorf("level %q: err = %v", level, err)
		}
		if len(rec.calls) != 0 {
			t.Errorf("level %q: %d requests issued", level, len(rec.calls))
		}
	}
}

func TestManager_OneRequestPerNode(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec, bulk.NewExecutor())
	nodes := []models.Node{{ID: "a"}, {ID: "b"}}

	report, err := m.ChangeAccess(context.Background(), nodes, models.AccessTeam)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 2 || rec.calls[0] != "a=team" || rec.calls[1] != "b=team" {
		t.Errorf("calls = %v", rec.calls)
	}
	if len(report.Applied) != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestManager_StopsAtFirstFailure(t *testing.T) {
	rec := &recorder{fail: "a"}
	m := NewManager(rec, bulk.NewExecutor())

	report, err := m.ChangeAccess(context.Background(), []models.Node{{ID: "a"}, {ID: "b"}}, models.AccessUsers)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(rec.calls) != 1 || report.Failed != "a" {
		t.Errorf("calls = %v, report = %+v", rec.calls, report)
	}
}

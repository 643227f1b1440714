package memory

import (
	"context"
	"testing"

	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metadata/storetest"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metadata.Store { return New() })
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := models.Collection{ProjectID: "p", Kind: models.CollectionFiles}
	if err := s.Insert(ctx, c, models.Node{ID: "f", Name: "f", Kind: models.KindFile, Access: models.AccessPublic, Tags: []string{"a"}}); err != nil {
		t.Fatal(err)
	}

	nodes, _ := s.Snapshot(ctx, c)
	nodes[0].Name = "changed"
	nodes[0].Tags[0] = "changed"

	n, _ := s.Get(ctx, c, "f")
	if n.Name != "f" || n.Tags[0] != "a" {
		t.Errorf("snapshot aliases stored node: %+v", n)
	}
}

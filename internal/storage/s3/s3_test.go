package s3

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

func TestPresign(t *testing.T) {
	p, err := New(context.Background(), Config{
		Endpoint:     "http://localhost:9000",
		Bucket:       "resources",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Region:       "us-east-1",
		UsePathStyle: true,
		TTL:          10 * time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	c := models.Collection{ProjectID: "p1", Kind: models.CollectionFiles}
	link, expires, err := p.Sign(context.Background(), c, models.Node{ID: "n1", Name: "draft.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "localhost:9000" || u.Path != "/resources/p1/files/n1" {
		t.Errorf("link = %s", link)
	}
	q := u.Query()
	if q.Get("X-Amz-Expires") != "600" {
		t.Errorf("X-Amz-Expires = %q", q.Get("X-Amz-Expires"))
	}
	if !strings.Contains(q.Get("response-content-disposition"), "draft.pdf") {
		t.Errorf("disposition = %q", q.Get("response-content-disposition"))
	}
	if time.Until(expires) <= 0 {
		t.Error("expiry in the past")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(context.Background(), Config{TTL: time.Minute}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Error("expected error without ttl")
	}
}

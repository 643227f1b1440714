// Package storage issues download links for file nodes. The bytes themselves
// live with the upload transport; this package only knows where they are.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

// Signer turns a file node into a time-limited download URL.
type Signer interface {
	Sign(ctx context.Context, c models.Collection, n models.Node) (string, time.Time, error)
}

// ObjectKey returns the blob key of a file node: project/collection/id.
func ObjectKey(c models.Collection, nodeID string) string {
	return c.ProjectID + "/" + string(c.Kind) + "/" + nodeID
}

// LinkClaims are carried by links from a LinkSigner.
type LinkClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// LinkSigner builds links under a base URL with an HS256 token that a blob
// server can check with Verify.
type LinkSigner struct {
	base   string
	secret []byte
	ttl    time.Duration
}

var _ Signer = (*LinkSigner)(nil)

// NewLinkSigner returns a signer for links under baseURL valid for ttl.
func NewLinkSigner(baseURL, secret string, ttl time.Duration) (*LinkSigner, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse download base url: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("download url ttl must be positive, got %v", ttl)
	}
	return &LinkSigner{
		base:   strings.TrimRight(baseURL, "/"),
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

func (s *LinkSigner) Sign(ctx context.Context, c models.Collection, n models.Node) (string, time.Time, error) {
	key := ObjectKey(c, n.ID)
	expires := time.Now().Add(s.ttl)
	claims := &LinkClaims{
		Name: n.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign link: %w", err)
	}

	q := url.Values{}
	q.Set("token", token)
	return s.base + "/" + key + "?" + q.Encode(), expires, nil
}

// Verify checks a link token and returns the object key it grants.
func (s *LinkSigner) Verify(token string) (string, error) {
	claims := &LinkClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

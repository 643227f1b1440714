package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fruitsalade/projectfiles/pkg/protocol"
)

func protected(t *testing.T, a *Auth) (http.Handler, *[]*Claims) {
	t.Helper()
	var seen []*Claims
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, GetClaims(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestMiddleware(t *testing.T) {
	a := New("test-secret")
	valid, _, err := a.IssueToken("alice", []string{"p1"}, false, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, _, _ := a.IssueToken("alice", []string{"p1"}, false, -time.Minute)
	foreign, _, _ := New("other-secret").IssueToken("mallory", []string{"*"}, true, time.Hour)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + valid, "", http.StatusNoContent},
		{"query fallback", "", valid, http.StatusNoContent},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, seen := protected(t, a)
			target := "/x"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusNoContent {
				if len(*seen) != 1 || (*seen)[0].Username != "alice" {
					t.Errorf("claims = %+v", *seen)
				}
				return
			}
			var env protocol.Envelope
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatal(err)
			}
			if !env.Err || env.ErrMsg == "" {
				t.Errorf("envelope = %+v", env)
			}
		})
	}
}

func TestRejectsNonHMAC(t *testing.T) {
	a := New("test-secret")
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "eve"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.validateToken(s); err == nil {
		t.Error("unsigned token accepted")
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		claims  *Claims
		project string
		allowed bool
	}{
		{"no claims", nil, "p1", false},
		{"listed", &Claims{Projects: []string{"p1", "p2"}}, "p2", true},
		{"unlisted", &Claims{Projects: []string{"p1"}}, "p3", false},
		{"wildcard", &Claims{Projects: []string{AllProjects}}, "p3", true},
		{"admin", &Claims{IsAdmin: true}, "p9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.claims != nil {
				ctx = WithClaims(ctx, tt.claims)
			}
			err := Authorize(ctx, tt.project)
			if tt.allowed && err != nil {
				t.Errorf("denied: %v", err)
			}
			if !tt.allowed && !errors.Is(err, ErrForbidden) {
				t.Errorf("err = %v, want ErrForbidden", err)
			}
		})
	}
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(ctx context.Context, raw string) (*oidc.IDToken, error) {
	return nil, errors.New("unknown issuer")
}

func TestOIDCFallbackRejects(t *testing.T) {
	a := New("test-secret")
	a.SetOIDC(newOIDCProvider(rejectVerifier{}, OIDCConfig{}))
	if !a.HasOIDC() {
		t.Fatal("HasOIDC = false")
	}

	h, seen := protected(t, a)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer id-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || len(*seen) != 0 {
		t.Errorf("status = %d, handler calls = %d", rec.Code, len(*seen))
	}

	// HS256 tokens still pass first.
	valid, _, _ := a.IssueToken("bob", nil, true, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("jwt with oidc enabled: status %d", rec.Code)
	}
}

func TestStringList(t *testing.T) {
	if got := stringList("p1"); len(got) != 1 || got[0] != "p1" {
		t.Errorf("string: %v", got)
	}
	if got := stringList([]interface{}{"a", 3, "b"}); len(got) != 2 || got[1] != "b" {
		t.Errorf("list: %v", got)
	}
	if got := stringList(nil); got != nil {
		t.Errorf("nil: %v", got)
	}
}

func TestNewOIDCProviderDisabled(t *testing.T) {
	p, err := NewOIDCProvider(context.Background(), OIDCConfig{})
	if err != nil || p != nil {
		t.Errorf("NewOIDCProvider(empty) = %v, %v", p, err)
	}
}

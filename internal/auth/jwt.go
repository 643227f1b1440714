// Package auth provides bearer-token authentication middleware with metrics.
//
// It decides only whether a caller may touch a project at all; finer
// authorization belongs to the surrounding platform.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// AllProjects in a token's project list grants every project.
const AllProjects = "*"

const issuer = "projectfiles"

// ErrForbidden is returned when the caller may not touch a project.
var ErrForbidden = errors.New("access to project denied")

// Claims holds token claims.
type Claims struct {
	Username string   `json:"username"`
	Projects []string `json:"projects,omitempty"`
	IsAdmin  bool     `json:"is_admin"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the claims cover projectID.
func (c *Claims) CanAccess(projectID string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin || slices.Contains(c.Projects, AllProjects) || slices.Contains(c.Projects, projectID)
}

// Auth validates bearer tokens.
type Auth struct {
	secret []byte
	oidc   *OIDCProvider
}

// New creates a new Auth handler.
func New(jwtSecret string) *Auth {
	return &Auth{secret: []byte(jwtSecret)}
}

// SetOIDC enables OIDC ID tokens as a second accepted token type.
func (a *Auth) SetOIDC(p *OIDCProvider) {
	a.oidc = p
}

// HasOIDC reports whether OIDC tokens are accepted.
func (a *Auth) HasOIDC() bool {
	return a.oidc != nil
}

// IssueToken signs an HS256 token for username covering projects.
func (a *Auth) IssueToken(username string, projects []string, isAdmin bool, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		Projects: projects,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// Middleware returns HTTP middleware that validates bearer tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt("none", false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.validateToken(tokenStr)
		if err == nil {
			metrics.RecordAuthAttempt("jwt", true)
		} else if a.oidc != nil {
			var oidcErr error
			claims, oidcErr = a.oidc.ValidateToken(r.Context(), tokenStr)
			metrics.RecordAuthAttempt("oidc", oidcErr == nil)
			if oidcErr != nil {
				logging.Debug("token rejected",
					zap.NamedError("jwt", err),
					zap.NamedError("oidc", oidcErr))
			}
			err = oidcErr
		} else {
			metrics.RecordAuthAttempt("jwt", false)
		}
		if err != nil {
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		logging.Annotate(r.Context(), zap.String("user", claims.Username))
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// Authorize fails with ErrForbidden unless the caller in ctx covers projectID.
func Authorize(ctx context.Context, projectID string) error {
	if !GetClaims(ctx).CanAccess(projectID) {
		return fmt.Errorf("%w: %s", ErrForbidden, projectID)
	}
	return nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback for event streams.
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.Failed(msg))
}

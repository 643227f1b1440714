package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
)

// OIDCConfig holds OIDC provider configuration.
type OIDCConfig struct {
	IssuerURL     string // e.g. https://keycloak.example.com/realms/projects
	ClientID      string
	ProjectsClaim string // claim listing project ids (default: "projects")
	AdminClaim    string // claim key for admin status (default: "is_admin")
	AdminValue    string // claim value that indicates admin (default: "true")
}

// IDTokenVerifier is satisfied by *oidc.IDTokenVerifier.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCProvider validates OIDC ID tokens and maps them onto Claims.
type OIDCProvider struct {
	verifier IDTokenVerifier
	config   OIDCConfig
}

// NewOIDCProvider discovers the issuer and builds a provider.
// Returns nil if IssuerURL is empty (OIDC disabled).
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}

	logging.Info("OIDC provider initialized",
		zap.String("issuer", cfg.IssuerURL),
		zap.String("client_id", cfg.ClientID))

	return newOIDCProvider(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg), nil
}

func newOIDCProvider(v IDTokenVerifier, cfg OIDCConfig) *OIDCProvider {
	if cfg.ProjectsClaim == "" {
		cfg.ProjectsClaim = "projects"
	}
	if cfg.AdminClaim == "" {
		cfg.AdminClaim = "is_admin"
	}
	if cfg.AdminValue == "" {
		cfg.AdminValue = "true"
	}
	return &OIDCProvider{verifier: v, config: cfg}
}

// ValidateToken verifies tokenStr as an OIDC ID token and returns local Claims.
func (o *OIDCProvider) ValidateToken(ctx context.Context, tokenStr string) (*Claims, error) {
	idToken, err := o.verifier.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	var std struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&std); err != nil {
		return nil, fmt.Errorf("parse oidc claims: %w", err)
	}
	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse oidc claims: %w", err)
	}

	// Prefer preferred_username, then email, then sub.
	username := std.PreferredUsername
	if username == "" {
		username = std.Email
	}
	if username == "" {
		username = std.Sub
	}

	return &Claims{
		Username: username,
		Projects: stringList(raw[o.config.ProjectsClaim]),
		IsAdmin:  fmt.Sprintf("%v", raw[o.config.AdminClaim]) == o.config.AdminValue,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: std.Sub,
			Issuer:  idToken.Issuer,
		},
	}, nil
}

func stringList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("addrs = %s %s", cfg.ListenAddr, cfg.MetricsAddr)
	}
	if cfg.DownloadURLTTL != 15*time.Minute {
		t.Errorf("DownloadURLTTL = %v", cfg.DownloadURLTTL)
	}
	if cfg.UseS3() {
		t.Error("UseS3 without bucket")
	}
	if cfg.CacheSize != 128 {
		t.Errorf("CacheSize = %d", cfg.CacheSize)
	}
	if cfg.DownloadLinkSecret != "secret" {
		t.Errorf("DownloadLinkSecret = %q, want the JWT secret", cfg.DownloadLinkSecret)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoadRejectsPartialOIDC(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OIDC_ISSUER_URL", "https://id.example.com")
	t.Setenv("OIDC_CLIENT_ID", "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for issuer without client id")
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	// Registered so the values loaded from the file are cleared afterwards.
	t.Setenv("CACHE_TTL", "")
	t.Setenv("S3_BUCKET", "")
	os.Unsetenv("CACHE_TTL")
	os.Unsetenv("S3_BUCKET")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "JWT_SECRET=from-file\nCACHE_TTL=2m\nS3_BUCKET=resources\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, environment should win", cfg.JWTSecret)
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
	if !cfg.UseS3() {
		t.Error("UseS3 = false with bucket from file")
	}
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_BOOL", "nope")
	t.Setenv("X_INT", "ten")
	t.Setenv("X_DUR", "soon")

	if !envBool("X_BOOL", true) {
		t.Error("envBool did not fall back")
	}
	if envInt("X_INT", 7) != 7 {
		t.Error("envInt did not fall back")
	}
	if envDuration("X_DUR", time.Second) != time.Second {
		t.Error("envDuration did not fall back")
	}
}

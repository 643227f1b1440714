// Project Files Server
//
// Serves the files and materials trees of every project:
// - PostgreSQL metadata (in-memory when DATABASE_URL is unset)
// - Redis download counters (in-memory when REDIS_ADDR is unset)
// - S3 presigned download links, or signed links under DOWNLOAD_BASE_URL
// - JWT and optional OIDC bearer authentication
// - SSE change notifications
// - Prometheus metrics & structured logging (zap)
//
// Sub-commands:
//
//	projectfiles-server [serve]       Run the server (default)
//	projectfiles-server token [flags] Issue an API token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/projectfiles/internal/api"
	"github.com/fruitsalade/projectfiles/internal/auth"
	"github.com/fruitsalade/projectfiles/internal/config"
	"github.com/fruitsalade/projectfiles/internal/counter"
	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metadata/memory"
	"github.com/fruitsalade/projectfiles/internal/metadata/postgres"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/resource"
	"github.com/fruitsalade/projectfiles/internal/storage"
	s3storage "github.com/fruitsalade/projectfiles/internal/storage/s3"
	"github.com/fruitsalade/projectfiles/pkg/retry"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			cmdToken(os.Args[2:])
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}
	serve()
}

func serve() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("project files server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pinger, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal("metadata store init failed", zap.Error(err))
	}
	defer store.Close()

	cnt, err := openCounter(ctx, cfg)
	if err != nil {
		logging.Fatal("download counter init failed", zap.Error(err))
	}
	defer cnt.Close()

	signer, err := openSigner(ctx, cfg)
	if err != nil {
		logging.Fatal("download signer init failed", zap.Error(err))
	}

	authHandler := auth.New(cfg.JWTSecret)
	oidcProvider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
		IssuerURL: cfg.OIDCIssuerURL,
		ClientID:  cfg.OIDCClientID,
	})
	if err != nil {
		logging.Fatal("OIDC provider init failed", zap.Error(err))
	}
	if oidcProvider != nil {
		authHandler.SetOIDC(oidcProvider)
	}

	broadcaster := events.NewBroadcaster()
	svc := resource.New(store, signer, cnt, broadcaster, resource.Config{
		CacheSize:   cfg.CacheSize,
		CacheTTL:    cfg.CacheTTL,
		LoadTimeout: cfg.SnapshotTimeout,
	})
	srv := api.NewServer(svc, authHandler, broadcaster, pinger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
		return listen(httpServer)
	})
	g.Go(func() error {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		return listen(metricsServer)
	})
	if pg, ok := store.(*postgres.Store); ok {
		g.Go(func() error {
			pg.Poll(gctx, 15*time.Second)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Event streams never finish on their own.
		httpServer.RegisterOnShutdown(broadcaster.Close)
		return errors.Join(httpServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore connects to PostgreSQL, retrying while the database comes up,
// or falls back to the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (metadata.Store, api.Pinger, error) {
	if cfg.DatabaseURL == "" {
		logging.Warn("DATABASE_URL not set, metadata is kept in memory")
		return memory.New(), nil, nil
	}

	logging.Info("connecting to PostgreSQL...")
	wait := retry.Config{
		MaxAttempts: 15,
		InitialWait: time.Second,
		MaxWait:     5 * time.Second,
		Multiplier:  1.5,
		Jitter:      0.1,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			logging.Info("waiting for PostgreSQL", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	store, err := retry.DoWithResult(ctx, wait, func() (*postgres.Store, error) {
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		return s, nil
	})
	if err != nil {
		return nil, nil, err
	}

	logging.Info("running migrations...")
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store, nil
}

func openCounter(ctx context.Context, cfg *config.Config) (counter.Counter, error) {
	if cfg.RedisAddr == "" {
		logging.Warn("REDIS_ADDR not set, download counts are kept in memory")
		return counter.NewMemory(), nil
	}
	return counter.NewRedis(ctx, counter.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func openSigner(ctx context.Context, cfg *config.Config) (storage.Signer, error) {
	if cfg.UseS3() {
		logging.Info("download links presigned against S3",
			zap.String("endpoint", cfg.S3Endpoint),
			zap.String("bucket", cfg.S3Bucket))
		return s3storage.New(ctx, s3storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Region:       cfg.S3Region,
			UsePathStyle: cfg.S3UsePathStyle,
			TTL:          cfg.DownloadURLTTL,
		})
	}
	return storage.NewLinkSigner(cfg.DownloadBaseURL, cfg.DownloadLinkSecret, cfg.DownloadURLTTL)
}

// cmdToken prints a bearer token signed with JWT_SECRET.
func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "Username (required)")
	projects := fs.String("projects", "", "Comma-separated project ids, or * for all")
	admin := fs.Bool("admin", false, "Grant access to every project")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	fs.Parse(args)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var ids []string
	for _, p := range strings.Split(*projects, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}

	token, expires, err := auth.New(cfg.JWTSecret).IssueToken(*user, ids, *admin, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
}

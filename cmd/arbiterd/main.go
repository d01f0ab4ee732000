// Command arbiterd runs the execution authority decision service.
package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbiter-systems/arbiter/pkg/api"
	"github.com/arbiter-systems/arbiter/pkg/archive"
	"github.com/arbiter-systems/arbiter/pkg/auth"
	"github.com/arbiter-systems/arbiter/pkg/authority"
	"github.com/arbiter-systems/arbiter/pkg/config"
	"github.com/arbiter-systems/arbiter/pkg/governance"
	"github.com/arbiter-systems/arbiter/pkg/kernel"
	"github.com/arbiter-systems/arbiter/pkg/ledger"
	"github.com/arbiter-systems/arbiter/pkg/observability"
	"github.com/arbiter-systems/arbiter/pkg/replayguard"
	"github.com/arbiter-systems/arbiter/pkg/verify"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("arbiterd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "arbiterd",
		OTLPEndpoint: envOr("OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      os.Getenv("OTLP_ENDPOINT") != "",
		Insecure:     os.Getenv("OTLP_INSECURE") == "true",
	})
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutCtx)
	}()

	// Storage: scheme picks the driver, empty means in-process.
	var (
		db       *sql.DB
		led      ledger.Ledger
		resolver authority.Resolver
		guard    replayguard.Guard
		ready    func() error
	)
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"):
		db, err = sql.Open("postgres", cfg.DatabaseURL)
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite://"):
		db, err = sql.Open("sqlite", strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
	case cfg.DatabaseURL != "":
		err = fmt.Errorf("unsupported DATABASE_URL scheme in %q", cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if db != nil {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		logger.Info("database connected")

		sqlLedger, err := ledger.OpenSQLLedger(ctx, db)
		if err != nil {
			return err
		}
		led = sqlLedger

		sqlResolver := authority.NewSQLResolver(db, 2*time.Second)
		if err := sqlResolver.Init(ctx); err != nil {
			return err
		}
		resolver = authority.NewCachingResolver(sqlResolver, cfg.KeyCacheTTL)

		sqlGuard := replayguard.NewSQLGuard(db, 2*time.Second)
		if err := sqlGuard.Init(ctx); err != nil {
			return err
		}
		guard = sqlGuard
		ready = func() error { return db.Ping() }
	} else {
		fileLedger, err := ledger.OpenFileLedger(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer func() { _ = fileLedger.Close() }()
		led = fileLedger
		resolver = authority.NewStaticResolver()
		guard = replayguard.NewMemoryGuard()
		logger.Warn("running without a database; keys must be loaded via profile tooling")
	}

	// Redis takes over replay guarding when configured; it is the
	// multi-replica option.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		guard = replayguard.NewRedisGuard(rdb, "")
		logger.Info("redis replay guard active")
	}

	fallback := authority.LegacyFallback{}
	if cfg.LegacyFallbackKey != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.LegacyFallbackKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return errors.New("LEGACY_FALLBACK_KEY is not a base64 Ed25519 public key")
		}
		fallback = authority.LegacyFallback{Enabled: true, PublicKey: raw}
		logger.Warn("legacy static-key fallback enabled")
	}

	var secrets authority.SecretProvider
	if cfg.HMACMasterSecret != "" {
		secrets, err = authority.NewHKDFSecretProvider([]byte(cfg.HMACMasterSecret))
		if err != nil {
			return err
		}
	}

	verifier := verify.New(verify.Options{
		MaxAcceptanceWindow: cfg.MaxAcceptanceWindow,
		ClockSkewGrace:      cfg.ClockSkewGrace,
		TrustedIssuers:      profile.TrustedIssuers,
	}, resolver, fallback, secrets)
	if len(profile.TrustedIssuers) > 0 {
		logger.Info("issuer allow-list active", "issuers", profile.TrustedIssuers)
	}

	k := kernel.New(kernel.Options{DecideTimeout: cfg.DecideTimeout}, verifier, guard, led, logger).
		WithObserver(obs.StartDecision)

	// Periodic ledger export when the profile names an archive backend.
	if profile.Archive.Backend != "" {
		uploader, err := archive.NewUploader(ctx, profile.Archive)
		if err != nil {
			return err
		}
		archiveCtx, stopArchive := context.WithCancel(ctx)
		defer stopArchive()
		go archive.NewExporter(led, uploader, profile.Archive.Prefix).
			WithLogger(logger).
			Run(archiveCtx, cfg.ArchiveInterval, 1000)
		logger.Info("ledger archival active",
			"backend", profile.Archive.Backend,
			"bucket", profile.Archive.Bucket,
			"interval", cfg.ArchiveInterval)
	}

	var evaluator *governance.Evaluator
	if len(profile.Rules) > 0 {
		evaluator, err = governance.NewEvaluator(profile.Rules)
		if err != nil {
			return err
		}
		logger.Info("governance rules loaded", "count", len(profile.Rules), "profile", profile.Name)
	}

	server := api.NewServer(k, evaluator, led, logger, ready)
	middlewares := []func(http.Handler) http.Handler{
		api.RequestID,
		api.Recovery(logger),
		api.NewRateLimiter(cfg.RateLimitPerSecond, int(cfg.RateLimitPerSecond)*2).Middleware,
	}
	if cfg.JWTSecret != "" {
		middlewares = append(middlewares, auth.NewMiddleware(auth.NewValidator([]byte(cfg.JWTSecret))))
	} else {
		logger.Warn("JWT_SECRET not set; API authentication disabled")
	}
	handler := api.Chain(server.Routes(), middlewares...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("arbiterd listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

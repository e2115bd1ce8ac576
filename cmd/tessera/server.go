package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-io/tessera/pkg/api"
	"github.com/tessera-io/tessera/pkg/audit"
	"github.com/tessera-io/tessera/pkg/auditrun"
	"github.com/tessera-io/tessera/pkg/auth"
	"github.com/tessera-io/tessera/pkg/config"
	"github.com/tessera-io/tessera/pkg/gitsync"
	"github.com/tessera-io/tessera/pkg/ingest"
	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
	"github.com/tessera-io/tessera/pkg/webhook"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)
)

const shutdownGrace = 15 * time.Second

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// openStore picks the backend from DATABASE_URL: postgres:// means Postgres,
// anything else is a SQLite file path.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	driver, dialect := "postgres", store.DialectPostgres
	if cfg.LiteMode() {
		driver, dialect = "sqlite", store.DialectSQLite
		log.Info("lite mode: using sqlite", "path", cfg.DatabaseURL)
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := store.NewSQL(db, dialect)
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}

func buildLimiter(cfg *config.Config, log *slog.Logger) auth.Limiter {
	if !cfg.RateLimitEnabled {
		return nil
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn("invalid REDIS_URL, falling back to in-process rate limiting", "error", err)
			return auth.NewMemoryLimiter()
		}
		log.Info("rate limiting via redis", "addr", opts.Addr)
		return auth.NewRedisLimiter(redis.NewClient(opts))
	}
	return auth.NewMemoryLimiter()
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	ctx := context.Background()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "store error: %v\n", err)
		return 1
	}
	defer st.Close()

	opts := []service.Option{
		service.WithJournal(audit.New(st).WithLogger(log)),
		service.WithLogger(log),
	}
	var dispatcher *webhook.Dispatcher
	if cfg.WebhookURL != "" {
		dispatcher = webhook.New(st, webhook.Config{
			URL:        cfg.WebhookURL,
			Secret:     cfg.WebhookSecret,
			Production: cfg.Production(),
		}, webhook.WithLogger(log))
		opts = append(opts, service.WithNotifier(dispatcher))
	}
	svc := service.New(st, opts...)

	if err := bootstrapAdmin(ctx, st, svc, cfg, log); err != nil {
		fmt.Fprintf(stderr, "bootstrap error: %v\n", err)
		return 1
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Warn("metrics disabled", "error", err)
	}
	var syncer *gitsync.Syncer
	if cfg.GitSyncPath != "" {
		syncer = gitsync.New(svc, st, cfg.GitSyncPath).WithLogger(log)
	}

	server := api.NewServer(api.Deps{
		Services:  svc,
		AuditRuns: auditrun.New(st),
		Pipeline:  ingest.New(svc, st).WithLogger(log),
		Syncer:    syncer,
		Authenticator: auth.NewAuthenticator(st, auth.Config{
			BootstrapKey:  cfg.BootstrapAPIKey,
			SessionSecret: cfg.SessionSecretKey,
			Disabled:      cfg.AuthDisabled,
		}),
		Store:   st,
		Metrics: metrics,
		Limiter: buildLimiter(cfg, log),
		CORS: auth.CORSConfig{
			Origins:      cfg.CORSOrigins,
			AllowMethods: cfg.CORSAllowMethods,
			Production:   cfg.Production(),
		},
		Logger: log,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("tessera listening", "port", cfg.Port, "environment", cfg.Environment,
			"lite_mode", cfg.LiteMode(), "auth_disabled", cfg.AuthDisabled)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server error: %v\n", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", "error", err)
	}
	if dispatcher != nil {
		// Let in-flight webhook deliveries finish.
		dispatcher.Wait()
	}
	return 0
}

// runHealthCmd probes a running server over HTTP, for container health
// checks and smoke tests.
func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	url := "http://localhost:" + cfg.Port + "/health"

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "unhealthy: %d %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}
	fmt.Fprintf(stdout, "ok: %s\n", strings.TrimSpace(string(body)))
	return 0
}

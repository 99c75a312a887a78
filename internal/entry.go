// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pressroom/internal/api"
	"github.com/starford/pressroom/internal/cms"
	"github.com/starford/pressroom/internal/credentials"
	"github.com/starford/pressroom/internal/events"
	"github.com/starford/pressroom/internal/importer"
	"github.com/starford/pressroom/internal/mcpserver"
	"github.com/starford/pressroom/internal/publisher"
	"github.com/starford/pressroom/internal/scheduler"
	"github.com/starford/pressroom/internal/secret"
	"github.com/starford/pressroom/internal/sse"
	"github.com/starford/pressroom/internal/store"
)

var errConfigRequired = errors.New("config is required")

// core holds the components shared by the HTTP and MCP entry points.
type core struct {
	db       *store.DB
	resolver *credentials.Resolver
	orch     *publisher.Orchestrator
	broker   *sse.Broker
	kafka    *events.KafkaNotifier
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// buildCore opens the store and wires the publishing pipeline. The SSE
// broker is created only when withBroker is set.
func buildCore(cfg *Config, logger *slog.Logger, withBroker bool) (*core, error) {
	sealer, err := secret.FromConfig(cfg.Secrets.Key)
	if err != nil {
		return nil, fmt.Errorf("init secrets: %w", err)
	}
	if _, plain := sealer.(secret.Plain); plain {
		logger.Warn("secrets.key is empty; application passwords are stored unsealed")
	}

	db, err := store.Open(cfg.SQLite.Path, sealer)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	c := &core{db: db}
	var notifiers events.Multi
	if withBroker {
		c.broker = sse.NewBroker(30 * time.Second)
		notifiers = append(notifiers, c.broker)
	}
	if cfg.Events.Kafka.Enabled() {
		c.kafka = events.NewKafkaNotifier(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic, logger)
		notifiers = append(notifiers, c.kafka)
	}

	c.resolver = credentials.NewResolver(db, cfg.CMS.Defaults())
	client := cms.New(cms.WithTimeout(cfg.CMS.Timeout), cms.WithLogger(logger))
	c.orch = publisher.New(db, c.resolver, client,
		publisher.WithNotifier(notifiers),
		publisher.WithLogger(logger),
		publisher.WithLeaseTTL(3*cfg.CMS.Timeout),
	)
	return c, nil
}

func (c *core) Close(logger *slog.Logger) {
	if c.broker != nil {
		c.broker.Close()
	}
	if c.kafka != nil {
		if err := c.kafka.Close(); err != nil {
			logger.Error("kafka close", slog.String("error", err.Error()))
		}
	}
	if err := c.db.Close(); err != nil {
		logger.Error("store close", slog.String("error", err.Error()))
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// newHTTPHandler builds the root router: health checks plus the API under /api.
func newHTTPHandler(cfg *Config, c *core, logger *slog.Logger) http.Handler {
	apiRouter := api.NewRouter(api.Deps{
		Articles:  c.db,
		Publisher: c.orch,
		Settings:  c.db,
		Events:    c.broker,
	}, cfg.Auth.API(), api.RateLimitConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthHandler)
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := c.db.Ping(r.Context()); err != nil {
			logger.Error("readiness check failed", slog.String("error", err.Error()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		healthHandler(w, r)
	})

	r.Mount("/api", apiRouter)
	return r
}

// Run starts the HTTP server and the scheduler with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stdout, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.Duration("scheduler_interval", cfg.Scheduler.Interval),
		slog.Bool("kafka_events", cfg.Events.Kafka.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildCore(cfg, logger, true)
	if err != nil {
		return err
	}
	defer c.Close(logger)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHTTPHandler(cfg, c, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched := scheduler.New(c.db, c.orch, cfg.Scheduler.Interval, cfg.Scheduler.Batch, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Open SSE streams end when the broker closes.
		c.broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the scheduler stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they do
// not corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)

	owner := cfg.MCP.OwnerID
	if owner == "" {
		owner = cfg.Auth.DefaultOwner
	}
	if owner == "" {
		return fmt.Errorf("mcp: owner_id is required")
	}

	c, err := buildCore(cfg, logger, false)
	if err != nil {
		return err
	}
	defer c.Close(logger)

	logger.Info("Starting MCP server", slog.String("owner", owner))
	srv := mcpserver.New(c.db, c.orch, c.resolver, owner, app.version)
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// RunImport creates an article for ownerID from every HTML file under dir and
// returns the per-file report. Events for created articles go to Kafka when
// configured.
func RunImport(ctx context.Context, dir, ownerID string, opts ...Option) (*importer.Report, error) {
	var report *importer.Report
	err := withImporter(dir, ownerID, opts, func(im *importer.Importer, src *importer.Dir, owner string) error {
		var err error
		report, err = im.Import(ctx, src, owner)
		return err
	})
	return report, err
}

// WatchImports imports existing files under dir and then every new one until
// ctx is cancelled or the process receives SIGINT/SIGTERM.
func WatchImports(ctx context.Context, dir, ownerID string, opts ...Option) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withImporter(dir, ownerID, opts, func(im *importer.Importer, src *importer.Dir, owner string) error {
		return im.Watch(ctx, src, owner, nil)
	})
}

func withImporter(dir, ownerID string, opts []Option, fn func(*importer.Importer, *importer.Dir, string) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)

	if ownerID == "" {
		ownerID = cfg.Auth.DefaultOwner
	}
	if ownerID == "" {
		return fmt.Errorf("import: owner is required")
	}

	src, err := importer.NewDir(dir)
	if err != nil {
		return err
	}

	c, err := buildCore(cfg, logger, false)
	if err != nil {
		return err
	}
	defer c.Close(logger)

	return fn(importer.New(c.orch, logger), src, ownerID)
}

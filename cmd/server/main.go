package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"Sutian/internal/api/handlers/vote"
	"Sutian/internal/api/middleware"
	"Sutian/internal/api/routes"
	"Sutian/internal/auth"
	"Sutian/internal/config"
	"Sutian/internal/core/definitions"
	"Sutian/internal/core/votes"
	"Sutian/internal/db/migrations"
	postgresRepo "Sutian/internal/db/postgres"
	"Sutian/internal/realtime/pglisten"
	"Sutian/internal/realtime/wsfeed"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg := config.FromEnv()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Info("connected to database")

	if err := migrations.Up(db); err != nil {
		return err
	}
	logger.Info("migrations completed successfully")

	// Token verification
	var keys auth.KeyFetcher
	if cfg.JWKSURL != "" {
		fetcher, err := auth.NewJWKSFetcher(ctx, cfg.JWKSURL, 15*time.Minute)
		if err != nil {
			return err
		}
		keys = fetcher
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Keys:     keys,
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return err
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier, logger)

	// Repositories and the vote coordinator
	voteRepo := postgresRepo.NewVoteRepository(db, logger)
	definitionRepo := postgresRepo.NewDefinitionRepository(db)
	targetLoader := definitions.NewTargetLoader(definitionRepo)

	coordinator, err := votes.NewCoordinator(
		votes.NewVoteModel(),
		voteRepo,
		middleware.ContextIdentity{},
		cfg.Votes,
		logger,
		votes.WithTargetLoader(targetLoader),
	)
	if err != nil {
		return err
	}

	if _, err := coordinator.LoadFromStore(ctx); err != nil {
		return err
	}

	if cfg.PreloadDefinitions > 0 {
		ids, err := definitionRepo.ListIDs(ctx, cfg.PreloadDefinitions)
		if err != nil {
			return err
		}
		n, err := targetLoader.Preload(ctx, coordinator, ids)
		if err != nil {
			// Targets still load lazily on first vote
			logger.Warn("failed to preload definitions", "error", err)
		} else {
			logger.Info("definitions preloaded", "count", n)
		}
	}

	// Remote vote changes
	resync := func(ctx context.Context) {
		if _, err := coordinator.LoadFromStore(ctx); err != nil {
			logger.Error("failed to resync votes after realtime reconnect", "error", err)
		}
	}
	var realtime votes.Realtime
	switch cfg.RealtimeMode {
	case config.RealtimePostgres:
		realtime = pglisten.NewListener(cfg.DatabaseURL, logger, pglisten.WithReconnectHook(resync))
	case config.RealtimeWebsocket:
		header := http.Header{}
		if cfg.RealtimeAPIKey != "" {
			header.Set("apikey", cfg.RealtimeAPIKey)
		}
		realtime = wsfeed.NewConnector(cfg.RealtimeWSURL, logger,
			wsfeed.WithHeader(header),
			wsfeed.WithReconnectHook(resync),
		)
	}
	if realtime != nil {
		unsubscribe, err := coordinator.SubscribeRealtime(ctx, realtime)
		if err != nil {
			return err
		}
		defer unsubscribe()
		logger.Info("realtime vote feed started", "mode", cfg.RealtimeMode)
	}

	// HTTP
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	go rateLimiter.Run(ctx)
	r.Use(rateLimiter.Middleware)

	writeLimiter := middleware.NewRateLimiter(cfg.VoteWritesPerMinute, time.Minute)
	go writeLimiter.Run(ctx)

	stream := vote.NewStreamHub(coordinator, cfg.AllowedOrigins, logger)
	defer stream.Close()

	routes.RegisterVoteRoutes(r, coordinator, authMiddleware, routes.VoteRouteOptions{
		WriteLimiter:   writeLimiter,
		Stream:         stream,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Sutian vote server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Websocket connections are hijacked, so Shutdown does not wait for them;
	// the deferred stream.Close disconnects them.
	return srv.Shutdown(shutdownCtx)
}

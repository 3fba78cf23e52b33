package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"go-session-service/internal/config"
	"go-session-service/internal/database"
	"go-session-service/internal/handler"
	"go-session-service/internal/middleware"
	"go-session-service/internal/repository"
	"go-session-service/internal/router"
	"go-session-service/internal/service"
)

type App struct {
	cfg          *config.Config
	log          *slog.Logger
	server       *http.Server
	service      *service.AuthService
	cleanupFuncs []func()
}

// stores holds the backends selected by configuration plus whatever
// connections they need closed on shutdown.
type stores struct {
	users    service.UserStore
	tokens   service.RefreshStore
	db       *database.DB
	checks   map[string]handler.HealthCheck
	cleanups []func()
}

func (s *stores) close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if st.db != nil {
		if err := st.db.Migrate(ctx); err != nil {
			st.close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
	}

	hasher, err := service.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	codec, err := service.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, time.Now)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	authService := service.NewAuthService(st.users, st.tokens, hasher, codec, service.Options{
		Rotation:    cfg.RefreshRotation,
		RecheckUser: cfg.RefreshRecheckUser,
		Clock:       time.Now,
		Logger:      logger,
	})

	authMiddleware := middleware.NewAuthMiddleware(codec, logger)
	authHandler := handler.NewAuthHandler(authService, handler.CookieConfig{
		Enabled: cfg.RefreshCookieEnabled,
		Name:    cfg.RefreshCookieName,
		Secure:  cfg.RefreshCookieSecure,
	})
	userHandler := handler.NewUserHandler(authService)
	healthHandler := handler.NewHealthHandler(st.checks)

	appRouter := router.New(cfg, logger, authMiddleware, authHandler, userHandler, healthHandler)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	logger.Info("application initialized",
		"user_store", cfg.UserStoreBackend,
		"refresh_store", cfg.RefreshStoreBackend,
		"rotation", cfg.RefreshRotation,
		"recheck_user", cfg.RefreshRecheckUser,
		"refresh_cookie", cfg.RefreshCookieEnabled,
	)

	return &App{
		cfg:          cfg,
		log:          logger,
		server:       server,
		service:      authService,
		cleanupFuncs: []func(){st.close},
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{checks: map[string]handler.HealthCheck{}}

	if cfg.UsesPostgres() {
		logger.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st.db = db
		st.checks["database"] = db.Health
		st.cleanups = append(st.cleanups, db.Close)
	}

	switch cfg.UserStoreBackend {
	case config.StoreBackendPostgres:
		st.users = repository.NewUserRepository(st.db.SQL())
	default:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		st.users = repository.NewMemoryUserStore()
	}

	switch cfg.RefreshStoreBackend {
	case config.StoreBackendPostgres:
		st.tokens = repository.NewTokenRepository(st.db.SQL())
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			st.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		st.tokens = repository.NewRedisTokenRepository(client)
		st.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		st.cleanups = append(st.cleanups, func() { _ = client.Close() })
	default:
		logger.Warn("using in-memory refresh store; sessions are lost on restart")
		st.tokens = repository.NewMemoryTokenStore()
	}

	return st, nil
}

// Handler exposes the fully wired router.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// SeedAdmin creates the configured bootstrap admin when it does not exist yet.
func (a *App) SeedAdmin(ctx context.Context, email string, password string) error {
	if email == "" || password == "" {
		return nil
	}

	created, err := a.service.EnsureAdmin(ctx, email, password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		a.log.Info("admin account created", "email", email)
	} else {
		a.log.Info("admin account already present", "email", email)
	}
	return nil
}

// Run serves until ctx is cancelled, then drains in-flight requests before
// closing the stores.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.SeedAdmin(ctx, a.cfg.SeedAdminEmail, a.cfg.SeedAdminPassword); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		runSweeper(sweepCtx, a.service, a.cfg.TokenSweepInterval, a.log)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", listener.Addr().String())
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	stopSweep()
	<-sweepDone

	if runErr == nil {
		a.log.Info("server stopped")
	}
	return runErr
}

func (a *App) Close() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
	a.cleanupFuncs = nil
}

type sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// runSweeper periodically removes expired refresh rows. A non-positive
// interval disables it.
func runSweeper(ctx context.Context, s sweeper, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				logger.Error("refresh token sweep failed", "error", err)
			}
		}
	}
}

// Migrate applies the schema without starting the server.
func Migrate(ctx context.Context, cfg *config.Config) error {
	if !cfg.UsesPostgres() {
		return fmt.Errorf("migrations need a postgres store backend")
	}

	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	return db.Migrate(ctx)
}

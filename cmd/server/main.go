package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"bengkelpos/backend/internal/analytics"
	"bengkelpos/backend/internal/cache"
	"bengkelpos/backend/internal/config"
	"bengkelpos/backend/internal/httpapi"
	"bengkelpos/backend/internal/logging"
	"bengkelpos/backend/internal/service"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/store/memory"
	pgstore "bengkelpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open repository")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	summaryCache, closeCache := openSummaryCache(ctx, cfg)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	engine := analytics.NewEngine(repo, summaryCache, time.Duration(cfg.AnalyticsCacheTTLSeconds)*time.Second)
	svc := service.New(repo, engine, cfg.PublicBaseURL)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)

	if cfg.DatabaseURL != "" && cfg.BootstrapAdminPassword != "" {
		created, err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("bootstrap admin")
		}
		if created {
			log.Info().Str("username", cfg.BootstrapAdminUsername).Msg("bootstrap admin created")
		}
	}

	api := httpapi.New(svc, auth, cfg.AllowedOrigins)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("bengkelpos backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close")
		}
	}
	log.Info().Msg("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and never falls back
// to the seeded memory store in that case.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Str("repository", "memory").Msg("using seeded in-memory store")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
	}
	if cfg.DatabaseAutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Str("repository", "postgres").Bool("auto_migrate", cfg.DatabaseAutoMigrate).Msg("repository ready")
	return pg, pg.Close, nil
}

// openSummaryCache returns the redis cache when it answers a ping, otherwise
// the noop cache. Analytics still work without redis, only slower.
func openSummaryCache(ctx context.Context, cfg config.Config) (cache.SummaryCache, func() error) {
	if cfg.RedisAddr == "" {
		log.Info().Str("cache", "noop").Msg("analytics cache disabled")
		return cache.NoopSummaryCache{}, nil
	}

	redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using noop cache")
		_ = redisCache.Close()
		return cache.NoopSummaryCache{}, nil
	}
	log.Info().Str("cache", "redis").Str("addr", cfg.RedisAddr).Msg("analytics cache ready")
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	return nil
}

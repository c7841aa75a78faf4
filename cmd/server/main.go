package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"lacikas/backend/internal/cache"
	"lacikas/backend/internal/config"
	"lacikas/backend/internal/httpapi"
	"lacikas/backend/internal/logging"
	"lacikas/backend/internal/money"
	"lacikas/backend/internal/service"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/store/memory"
	pgstore "lacikas/backend/internal/store/postgres"
	sqlitestore "lacikas/backend/internal/store/sqlite"
	"lacikas/backend/internal/suggest"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.String("op", "main"), zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	denominations, err := cfg.Denominations()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", zap.String("op", "main.shutdown"), zap.Error(err))
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	cacheStore := openCache(ctx, cfg, logger)
	if closer, ok := cacheStore.(interface{ Close() error }); ok {
		closers = append(closers, closer.Close)
	}

	formatter := money.NewFormatter(cfg.CurrencyCode, cfg.CurrencySymbol, cfg.CurrencyExponent)
	engine := suggest.NewEngine(cacheStore, time.Duration(cfg.SuggestionTTLSeconds)*time.Second, cfg.SearchNodeBudget, formatter, logger)
	svc := service.New(repo, engine, cfg.StoreID,
		service.WithLogger(logger),
		service.WithDenominations(denominations),
		service.WithSessionTTL(time.Duration(cfg.SessionTTLMinutes)*time.Minute),
	)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("till backend listening", zap.String("op", "main.run"), zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.String("op", "main.shutdown"), zap.Error(err))
	}
	logger.Info("server stopped", zap.String("op", "main.shutdown"))
	return nil
}

// openRepository picks postgres when DATABASE_URL is set, sqlite when
// SQLITE_PATH is set, and an in-memory store otherwise. Every choice is seeded
// with the dev accounts and the demo till if empty.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, func() error, error) {
	var (
		repo    store.Repository
		closeFn func() error
		backend string
	)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to fall back: %w", err)
		}
		repo, closeFn, backend = pg, pg.Close, "postgres"
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		repo, closeFn, backend = lite, lite.Close, "sqlite"
	default:
		repo, backend = memory.New(), "memory"
	}

	report, err := store.SeedIfEmpty(ctx, repo, cfg.StoreID)
	if err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, nil, fmt.Errorf("seed %s repository: %w", backend, err)
	}
	if report.UsedDefaults {
		logger.Warn("seeded accounts use default dev passwords; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD",
			zap.String("op", "main.openRepository"))
	}
	logger.Info("repository ready",
		zap.String("op", "main.openRepository"),
		zap.String("backend", backend),
		zap.Bool("seeded_users", report.Users),
		zap.Bool("seeded_till", report.Till),
	)
	return repo, closeFn, nil
}

func openCache(ctx context.Context, cfg config.Config, logger *zap.Logger) cache.SuggestionCache {
	if cfg.RedisAddr == "" {
		logger.Info("suggestion cache: noop", zap.String("op", "main.openCache"))
		return cache.NoopSuggestionCache{}
	}
	redisCache := cache.NewRedisSuggestionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using noop cache", zap.String("op", "main.openCache"), zap.Error(err))
		_ = redisCache.Close()
		return cache.NoopSuggestionCache{}
	}
	logger.Info("suggestion cache: redis", zap.String("op", "main.openCache"), zap.String("addr", cfg.RedisAddr))
	return redisCache
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, repeated-digit and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "696969": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}

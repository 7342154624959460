package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fuelerp/backend/internal/cache"
	"fuelerp/backend/internal/config"
	"fuelerp/backend/internal/dashboard"
	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/httpapi"
	"fuelerp/backend/internal/metrics"
	"fuelerp/backend/internal/service"
	"fuelerp/backend/internal/store"
	"fuelerp/backend/internal/store/memory"
	pgstore "fuelerp/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	metrics.Register()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.LockTimeout())
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.DefaultStationID)
		log.Println("repository: in-memory")
	}

	var dashboardCache cache.DashboardCache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-process cache", err)
		} else {
			dashboardCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	}
	if dashboardCache == nil {
		local := cache.NewLocalDashboardCache(cfg.DashboardCacheTTL())
		dashboardCache = local
		closers = append(closers, local.Close)
		log.Println("cache: in-process")
	}

	dashboards := dashboard.NewBuilder(repo, dashboardCache, cfg.DashboardCacheTTL())
	svc := service.New(repo, dashboards, cfg.DefaultStationID)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	if err := ensureAdmin(ctx, auth, cfg.SeedAdminPassword); err != nil {
		log.Fatalf("failed to bootstrap admin user: %v", err)
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("fuel backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	secret := strings.TrimSpace(cfg.AuthSecret)
	if len(secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.Trim(secret, secret[:1]) == "" {
		return fmt.Errorf("AUTH_SECRET must not repeat a single character")
	}
	if pwd := cfg.SeedAdminPassword; pwd != "" && len(pwd) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}

// ensureAdmin creates the first admin login on an empty user table.
func ensureAdmin(ctx context.Context, auth *httpapi.AuthManager, password string) error {
	if len(auth.ListUsers(ctx)) > 0 {
		return nil
	}
	if password == "" {
		log.Println("WARNING: no user accounts exist; set SEED_ADMIN_PASSWORD to create the first admin")
		return nil
	}
	_, err := auth.CreateUser(ctx, httpapi.UserCreateRequest{
		Username: "admin",
		Password: password,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return err
	}
	log.Println("created bootstrap admin user")
	return nil
}

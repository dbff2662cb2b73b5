package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booklending/internal/ratelimit"
	"booklending/internal/util"
	"booklending/pkg/store"
	"booklending/services/lending/internal/app"
	"booklending/services/lending/internal/authgate"
	"booklending/services/lending/internal/config"
	"booklending/services/lending/internal/server"
)

type lendingStore interface {
	store.Catalog
	store.Identity
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var data lendingStore
	if cfg.DatabaseURL != "" {
		data, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
	} else {
		logger.Warn("databaseURL not set, using in-memory store")
		data = store.NewMemoryStore()
	}
	if cfg.SeedFile != "" {
		seed, err := app.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			log.Fatalf("failed to load seed file: %v", err)
		}
		if err := app.Seed(context.Background(), data, data, seed); err != nil {
			log.Fatalf("failed to seed store: %v", err)
		}
	}

	var revoker store.TokenRevoker
	if cfg.RedisAddr != "" {
		redisRevoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		defer redisRevoker.Close()
		revoker = redisRevoker
	} else {
		logger.Warn("redisAddr not set, token revocation is local to this instance")
		revoker = store.NewMemoryTokenRevoker()
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	appCfg := app.Config{Catalog: data, Identity: data, Sessions: sessions}
	if cfg.LoginRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "booklending:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login rate limiter: %v", err)
		}
		defer limiter.Close()
		appCfg.LoginLimiter = limiter
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	serverCfg := server.Config{
		App:            appCore,
		Gate:           authgate.New(sessions, data),
		TrustedProxies: trustedProxies,
	}
	if cfg.GraphQLRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "booklending:ratelimit:graphql", cfg.GraphQLRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init graphql rate limiter: %v", err)
		}
		defer limiter.Close()
		serverCfg.RateLimiter = limiter
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("lending server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

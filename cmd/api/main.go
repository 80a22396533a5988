package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payment-reconciler/internal/api"
	"payment-reconciler/internal/app"
	"payment-reconciler/internal/config"
	"payment-reconciler/internal/logging"
	"payment-reconciler/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Sugar().Fatalw("load config", "error", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("init logger", "error", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalw("open store", "driver", cfg.Database.Driver, "error", err)
	}
	defer st.Close()

	a, err := app.New(st, cfg, log)
	if err != nil {
		log.Fatalw("wire components", "error", err)
	}

	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisLimiter.Close()
	limiter := ratelimit.NewTokenBucket(redisLimiter, cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)

	server := api.New(a.Services, st, a.Driver, limiter, log.Named("api"))
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infow("api listening", "port", cfg.HTTP.Port, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"payment-reconciler/internal/app"
	"payment-reconciler/internal/config"
	"payment-reconciler/internal/logging"
	"payment-reconciler/internal/telemetry"
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	metrics := &http.Server{Addr: cfg.Metrics.Addr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("metrics server stopped", "error", err)
		}
	}()

	log.Infow("worker started",
		"tick_interval", cfg.Cron.TickInterval,
		"schedule_delay", cfg.Cron.ScheduleDelay,
		"not_sent_period", cfg.Jobs.NotSentPeriod)
	if err := a.Driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("worker stopped", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metrics.Shutdown(shutdownCtx)
}

// Package app assembles the reconciler's components from configuration.
package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/jobs"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/worker"
)

// App holds the wired components shared by the binaries.
type App struct {
	Store      *store.Store
	Gateway    gateway.Client
	Services   *jobs.Services
	Reconciler *jobs.Reconciler
	Driver     *worker.Driver
}

// OpenStore connects to the configured database and applies migrations.
func OpenStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, store.WithCronTiming(store.CronTiming{
		ScheduleDelay: cfg.Cron.ScheduleDelay,
		HangTimeout:   cfg.Cron.HangTimeout,
		Retention:     cfg.Cron.Retention,
	}))
	if err != nil {
		return nil, err
	}
	if err := st.RunMigrations(ctx); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "migrations")
	}
	return st, nil
}

// New wires the gateway client, job services and cron driver over st.
func New(st *store.Store, cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	gw, err := gateway.NewHTTPClient(gateway.HTTPConfig{
		BaseURL: cfg.Gateway.BaseURL,
		UserID:  cfg.Gateway.UserID,
		Secret:  cfg.Gateway.Secret,
		Timeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, errors.WithHint(err, "configure gateway.base_url, gateway.user_id and gateway.secret")
	}
	return NewWithGateway(st, gw, cfg, log), nil
}

// NewWithGateway wires the components around an existing gateway client.
func NewWithGateway(st *store.Store, gw gateway.Client, cfg config.Config, log *zap.SugaredLogger) *App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	services := jobs.NewServices(st, gw, log.Named("jobs"))
	reconciler := jobs.NewReconciler(services, gw, jobs.ReconcilerConfig{
		NotSentPeriod: cfg.Jobs.NotSentPeriod,
		SpaceID:       cfg.Space.ID,
	})
	driver := worker.NewDriver(st, reconciler, worker.Options{TickInterval: cfg.Cron.TickInterval}, log.Named("cron"))
	return &App{
		Store:      st,
		Gateway:    gw,
		Services:   services,
		Reconciler: reconciler,
		Driver:     driver,
	}
}

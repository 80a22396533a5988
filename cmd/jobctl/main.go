package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"payment-reconciler/internal/app"
	"payment-reconciler/internal/config"
	"payment-reconciler/internal/logging"
	"payment-reconciler/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Operate the payment job reconciler",
	Long: `jobctl inspects and repairs the reconciler's state.

Examples:
  jobctl migrate                    # Apply database migrations
  jobctl cron tick                  # Run one cron cycle now
  jobctl cron list --limit 20       # Show recent cron executions
  jobctl jobs list --order 42       # Show every job of order 42
  jobctl jobs mark-done --order 42  # Acknowledge failed jobs of order 42
  jobctl alerts                     # Show operator alert counters`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd, cronCmd, jobsCmd, alertsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

// env is what a subcommand needs to talk to the database.
type env struct {
	cfg   config.Config
	log   *zap.SugaredLogger
	store *store.Store
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, store: st}, nil
}

func (e *env) Close() {
	_ = e.log.Sync()
	_ = e.store.Close()
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", e.cfg.Database.Driver)
		return nil
	},
}

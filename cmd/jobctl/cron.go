package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"payment-reconciler/internal/app"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect and trigger the cron claim table",
}

var cronTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one cron cycle; no-op if no slot is due or another process holds it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		a, err := app.New(e.store, e.cfg, e.log)
		if err != nil {
			return err
		}
		ran, err := a.Driver.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		if ran {
			fmt.Fprintln(cmd.OutOrStdout(), "cron cycle ran")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "no cron slot due")
		}
		return nil
	},
}

var cronListLimit int

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent cron executions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		rows, err := e.store.Cron().List(cmd.Context(), cronListLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATE\tSCHEDULED\tSTARTED\tCOMPLETED\tERROR")
		for _, c := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.State,
				c.DateScheduled.Format(time.RFC3339), formatTime(c.DateStarted), formatTime(c.DateCompleted), c.ErrorMessage)
		}
		return tw.Flush()
	},
}

func init() {
	cronCmd.AddCommand(cronTickCmd, cronListCmd)
	cronListCmd.Flags().IntVar(&cronListLimit, "limit", 50, "Number of executions to show")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show operator alert counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		alerts, err := e.store.Alerts().List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tLEVEL\tCOUNT\tROUTE")
		for _, a := range alerts {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", a.Key, a.Level, a.Count, a.Route)
		}
		return tw.Flush()
	},
}

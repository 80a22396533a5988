package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"payment-reconciler/internal/jobs"
	"payment-reconciler/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and acknowledge an order's jobs",
}

var (
	jobsOrderFlag  int64
	jobsLangFlag   string
	jobsDryRunFlag bool

	findSpaceFlag      int64
	findGatewayJobFlag int64
	findRefundFlag     string
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every completion, refund and void job of an order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if jobsOrderFlag <= 0 {
			return errors.New("--order is required")
		}
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		overview, err := jobs.NewServices(e.store, nil, e.log).Overview(cmd.Context(), jobsOrderFlag)
		if err != nil {
			return err
		}
		if err := printJobs(cmd.OutOrStdout(), overview.Jobs, jobsLangFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "running: %t, refunded: %s\n", overview.Running, overview.Refunded.StringFixed(2))
		return nil
	},
}

var jobsMarkDoneCmd = &cobra.Command{
	Use:   "mark-done",
	Short: "Move the order's FAILED_CHECK jobs to FAILED_DONE",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if jobsOrderFlag <= 0 {
			return errors.New("--order is required")
		}
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		svc := jobs.NewServices(e.store, nil, e.log)
		if jobsDryRunFlag {
			failed, err := svc.FailedJobsForOrder(cmd.Context(), jobsOrderFlag)
			if err != nil {
				return err
			}
			if err := printJobs(cmd.OutOrStdout(), failed, jobsLangFlag); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed job(s) of order %d would be marked as done\n", len(failed), jobsOrderFlag)
			return nil
		}
		n, err := svc.MarkFailedAsDone(cmd.Context(), jobsOrderFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d failed job(s) of order %d marked as done\n", n, jobsOrderFlag)
		return nil
	},
}

var jobsFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find a job by its gateway operation id or a refund by its external id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if findSpaceFlag <= 0 {
			return errors.New("--space is required")
		}
		if (findGatewayJobFlag > 0) == (findRefundFlag != "") {
			return errors.New("exactly one of --gateway-job and --refund-id is required")
		}
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		svc := jobs.NewServices(e.store, nil, e.log)
		var job *models.Job
		if findGatewayJobFlag > 0 {
			job, err = svc.FindByGatewayJob(cmd.Context(), findSpaceFlag, findGatewayJobFlag)
		} else {
			job, err = svc.FindRefund(cmd.Context(), findSpaceFlag, findRefundFlag)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "order %d\n", job.OrderID)
		return printJobs(cmd.OutOrStdout(), []*models.Job{job}, jobsLangFlag)
	},
}

func printJobs(w io.Writer, list []*models.Job, lang string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tSTATE\tGATEWAY JOB\tAMOUNT\tUPDATED\tFAILURE")
	for _, j := range list {
		gatewayJob := "-"
		if j.JobID != nil {
			gatewayJob = fmt.Sprint(*j.JobID)
		}
		amount := "-"
		if j.Amount.Valid {
			amount = j.Amount.Decimal.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", j.Kind, j.ID, j.State, gatewayJob, amount,
			j.UpdatedAt.Format("2006-01-02 15:04:05"), j.FailureReason.Translate(lang))
	}
	return tw.Flush()
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsMarkDoneCmd, jobsFindCmd)
	jobsCmd.PersistentFlags().Int64Var(&jobsOrderFlag, "order", 0, "Order id")
	jobsCmd.PersistentFlags().StringVar(&jobsLangFlag, "lang", "en-US", "Language for failure reasons")
	jobsMarkDoneCmd.Flags().BoolVar(&jobsDryRunFlag, "dry-run", false, "List the jobs that would be marked without changing them")
	jobsFindCmd.Flags().Int64Var(&findSpaceFlag, "space", 0, "Gateway space id")
	jobsFindCmd.Flags().Int64Var(&findGatewayJobFlag, "gateway-job", 0, "Gateway operation id")
	jobsFindCmd.Flags().StringVar(&findRefundFlag, "refund-id", "", "Refund external id")
}

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		if status != "" && !model.JobStatus(status).Valid() {
			return eris.Errorf("unknown status %q", status)
		}

		list, err := st.ListJobs(ctx, store.JobFilter{Status: model.JobStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(os.Stdout, list)
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job with its progress log and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs get")
		}
		return printJSON(os.Stdout, job)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CancelJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		fmt.Fprintf(os.Stdout, "Job %s cancelled.\n", args[0])
		return nil
	},
}

func formatJobsList(w io.Writer, list []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSTEP\tMESSAGE\tCREATED")
	for _, j := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.Type, j.Status, j.CurrentStep, j.TotalSteps,
			truncate(j.ProgressMessage, 48), j.CreatedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed)")
	jobsListCmd.Flags().Int("limit", 20, "max number of jobs to display")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

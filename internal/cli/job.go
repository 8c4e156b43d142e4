package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage registration jobs",
	}

	cmd.AddCommand(
		newJobCreateCmd(clientFn, outputFn),
		newJobListCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobCancelCmd(clientFn, outputFn),
		newJobItemsCmd(clientFn, outputFn),
		newJobWatchCmd(clientFn, outputFn),
	)

	return cmd
}

var jobHeaders = []string{"ID", "STATUS", "TOTAL", "OK", "FAILED", "REVIEW", "PROGRESS", "CREATED"}

func jobRow(j JobResponse) []string {
	return []string{
		j.ID,
		j.Status,
		strconv.Itoa(j.TotalCount),
		strconv.Itoa(j.SuccessCount),
		strconv.Itoa(j.FailedCount),
		strconv.Itoa(j.ManualReviewCount),
		fmt.Sprintf("%.0f%%", j.Progress*100),
		j.CreatedAt,
	}
}

func newJobCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateJobRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an import job",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			job, err := clientFn().CreateJob(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success("Job created: %s", job.ID)
			return out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
		},
	}

	cmd.Flags().StringVar(&req.Type, "type", "IMPORT", "Job type")
	cmd.Flags().StringVar(&req.Params.Keyword, "keyword", "", "Catalog search keyword")
	cmd.Flags().StringVar(&req.Params.Category, "category", "", "Catalog category")
	cmd.Flags().IntVar(&req.Params.MaxItems, "max-items", 0, "Maximum number of items to import (0 for all)")
	cmd.Flags().IntVar(&req.Params.PageSize, "page-size", 0, "Catalog page size (server default if 0)")

	return cmd
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := clientFn().ListJobs(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}
			return outputFn().Print(jobHeaders, rows, jobs)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show job progress and error summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return outputFn().Fields(jobFields(*job), job)
		},
	}
}

func jobFields(j JobResponse) [][2]string {
	fields := [][2]string{
		{"ID", j.ID},
		{"Type", j.Type},
		{"Status", j.Status},
		{"Keyword", j.Params.Keyword},
		{"Progress", fmt.Sprintf("%d/%d (%.0f%%)", j.SuccessCount+j.FailedCount+j.ManualReviewCount, j.TotalCount, j.Progress*100)},
		{"Completed", strconv.Itoa(j.SuccessCount)},
		{"Failed", strconv.Itoa(j.FailedCount)},
		{"Manual review", strconv.Itoa(j.ManualReviewCount)},
		{"Errors", formatCounts(j.ErrorSummary)},
		{"Created", j.CreatedAt},
	}
	if j.StartedAt != "" {
		fields = append(fields, [2]string{"Started", j.StartedAt})
	}
	if j.FinishedAt != "" {
		fields = append(fields, [2]string{"Finished", j.FinishedAt})
	}
	if j.DurationMS > 0 {
		fields = append(fields, [2]string{"Duration", (time.Duration(j.DurationMS) * time.Millisecond).String()})
	}
	if j.Error != "" {
		fields = append(fields, [2]string{"Error", j.Error})
	}
	return fields
}

// formatCounts выводит счётчики по видам ошибок в стабильном порядке.
func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

func newJobCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			job, err := clientFn().CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success("Job cancelled: %s", job.ID)
			return out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
		},
	}
}

var itemHeaders = []string{"ID", "SOURCE_ID", "STATE", "RETRIES", "LAST_ERROR", "EXTERNAL_ID"}

func itemRow(it ItemResponse) []string {
	return []string{
		it.ID,
		it.SourceID,
		it.State,
		strconv.Itoa(it.RetryCount),
		it.LastErrorKind,
		it.ExternalID,
	}
}

func newJobItemsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOpts

	cmd := &cobra.Command{
		Use:   "items JOB_ID",
		Short: "List items of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := clientFn().ListJobItems(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(items))
			for i, it := range items {
				rows[i] = itemRow(it)
			}
			return outputFn().Print(itemHeaders, rows, items)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "state", "", "Filter by item state (e.g. FAILED, MANUAL_REVIEW)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newJobWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch JOB_ID",
		Short: "Poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			job, err := watchJob(cmd.Context(), clientFn(), out.errW, args[0], interval)
			if err != nil {
				return err
			}

			if job.Status == "COMPLETED" && job.FailedCount == 0 && job.ManualReviewCount == 0 {
				out.Success("Job %s completed", job.ID)
			} else {
				out.Warning("Job %s finished with status %s", job.ID, job.Status)
			}
			return out.Fields(jobFields(*job), job)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	return cmd
}

// watchJob опрашивает job, пока он не станет терминальным.
func watchJob(ctx context.Context, client *Client, w io.Writer, id string, interval time.Duration) (*JobResponse, error) {
	spinner, _ := pterm.DefaultSpinner.WithWriter(w).WithRemoveWhenDone(true).Start("Waiting for job " + id)
	defer func() { _ = spinner.Stop() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := client.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.IsFinished() {
			return job, nil
		}
		spinner.UpdateText(fmt.Sprintf("Job %s: %s %d/%d", id, job.Status,
			job.SuccessCount+job.FailedCount+job.ManualReviewCount, job.TotalCount))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

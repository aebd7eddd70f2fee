package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/repository"
	"batch-orchestrator/core/scheduler"

	"github.com/spf13/cobra"
)

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newSubmitCommand(ctx *cliContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}

			var resp struct {
				ID        string           `json:"id"`
				Status    models.JobStatus `json:"status"`
				Priority  int              `json:"priority"`
				ItemCount int              `json:"item_count"`
			}
			body := map[string]string{"spec_yaml": string(data)}
			if err := ctx.client().do(cmd.Context(), "POST", "/v1/jobs", body, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%d items, priority %d)\n", resp.ID, resp.ItemCount, resp.Priority)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the YAML batch manifest")
	cmd.MarkFlagRequired("file")
	return cmd
}

// jobResponse is the body of GET /v1/jobs/{id}: a live view, or an archive
// record wrapped as {"archived":true,"job":...}
type jobResponse struct {
	Archived bool                  `json:"archived"`
	Record   *repository.JobRecord `json:"job"`
}

func newStatusCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := ctx.client().do(cmd.Context(), "GET", "/v1/jobs/"+url.PathEscape(args[0]), nil, &raw); err != nil {
				return err
			}

			var envelope jobResponse
			if err := json.Unmarshal(raw, &envelope); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if envelope.Archived && envelope.Record != nil {
				if ctx.json {
					return writeJSON(cmd, envelope.Record)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, archivedRows(*envelope.Record), nil))
				return nil
			}

			var view models.JobView
			if err := json.Unmarshal(raw, &view); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if ctx.json {
				return writeJSON(cmd, view)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, liveRows(view), nil))
			return nil
		},
	}
}

func jobRows(id string, status models.JobStatus, progress, priority, items int, jc models.JobContext, start, end *time.Time) [][]string {
	return [][]string{
		{"ID", id},
		{"Status", string(status)},
		{"Progress", fmt.Sprintf("%d%%", progress)},
		{"Priority", strconv.Itoa(priority)},
		{"Items", strconv.Itoa(items)},
		{"Target", string(jc.PerformanceTarget)},
		{"Started", formatTime(start)},
		{"Finished", formatTime(end)},
	}
}

func planRows(plan *models.SchedulingPlan, optimizations []string) [][]string {
	var rows [][]string
	if plan != nil {
		rows = append(rows,
			[]string{"Workers", strconv.Itoa(plan.WorkerCount)},
			[]string{"Strategy", string(plan.Strategy)},
		)
	}
	if len(optimizations) > 0 {
		rows = append(rows, []string{"Optimizations", strings.Join(optimizations, ", ")})
	}
	return rows
}

func liveRows(view models.JobView) [][]string {
	rows := jobRows(view.ID, view.Status, view.Progress, view.Priority, view.ItemCount, view.Context, view.StartTime, view.EndTime)
	rows = append(rows, planRows(view.Plan, view.Optimizations)...)
	if view.Status == models.JobStatusCompleted {
		rows = append(rows, []string{"Results", strconv.Itoa(len(view.Results))})
	}
	if view.Error != "" {
		rows = append(rows, []string{"Error", view.Error})
		rows = append(rows, []string{"Partial results", strconv.Itoa(len(view.Partial))})
	}
	return rows
}

// archivedRows renders a job that is no longer held in memory. Results are
// not archived, only the record of the run.
func archivedRows(rec repository.JobRecord) [][]string {
	rows := jobRows(rec.ID, rec.Status, rec.Progress, rec.Priority, rec.ItemCount, rec.Context, rec.StartTime, rec.EndTime)
	rows = append(rows, planRows(rec.Plan, rec.Optimizations)...)
	if rec.ProcessingTime > 0 {
		rows = append(rows, []string{"Processing time", rec.ProcessingTime.Round(time.Millisecond).String()})
	}
	if rec.Error != "" {
		rows = append(rows, []string{"Error", rec.Error})
	}
	rows = append(rows, []string{"Archived", "yes"})
	return rows
}

func newListCommand(ctx *cliContext) *cobra.Command {
	var (
		status   string
		limit    int
		archived bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if archived {
				query.Set("archived", "true")
			}
			path := "/v1/jobs"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var resp struct {
				Items []models.JobSummary `json:"items"`
			}
			if err := ctx.client().do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp.Items)
			}
			if len(resp.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, job := range resp.Items {
				rows = append(rows, []string{
					job.ID,
					string(job.Status),
					fmt.Sprintf("%d%%", job.Progress),
					strconv.Itoa(job.Priority),
					strconv.Itoa(job.ItemCount),
					formatTime(job.StartTime),
					formatTime(job.EndTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Progress", "Priority", "Items", "Started", "Finished"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list jobs with this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to list")
	cmd.Flags().BoolVar(&archived, "archived", false, "List the archive instead of live jobs")
	return cmd
}

func newCancelCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ID        string           `json:"id"`
				Cancelled bool             `json:"cancelled"`
				Status    models.JobStatus `json:"status"`
			}
			if err := ctx.client().do(cmd.Context(), "POST", "/v1/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			if !resp.Cancelled {
				return fmt.Errorf("job %s is already %s", resp.ID, resp.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", resp.ID)
			return nil
		},
	}
}

func newEventsCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events <job-id>",
		Short: "Show the archived transition history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []models.JobEvent `json:"items"`
			}
			if err := ctx.client().do(cmd.Context(), "GET", "/v1/jobs/"+url.PathEscape(args[0])+"/events", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp.Items)
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, e := range resp.Items {
				from := "-"
				if e.FromStatus != nil {
					from = string(*e.FromStatus)
				}
				rows = append(rows, []string{formatTime(&e.At), from, string(e.ToStatus), e.Reason})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"At", "From", "To", "Reason"}, rows, nil))
			return nil
		},
	}
}

func newMetricsCommand(ctx *cliContext) *cobra.Command {
	var prometheus bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show engine metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prometheus {
				var text string
				if err := ctx.client().do(cmd.Context(), "GET", "/metrics", nil, &text); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}

			var m models.BatchMetrics
			if err := ctx.client().do(cmd.Context(), "GET", "/v1/metrics", nil, &m); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, m)
			}

			rows := [][]string{
				{"Queue length", strconv.Itoa(m.QueueLength)},
				{"Active jobs", strconv.Itoa(m.ActiveJobs)},
				{"Workers", fmt.Sprintf("%d busy / %d", m.BusyWorkers, m.TotalWorkers)},
				{"Utilization", fmt.Sprintf("%.0f%%", m.ResourceUtilization*100)},
				{"Concurrency ceiling", strconv.Itoa(m.ConcurrencyCeiling)},
				{"Degraded", strconv.FormatBool(m.DegradedMode)},
				{"Throughput", fmt.Sprintf("%.2f jobs/window", m.Throughput)},
				{"Success rate", fmt.Sprintf("%.1f%%", m.SuccessRate*100)},
				{"Error rate", fmt.Sprintf("%.1f%%", m.ErrorRate*100)},
				{"Avg processing", m.AverageProcessingTime.Round(time.Millisecond).String()},
				{"Completed / failed", fmt.Sprintf("%d / %d", m.CompletedJobs, m.FailedJobs)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&prometheus, "prometheus", false, "Print the Prometheus exposition text")
	return cmd
}

func newWorkersCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List the worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []models.Worker `json:"items"`
			}
			if err := ctx.client().do(cmd.Context(), "GET", "/v1/workers", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp.Items)
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, w := range resp.Items {
				rows = append(rows, []string{
					strconv.Itoa(w.ID),
					string(w.Status),
					fmt.Sprintf("%.2f", w.Profile.Efficiency),
					strconv.Itoa(w.Profile.CompletedJobs),
					strconv.Itoa(w.Profile.ErrorCount),
					w.Profile.AverageTime.Round(time.Millisecond).String(),
					fmt.Sprintf("%.2f", w.Capabilities.OptimizationLevel),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Efficiency", "Chunks", "Errors", "Avg time", "Opt level"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newOptimizeCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Run one controller optimization cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var d scheduler.Decision
			if err := ctx.client().do(cmd.Context(), "POST", "/v1/optimize", nil, &d); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ceiling %d -> %d (rule: %s, utilization %.0f%%, throughput %.2f)\n",
				d.PreviousCeiling, d.Ceiling, d.Rule, d.Observation.Utilization*100, d.Observation.Throughput)
			return nil
		},
	}
}

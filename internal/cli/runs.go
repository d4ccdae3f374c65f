package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/runlog"
)

const runsTableWidth = 120

var (
	runsJob    string
	runsStatus string
	runsKind   string
	runsQuery  string
	runsFrom   string
	runsTo     string
	runsLimit  int
	runsOffset int

	pruneBefore    string
	pruneOlderThan time.Duration
	pruneYes       bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect execution history",
	Long: `Inspect the execution history of scheduled and manual runs.

Examples:
  oncue runs list --job backup --status failed
  oncue runs list --q "connection refused"
  oncue runs show <run-id>
  oncue runs prune --older-than 720h`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List execution records",
	Long: `List execution records, most recent first.

Statuses: pending, running, success, failed, timed_out, canceled.
Triggers: schedule, manual.`,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one execution record, including captured output",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old finished records",
	Long: `Delete finished execution records older than a cutoff.

Records still pending or running are never pruned. Give the cutoff
either as an absolute timestamp or as an age:

  oncue runs prune --before 2026-01-01T00:00:00Z
  oncue runs prune --older-than 720h`,
	RunE: runRunsPrune,
}

func init() {
	runsListCmd.Flags().StringVar(&runsJob, "job", "", "Filter by job ID or name")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status")
	runsListCmd.Flags().StringVar(&runsKind, "trigger", "", "Filter by trigger: schedule or manual")
	runsListCmd.Flags().StringVar(&runsQuery, "q", "", "Filter by substring of output or error")
	runsListCmd.Flags().StringVar(&runsFrom, "from", "", "Only records scheduled at or after (RFC3339)")
	runsListCmd.Flags().StringVar(&runsTo, "to", "", "Only records scheduled before (RFC3339)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 0, "Maximum records to return (default 50, cap 1000)")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "Records to skip")

	runsPruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Prune records scheduled before this timestamp (RFC3339)")
	runsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Prune records older than this age (e.g. 720h)")
	runsPruneCmd.Flags().BoolVarP(&pruneYes, "yes", "y", false, "Skip confirmation")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)

	addServerFlag(runsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	ctx := context.Background()

	params := url.Values{}
	if runsJob != "" {
		j, err := client.resolveJob(ctx, runsJob)
		if err != nil {
			return err
		}
		params.Set("job_id", j.ID)
	}
	if runsStatus != "" {
		params.Set("status", runsStatus)
	}
	if runsKind != "" {
		params.Set("trigger", runsKind)
	}
	if runsQuery != "" {
		params.Set("q", runsQuery)
	}
	if runsFrom != "" {
		params.Set("from", runsFrom)
	}
	if runsTo != "" {
		params.Set("to", runsTo)
	}
	if runsLimit > 0 {
		params.Set("limit", strconv.Itoa(runsLimit))
	}
	if runsOffset > 0 {
		params.Set("offset", strconv.Itoa(runsOffset))
	}

	path := "/api/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var listResp struct {
		Runs  []*runlog.Record `json:"runs"`
		Count int              `json:"count"`
	}
	if err := client.doJSON(ctx, http.MethodGet, path, nil, &listResp); err != nil {
		return err
	}

	if len(listResp.Runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Printf("%-36s %-24s %-9s %-10s %-20s %s\n", "ID", "JOB", "TRIGGER", "STATUS", "SCHEDULED", "DURATION")
	fmt.Println(strings.Repeat("-", runsTableWidth))

	for _, rec := range listResp.Runs {
		fmt.Printf("%-36s %-24s %-9s %-10s %-20s %s\n",
			rec.ID,
			truncateCell(rec.JobName, 24),
			rec.Trigger,
			rec.Status,
			rec.ScheduledAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(rec),
		)
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	var rec runlog.Record
	if err := client.doJSON(context.Background(), http.MethodGet, "/api/runs/"+url.PathEscape(args[0]), nil, &rec); err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", rec.ID)
	fmt.Printf("Job:        %s (%s)\n", rec.JobName, rec.JobID)
	fmt.Printf("Trigger:    %s\n", rec.Trigger)
	fmt.Printf("Status:     %s\n", rec.Status)
	fmt.Printf("Scheduled:  %s\n", rec.ScheduledAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Started:    %s\n", formatTimePtr(rec.StartedAt))
	fmt.Printf("Finished:   %s\n", formatTimePtr(rec.FinishedAt))
	fmt.Printf("Duration:   %s\n", formatDuration(&rec))
	if rec.ExitCode != nil {
		fmt.Printf("Exit code:  %d\n", *rec.ExitCode)
	}
	if rec.Error != "" {
		fmt.Printf("Error:      %s\n", rec.Error)
	}
	if rec.Output != "" {
		fmt.Println()
		fmt.Println("Output:")
		fmt.Println(rec.Output)
	}

	return nil
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	var cutoff time.Time
	switch {
	case pruneBefore != "" && pruneOlderThan != 0:
		return fmt.Errorf("--before and --older-than are mutually exclusive")
	case pruneBefore != "":
		t, err := time.Parse(time.RFC3339, pruneBefore)
		if err != nil {
			return fmt.Errorf("invalid --before: %w", err)
		}
		cutoff = t
	case pruneOlderThan != 0:
		cutoff = time.Now().Add(-pruneOlderThan)
	default:
		return fmt.Errorf("either --before or --older-than is required")
	}

	if !pruneYes && !confirmAction(fmt.Sprintf("Prune finished runs scheduled before %s?", cutoff.Format(time.RFC3339))) {
		fmt.Println("Aborted.")
		return nil
	}

	client := newAPIClient()

	var pruneResp struct {
		Pruned int64 `json:"pruned"`
	}
	path := "/api/runs?before=" + url.QueryEscape(cutoff.Format(time.RFC3339))
	if err := client.doJSON(context.Background(), http.MethodDelete, path, nil, &pruneResp); err != nil {
		return err
	}

	fmt.Printf("✓ Pruned %d records\n", pruneResp.Pruned)
	return nil
}

// formatDuration renders the run duration, live for running records.
func formatDuration(rec *runlog.Record) string {
	if rec.DurationMs > 0 {
		return (time.Duration(rec.DurationMs) * time.Millisecond).String()
	}
	if rec.Status == runlog.StatusRunning && rec.StartedAt != nil {
		return time.Since(*rec.StartedAt).Truncate(time.Second).String() + "+"
	}
	return "-"
}

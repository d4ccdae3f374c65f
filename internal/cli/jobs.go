package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/server/handlers"
	"github.com/watzon/oncue/internal/trigger"
)

const jobsTableWidth = 110

var (
	jobsEnabled  bool
	jobsDisabled bool
	jobsName     string
	jobsGlob     string
	jobsSort     string

	jobScript   string
	jobKind     string
	jobAt       string
	jobEvery    string
	jobTime     string
	jobWeekday  int
	jobDay      int
	jobCron     string
	jobTimezone string
	jobTimeout  time.Duration
	jobPaused   bool

	jobsYes bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
	Long: `Manage scheduled jobs on a running daemon.

Commands accept a job ID or a job name wherever a job is referenced.

Examples:
  oncue jobs list --enabled
  oncue jobs create backup --script backup.sh --kind daily --time 03:30
  oncue jobs run backup
  oncue jobs disable backup`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a job",
	Long: `Create a job with a recurrence rule.

The --script flag names an uploaded script (see oncue scripts upload).

Rule flags by kind:
  --kind once      --at 2027-01-15T06:00:00Z
  --kind interval  --every 90s
  --kind daily     --time 03:30
  --kind weekly    --weekday 1 --time 06:00      (0 = Sunday)
  --kind monthly   --day 1 --time 09:00
  --kind cron      --cron "*/15 * * * *"`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCreate,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id-or-name>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <id-or-name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsEnable,
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <id-or-name>",
	Short: "Disable a job",
	Long: `Disable a job.

Disabling clears the pending fire; an execution already running is not
interrupted. Run history is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsDisable,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id-or-name>",
	Short: "Delete a job",
	Long: `Delete a job.

Past execution records are kept and remain queryable by job ID.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsDelete,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <id-or-name>",
	Short: "Fire a job immediately",
	Long: `Fire a job immediately, outside its schedule.

The manual fire does not move the next scheduled fire. If the job is
already queued or running, the manual fire is skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsRun,
}

func init() {
	jobsListCmd.Flags().BoolVar(&jobsEnabled, "enabled", false, "Only enabled jobs")
	jobsListCmd.Flags().BoolVar(&jobsDisabled, "disabled", false, "Only disabled jobs")
	jobsListCmd.Flags().StringVar(&jobsName, "name", "", "Filter by name substring")
	jobsListCmd.Flags().StringVar(&jobsGlob, "glob", "", "Filter by name glob pattern (e.g. \"etl-*\")")
	jobsListCmd.Flags().StringVar(&jobsSort, "sort", "", "Sort order: next_fire_at or name")

	jobsCreateCmd.Flags().StringVar(&jobScript, "script", "", "Script name to execute (required)")
	jobsCreateCmd.Flags().StringVar(&jobKind, "kind", "", "Rule kind: once, interval, daily, weekly, monthly, cron (required)")
	jobsCreateCmd.Flags().StringVar(&jobAt, "at", "", "Fire instant for once rules (RFC3339)")
	jobsCreateCmd.Flags().StringVar(&jobEvery, "every", "", "Interval for interval rules (e.g. 90s, 1h)")
	jobsCreateCmd.Flags().StringVar(&jobTime, "time", "", "Time of day (HH:MM) for daily, weekly, and monthly rules")
	jobsCreateCmd.Flags().IntVar(&jobWeekday, "weekday", 0, "Weekday for weekly rules (0 = Sunday)")
	jobsCreateCmd.Flags().IntVar(&jobDay, "day", 0, "Day of month for monthly rules (1-31)")
	jobsCreateCmd.Flags().StringVar(&jobCron, "cron", "", "Cron expression for cron rules")
	jobsCreateCmd.Flags().StringVar(&jobTimezone, "timezone", "", "IANA timezone for local-time rules (default UTC)")
	jobsCreateCmd.Flags().DurationVar(&jobTimeout, "timeout", 0, "Per-execution timeout (0 = server default)")
	jobsCreateCmd.Flags().BoolVar(&jobPaused, "disabled", false, "Create the job disabled")
	_ = jobsCreateCmd.MarkFlagRequired("script")
	_ = jobsCreateCmd.MarkFlagRequired("kind")

	jobsDeleteCmd.Flags().BoolVarP(&jobsYes, "yes", "y", false, "Skip confirmation")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsEnableCmd)
	jobsCmd.AddCommand(jobsDisableCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsRunCmd)

	addServerFlag(jobsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	params := url.Values{}
	if jobsEnabled {
		params.Set("enabled", "true")
	}
	if jobsDisabled {
		params.Set("enabled", "false")
	}
	if jobsName != "" {
		params.Set("name", jobsName)
	}
	if jobsGlob != "" {
		params.Set("name_glob", jobsGlob)
	}
	if jobsSort != "" {
		params.Set("sort", jobsSort)
	}

	path := "/api/jobs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var listResp struct {
		Jobs  []*job.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	if err := client.doJSON(context.Background(), http.MethodGet, path, nil, &listResp); err != nil {
		return err
	}

	if len(listResp.Jobs) == 0 {
		fmt.Println("No jobs found.")
		fmt.Println()
		fmt.Println("Create one with:")
		fmt.Println("  oncue jobs create <name> --script <script> --kind <kind> ...")
		return nil
	}

	fmt.Printf("%-24s %-22s %-9s %-20s %s\n", "NAME", "RULE", "ENABLED", "NEXT FIRE", "ID")
	fmt.Println(strings.Repeat("-", jobsTableWidth))

	for _, j := range listResp.Jobs {
		enabled := "yes"
		if !j.Enabled {
			enabled = "no"
		}

		fmt.Printf("%-24s %-22s %-9s %-20s %s\n",
			truncateCell(j.Name, 24),
			truncateCell(describeRule(j.Rule), 22),
			enabled,
			formatTimePtr(j.NextFireAt),
			j.ID,
		)
	}

	return nil
}

func runJobsCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	rule, err := buildRuleFromFlags(cmd)
	if err != nil {
		return err
	}

	enabled := !jobPaused
	req := &handlers.CreateJobRequest{
		Name:           name,
		Script:         jobScript,
		Rule:           *rule,
		Timezone:       jobTimezone,
		Enabled:        &enabled,
		TimeoutSeconds: int(jobTimeout.Seconds()),
	}

	client := newAPIClient()
	var created job.Job
	if err := client.doJSON(context.Background(), http.MethodPost, "/api/jobs", req, &created); err != nil {
		return err
	}

	fmt.Printf("✓ Job %q created\n", created.Name)
	printJob(&created)
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	j, err := client.resolveJob(context.Background(), args[0])
	if err != nil {
		return err
	}

	printJob(j)
	return nil
}

func runJobsEnable(cmd *cobra.Command, args []string) error {
	return setJobEnabled(args[0], true)
}

func runJobsDisable(cmd *cobra.Command, args []string) error {
	return setJobEnabled(args[0], false)
}

func setJobEnabled(ref string, enabled bool) error {
	client := newAPIClient()
	ctx := context.Background()

	j, err := client.resolveJob(ctx, ref)
	if err != nil {
		return err
	}

	action := "enable"
	if !enabled {
		action = "disable"
	}

	var updated job.Job
	if err := client.doJSON(ctx, http.MethodPost, "/api/jobs/"+j.ID+"/"+action, nil, &updated); err != nil {
		return err
	}

	if enabled {
		fmt.Printf("✓ Job %q enabled", updated.Name)
		if updated.NextFireAt != nil {
			fmt.Printf(", next fire %s", formatTimePtr(updated.NextFireAt))
		}
		fmt.Println()
	} else {
		fmt.Printf("✓ Job %q disabled\n", updated.Name)
	}
	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	ctx := context.Background()

	j, err := client.resolveJob(ctx, args[0])
	if err != nil {
		return err
	}

	if !jobsYes && !confirmAction(fmt.Sprintf("Delete job %q?", j.Name)) {
		fmt.Println("Aborted.")
		return nil
	}

	if err := client.doJSON(ctx, http.MethodDelete, "/api/jobs/"+j.ID, nil, nil); err != nil {
		return err
	}

	fmt.Printf("✓ Job %q deleted (run history kept)\n", j.Name)
	return nil
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	ctx := context.Background()

	j, err := client.resolveJob(ctx, args[0])
	if err != nil {
		return err
	}

	var rec runlog.Record
	if err := client.doJSON(ctx, http.MethodPost, "/api/jobs/"+j.ID+"/run", nil, &rec); err != nil {
		return err
	}

	if rec.Status == runlog.StatusCanceled {
		fmt.Printf("Job %q is already queued or running; manual fire skipped (run %s)\n", j.Name, rec.ID)
		return nil
	}

	fmt.Printf("✓ Job %q fired, run %s\n", j.Name, rec.ID)
	fmt.Println()
	fmt.Println("Watch it with:")
	fmt.Printf("  oncue runs show %s\n", rec.ID)
	return nil
}

// buildRuleFromFlags assembles a recurrence rule from the create flags.
// Full validation happens server-side; this only checks that the flags
// needed by the chosen kind were given.
func buildRuleFromFlags(cmd *cobra.Command) (*trigger.Rule, error) {
	rule := &trigger.Rule{Kind: trigger.Kind(jobKind)}

	switch rule.Kind {
	case trigger.KindOnce:
		if jobAt == "" {
			return nil, fmt.Errorf("--at is required for once rules")
		}
		at, err := time.Parse(time.RFC3339, jobAt)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		utc := at.UTC()
		rule.At = &utc

	case trigger.KindInterval:
		if jobEvery == "" {
			return nil, fmt.Errorf("--every is required for interval rules")
		}
		every, err := time.ParseDuration(jobEvery)
		if err != nil {
			return nil, fmt.Errorf("invalid --every: %w", err)
		}
		rule.Every = trigger.Duration(every)

	case trigger.KindDaily:
		if jobTime == "" {
			return nil, fmt.Errorf("--time is required for daily rules")
		}
		rule.Time = jobTime

	case trigger.KindWeekly:
		if !cmd.Flags().Changed("weekday") {
			return nil, fmt.Errorf("--weekday is required for weekly rules")
		}
		if jobTime == "" {
			return nil, fmt.Errorf("--time is required for weekly rules")
		}
		weekday := jobWeekday
		rule.Weekday = &weekday
		rule.Time = jobTime

	case trigger.KindMonthly:
		if jobDay == 0 {
			return nil, fmt.Errorf("--day is required for monthly rules")
		}
		if jobTime == "" {
			return nil, fmt.Errorf("--time is required for monthly rules")
		}
		rule.Day = jobDay
		rule.Time = jobTime

	case trigger.KindCron:
		if jobCron == "" {
			return nil, fmt.Errorf("--cron is required for cron rules")
		}
		rule.Expression = jobCron

	default:
		return nil, fmt.Errorf("unknown rule kind %q; must be one of: once, interval, daily, weekly, monthly, cron", jobKind)
	}

	return rule, nil
}

func printJob(j *job.Job) {
	fmt.Println()
	fmt.Printf("ID:        %s\n", j.ID)
	fmt.Printf("Name:      %s\n", j.Name)
	fmt.Printf("Script:    %s\n", j.ScriptRef)
	fmt.Printf("Rule:      %s\n", describeRule(j.Rule))
	if j.Timezone != "" {
		fmt.Printf("Timezone:  %s\n", j.Timezone)
	}
	enabled := "yes"
	if !j.Enabled {
		enabled = "no"
	}
	fmt.Printf("Enabled:   %s\n", enabled)
	fmt.Printf("Next fire: %s\n", formatTimePtr(j.NextFireAt))
	fmt.Printf("Last fire: %s\n", formatTimePtr(j.LastFireAt))
	if j.TimeoutSeconds > 0 {
		fmt.Printf("Timeout:   %s\n", (time.Duration(j.TimeoutSeconds) * time.Second).String())
	}
	if j.LastError != "" {
		fmt.Printf("Last error: %s\n", j.LastError)
	}
}

// describeRule renders a recurrence rule as a short phrase for output.
func describeRule(r trigger.Rule) string {
	switch r.Kind {
	case trigger.KindOnce:
		if r.At != nil {
			return "once " + r.At.Format("2006-01-02 15:04")
		}
		return "once"
	case trigger.KindInterval:
		return "every " + r.Every.Std().String()
	case trigger.KindDaily:
		return "daily " + r.Time
	case trigger.KindWeekly:
		if r.Weekday != nil {
			return "weekly " + time.Weekday(*r.Weekday).String()[:3] + " " + r.Time
		}
		return "weekly " + r.Time
	case trigger.KindMonthly:
		return fmt.Sprintf("monthly %d %s", r.Day, r.Time)
	case trigger.KindCron:
		return "cron " + r.Expression
	default:
		return string(r.Kind)
	}
}

func truncateCell(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

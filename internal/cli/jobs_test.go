package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/trigger"
)

func TestDescribeRule(t *testing.T) {
	at := time.Date(2027, 1, 15, 6, 0, 0, 0, time.UTC)
	monday := 1

	tests := []struct {
		name string
		rule trigger.Rule
		want string
	}{
		{
			name: "once",
			rule: trigger.Rule{Kind: trigger.KindOnce, At: &at},
			want: "once 2027-01-15 06:00",
		},
		{
			name: "interval",
			rule: trigger.Rule{Kind: trigger.KindInterval, Every: trigger.Duration(90 * time.Second)},
			want: "every 1m30s",
		},
		{
			name: "daily",
			rule: trigger.Rule{Kind: trigger.KindDaily, Time: "03:30"},
			want: "daily 03:30",
		},
		{
			name: "weekly",
			rule: trigger.Rule{Kind: trigger.KindWeekly, Weekday: &monday, Time: "06:00"},
			want: "weekly Mon 06:00",
		},
		{
			name: "monthly",
			rule: trigger.Rule{Kind: trigger.KindMonthly, Day: 1, Time: "09:00"},
			want: "monthly 1 09:00",
		},
		{
			name: "cron",
			rule: trigger.Rule{Kind: trigger.KindCron, Expression: "*/15 * * * *"},
			want: "cron */15 * * * *",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeRule(tt.rule); got != tt.want {
				t.Errorf("describeRule() = %q, want %q", got, tt.want)
			}
		})
	}
}

func resetCreateFlags() {
	jobKind, jobAt, jobEvery, jobTime, jobCron = "", "", "", "", ""
	jobWeekday, jobDay = 0, 0
}

// newCreateTestCmd binds the weekday flag the way the create command
// does, so Changed() tracking works in tests.
func newCreateTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&jobWeekday, "weekday", 0, "")
	return cmd
}

func TestBuildRuleFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, cmd *cobra.Command)
		wantErr string
		check   func(t *testing.T, r *trigger.Rule)
	}{
		{
			name: "once",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "once"
				jobAt = "2027-01-15T06:00:00Z"
			},
			check: func(t *testing.T, r *trigger.Rule) {
				if r.At == nil || !r.At.Equal(time.Date(2027, 1, 15, 6, 0, 0, 0, time.UTC)) {
					t.Errorf("At = %v, want 2027-01-15T06:00:00Z", r.At)
				}
			},
		},
		{
			name: "once missing at",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "once"
			},
			wantErr: "--at is required",
		},
		{
			name: "once bad at",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "once"
				jobAt = "tomorrow"
			},
			wantErr: "invalid --at",
		},
		{
			name: "interval",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "interval"
				jobEvery = "90s"
			},
			check: func(t *testing.T, r *trigger.Rule) {
				if r.Every.Std() != 90*time.Second {
					t.Errorf("Every = %v, want 90s", r.Every.Std())
				}
			},
		},
		{
			name: "interval bad every",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "interval"
				jobEvery = "ninety"
			},
			wantErr: "invalid --every",
		},
		{
			name: "daily",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "daily"
				jobTime = "03:30"
			},
			check: func(t *testing.T, r *trigger.Rule) {
				if r.Time != "03:30" {
					t.Errorf("Time = %q, want 03:30", r.Time)
				}
			},
		},
		{
			name: "weekly without weekday",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "weekly"
				jobTime = "06:00"
			},
			wantErr: "--weekday is required",
		},
		{
			name: "weekly sunday is a valid weekday",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "weekly"
				jobTime = "06:00"
				if err := cmd.Flags().Set("weekday", "0"); err != nil {
					t.Fatal(err)
				}
			},
			check: func(t *testing.T, r *trigger.Rule) {
				if r.Weekday == nil || *r.Weekday != 0 {
					t.Errorf("Weekday = %v, want 0", r.Weekday)
				}
			},
		},
		{
			name: "monthly",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "monthly"
				jobDay = 1
				jobTime = "09:00"
			},
			check: func(t *testing.T, r *trigger.Rule) {
				if r.Day != 1 {
					t.Errorf("Day = %d, want 1", r.Day)
				}
			},
		},
		{
			name: "cron",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "cron"
				jobCron = "*/15 * * * *"
			},
			check: func(t *testing.T, r *trigger.Rule) {
				if r.Expression != "*/15 * * * *" {
					t.Errorf("Expression = %q", r.Expression)
				}
			},
		},
		{
			name: "unknown kind",
			setup: func(t *testing.T, cmd *cobra.Command) {
				jobKind = "hourly"
			},
			wantErr: "unknown rule kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCreateFlags()
			cmd := newCreateTestCmd()
			tt.setup(t, cmd)

			rule, err := buildRuleFromFlags(cmd)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("buildRuleFromFlags() expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildRuleFromFlags() failed: %v", err)
			}
			if rule.Kind != trigger.Kind(jobKind) {
				t.Errorf("Kind = %q, want %q", rule.Kind, jobKind)
			}
			if tt.check != nil {
				tt.check(t, rule)
			}
		})
	}
}

func TestTruncateCell(t *testing.T) {
	if got := truncateCell("short", 10); got != "short" {
		t.Errorf("truncateCell(short) = %q", got)
	}
	if got := truncateCell("exactly-10", 10); got != "exactly-10" {
		t.Errorf("truncateCell(exactly-10) = %q", got)
	}
	got := truncateCell("a-rather-long-job-name", 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateCell() = %q, want 10 chars ending in ...", got)
	}
}

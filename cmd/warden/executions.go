package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/export"
	"fleetguard/warden/pkg/fleet"
)

var executionFlags struct {
	policyID   string
	policyCode string
	entityType string
	entityID   string
	statuses   string
	trigger    string
	timeRange  string
	since      time.Duration
	limit      int
	offset     int
	sort       string

	format string
	out    string
}

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Query execution records",
	Long: `Query, inspect and export policy execution records.

Subcommands:
  query   - List records matching filters
  show    - Show one record with its condition trace and action results
  export  - Write matching records as json, jsonl or csv

Time Range Format:
  RFC3339 interval format: "start/end"
  Example: "2026-10-01T00:00:00Z/2026-10-02T00:00:00Z"`,
}

var executionsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List execution records",
	Long: `List execution records, newest first.

Examples:
  # Failures of one policy in the last day
  warden executions query --policy-code HOS-11 --status failed --since 24h

  # Everything that touched a vehicle
  warden executions query --entity-type vehicle --entity VH-1042 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := executionQueryFromFlags(time.Now())
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.recorder.Query(cmd.Context(), q)
		if err != nil {
			return cli.NewCommandError("executions query", err)
		}
		total, err := a.recorder.Count(cmd.Context(), q)
		if err != nil {
			return cli.NewCommandError("executions query", err)
		}

		if err := render(cmd, executionTable(records)); err != nil {
			return err
		}
		if !structured() && outputFormat != string(cli.FormatCSV) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%d of %d records\n", len(records), total)
		}
		return nil
	},
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an execution record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.recorder.Get(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("executions show", err)
		}
		if structured() {
			return render(cmd, e)
		}
		return writeExecutionDetail(cmd.OutOrStdout(), e)
	},
}

var executionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export execution records",
	Long: `Export every record matching the filters. --limit caps the total.

Examples:
  # Last week's records as CSV
  warden executions export --since 168h --format csv --out executions.csv

  # One policy as JSON lines on stdout
  warden executions export --policy-code HOS-11 --format jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := export.New(executionFlags.format)
		if err != nil {
			return cli.NewConfigError("format", err.Error())
		}
		q, err := executionQueryFromFlags(time.Now())
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		total, err := a.recorder.Count(cmd.Context(), q)
		if err != nil {
			return cli.NewCommandError("executions export", err)
		}
		if q.Limit > 0 && int64(q.Limit) < total {
			total = int64(q.Limit)
		}

		var w io.Writer = cmd.OutOrStdout()
		if executionFlags.out != "" {
			f, err := os.Create(executionFlags.out)
			if err != nil {
				return cli.NewCommandError("executions export", err)
			}
			defer f.Close()
			w = f
		}

		progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "Exporting")
		progress.Start(total)
		n, err := export.ExportQueryProgress(cmd.Context(), a.executions, q, exp, w, func(fetched int) {
			progress.Update(int64(fetched))
		})
		if err != nil {
			progress.Error(err)
			return cli.NewCommandError("executions export", err)
		}
		progress.Finish()

		if executionFlags.out != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", n, executionFlags.out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(executionsCmd)
	executionsCmd.AddCommand(executionsQueryCmd, executionsShowCmd, executionsExportCmd)

	for _, c := range []*cobra.Command{executionsQueryCmd, executionsExportCmd} {
		f := c.Flags()
		f.StringVar(&executionFlags.policyID, "policy", "", "filter by policy version id")
		f.StringVar(&executionFlags.policyCode, "policy-code", "", "filter by policy code")
		f.StringVar(&executionFlags.entityType, "entity-type", "", "filter by entity type (vehicle, driver, work_order)")
		f.StringVar(&executionFlags.entityID, "entity", "", "filter by entity id")
		f.StringVar(&executionFlags.statuses, "status", "", "comma-separated statuses")
		f.StringVar(&executionFlags.trigger, "trigger", "", "filter by trigger (scheduled, event, manual)")
		f.StringVar(&executionFlags.timeRange, "time-range", "", `RFC3339 interval "start/end"`)
		f.DurationVar(&executionFlags.since, "since", 0, "only records started within this duration")
		f.StringVar(&executionFlags.sort, "sort", "desc", "sort by start time (asc, desc)")
	}
	executionsQueryCmd.Flags().IntVar(&executionFlags.limit, "limit", 50, "maximum records to list")
	executionsQueryCmd.Flags().IntVar(&executionFlags.offset, "offset", 0, "records to skip")
	executionsExportCmd.Flags().IntVar(&executionFlags.limit, "limit", 0, "maximum records to export (0 = all)")
	executionsExportCmd.Flags().StringVar(&executionFlags.format, "format", export.FormatJSONL, "export format (json, jsonl, csv)")
	executionsExportCmd.Flags().StringVar(&executionFlags.out, "out", "", "output file (default stdout)")
}

// executionQueryFromFlags builds a query from the command flags.
func executionQueryFromFlags(now time.Time) (*execution.Query, error) {
	f := &executionFlags
	q := &execution.Query{
		PolicyID:   f.policyID,
		PolicyCode: f.policyCode,
		EntityType: fleet.EntityType(f.entityType),
		EntityID:   f.entityID,
		Trigger:    execution.Trigger(f.trigger),
		Limit:      f.limit,
		Offset:     f.offset,
		SortOrder:  f.sort,
	}
	if q.EntityType != "" && !q.EntityType.Valid() {
		return nil, cli.NewConfigError("entity-type", fmt.Sprintf("unknown entity type %q", f.entityType))
	}
	for _, s := range splitList(f.statuses) {
		q.Statuses = append(q.Statuses, execution.Status(s))
	}

	if f.timeRange != "" && f.since > 0 {
		return nil, cli.NewConfigError("time-range", "--time-range and --since are mutually exclusive")
	}
	if f.timeRange != "" {
		start, end, err := parseTimeRange(f.timeRange)
		if err != nil {
			return nil, cli.NewConfigError("time-range", err.Error())
		}
		q.StartTime, q.EndTime = &start, &end
	}
	if f.since > 0 {
		start := now.Add(-f.since)
		q.StartTime = &start
	}

	if err := execution.ValidateQuery(q); err != nil {
		return nil, cli.NewConfigError("query", err.Error())
	}
	return q, nil
}

// parseTimeRange parses an RFC3339 "start/end" interval.
func parseTimeRange(s string) (time.Time, time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid time range %q: expected start/end", s)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end time %s is before start time %s", parts[1], parts[0])
	}
	return start, end, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func executionTable(records []*execution.Execution) *cli.Table {
	table := &cli.Table{
		Headers: []string{"ID", "POLICY", "VERSION", "ENTITY", "TRIGGER", "MODE", "STATUS", "MATCHED", "STARTED", "DURATION"},
		Records: records,
	}
	for _, e := range records {
		table.Append(e.ID, e.PolicyCode, e.PolicyVersion, e.Entity.String(), e.Trigger, e.Mode,
			e.Status, e.Matched, e.StartedAt.UTC().Format(time.RFC3339), e.Duration.Round(time.Millisecond))
	}
	return table
}

func writeExecutionDetail(w io.Writer, e *execution.Execution) error {
	summary := &cli.Table{Headers: []string{"FIELD", "VALUE"}}
	summary.Append("id", e.ID)
	summary.Append("policy", fmt.Sprintf("%s v%d (%s)", e.PolicyCode, e.PolicyVersion, e.PolicyID))
	summary.Append("entity", e.Entity.String())
	summary.Append("trigger", e.Trigger)
	summary.Append("mode", e.Mode)
	summary.Append("status", e.Status)
	summary.Append("reason", orDash(e.StatusReason))
	summary.Append("matched", e.Matched)
	summary.Append("actor", orDash(e.Actor))
	summary.Append("parent", orDash(e.ParentExecutionID))
	summary.Append("owner", orDash(e.Owner))
	summary.Append("started", e.StartedAt.UTC().Format(time.RFC3339))
	summary.Append("completed", formatTime(e.CompletedAt))
	summary.Append("snapshot_hash", orDash(e.SnapshotHash))

	text := &cli.TextFormatter{}
	if err := text.FormatTo(w, summary); err != nil {
		return err
	}

	if len(e.ConditionTrace) > 0 {
		fmt.Fprintln(w, "\nConditions:")
		trace := &cli.Table{Headers: []string{"PATH", "FIELD", "OPERATOR", "EXPECTED", "ACTUAL", "STATUS"}}
		for _, leaf := range e.ConditionTrace {
			trace.Append(leaf.Path, orDash(leaf.Field), leaf.Operator, leaf.Expected, leaf.Actual, leaf.Status)
		}
		if err := text.FormatTo(w, trace); err != nil {
			return err
		}
	}

	if len(e.ActionResults) > 0 {
		fmt.Fprintln(w, "\nActions:")
		actions := &cli.Table{Headers: []string{"#", "ACTION", "STATUS", "ATTEMPTS", "ERROR"}}
		for _, r := range e.ActionResults {
			actions.Append(r.Index, r.Action, r.Status, r.Attempts, orDash(r.Error))
		}
		if err := text.FormatTo(w, actions); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/source"
)

var policyFlags struct {
	status   string
	code     string
	category string
	tenant   string
	entity   string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage policy templates",
	Long: `Manage policy templates in the registry.

Subcommands:
  list      - List templates
  show      - Show one template version
  versions  - List every version of a policy code
  sync      - Apply the policy directory to the registry
  validate  - Validate policy files without touching the registry
  activate  - Activate a draft, superseding the previous active version
  retire    - Archive a version
  enable    - Allow an active version to execute
  disable   - Stop an active version from executing
  run-now   - Run a policy immediately`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy templates",
	Long: `List policy templates.

Examples:
  # Active templates only
  warden policy list --status active

  # Every version of one code as JSON
  warden policy list --code HOS-11 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		templates, err := a.registry.List(cmd.Context(), policy.ListFilter{
			TenantID: policyFlags.tenant,
			Code:     policyFlags.code,
			Status:   policy.Status(policyFlags.status),
			Category: policyFlags.category,
		})
		if err != nil {
			return cli.NewCommandError("policy list", err)
		}
		return render(cmd, templateTable(templates))
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a policy template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.registry.Get(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("policy show", err)
		}
		if structured() {
			return render(cmd, t)
		}
		return render(cmd, templateDetail(t))
	},
}

var policyVersionsCmd = &cobra.Command{
	Use:   "versions <code>",
	Short: "List every version of a policy code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tenant := policyFlags.tenant
		if tenant == "" {
			tenant = a.cfg.Engine.TenantID
		}
		versions, err := a.registry.Versions(cmd.Context(), tenant, args[0])
		if err != nil {
			return cli.NewCommandError("policy versions", err)
		}
		return render(cmd, templateTable(versions))
	},
}

var policySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply the policy directory to the registry",
	Long: `Load every policy file under policies.dir and apply it to the registry.

New codes and changed documents become draft versions; documents marked
activate: true are promoted. Invalid documents are reported and skipped,
leaving their current versions in force.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, syncErr := a.syncer.Sync(cmd.Context())
		if result != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Documents: %d  created: %d  updated: %d  activated: %d  unchanged: %d\n",
				result.Documents, len(result.Created), len(result.Updated), len(result.Activated), result.Unchanged)
		}
		if syncErr != nil {
			return cli.NewCommandError("policy sync", syncErr)
		}
		return nil
	},
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path...]",
	Short: "Validate policy files",
	Long: `Parse and validate policy files without touching the registry.

With no arguments the configured policies.dir is validated. The command
exits non-zero when any document is invalid.

Examples:
  warden policy validate
  warden policy validate policies/hos.yaml policies/maintenance/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		paths := args
		if len(paths) == 0 {
			paths = []string{cfg.Policies.Dir}
		}

		report, invalid := validatePolicyFiles(paths, modeThresholds(cfg))
		if err := render(cmd, report); err != nil {
			return err
		}
		if invalid > 0 {
			return cli.NewCommandError("policy validate", fmt.Errorf("%d of %d policy documents invalid", invalid, len(report.Rows)))
		}
		return nil
	},
}

var policyActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Activate a draft version",
	Args:  cobra.ExactArgs(1),
	RunE: lifecycleCommand("activate", func(a *app, cmd *cobra.Command, id string) (*policy.Template, error) {
		return a.registry.Activate(cmd.Context(), id)
	}),
}

var policyRetireCmd = &cobra.Command{
	Use:   "retire <id>",
	Short: "Archive a version",
	Args:  cobra.ExactArgs(1),
	RunE: lifecycleCommand("retire", func(a *app, cmd *cobra.Command, id string) (*policy.Template, error) {
		return a.registry.Retire(cmd.Context(), id)
	}),
}

var policyEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Allow a version to execute",
	Args:  cobra.ExactArgs(1),
	RunE: lifecycleCommand("enable", func(a *app, cmd *cobra.Command, id string) (*policy.Template, error) {
		return a.registry.SetExecutionEnabled(cmd.Context(), id, true)
	}),
}

var policyDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Stop a version from executing",
	Args:  cobra.ExactArgs(1),
	RunE: lifecycleCommand("disable", func(a *app, cmd *cobra.Command, id string) (*policy.Template, error) {
		return a.registry.SetExecutionEnabled(cmd.Context(), id, false)
	}),
}

var policyRunNowCmd = &cobra.Command{
	Use:   "run-now <id>",
	Short: "Run a policy immediately",
	Long: `Run a policy immediately against one entity, or against its whole scope
when --entity is not given. Manual runs ignore the policy's schedule but
still honour its enforcement mode and the per-entity lease.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireFleet(); err != nil {
			return cli.NewConfigError("fleet", err.Error())
		}

		ids, err := a.scheduler.RunNow(cmd.Context(), args[0], policyFlags.entity)
		if err != nil {
			return cli.NewCommandError("policy run-now", err)
		}
		table := &cli.Table{Headers: []string{"EXECUTION"}, Records: map[string][]string{"execution_ids": ids}}
		for _, id := range ids {
			table.Append(id)
		}
		return render(cmd, table)
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd, policyShowCmd, policyVersionsCmd, policySyncCmd, policyValidateCmd,
		policyActivateCmd, policyRetireCmd, policyEnableCmd, policyDisableCmd, policyRunNowCmd)

	policyCmd.PersistentFlags().StringVar(&policyFlags.tenant, "tenant", "", "tenant id (default engine.tenant_id)")
	policyListCmd.Flags().StringVar(&policyFlags.status, "status", "", "filter by status (draft, active, archived)")
	policyListCmd.Flags().StringVar(&policyFlags.code, "code", "", "filter by policy code")
	policyListCmd.Flags().StringVar(&policyFlags.category, "category", "", "filter by category")
	policyRunNowCmd.Flags().StringVar(&policyFlags.entity, "entity", "", "entity id (default: every entity in scope)")
}

// lifecycleCommand builds the RunE of a single-template registry command.
func lifecycleCommand(verb string, op func(a *app, cmd *cobra.Command, id string) (*policy.Template, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := op(a, cmd, args[0])
		if err != nil {
			return cli.NewCommandError("policy "+verb, err)
		}
		if structured() {
			return render(cmd, t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s v%d (%s): status=%s execution_enabled=%t\n",
			t.Code, t.Version, t.ID, t.Status, t.ExecutionEnabled)
		return nil
	}
}

// validatePolicyFiles loads and validates every document under paths. It
// returns one row per document (or unreadable file) and the number of
// failures.
func validatePolicyFiles(paths []string, thresholds policy.ModeThresholds) (*cli.Table, int) {
	loader := source.NewLoader(source.DefaultLoaderConfig())
	actions := action.NewRegistry(fleet.Collaborators{})

	table := &cli.Table{Headers: []string{"FILE", "CODE", "MODE", "RESULT"}}
	invalid := 0
	for _, path := range paths {
		docs, err := loadPolicyPath(loader, path)
		var list *source.ErrorList
		switch {
		case errors.As(err, &list):
			for _, e := range list.Errors {
				table.Append(path, "-", "-", e.Error())
				invalid++
			}
		case err != nil:
			table.Append(path, "-", "-", err.Error())
			invalid++
		}

		for _, doc := range docs {
			t := doc.Template()
			if t.Mode == "" {
				t.Mode = thresholds.DefaultMode(t.Confidence)
			}
			result := "ok"
			if err := policy.Validate(t, actions); err != nil {
				result = err.Error()
				invalid++
			}
			table.Append(doc.Path, doc.Code, t.Mode, result)
		}
	}
	return table, invalid
}

func loadPolicyPath(loader *source.Loader, path string) ([]*source.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loader.LoadDirectory(path)
	}
	return loader.LoadFile(path)
}

func templateTable(templates []*policy.Template) *cli.Table {
	table := &cli.Table{
		Headers: []string{"ID", "CODE", "VERSION", "STATUS", "MODE", "ENABLED", "SCHEDULE", "NEXT RUN"},
		Records: templates,
	}
	for _, t := range templates {
		table.Append(t.ID, t.Code, t.Version, t.Status, t.Mode, t.ExecutionEnabled,
			scheduleString(t.Schedule), formatTime(t.NextExecutionAt))
	}
	return table
}

func templateDetail(t *policy.Template) *cli.Table {
	table := &cli.Table{Headers: []string{"FIELD", "VALUE"}}
	table.Append("id", t.ID)
	table.Append("tenant", t.TenantID)
	table.Append("code", t.Code)
	table.Append("version", t.Version)
	table.Append("name", t.Name)
	table.Append("category", t.Category)
	table.Append("status", t.Status)
	table.Append("mode", t.Mode)
	table.Append("confidence", strconv.FormatFloat(t.Confidence, 'f', 2, 64))
	table.Append("execution_enabled", t.ExecutionEnabled)
	table.Append("scope", t.Scope.EntityType)
	table.Append("schedule", scheduleString(t.Schedule))
	table.Append("actions", len(t.Actions))
	table.Append("supersedes", orDash(t.Supersedes))
	table.Append("superseded_by", orDash(t.SupersededBy))
	table.Append("effective_date", formatTime(t.EffectiveDate))
	table.Append("last_run", formatTime(t.LastExecutionAt))
	table.Append("next_run", formatTime(t.NextExecutionAt))
	table.Append("source", orDash(t.Source))
	return table
}

func scheduleString(s policy.Schedule) string {
	switch {
	case s.Interval > 0:
		return "every " + s.Interval.String()
	case s.Cron != "":
		return "cron " + s.Cron
	case s.Event != "":
		return "on " + s.Event
	default:
		return "-"
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/violation"
)

var violationFlags struct {
	states      string
	policyCode  string
	subjectType string
	subjectID   string
	limit       int

	actor  string
	reason string
	grant  bool
	deny   bool
}

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Work violation cases",
	Long: `List violation cases and move them through their lifecycle.

Detection, investigation, classification and discipline run automatically
when a policy records a violation. These commands cover the steps people
take: training completion, acknowledgment, appeals and their decisions.

Subcommands:
  list               - List cases (open cases by default)
  show               - Show one case with its history
  complete-training  - Record completed training
  acknowledge        - Record the subject's acknowledgment
  appeal             - File an appeal within the appeal window
  decide             - Grant or deny an appeal
  sweep              - Close cases whose appeal window has elapsed`,
}

var violationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List violation cases",
	Long: `List violation cases. Without --state only open cases are listed;
--state all lists every case.

Examples:
  warden violations list --subject-type driver --subject DR-204
  warden violations list --state appeal_review,appeal_window -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := violationQueryFromFlags()
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cases, err := a.violation.Query(cmd.Context(), q)
		if err != nil {
			return cli.NewCommandError("violations list", err)
		}
		return render(cmd, violationTable(cases))
	},
}

var violationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a violation case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.violation.Get(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("violations show", err)
		}
		if structured() {
			return render(cmd, v)
		}

		if err := render(cmd, violationTable([]*violation.Violation{v})); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nHistory:")
		history := &cli.Table{Headers: []string{"AT", "FROM", "TO", "ACTOR", "REASON"}}
		for _, tr := range v.History {
			history.Append(tr.At.UTC().Format(time.RFC3339), orDash(string(tr.From)), tr.To, tr.Actor, orDash(tr.Reason))
		}
		return render(cmd, history)
	},
}

var violationsTrainingCmd = &cobra.Command{
	Use:   "complete-training <id>",
	Short: "Record completed training",
	Args:  cobra.ExactArgs(1),
	RunE:  violationCommand("complete_training"),
}

var violationsAcknowledgeCmd = &cobra.Command{
	Use:   "acknowledge <id>",
	Short: "Record the subject's acknowledgment and open the appeal window",
	Args:  cobra.ExactArgs(1),
	RunE:  violationCommand("acknowledge"),
}

var violationsAppealCmd = &cobra.Command{
	Use:   "appeal <id>",
	Short: "File an appeal",
	Args:  cobra.ExactArgs(1),
	RunE:  violationCommand("appeal"),
}

var violationsDecideCmd = &cobra.Command{
	Use:   "decide <id>",
	Short: "Grant or deny an appeal",
	Long: `Decide an appeal under review. Exactly one of --grant or --deny is required.
A granted appeal closes the case; a denied appeal reopens it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if violationFlags.grant == violationFlags.deny {
			return cli.NewConfigError("decide", "exactly one of --grant or --deny is required")
		}
		return violationCommand("decide_appeal")(cmd, args)
	},
}

var violationsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close cases whose appeal window has elapsed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.violation.SweepAppealWindows(cmd.Context(), time.Now())
		if err != nil {
			return cli.NewCommandError("violations sweep", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Closed %d cases\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(violationsCmd)
	violationsCmd.AddCommand(violationsListCmd, violationsShowCmd, violationsTrainingCmd,
		violationsAcknowledgeCmd, violationsAppealCmd, violationsDecideCmd, violationsSweepCmd)

	f := violationsListCmd.Flags()
	f.StringVar(&violationFlags.states, "state", "", `comma-separated states, or "all"`)
	f.StringVar(&violationFlags.policyCode, "policy-code", "", "filter by policy code")
	f.StringVar(&violationFlags.subjectType, "subject-type", "", "subject entity type (vehicle, driver, work_order)")
	f.StringVar(&violationFlags.subjectID, "subject", "", "subject id (requires --subject-type)")
	f.IntVar(&violationFlags.limit, "limit", 100, "maximum cases to list")

	for _, c := range []*cobra.Command{violationsTrainingCmd, violationsAcknowledgeCmd, violationsAppealCmd, violationsDecideCmd} {
		c.Flags().StringVar(&violationFlags.actor, "actor", os.Getenv("USER"), "who is taking the step")
		c.Flags().StringVar(&violationFlags.reason, "reason", "", "note recorded on the transition")
	}
	violationsDecideCmd.Flags().BoolVar(&violationFlags.grant, "grant", false, "grant the appeal")
	violationsDecideCmd.Flags().BoolVar(&violationFlags.deny, "deny", false, "deny the appeal")
}

// violationCommand builds the RunE of a lifecycle command.
func violationCommand(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if violationFlags.actor == "" {
			return cli.NewConfigError("actor", "--actor is required")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.violation.Apply(cmd.Context(), args[0], violation.Command{
			Name:    name,
			Actor:   violationFlags.actor,
			Reason:  violationFlags.reason,
			Granted: violationFlags.grant,
		})
		if err != nil {
			return cli.NewCommandError("violations "+cmd.Name(), err)
		}
		if structured() {
			return render(cmd, v)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", v.ID, v.State)
		return nil
	}
}

func violationQueryFromFlags() (*violation.Query, error) {
	f := &violationFlags
	q := &violation.Query{
		PolicyCode:  f.policyCode,
		SubjectType: fleet.EntityType(f.subjectType),
		SubjectID:   f.subjectID,
		Limit:       f.limit,
	}
	if q.SubjectID != "" && q.SubjectType == "" {
		return nil, cli.NewConfigError("subject", "--subject requires --subject-type")
	}
	if q.SubjectType != "" && !q.SubjectType.Valid() {
		return nil, cli.NewConfigError("subject-type", fmt.Sprintf("unknown entity type %q", f.subjectType))
	}

	switch states := splitList(f.states); {
	case len(states) == 0:
		q.OpenOnly = true
	case len(states) == 1 && states[0] == "all":
	default:
		for _, s := range states {
			q.States = append(q.States, violation.State(s))
		}
	}
	return q, nil
}

func violationTable(cases []*violation.Violation) *cli.Table {
	table := &cli.Table{
		Headers: []string{"ID", "POLICY", "SUBJECT", "SEVERITY", "OFFENSE", "DISCIPLINE", "TRAINING", "STATE", "APPEAL DEADLINE"},
		Records: cases,
	}
	for _, v := range cases {
		table.Append(v.ID, v.PolicyCode, v.Subject.String(), v.Severity, v.OffenseCount,
			orDash(string(v.Discipline)), v.TrainingRequired, v.State, formatTime(v.AppealDeadline))
	}
	return table
}

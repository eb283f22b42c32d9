package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/compliance"
)

var auditFlags struct {
	auditType string
	all       bool
	limit     int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run and inspect compliance audits",
	Long: `Run compliance audits and inspect their results.

An audit evaluates a policy's conditions against every entity in its scope
and stores compliant and non-compliant counts, a score and findings. Audits
are idempotent per policy and window: re-running a daily audit on the same
day replaces that day's result.`,
}

var auditRunCmd = &cobra.Command{
	Use:   "run [policy-id]",
	Short: "Audit a policy now",
	Long: `Audit one policy, or every active policy with --all.

Examples:
  warden audit run 6f1c2a9e-... --type daily
  warden audit run --all --type weekly`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := compliance.AuditType(auditFlags.auditType)
		if !typ.Valid() {
			return cli.NewConfigError("type", fmt.Sprintf("unknown audit type %q", auditFlags.auditType))
		}
		if auditFlags.all == (len(args) == 1) {
			return cli.NewConfigError("audit", "give a policy id or --all, not both")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireFleet(); err != nil {
			return cli.NewConfigError("fleet", err.Error())
		}

		if auditFlags.all {
			n, err := a.auditor.AuditAll(cmd.Context(), typ)
			if err != nil {
				return cli.NewCommandError("audit run", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Audited %d policies\n", n)
			return nil
		}

		result, err := a.auditor.Audit(cmd.Context(), args[0], typ)
		if err != nil {
			return cli.NewCommandError("audit run", err)
		}
		if structured() {
			return render(cmd, result)
		}
		return render(cmd, auditTable([]*compliance.Audit{result}))
	},
}

var auditLatestCmd = &cobra.Command{
	Use:   "latest <policy-id>",
	Short: "Show the latest audit of a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.auditor.Latest(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("audit latest", err)
		}
		if structured() {
			return render(cmd, result)
		}
		if err := render(cmd, auditTable([]*compliance.Audit{result})); err != nil {
			return err
		}
		if len(result.Findings) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "\nNon-compliant entities:")
			findings := &cli.Table{Headers: []string{"ENTITY", "FAILED CONDITIONS"}}
			for _, f := range result.Findings {
				findings.Append(f.Entity.String(), len(f.Trace))
			}
			return render(cmd, findings)
		}
		return nil
	},
}

var auditHistoryCmd = &cobra.Command{
	Use:   "history <policy-id>",
	Short: "List past audits of a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		audits, err := a.auditor.History(cmd.Context(), args[0], auditFlags.limit)
		if err != nil {
			return cli.NewCommandError("audit history", err)
		}
		return render(cmd, auditTable(audits))
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditRunCmd, auditLatestCmd, auditHistoryCmd)

	auditRunCmd.Flags().StringVar(&auditFlags.auditType, "type", string(compliance.AuditAdhoc), "audit type (daily, weekly, monthly, adhoc)")
	auditRunCmd.Flags().BoolVar(&auditFlags.all, "all", false, "audit every active policy")
	auditHistoryCmd.Flags().IntVar(&auditFlags.limit, "limit", 30, "maximum audits to list")
}

func auditTable(audits []*compliance.Audit) *cli.Table {
	table := &cli.Table{
		Headers: []string{"POLICY", "VERSION", "TYPE", "WINDOW", "EVALUATED", "COMPLIANT", "NON-COMPLIANT", "SKIPPED", "SCORE", "CORRECTIVE DUE"},
		Records: audits,
	}
	for _, a := range audits {
		table.Append(a.PolicyCode, a.PolicyVersion, a.Type, a.WindowKey, a.Evaluated, a.Compliant,
			a.NonCompliant, a.Skipped, fmt.Sprintf("%.1f%%", a.Score*100), formatTime(a.CorrectiveActionDue))
	}
	return table
}

/*
Package cli holds the output, progress and signal helpers shared by the
warden subcommands.

Commands build a Table (or any JSON/YAML-serialisable value) and hand it
to a Formatter chosen by the --output flag:

	formatter, err := cli.NewFormatter(cli.OutputFormat(output))
	if err != nil {
		return err
	}
	return formatter.FormatTo(cmd.OutOrStdout(), table)

Long exports report progress on stderr:

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "Exporting")
	progress.Start(total)
	...
	progress.Finish()

NotifyContext returns a context canceled on SIGINT or SIGTERM.
*/
package cli

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/config"
)

// defaultConfigFile is read when --config is not given. A missing default
// file is not an error; defaults and WARDEN_* overrides apply.
const defaultConfigFile = "warden.yaml"

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - policy automation engine for fleet operations",
	Long: `Warden evaluates fleet policies against vehicles, drivers and work orders,
executes the resulting actions and keeps an auditable record of every run.

It provides:
  - Scheduled and event-driven policy execution with per-entity leases
  - Monitor, human-in-the-loop and autonomous enforcement modes
  - A violation lifecycle with progressive discipline and appeals
  - Compliance audits with scores and corrective action deadlines`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := cli.NotifyContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml, csv)")
}

// loadConfig initializes the process configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	if err := config.Initialize(path); err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	cfg := config.GetConfig()
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// openApp loads configuration and builds the engine for a one-shot
// command. Logs go to stderr so stdout carries only command output.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
}

// render writes data to stdout in the --output format.
func render(cmd *cobra.Command, data interface{}) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(outputFormat))
	if err != nil {
		return err
	}
	return formatter.FormatTo(cmd.OutOrStdout(), data)
}

// structured reports whether --output asks for JSON or YAML.
func structured() bool {
	return outputFormat == string(cli.FormatJSON) || outputFormat == string(cli.FormatYAML)
}

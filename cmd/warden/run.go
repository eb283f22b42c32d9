package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetguard/warden/pkg/cli"
	"fleetguard/warden/pkg/compliance"
	"fleetguard/warden/pkg/policy/git"
	"fleetguard/warden/pkg/policy/source"
	"fleetguard/warden/pkg/server"
	"fleetguard/warden/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the policy engine",
	Long: `Start the policy engine with the specified configuration.

The engine syncs policy templates from the configured source, recovers
executions left pending by a previous process, then runs the scheduler,
the violation appeal sweep, scheduled compliance audits, execution
retention and the HTTP API until SIGINT or SIGTERM.

Examples:
  # Start with the default config
  warden run

  # Start with a custom config
  warden run --config /etc/warden/warden.yaml

  # Override the API listen address
  warden run --listen 0.0.0.0:8080

  # Validate config without starting
  warden run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override api listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the engine")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.API.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		if _, err := logging.ParseLevel(runFlags.logLevel); err != nil {
			return cli.NewConfigError("log-level", err.Error())
		}
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
		return nil
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireFleet(); err != nil {
		return cli.NewConfigError("fleet", err.Error())
	}

	slog.Info("starting warden",
		"version", Version,
		"tenant_id", cfg.Engine.TenantID,
		"instance_id", cfg.Engine.InstanceID,
		"storage", cfg.Storage.Backend,
		"lease", cfg.Lease.Backend,
		"policy_source", cfg.Policies.Source,
	)

	g, gctx := errgroup.WithContext(ctx)

	if err := startPolicySource(gctx, g, a); err != nil {
		return cli.NewCommandError("run", err)
	}

	if err := a.scheduler.Start(gctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	a.schedulerUp.Store(true)
	defer func() {
		a.schedulerUp.Store(false)
		a.scheduler.Stop()
	}()

	if err := a.violation.Start(gctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.violation.Stop()

	if err := a.auditor.Start(gctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.auditor.Stop()

	if err := a.pruner.Start(gctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.pruner.Stop()

	if cfg.API.Enabled {
		srv, err := newServer(a)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		g.Go(func() error { return srv.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		return nil
	})

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// startPolicySource performs the initial policy sync and starts the
// watcher or repository poller in g.
func startPolicySource(ctx context.Context, g *errgroup.Group, a *app) error {
	cfg := &a.cfg.Policies

	if cfg.Source == "git" {
		src, err := git.NewSource(&cfg.Git, a.syncer)
		if err != nil {
			return err
		}
		result, err := src.Init(ctx)
		if result == nil && err != nil {
			return fmt.Errorf("policy repository: %w", err)
		}
		if err != nil {
			slog.Warn("initial policy sync incomplete", "error", err)
		}
		g.Go(func() error { return src.Run(ctx) })
		return nil
	}

	if _, err := a.syncer.Sync(ctx); err != nil {
		slog.Warn("initial policy sync incomplete", "dir", cfg.Dir, "error", err)
	}
	if !cfg.Watch {
		return nil
	}

	wcfg := source.DefaultWatcherConfig()
	if cfg.Debounce > 0 {
		wcfg.Debounce = cfg.Debounce
	}
	watcher, err := source.NewWatcher(a.syncer, wcfg)
	if err != nil {
		return err
	}
	g.Go(func() error {
		defer watcher.Stop()
		if err := watcher.Watch(ctx); err != nil {
			slog.Error("policy watcher stopped", "error", err)
		}
		return nil
	})
	return nil
}

func newServer(a *app) (*server.Server, error) {
	return server.New(&a.cfg.API, server.Dependencies{
		Executions:       a.recorder,
		Runner:           a.scheduler,
		Violations:       a.violation,
		Audits:           a.auditor,
		DefaultAuditType: compliance.AuditAdhoc,
		Health:           a.health,
		HealthConfig:     &a.cfg.Telemetry.Health,
		Version:          versionInfo(),
		Metrics:          metricsHandler(a),
		MetricsPath:      a.cfg.Telemetry.Metrics.Path,
	})
}

func metricsHandler(a *app) http.Handler {
	if !a.cfg.Telemetry.Metrics.Enabled {
		return nil
	}
	return a.metrics.Handler()
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudkeep/drivesync/internal/config"
	"github.com/cloudkeep/drivesync/internal/controller"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run as a long-lived daemon: bring every job to idle and keep watchers live",
		Long: `watch starts every configured job's filesystem watcher (spec §4.11's
online local_entries/path_is_dir updates) and blocks, so an external
scheduler (cron, systemd timer) can trigger runs against a warm catalogue
via 'drivesync run --job <id>' without re-scanning from scratch.

SIGHUP re-runs each job's Initializing transition without restarting the
process, against the config loaded at start; edits to the config file are
not re-read. SIGINT/SIGTERM shut down gracefully,
a second one forcing immediate exit.`,
		// watch manages every configured job, not one resolved via --job.
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runWatchCmd,
	}
}

func runWatchCmd(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cc, err := buildDaemonContext(logger)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	if err := cc.Controller.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	pidPath := config.PIDFilePath()

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	statusf("drivesync watch running (pid %d)\n", os.Getpid())

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case <-ctx.Done():
			statusf("watch shutting down\n")

			return nil
		case <-hupCh:
			logger.Info("watch: SIGHUP received, reloading job states")

			for _, id := range cc.Controller.JobIDs() {
				if err := cc.Controller.ChangeState(ctx, id, controller.StateInitializing); err != nil {
					logger.Warn("watch: reload failed for job", "job", id.String(), "error", err)
				}
			}
		}
	}
}

// buildDaemonContext loads the whole config (every job, not one resolved
// via --job) and wires a Controller the same way loadConfig does for
// job-scoped commands.
func buildDaemonContext(logger *slog.Logger) (*CLIContext, error) {
	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, config.CLIOverrides{ConfigPath: flagConfigPath}, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	ctrl, err := buildController(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &CLIContext{Cfg: cfg, Controller: ctrl, Logger: logger}, nil
}

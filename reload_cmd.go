package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudkeep/drivesync/internal/config"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Signal a running 'drivesync watch' daemon to reload its jobs",
		Long: `reload sends SIGHUP to the daemon recorded in the PID file, which
re-runs each job's Initializing transition. The daemon keeps the config it
loaded at start; edits to the config file take effect only after a restart.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runReloadCmd,
	}
}

func runReloadCmd(_ *cobra.Command, _ []string) error {
	pidPath := config.PIDFilePath()
	if pidPath == "" {
		return fmt.Errorf("cannot determine PID file path")
	}

	if err := sendSIGHUP(pidPath); err != nil {
		return err
	}

	statusf("Reload signal sent\n")

	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudkeep/drivesync/internal/controller"
	"github.com/cloudkeep/drivesync/internal/jobid"
)

// pollInterval is how often `run` checks the job's state while waiting for
// a queued/executing run to reach a terminal state.
const pollInterval = 500 * time.Millisecond

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the resolved job once and wait for it to finish",
		Long: `Start the job's controller, trigger a run, and block until it reaches a
terminal state (idle, error, or cancelled), printing the verification
totals on success.

A second Ctrl-C during shutdown forces immediate exit; the first gives the
in-flight run a chance to reach a safe stopping point.`,
		RunE: runRunCmd,
	}
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	if err := cc.Controller.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	id, ok := cc.Controller.Lookup(cc.ResolvedJob.ID)
	if !ok {
		return fmt.Errorf("job %q not found", cc.ResolvedJob.ID)
	}

	statusf("Starting job %q...\n", cc.ResolvedJob.ID)

	if err := cc.Controller.RunJob(id); err != nil {
		return fmt.Errorf("triggering run: %w", err)
	}

	final, err := waitForTerminal(ctx, cc.Controller, id)
	if err != nil {
		return err
	}

	switch final {
	case controller.StateIdle:
		totals, err := cc.Controller.Totals(id)
		if err != nil {
			return err
		}

		statusf("Run complete: %d files, %d folders, %s\n",
			totals.FileCount, totals.FolderCount, formatSize(totals.TotalSize))

		return nil
	case controller.StateCancelled:
		return fmt.Errorf("run cancelled")
	default:
		return fmt.Errorf("run ended in state %s", final)
	}
}

// waitForTerminal polls a job's state until it leaves the queued, paused
// and executing states, or ctx is cancelled (shutdownContext cancels it on
// the first Ctrl-C; a second one exits the process outright).
func waitForTerminal(ctx context.Context, ctrl *controller.Controller, id jobid.JobID) (controller.State, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := ctrl.State(id)
		if err != nil {
			return "", err
		}

		if state != controller.StateQueued && !isExecuting(state) && state != controller.StatePaused {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isExecuting(s controller.State) bool {
	switch s {
	case controller.StateScanning, controller.StateBackingUp, controller.StateRestoring, controller.StateVerifying:
		return true
	default:
		return false
	}
}

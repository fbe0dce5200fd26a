package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the resolved job's in-flight run",
		RunE:  runPauseCmd,
	}
}

func runPauseCmd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.Controller.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	id, ok := cc.Controller.Lookup(cc.ResolvedJob.ID)
	if !ok {
		return fmt.Errorf("job %q not found", cc.ResolvedJob.ID)
	}

	if err := cc.Controller.Pause(id); err != nil {
		return err
	}

	statusf("Job %q paused\n", cc.ResolvedJob.ID)

	return nil
}

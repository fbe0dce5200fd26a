package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the resolved job's paused run",
		RunE:  runResumeCmd,
	}
}

func runResumeCmd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.Controller.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	id, ok := cc.Controller.Lookup(cc.ResolvedJob.ID)
	if !ok {
		return fmt.Errorf("job %q not found", cc.ResolvedJob.ID)
	}

	if err := cc.Controller.Resume(id); err != nil {
		return err
	}

	statusf("Job %q resumed\n", cc.ResolvedJob.ID)

	return nil
}

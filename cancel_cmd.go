package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the resolved job's in-flight run",
		RunE:  runCancelCmd,
	}
}

func runCancelCmd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.Controller.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	id, ok := cc.Controller.Lookup(cc.ResolvedJob.ID)
	if !ok {
		return fmt.Errorf("job %q not found", cc.ResolvedJob.ID)
	}

	if err := cc.Controller.Cancel(id); err != nil {
		return err
	}

	statusf("Job %q cancelled\n", cc.ResolvedJob.ID)

	return nil
}

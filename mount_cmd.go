package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount [mountpoint]",
		Short: "Mount the resolved job's remote tree as a FUSE filesystem",
		Long: `Mount serves the job's remote tree at the given mountpoint (spec's Mount
Adapter) and blocks until interrupted, unmounting cleanly on the first
Ctrl-C/SIGTERM.`,
		Args: cobra.ExactArgs(1),
		RunE: runMountCmd,
	}
}

func runMountCmd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	mountpoint := args[0]

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	if err := cc.Controller.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	id, ok := cc.Controller.Lookup(cc.ResolvedJob.ID)
	if !ok {
		return fmt.Errorf("job %q not found", cc.ResolvedJob.ID)
	}

	if err := cc.Controller.Mount(ctx, id, mountpoint); err != nil {
		return fmt.Errorf("mounting: %w", err)
	}

	statusf("Mounted job %q at %s — Ctrl-C to unmount\n", cc.ResolvedJob.ID, mountpoint)

	<-ctx.Done()

	statusf("Unmounting...\n")

	return cc.Controller.Unmount(id)
}

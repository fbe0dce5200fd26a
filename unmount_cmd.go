package main

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
)

func newUnmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmount [mountpoint]",
		Short: "Unmount a drivesync FUSE mount from outside the mounting process",
		Long: `unmount shells out to the platform's unmount utility (fusermount on Linux,
diskutil on macOS) rather than talking to the mount command's process —
the two are independent invocations, so there's no in-process handle to
call Server.Unmount on here.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runUnmountCmd,
	}
}

func runUnmountCmd(_ *cobra.Command, args []string) error {
	mountpoint := args[0]

	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("diskutil", "umount", "force", mountpoint)
	case "linux":
		cmd = exec.Command("fusermount", "-u", mountpoint)
	default:
		return fmt.Errorf("unmount: unsupported platform %s", runtime.GOOS)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("unmounting %s: %w: %s", mountpoint, err, out)
	}

	statusf("Unmounted %s\n", mountpoint)

	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// statusOutput is the JSON/text payload for `status`.
type statusOutput struct {
	Job         string `json:"job"`
	State       string `json:"state"`
	FileCount   int    `json:"file_count"`
	FolderCount int    `json:"folder_count"`
	TotalSize   int64  `json:"total_size"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolved job's current state and last verification totals",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.Controller.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer cc.Controller.Stop()

	id, ok := cc.Controller.Lookup(cc.ResolvedJob.ID)
	if !ok {
		return fmt.Errorf("job %q not found", cc.ResolvedJob.ID)
	}

	state, err := cc.Controller.State(id)
	if err != nil {
		return err
	}

	totals, err := cc.Controller.Totals(id)
	if err != nil {
		return err
	}

	out := statusOutput{
		Job:         cc.ResolvedJob.ID,
		State:       string(state),
		FileCount:   totals.FileCount,
		FolderCount: totals.FolderCount,
		TotalSize:   totals.TotalSize,
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	fmt.Printf("Job:     %s\n", out.Job)
	fmt.Printf("State:   %s\n", out.State)
	fmt.Printf("Files:   %d\n", out.FileCount)
	fmt.Printf("Folders: %d\n", out.FolderCount)
	fmt.Printf("Size:    %s\n", formatSize(out.TotalSize))

	return nil
}

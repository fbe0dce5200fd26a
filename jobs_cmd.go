package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cloudkeep/drivesync/internal/config"
)

// jobStatus is one job's row in the listing. The listing reads only the
// config and starts no Controller, so State is always "none".
type jobStatus struct {
	ID          string `json:"id"`
	Drive       string `json:"drive"`
	Mode        string `json:"mode"`
	SourceRoots int    `json:"source_roots"`
	State       string `json:"state"`
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List configured jobs (job state is not queried)",
		// Lists every job, not one resolved by --job.
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runJobsList,
	}

	return cmd
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, config.CLIOverrides{ConfigPath: flagConfigPath}, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ids := make([]string, 0, len(cfg.Jobs))
	for id := range cfg.Jobs {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	statuses := make([]jobStatus, 0, len(ids))

	for _, id := range ids {
		job := cfg.Jobs[id]
		statuses = append(statuses, jobStatus{
			ID:          id,
			Drive:       job.DriveConfigID,
			Mode:        string(job.Mode),
			SourceRoots: len(job.SourceRoots),
			State:       "none",
		})
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		statusf("No jobs configured.\n")

		return nil
	}

	headers := []string{"JOB", "DRIVE", "MODE", "SOURCES", "STATE"}
	rows := make([][]string, 0, len(statuses))

	for _, s := range statuses {
		rows = append(rows, []string{s.ID, s.Drive, s.Mode, fmt.Sprintf("%d", s.SourceRoots), s.State})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

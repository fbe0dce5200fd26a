package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudkeep/drivesync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration after all overrides",
		Long: `Display the configuration drivesync would use for the current invocation,
after applying the defaults -> file -> environment -> flag override chain.

This does not require --job to resolve to a single job; it shows every
configured drive and job.`,
		// Cobra passes the leaf command actually invoked to the root's
		// PersistentPreRunE, so the annotation must live here, not on the
		// "config" parent — show loads the whole file itself, across every
		// job/drive, and must work even when --job can't resolve to one job.
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, config.CLIOverrides{ConfigPath: flagConfigPath}, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cfg)
	}

	return config.RenderEffective(cfg, os.Stdout)
}

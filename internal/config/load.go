package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.Drives == nil {
		cfg.Drives = make(map[string]Drive)
	}

	if cfg.Jobs == nil {
		cfg.Jobs = make(map[string]Job)
	}

	// Fill each job's unset fields from DefaultJob, then validate (ยง7
	// ConfigInvalid refuses to start the run, so this happens at load time,
	// not at first use).
	for id, job := range cfg.Jobs {
		cfg.Jobs[id] = mergeJobDefaults(job)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path,
		"drive_count", len(cfg.Drives), "job_count", len(cfg.Jobs))

	return cfg, nil
}

// mergeJobDefaults fills zero-valued fields of job with DefaultJob's values.
// TOML's Decode into a pre-populated DefaultJob() per-job would be ideal, but
// the map value type means each job table starts from its own zero value;
// this patches that up field by field for the fields that matter most.
func mergeJobDefaults(job Job) Job {
	d := DefaultJob()

	if job.Mode == "" {
		job.Mode = d.Mode
	}

	if job.CompareMethod == "" {
		job.CompareMethod = d.CompareMethod
	}

	if job.DateDriftSeconds == 0 {
		job.DateDriftSeconds = d.DateDriftSeconds
	}

	if job.SamplingRate == 0 {
		job.SamplingRate = d.SamplingRate
	}

	if job.FastHashLevel == 0 {
		job.FastHashLevel = d.FastHashLevel
	}

	if job.MaxRetries == 0 {
		job.MaxRetries = d.MaxRetries
	}

	if job.ConflictStrategy == "" {
		job.ConflictStrategy = d.ConflictStrategy
	}

	if job.Safety.BigDeleteMinItems == 0 {
		job.Safety = d.Safety
	}

	return job
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values (zero-config first run).
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// CLIOverrides holds config-path and job-selector overrides sourced from
// command-line flags — the highest-priority layer.
type CLIOverrides struct {
	ConfigPath string
	Job        string
	DryRun     *bool
	Force      *bool
}

// ResolvedJob is a Job merged with its Drive and the CLI's dry-run/force
// overrides, ready to hand to the Job Controller.
type ResolvedJob struct {
	ID     string
	Job    Job
	Drive  Drive
	DryRun bool
	Force  bool
}

// ResolveJob applies the four-layer override chain (defaults -> file ->
// env -> CLI flags) and returns the fully resolved job plus the parsed
// Config (for commands that need the full drive/job map, e.g. `status`).
func ResolveJob(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedJob, *Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	jobID := env.Job
	if cli.Job != "" {
		jobID = cli.Job
	}

	jobID, job, driveCfg, err := matchJob(cfg, jobID)
	if err != nil {
		return nil, nil, err
	}

	resolved := &ResolvedJob{ID: jobID, Job: job, Drive: driveCfg}

	if cli.DryRun != nil {
		resolved.DryRun = *cli.DryRun
	}

	if cli.Force != nil {
		resolved.Force = *cli.Force
	}

	if err := ValidateJob(resolved.Job); err != nil {
		return nil, nil, fmt.Errorf("job %q: %w", jobID, err)
	}

	return resolved, cfg, nil
}

// matchJob resolves a job by exact ID, auto-selecting when exactly one job
// is configured and no ID was given. It returns the ID it resolved.
func matchJob(cfg *Config, jobID string) (string, Job, Drive, error) {
	if jobID == "" {
		if len(cfg.Jobs) == 1 {
			for id, job := range cfg.Jobs {
				jobID = id
				_ = job

				break
			}
		} else {
			return "", Job{}, Drive{}, fmt.Errorf("no job specified and %d jobs configured — use --job", len(cfg.Jobs))
		}
	}

	job, ok := cfg.Jobs[jobID]
	if !ok {
		return "", Job{}, Drive{}, fmt.Errorf("job %q not found in config", jobID)
	}

	drive, ok := cfg.Drives[job.DriveConfigID]
	if !ok {
		return "", Job{}, Drive{}, fmt.Errorf("job %q references unknown drive %q", jobID, job.DriveConfigID)
	}

	return jobID, job, drive, nil
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}

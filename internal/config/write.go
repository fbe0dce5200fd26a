package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions restricts the config file to the owner — it may
// contain refresh tokens.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o700

// Save serializes cfg as TOML and writes it to path, creating parent
// directories as needed. Unlike the teacher's line-based text editing (which
// exists to preserve user comments across the OneDrive CLI's many drive
// sections), this is a flat two-table structure — a full rewrite round-trips
// cleanly without losing information.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), configFilePermissions); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}

	return nil
}

// UpsertJob loads the config at path (or starts from defaults), sets or
// replaces the named job, and saves it back.
func UpsertJob(path, jobID string, job Job) error {
	cfg, err := loadForEdit(path)
	if err != nil {
		return err
	}

	cfg.Jobs[jobID] = job

	return Save(path, cfg)
}

// UpsertDrive loads the config at path (or starts from defaults), sets or
// replaces the named drive, and saves it back.
func UpsertDrive(path, driveID string, drive Drive) error {
	cfg, err := loadForEdit(path)
	if err != nil {
		return err
	}

	cfg.Drives[driveID] = drive

	return Save(path, cfg)
}

// loadForEdit is like LoadOrDefault but skips validation — callers are about
// to mutate the config before the next real Load/Validate pass.
func loadForEdit(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

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

	return cfg, nil
}

// RenderEffective writes cfg's effective settings to w as human-readable
// TOML — what `config show` displays after the four-layer override chain
// has been applied (ResolveJob), so the operator can see exactly what a
// run would use without it being mistaken for a file to load from.
func RenderEffective(cfg *Config, w io.Writer) error {
	fmt.Fprintln(w, "# effective configuration (defaults -> file -> env -> flags)")

	enc := toml.NewEncoder(w)

	return enc.Encode(cfg)
}

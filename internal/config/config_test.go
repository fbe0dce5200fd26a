package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[drive.mydrive]
base_url = "https://api.example.test"
refresh_token = "rt-abc123"
remote_drive_id = "d-1"

[job.documents]
drive = "mydrive"
source_roots = ["/home/alice/Documents"]
save_root = "/Documents"
mode = "mirror"
compare_method = "date_time_size"
parallelism_cap = 8
max_retries = 3
preserve_timestamps = true
use_recycle_bin = true

[job.documents.crypto]
enabled = true
compression = "zstd"
encryption = "aes256gcm"
digest = "sha256"
`
	path := writeTestConfig(t, tomlContent)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	require.Contains(t, cfg.Drives, "mydrive")
	assert.Equal(t, "https://api.example.test", cfg.Drives["mydrive"].BaseURL)

	require.Contains(t, cfg.Jobs, "documents")
	job := cfg.Jobs["documents"]
	assert.Equal(t, ModeMirror, job.Mode)
	assert.Equal(t, CompareDateTimeSize, job.CompareMethod)
	assert.Equal(t, 8, job.ParallelismCap)
	assert.True(t, job.Crypto.Enabled)
	assert.Equal(t, "zstd", job.Crypto.Compression)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), testLogger(t))
	require.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `this is not valid toml [[[`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
}

func TestLoad_UnknownDriveReference(t *testing.T) {
	path := writeTestConfig(t, `
[job.documents]
drive = "ghost"
source_roots = ["/src"]
save_root = "/dst"
mode = "one_way"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references unknown drive")
}

func TestLoad_JobDefaultsMergedForUnsetFields(t *testing.T) {
	path := writeTestConfig(t, `
[drive.mydrive]
base_url = "https://api.example.test"
refresh_token = "rt-abc123"

[job.documents]
drive = "mydrive"
source_roots = ["/src"]
save_root = "/dst"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	job := cfg.Jobs["documents"]
	d := DefaultJob()
	assert.Equal(t, d.Mode, job.Mode)
	assert.Equal(t, d.CompareMethod, job.CompareMethod)
	assert.Equal(t, d.MaxRetries, job.MaxRetries)
	assert.Equal(t, d.ConflictStrategy, job.ConflictStrategy)
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"), testLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, cfg.Drives)
	assert.NotNil(t, cfg.Jobs)
	assert.Empty(t, cfg.Jobs)
}

func TestResolveJob_AutoSelectsSingleJob(t *testing.T) {
	path := writeTestConfig(t, `
[drive.mydrive]
base_url = "https://api.example.test"
refresh_token = "rt-abc123"

[job.only]
drive = "mydrive"
source_roots = ["/src"]
save_root = "/dst"
mode = "one_way"
`)

	resolved, _, err := ResolveJob(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "only", resolved.ID)
	assert.Equal(t, "mydrive", resolved.Job.DriveConfigID)
}

func TestResolveJob_RequiresSelectionWhenMultipleJobs(t *testing.T) {
	path := writeTestConfig(t, `
[drive.mydrive]
base_url = "https://api.example.test"
refresh_token = "rt-abc123"

[job.a]
drive = "mydrive"
source_roots = ["/src-a"]
save_root = "/dst-a"
mode = "one_way"

[job.b]
drive = "mydrive"
source_roots = ["/src-b"]
save_root = "/dst-b"
mode = "one_way"
`)

	_, _, err := ResolveJob(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --job")
}

func TestResolveJob_CLIOverridesApplied(t *testing.T) {
	path := writeTestConfig(t, `
[drive.mydrive]
base_url = "https://api.example.test"
refresh_token = "rt-abc123"

[job.only]
drive = "mydrive"
source_roots = ["/src"]
save_root = "/dst"
mode = "one_way"
`)

	dryRun := true
	force := true

	resolved, _, err := ResolveJob(EnvOverrides{}, CLIOverrides{
		ConfigPath: path,
		DryRun:     &dryRun,
		Force:      &force,
	}, testLogger(t))
	require.NoError(t, err)
	assert.True(t, resolved.DryRun)
	assert.True(t, resolved.Force)
}

func TestResolveConfigPath_Priority(t *testing.T) {
	logger := testLogger(t)

	def := ResolveConfigPath(EnvOverrides{}, CLIOverrides{}, logger)
	assert.Equal(t, DefaultConfigPath(), def)

	fromEnv := ResolveConfigPath(EnvOverrides{ConfigPath: "/env/path.toml"}, CLIOverrides{}, logger)
	assert.Equal(t, "/env/path.toml", fromEnv)

	fromCLI := ResolveConfigPath(
		EnvOverrides{ConfigPath: "/env/path.toml"},
		CLIOverrides{ConfigPath: "/cli/path.toml"},
		logger,
	)
	assert.Equal(t, "/cli/path.toml", fromCLI)
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Drives["mydrive"] = Drive{BaseURL: "https://api.example.test", RefreshToken: "rt-1"}

	job := DefaultJob()
	job.DriveConfigID = "mydrive"
	job.SourceRoots = []string{"/src"}
	job.SaveRoot = "/dst"
	cfg.Jobs["documents"] = job

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test", loaded.Drives["mydrive"].BaseURL)
	assert.Equal(t, "/dst", loaded.Jobs["documents"].SaveRoot)
}

func TestUpsertJob_CreatesFileIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	job := DefaultJob()
	job.DriveConfigID = "mydrive"
	job.SourceRoots = []string{"/src"}
	job.SaveRoot = "/dst"

	require.NoError(t, UpsertJob(path, "documents", job))
	// Load validates drive references, so the referenced drive must exist too.
	require.NoError(t, UpsertDrive(path, "mydrive", Drive{BaseURL: "https://api.example.test", RefreshToken: "rt-1"}))

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Contains(t, cfg.Jobs, "documents")
}

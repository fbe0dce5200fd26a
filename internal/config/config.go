// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the sync engine and mount adapter.
//
// Config is layered defaults -> config file -> environment variables ->
// CLI flags, highest wins (data-model.md "Configuration").
package config

// Config is the top-level on-disk configuration structure. Drives holds one
// entry per remote drive account (the Token Cache's drive-config id space);
// Jobs holds one entry per sync job, each referencing a Drive by ID.
type Config struct {
	Drives  map[string]Drive `toml:"drive"`
	Jobs    map[string]Job   `toml:"job"`
	Logging LoggingConfig    `toml:"logging"`
	Network NetworkConfig    `toml:"network"`
}

// Drive is one remote cloud-drive account: enough to exchange a refresh
// token for an access token (ยง4.2, ยง6) and to address the API.
type Drive struct {
	BaseURL      string `toml:"base_url"`
	RefreshToken string `toml:"refresh_token"`
	DriveID      string `toml:"remote_drive_id"`
}

// SyncMode controls how the Planner compares and reconciles the two sides.
type SyncMode string

// Sync modes named in data-model.md "Configuration".
const (
	ModeOneWay SyncMode = "one_way"
	ModeMirror SyncMode = "mirror"
	ModeTwoWay SyncMode = "two_way"
)

// CompareMethod controls how the Hasher decides two entries differ (ยง4.5).
type CompareMethod string

// Comparison methods the Hasher supports.
const (
	CompareSize         CompareMethod = "size"
	CompareDateTime     CompareMethod = "date_time"
	CompareDateTimeSize CompareMethod = "date_time_size"
	CompareByteContent  CompareMethod = "byte_content"
	CompareHash         CompareMethod = "hash"
)

// ConflictStrategy controls two-way conflict resolution (ยง4.7).
type ConflictStrategy string

// Conflict resolution strategies.
const (
	ConflictSourceWins ConflictStrategy = "source_wins"
	ConflictTargetWins ConflictStrategy = "target_wins"
	ConflictKeepBoth   ConflictStrategy = "keep_both"
	ConflictSkip       ConflictStrategy = "skip"
	ConflictNewer      ConflictStrategy = "newer"
	ConflictOlder      ConflictStrategy = "older"
	ConflictLarger     ConflictStrategy = "larger"
)

// CryptoConfig controls the optional compress -> encrypt -> envelope upload
// path (ยง4.6). Algorithm names are validated against a fixed allow-list.
type CryptoConfig struct {
	Enabled      bool   `toml:"enabled"`
	Compression  string `toml:"compression"`   // zstd | lz4 | snappy
	Encryption   string `toml:"encryption"`     // aes256gcm | chacha20poly1305
	DigestAlgo   string `toml:"digest"`         // sha256 | blake3
	EncryptNames bool   `toml:"encrypt_names"`  // remote name becomes md5(name)+".e"
	PassphrKeyID string `toml:"passphrase_key"` // opaque reference resolved by the runner's secret store
}

// Allowed algorithm names for CryptoConfig (spec ยง4.6: "only these algorithm
// names are accepted; any other rejects the job with a configuration error").
var (
	AllowedCompression = map[string]bool{"": true, "zstd": true, "lz4": true, "snappy": true}
	AllowedEncryption  = map[string]bool{"": true, "aes256gcm": true, "chacha20poly1305": true}
	AllowedDigest      = map[string]bool{"": true, "sha256": true, "blake3": true}
)

// ScheduleConfig binds a job to an external scheduler trigger. The scheduler
// itself is out of scope (ยง1); this only records what the job expects to be
// invoked under, for `status`/`config show` reporting.
type ScheduleConfig struct {
	Cron            string `toml:"cron"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

// SafetyConfig mirrors the Planner/Executor's big-delete protection and
// recycle-bin behavior.
type SafetyConfig struct {
	BigDeleteMinItems   int     `toml:"big_delete_min_items"`
	BigDeleteMaxCount   int     `toml:"big_delete_max_count"`
	BigDeleteMaxPercent float64 `toml:"big_delete_max_percent"`
}

// Job is one sync job's immutable-during-run Configuration (data-model.md
// ยง3 "Configuration").
type Job struct {
	DriveConfigID      string           `toml:"drive"`
	SourceRoots        []string         `toml:"source_roots"`
	SaveRoot           string           `toml:"save_root"`
	Mode               SyncMode         `toml:"mode"`
	CompareMethod      CompareMethod    `toml:"compare_method"`
	DateDriftSeconds   int              `toml:"date_drift_seconds"`
	SamplingRate       float64          `toml:"sampling_rate"`
	FastHashLevel      int              `toml:"fast_hash_level"`
	ParallelismCap     int              `toml:"parallelism_cap"`
	MaxRetries         int              `toml:"max_retries"`
	PreserveTimestamps bool             `toml:"preserve_timestamps"`
	UseRecycleBin      bool             `toml:"use_recycle_bin"`
	FollowSymlinks     bool             `toml:"follow_symlinks"`
	IgnorePatterns     []string         `toml:"ignore_patterns"`
	ConflictStrategy   ConflictStrategy `toml:"conflict_strategy"`
	Crypto             CryptoConfig     `toml:"crypto"`
	Schedule           ScheduleConfig   `toml:"schedule"`
	WatcherEnabled     bool             `toml:"watcher_enabled"`
	Safety             SafetyConfig     `toml:"safety"`
	StateDBPath        string           `toml:"state_db"`
	ContinueOnError    bool             `toml:"continue_on_error"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client and rate-limit behavior (ยง5 "Rate
// discipline").
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	UploadTimeout  string `toml:"upload_timeout"`
	ListPaceMillis int    `toml:"list_pace_millis"`
	UserAgent      string `toml:"user_agent"`
}

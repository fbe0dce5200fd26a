package config

// Default values for job options. These represent the "layer 0" of the
// four-layer override chain (defaults -> file -> env -> CLI flags).
const (
	defaultCompareMethod    = CompareDateTimeSize
	defaultDateDriftSeconds = 2
	defaultSamplingRate     = 0.1
	defaultFastHashLevel    = 2
	defaultMaxRetries       = 5
	defaultConflictStrat    = ConflictKeepBoth
	defaultBigDeleteMinItem = 10
	defaultBigDeleteMaxCnt  = 1000
	defaultBigDeleteMaxPct  = 50.0
	defaultListPaceMillis   = 250
	defaultConnectTimeout   = "10s"
	defaultUploadTimeout    = "45m"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
)

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding and as the fallback with no file.
func DefaultConfig() *Config {
	return &Config{
		Drives:  make(map[string]Drive),
		Jobs:    make(map[string]Job),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

// DefaultJob returns a Job with every field at its documented default.
// ParallelismCap is left zero here; the executor resolves zero to the host's
// CPU count at run time (ยง5 "defaults to processor count").
func DefaultJob() Job {
	return Job{
		Mode:               ModeOneWay,
		CompareMethod:      defaultCompareMethod,
		DateDriftSeconds:   defaultDateDriftSeconds,
		SamplingRate:       defaultSamplingRate,
		FastHashLevel:      defaultFastHashLevel,
		MaxRetries:         defaultMaxRetries,
		PreserveTimestamps: true,
		UseRecycleBin:      true,
		ConflictStrategy:   defaultConflictStrat,
		Safety: SafetyConfig{
			BigDeleteMinItems:   defaultBigDeleteMinItem,
			BigDeleteMaxCount:   defaultBigDeleteMaxCnt,
			BigDeleteMaxPercent: defaultBigDeleteMaxPct,
		},
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		UploadTimeout:  defaultUploadTimeout,
		ListPaceMillis: defaultListPaceMillis,
	}
}

package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "DRIVESYNC_CONFIG"
	EnvJob    = "DRIVESYNC_JOB"
)

// EnvOverrides holds values derived from environment variables. These are
// resolved by ReadEnvOverrides and applied by the caller at the correct
// point in the four-layer override chain (env beats file, loses to flags).
type EnvOverrides struct {
	ConfigPath string // DRIVESYNC_CONFIG: override config file path
	Job        string // DRIVESYNC_JOB: active job id
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Job:        os.Getenv(EnvJob),
	}
}

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validation range constants.
const (
	minSamplingRate = 0.0
	maxSamplingRate = 1.0
	minDateDrift    = 0
	maxDateDrift    = 86400
)

// Validate checks all configuration values and returns every error found
// rather than stopping at the first, so a user sees the whole report in one
// pass. Per spec ยง7, ConfigInvalid refuses to start any run.
func Validate(cfg *Config) error {
	var errs []error

	for id, job := range cfg.Jobs {
		if err := ValidateJob(job); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", id, err))
		}

		if _, ok := cfg.Drives[job.DriveConfigID]; !ok {
			errs = append(errs, fmt.Errorf("job %q: references unknown drive %q", id, job.DriveConfigID))
		}
	}

	for id, drive := range cfg.Drives {
		if err := validateDrive(drive); err != nil {
			errs = append(errs, fmt.Errorf("drive %q: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// ValidateJob validates one job's fields, including the ยง4.6 crypto
// algorithm allow-list: "only these algorithm names are accepted; any
// other rejects the job with a configuration error before the run begins."
func ValidateJob(job Job) error {
	var errs []error

	errs = append(errs, validateMode(job.Mode)...)
	errs = append(errs, validateCompareMethod(job.CompareMethod)...)
	errs = append(errs, validateConflictStrategy(job.ConflictStrategy)...)
	errs = append(errs, validateSourceTargetPrefix(job)...)
	errs = append(errs, validateCrypto(job.Crypto)...)

	if job.SamplingRate < minSamplingRate || job.SamplingRate > maxSamplingRate {
		errs = append(errs, fmt.Errorf("sampling_rate %v must be within [%v, %v]", job.SamplingRate, minSamplingRate, maxSamplingRate))
	}

	if job.DateDriftSeconds < minDateDrift || job.DateDriftSeconds > maxDateDrift {
		errs = append(errs, fmt.Errorf("date_drift_seconds %d must be within [%d, %d]", job.DateDriftSeconds, minDateDrift, maxDateDrift))
	}

	if job.ParallelismCap < 0 {
		errs = append(errs, errors.New("parallelism_cap must not be negative"))
	}

	if job.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}

	if len(job.SourceRoots) == 0 {
		errs = append(errs, errors.New("source_roots must not be empty"))
	}

	if job.SaveRoot == "" {
		errs = append(errs, errors.New("save_root must not be empty"))
	}

	return errors.Join(errs...)
}

func validateMode(mode SyncMode) []error {
	switch mode {
	case ModeOneWay, ModeMirror, ModeTwoWay:
		return nil
	default:
		return []error{fmt.Errorf("mode %q is not one of one_way|mirror|two_way", mode)}
	}
}

func validateCompareMethod(m CompareMethod) []error {
	switch m {
	case CompareSize, CompareDateTime, CompareDateTimeSize, CompareByteContent, CompareHash:
		return nil
	default:
		return []error{fmt.Errorf("compare_method %q is not recognized", m)}
	}
}

func validateConflictStrategy(s ConflictStrategy) []error {
	switch s {
	case ConflictSourceWins, ConflictTargetWins, ConflictKeepBoth, ConflictSkip, ConflictNewer, ConflictOlder, ConflictLarger:
		return nil
	default:
		return []error{fmt.Errorf("conflict_strategy %q is not recognized", s)}
	}
}

// validateSourceTargetPrefix enforces testable property 6: a source root may
// not be a path-prefix of the save-root and vice versa.
func validateSourceTargetPrefix(job Job) []error {
	var errs []error

	target := filepath.Clean(job.SaveRoot)

	for _, src := range job.SourceRoots {
		source := filepath.Clean(src)
		if isPathPrefix(source, target) || isPathPrefix(target, source) {
			errs = append(errs, fmt.Errorf("source root %q and save root %q must not be prefixes of each other", src, job.SaveRoot))
		}
	}

	return errs
}

func isPathPrefix(prefix, path string) bool {
	if prefix == path {
		return true
	}

	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

func validateCrypto(c CryptoConfig) []error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if !AllowedCompression[c.Compression] {
		errs = append(errs, fmt.Errorf("crypto.compression %q is not one of zstd|lz4|snappy", c.Compression))
	}

	if !AllowedEncryption[c.Encryption] {
		errs = append(errs, fmt.Errorf("crypto.encryption %q is not one of aes256gcm|chacha20poly1305", c.Encryption))
	}

	if !AllowedDigest[c.DigestAlgo] {
		errs = append(errs, fmt.Errorf("crypto.digest %q is not one of sha256|blake3", c.DigestAlgo))
	}

	if c.Encryption == "" {
		errs = append(errs, errors.New("crypto.enabled requires crypto.encryption to be set"))
	}

	return errs
}

func validateDrive(d Drive) error {
	if d.BaseURL == "" {
		return errors.New("base_url must not be empty")
	}

	if d.RefreshToken == "" {
		return errors.New("refresh_token must not be empty")
	}

	return nil
}

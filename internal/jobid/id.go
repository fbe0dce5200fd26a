// Package jobid provides type-safe identity types shared across the sync
// engine and mount adapter: opaque job/drive-config identifiers and the
// composite path key the Catalogue indexes by.
//
// This is a leaf package with zero dependencies beyond stdlib and
// google/uuid, mirroring the teacher's internal/driveid in shape while
// dropping the OneDrive-specific canonical-ID (type:email) scheme — job
// and drive-config identifiers are opaque, user-chosen TOML table keys.
package jobid

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"

	"github.com/google/uuid"
)

// JobID identifies a configured sync job (a TOML [job.<id>] table key).
// The zero value represents an absent/unknown job.
type JobID struct {
	value string
}

// NewJobID wraps a raw job identifier (typically the TOML table key, e.g.
// "documents-backup"). Empty input returns the zero JobID.
func NewJobID(raw string) JobID {
	return JobID{value: raw}
}

// GenerateJobID mints a fresh random job identifier for jobs created at
// runtime rather than read from config (e.g. ad-hoc one-off syncs).
func GenerateJobID() JobID {
	return JobID{value: uuid.NewString()}
}

func (id JobID) String() string { return id.value }

// IsZero reports whether this is the zero-value JobID.
func (id JobID) IsZero() bool { return id.value == "" }

// Equal reports whether two JobIDs refer to the same job.
func (id JobID) Equal(other JobID) bool { return id.value == other.value }

// MarshalText implements encoding.TextMarshaler.
func (id JobID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *JobID) UnmarshalText(text []byte) error {
	*id = NewJobID(string(text))
	return nil
}

// Scan implements sql.Scanner for reading job IDs back from the catalogue
// database. SQL NULL produces the zero JobID.
func (id *JobID) Scan(src any) error {
	if src == nil {
		*id = JobID{}
		return nil
	}

	switch v := src.(type) {
	case string:
		*id = NewJobID(v)
		return nil
	case []byte:
		*id = NewJobID(string(v))
		return nil
	default:
		return fmt.Errorf("jobid.JobID.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer. The zero JobID writes SQL NULL.
func (id JobID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}

	return id.value, nil
}

// DriveConfigID identifies a configured remote drive (a TOML [drive.<id>]
// table key). Distinct type from JobID so the two id-spaces cannot be
// mixed up at compile time even though both wrap a bare string.
type DriveConfigID struct {
	value string
}

// NewDriveConfigID wraps a raw drive-config identifier.
func NewDriveConfigID(raw string) DriveConfigID {
	return DriveConfigID{value: raw}
}

func (id DriveConfigID) String() string { return id.value }

// IsZero reports whether this is the zero-value DriveConfigID.
func (id DriveConfigID) IsZero() bool { return id.value == "" }

// Equal reports whether two DriveConfigIDs refer to the same drive config.
func (id DriveConfigID) Equal(other DriveConfigID) bool { return id.value == other.value }

// MarshalText implements encoding.TextMarshaler.
func (id DriveConfigID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DriveConfigID) UnmarshalText(text []byte) error {
	*id = NewDriveConfigID(string(text))
	return nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = JobID{}
	_ encoding.TextUnmarshaler = (*JobID)(nil)
	_ fmt.Stringer             = JobID{}
	_ driver.Valuer            = JobID{}
	_ sql.Scanner              = (*JobID)(nil)

	_ encoding.TextMarshaler   = DriveConfigID{}
	_ encoding.TextUnmarshaler = (*DriveConfigID)(nil)
	_ fmt.Stringer             = DriveConfigID{}
)

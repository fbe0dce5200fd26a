// Package catalogue implements the Catalogue (spec §4.3, C3): three
// path-keyed maps — local_entries, remote_files, remote_folders — plus a
// reverse path_is_dir set, shared-reader/keyed-writer across the Scanner,
// Planner, Executor, Uploader, Downloader, and Mount Adapter.
//
// Grounded on the teacher's internal/sync/baseline.go and types.go (the
// teacher keeps an in-memory item index alongside a persisted baseline for
// delta reconciliation); this package keeps that "index + periodic
// snapshot" shape but re-keys everything on path-key strings instead of
// the teacher's (driveID, itemID) composite, since the spec's remote
// model has no delta-token API to reconcile against.
package catalogue

import "time"

// LocalEntry is one node in a scanned local tree (spec §3).
type LocalEntry struct {
	AbsPath       string
	RelativeKey   string // rooted at the job's source root name
	ParentKey     string
	IsFile        bool
	Size          int64
	CreatedAt     time.Time
	ModifiedAt    time.Time
	FastHash      string // partial/fast hash, spec §4.5
	FullSHA1      string // lazily populated
	Encrypted     bool
	EncryptedName string // cached remote name when name-encryption is enabled
}

// RemoteEntry is one node in the remote drive (spec §3).
type RemoteEntry struct {
	FileID      string
	ParentID    string
	Name        string
	IsFolder    bool
	Size        int64
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PathKey     string // cached position under the job's save-root
}

// Equal reports whether two LocalEntry values are identical over their
// stable attributes — used by the periodic snapshot diff (spec §4.3,
// "equality comparison on persistence uses a field-by-field test").
func (e LocalEntry) Equal(o LocalEntry) bool {
	return e.AbsPath == o.AbsPath &&
		e.RelativeKey == o.RelativeKey &&
		e.ParentKey == o.ParentKey &&
		e.IsFile == o.IsFile &&
		e.Size == o.Size &&
		e.CreatedAt.Equal(o.CreatedAt) &&
		e.ModifiedAt.Equal(o.ModifiedAt) &&
		e.FastHash == o.FastHash &&
		e.FullSHA1 == o.FullSHA1 &&
		e.Encrypted == o.Encrypted &&
		e.EncryptedName == o.EncryptedName
}

// Unchanged reports whether the (length, last-write, creation) triple
// matches, per the Scanner's incremental fast-hash reuse rule (spec §4.4).
func (e LocalEntry) Unchanged(size int64, modified, created time.Time) bool {
	return e.Size == size && e.ModifiedAt.Equal(modified) && e.CreatedAt.Equal(created)
}

package catalogue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

// FlushInterval is the Catalogue's periodic local-entry snapshot cadence
// (spec §4.3: "every 5 minutes (and on controller-requested flush)").
const FlushInterval = 5 * time.Minute

// Store is the Catalogue's persisted local-entry snapshot — one table per
// job, diffed and bulk-applied on flush. Grounded on the teacher's
// internal/sync/baseline.go (persisted baseline reconciled against a live
// scan) but with a single fixed schema instead of a migration chain,
// since the Catalogue's snapshot needs no schema evolution (spec's own
// DOMAIN STACK note: "too small to warrant a migration framework").
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the sqlite-backed snapshot store
// at path and ensures its schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: opening snapshot store: %w", err)
	}

	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one file

	const schema = `
CREATE TABLE IF NOT EXISTS local_entries (
	job_id TEXT NOT NULL,
	path_key TEXT NOT NULL,
	abs_path TEXT NOT NULL,
	relative_key TEXT NOT NULL,
	parent_key TEXT NOT NULL,
	is_file INTEGER NOT NULL,
	size INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	fast_hash TEXT NOT NULL,
	full_sha1 TEXT NOT NULL,
	encrypted INTEGER NOT NULL,
	encrypted_name TEXT NOT NULL,
	PRIMARY KEY (job_id, path_key)
);`

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck

		return nil, fmt.Errorf("catalogue: creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("catalogue: closing snapshot store: %w", err)
	}

	return nil
}

// LoadSnapshot reads a job's persisted local-entry snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, jobID string) (map[string]LocalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT path_key, abs_path, relative_key, parent_key, is_file, size, created_at,
       modified_at, fast_hash, full_sha1, encrypted, encrypted_name
FROM local_entries WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("catalogue: loading snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LocalEntry)

	for rows.Next() {
		var (
			pathKey                      string
			e                            LocalEntry
			isFile, encrypted            int
			createdAtUnix, modifiedAtUnix int64
		)

		if err := rows.Scan(&pathKey, &e.AbsPath, &e.RelativeKey, &e.ParentKey, &isFile,
			&e.Size, &createdAtUnix, &modifiedAtUnix, &e.FastHash, &e.FullSHA1,
			&encrypted, &e.EncryptedName); err != nil {
			return nil, fmt.Errorf("catalogue: scanning snapshot row: %w", err)
		}

		e.IsFile = isFile != 0
		e.Encrypted = encrypted != 0
		e.CreatedAt = time.Unix(0, createdAtUnix).UTC()
		e.ModifiedAt = time.Unix(0, modifiedAtUnix).UTC()

		out[pathKey] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalogue: reading snapshot rows: %w", err)
	}

	return out, nil
}

// ApplySnapshot bulk-applies adds/updates and deletes for a job's
// snapshot inside one transaction.
func (s *Store) ApplySnapshot(ctx context.Context, jobID string, upserts map[string]LocalEntry, deletes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalogue: beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	upsertStmt, err := tx.PrepareContext(ctx, `
INSERT INTO local_entries (job_id, path_key, abs_path, relative_key, parent_key, is_file,
	size, created_at, modified_at, fast_hash, full_sha1, encrypted, encrypted_name)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (job_id, path_key) DO UPDATE SET
	abs_path=excluded.abs_path, relative_key=excluded.relative_key,
	parent_key=excluded.parent_key, is_file=excluded.is_file, size=excluded.size,
	created_at=excluded.created_at, modified_at=excluded.modified_at,
	fast_hash=excluded.fast_hash, full_sha1=excluded.full_sha1,
	encrypted=excluded.encrypted, encrypted_name=excluded.encrypted_name`)
	if err != nil {
		return fmt.Errorf("catalogue: preparing upsert: %w", err)
	}
	defer upsertStmt.Close()

	for pathKey, e := range upserts {
		_, err := upsertStmt.ExecContext(ctx, jobID, pathKey, e.AbsPath, e.RelativeKey, e.ParentKey,
			boolToInt(e.IsFile), e.Size, e.CreatedAt.UnixNano(), e.ModifiedAt.UnixNano(),
			e.FastHash, e.FullSHA1, boolToInt(e.Encrypted), e.EncryptedName)
		if err != nil {
			return fmt.Errorf("catalogue: upserting %q: %w", pathKey, err)
		}
	}

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM local_entries WHERE job_id = ? AND path_key = ?`)
	if err != nil {
		return fmt.Errorf("catalogue: preparing delete: %w", err)
	}
	defer deleteStmt.Close()

	for _, pathKey := range deletes {
		if _, err := deleteStmt.ExecContext(ctx, jobID, pathKey); err != nil {
			return fmt.Errorf("catalogue: deleting %q: %w", pathKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalogue: committing snapshot transaction: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// LoadPersisted seeds the Catalogue's local-entries map and its internal
// persisted baseline from the store, so a fresh process picks up where
// the last snapshot left off instead of treating every file as new.
func (c *Catalogue) LoadPersisted(ctx context.Context, store *Store, jobID string) error {
	snap, err := store.LoadSnapshot(ctx, jobID)
	if err != nil {
		return err
	}

	for pathKey, e := range snap {
		c.localEntries.Store(pathKey, e)
		c.pathIsDir.Store(pathKey, !e.IsFile)
		c.persisted.Store(pathKey, e)
	}

	return nil
}

// Flush diffs the live local-entries map against the last-known persisted
// snapshot and bulk-applies the difference (spec §4.3). A no-op if
// nothing changed since the last flush.
func (c *Catalogue) Flush(ctx context.Context, store *Store, jobID string) error {
	upserts := make(map[string]LocalEntry)
	seen := make(map[string]struct{})

	c.RangeLocal(func(pathKey string, e LocalEntry) bool {
		seen[pathKey] = struct{}{}

		if old, ok := c.persisted.Load(pathKey); !ok || !old.(LocalEntry).Equal(e) {
			upserts[pathKey] = e
		}

		return true
	})

	var deletes []string

	c.persisted.Range(func(k, _ any) bool {
		pathKey := k.(string)
		if _, ok := seen[pathKey]; !ok {
			deletes = append(deletes, pathKey)
		}

		return true
	})

	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	if err := store.ApplySnapshot(ctx, jobID, upserts, deletes); err != nil {
		return err
	}

	for pathKey, e := range upserts {
		c.persisted.Store(pathKey, e)
	}

	for _, pathKey := range deletes {
		c.persisted.Delete(pathKey)
	}

	return nil
}

// RunPeriodicFlush blocks, flushing every FlushInterval until ctx is
// canceled. The controller starts this once per running job.
func (c *Catalogue) RunPeriodicFlush(ctx context.Context, store *Store, jobID string, onErr func(error)) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx, store, jobID); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

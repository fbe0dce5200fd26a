// Package uploader implements the Uploader (spec §4.9, C9): the nine-step
// create/probe/part-PUT/complete sequence that turns a local (optionally
// encrypted) file into a remote entry, including rapid-upload negotiation
// and same-name-collision cleanup.
//
// Grounded on the teacher's internal/graph/upload.go (chunked-session
// lifecycle: create session, loop chunks, cancel on error) and
// internal/driveops/session.go/session_store.go (resumable-session
// bookkeeping) — this package keeps the same "plan parts up front, PUT each,
// then finalize" shape, rebuilt over this spec's single-call create-file
// negotiation (pre-hash / proof-code / part_info_list) instead of the
// teacher's separate createUploadSession endpoint, since the wire protocol
// here folds session creation and rapid-upload probing into one endpoint.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/cryptopipe"
	"github.com/cloudkeep/drivesync/internal/driveapi"
	"github.com/cloudkeep/drivesync/internal/hash"
	"github.com/cloudkeep/drivesync/internal/planner"
)

// partSize is the fixed upload part size, spec §4.9 step 4.
const partSize = 16 << 20 // 16 MiB

// rapidUploadMinSize is the floor below which rapid-upload negotiation is
// skipped entirely and a plain part-planned create-file is issued (spec
// §4.9 step 5: "If rapid-upload is enabled and size > 10 KiB").
const rapidUploadMinSize = 10 << 10 // 10 KiB

// partRetries/partRetryBase implement spec §4.9 step 7: "re-attempt failed
// parts up to 3 times with exponential backoff (5ⁿ seconds)".
const (
	partRetries   = 3
	partRetryBase = 5 * time.Second
)

// Uploader implements executor.Transferer for SourceToTarget actions.
type Uploader struct {
	remote        *driveapi.Client
	cat           *catalogue.Catalogue
	crypto        *cryptopipe.Pipeline // nil when the job has crypto disabled
	encryptNames  bool
	rapidEnabled  bool
	tokenForProof func(ctx context.Context) (string, error)
	logger        *slog.Logger
}

// New builds an Uploader. crypto may be nil (job has crypto disabled).
func New(remote *driveapi.Client, cat *catalogue.Catalogue, crypto *cryptopipe.Pipeline, encryptNames, rapidEnabled bool, tokenForProof func(ctx context.Context) (string, error), logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{
		remote:        remote,
		cat:           cat,
		crypto:        crypto,
		encryptNames:  encryptNames,
		rapidEnabled:  rapidEnabled,
		tokenForProof: tokenForProof,
		logger:        logger,
	}
}

// Transfer uploads one CopyFile/UpdateFile action's source file to its
// remote target, implementing executor.Transferer.
func (u *Uploader) Transfer(ctx context.Context, a planner.Action) error {
	local, ok := u.cat.GetLocal(localKeyFor(a))
	if !ok {
		return fmt.Errorf("uploader: no local entry for %q", a.RelativeKey)
	}

	parentKey, name := splitParentKey(a.Target)

	parentID, err := u.ensureFolder(ctx, parentKey)
	if err != nil {
		return fmt.Errorf("uploader: ensuring parent folder for %q: %w", a.Target, err)
	}

	if u.crypto != nil {
		name = cryptopipe.EncryptedName(name, u.encryptNames)
	}

	sourcePath, localSHA1, size, cleanup, err := u.prepareContent(local.AbsPath, name)
	if err != nil {
		return err
	}
	defer cleanup()

	if existing, ok := u.cat.GetRemoteFile(a.Target); ok {
		if existing.ContentHash == localSHA1 {
			return nil // spec §4.9 step 2: hash already matches, no-op success
		}

		// step 3: differing hash — delete and fall through to a fresh upload.
		if err := u.deleteExisting(ctx, existing.FileID); err != nil {
			return fmt.Errorf("uploader: removing stale remote entry for %q: %w", a.Target, err)
		}

		u.cat.DeleteRemoteFile(a.Target)

		// Same-name collisions: a delete that raced another client's create
		// (or a drive that queues deletes asynchronously) can still leave a
		// same-named entry behind, per spec §4.9.
		if err := u.ResolveCollisions(ctx, parentID, name); err != nil {
			return fmt.Errorf("uploader: clearing name collisions for %q: %w", a.Target, err)
		}
	}

	entry, err := u.uploadContent(ctx, parentID, name, sourcePath, localSHA1, size)
	if err != nil {
		return err
	}

	u.cat.PutRemoteFile(a.Target, catalogue.RemoteEntry{
		FileID:      entry.FileID,
		ParentID:    parentID,
		Name:        name,
		Size:        entry.Size,
		ContentHash: entry.ContentHash,
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
	})

	return nil
}

// prepareContent returns the path to upload from (the original file, or a
// temp encrypted envelope when the job's crypto is enabled), its SHA-1, and
// its size, plus a cleanup func that removes any temp file it created.
func (u *Uploader) prepareContent(absPath, remoteName string) (path, sha1Hex string, size int64, cleanup func(), err error) {
	if u.crypto == nil {
		fullSHA1, hashErr := hash.FullSHA1(absPath)
		if hashErr != nil {
			return "", "", 0, func() {}, fmt.Errorf("uploader: hashing %q: %w", absPath, hashErr)
		}

		info, statErr := os.Stat(absPath)
		if statErr != nil {
			return "", "", 0, func() {}, fmt.Errorf("uploader: stat %q: %w", absPath, statErr)
		}

		return absPath, fullSHA1, info.Size(), func() {}, nil
	}

	tmp, tmpErr := os.CreateTemp("", "drivesync-upload-*.e")
	if tmpErr != nil {
		return "", "", 0, func() {}, fmt.Errorf("uploader: creating encrypted temp file: %w", tmpErr)
	}

	cleanupFn := func() { os.Remove(tmp.Name()) } //nolint:errcheck

	src, openErr := os.Open(absPath)
	if openErr != nil {
		tmp.Close() //nolint:errcheck
		cleanupFn()

		return "", "", 0, func() {}, fmt.Errorf("uploader: opening %q: %w", absPath, openErr)
	}

	_, encErr := u.crypto.Encrypt(tmp, src, remoteName)
	src.Close() //nolint:errcheck

	if encErr != nil {
		tmp.Close() //nolint:errcheck
		cleanupFn()

		return "", "", 0, func() {}, fmt.Errorf("uploader: encrypting %q: %w", absPath, encErr)
	}

	if err := tmp.Close(); err != nil {
		cleanupFn()

		return "", "", 0, func() {}, fmt.Errorf("uploader: closing encrypted temp file: %w", err)
	}

	info, statErr := os.Stat(tmp.Name())
	if statErr != nil {
		cleanupFn()

		return "", "", 0, func() {}, fmt.Errorf("uploader: stat encrypted temp file: %w", statErr)
	}

	envSHA1, hashErr := hash.FullSHA1(tmp.Name())
	if hashErr != nil {
		cleanupFn()

		return "", "", 0, func() {}, fmt.Errorf("uploader: hashing encrypted temp file: %w", hashErr)
	}

	return tmp.Name(), envSHA1, info.Size(), cleanupFn, nil
}

// uploadContent runs spec §4.9 steps 4-8 against sourcePath's bytes.
func (u *Uploader) uploadContent(ctx context.Context, parentID, name, sourcePath, sha1Hex string, size int64) (*driveapi.Entry, error) {
	params := driveapi.CreateFileParams{Parent: parentID, Name: name, Size: size}

	switch {
	case u.rapidEnabled && size > rapidUploadMinSize && size > hash.PreHashThreshold:
		return u.probeThenUpload(ctx, sourcePath, sha1Hex, size, params)

	case u.rapidEnabled && size > rapidUploadMinSize:
		return u.commitRapidUpload(ctx, sourcePath, sha1Hex, params)

	default:
		params.Parts = partCount(size)

		return u.createAndUploadParts(ctx, sourcePath, size, params)
	}
}

// probeThenUpload issues the pre-hash-only probe (spec §4.9 step 5, first
// bullet). A PreHashMatched error means the probe didn't resolve the
// upload by itself, so the caller reissues with full content-sha1 +
// proof-code (commitRapidUpload). Any other, non-error response carries
// the normal part plan — the pre-hash didn't match and the server expects
// a direct part upload, so that response's plan is used as-is rather than
// probing again.
func (u *Uploader) probeThenUpload(ctx context.Context, sourcePath, sha1Hex string, size int64, params driveapi.CreateFileParams) (*driveapi.Entry, error) {
	preHash, err := hash.PreHash(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("uploader: computing pre-hash for %q: %w", sourcePath, err)
	}

	probe := params
	probe.PreHash = preHash

	result, err := u.remote.CreateFile(ctx, probe)

	switch {
	case errors.Is(err, driveapi.ErrPreHashMatched):
		return u.commitRapidUpload(ctx, sourcePath, sha1Hex, params)
	case err != nil:
		return nil, fmt.Errorf("uploader: pre-hash probe for %q: %w", sourcePath, err)
	case result.RapidUpload:
		return &driveapi.Entry{FileID: result.FileID, ParentID: params.Parent, Name: params.Name, Size: size, ContentHash: sha1Hex}, nil
	default:
		return u.uploadParts(ctx, sourcePath, size, result)
	}
}

// commitRapidUpload submits content-sha1 + proof-code directly (spec §4.9
// step 5 second bullet, and the >1MiB path after a PreHashMatched probe).
func (u *Uploader) commitRapidUpload(ctx context.Context, sourcePath, sha1Hex string, params driveapi.CreateFileParams) (*driveapi.Entry, error) {
	var token string

	if u.tokenForProof != nil {
		t, err := u.tokenForProof(ctx)
		if err != nil {
			return nil, fmt.Errorf("uploader: obtaining token for proof code: %w", err)
		}

		token = t
	}

	proof, err := hash.ProofCode(sourcePath, token, params.Size)
	if err != nil {
		return nil, fmt.Errorf("uploader: computing proof code for %q: %w", sourcePath, err)
	}

	params.ContentHash = sha1Hex
	params.ProofCode = proof

	result, err := u.remote.CreateFile(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("uploader: rapid-upload commitment for %q: %w", sourcePath, err)
	}

	if result.RapidUpload {
		return &driveapi.Entry{FileID: result.FileID, ParentID: params.Parent, Name: params.Name, Size: params.Size, ContentHash: sha1Hex}, nil
	}

	// Server declined rapid upload after all — it still returned a part
	// plan in the same response, so upload from there without a second
	// create-file round trip.
	return u.uploadParts(ctx, sourcePath, params.Size, result)
}

// createAndUploadParts issues the plain part-planned create-file (spec
// §4.9 step 6) and uploads every part.
func (u *Uploader) createAndUploadParts(ctx context.Context, sourcePath string, size int64, params driveapi.CreateFileParams) (*driveapi.Entry, error) {
	result, err := u.remote.CreateFile(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("uploader: creating upload for %q: %w", sourcePath, err)
	}

	return u.uploadParts(ctx, sourcePath, size, result)
}

// uploadParts PUTs every part in result.PartInfoList and completes the
// upload (spec §4.9 steps 7-8).
func (u *Uploader) uploadParts(ctx context.Context, sourcePath string, size int64, result *driveapi.CreateFileResult) (*driveapi.Entry, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("uploader: opening %q for part upload: %w", sourcePath, err)
	}
	defer f.Close()

	for _, part := range result.PartInfoList {
		offset := int64(part.PartNumber-1) * partSize
		length := partSize

		if offset+int64(length) > size {
			length = int(size - offset)
		}

		if length <= 0 {
			continue
		}

		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("uploader: reading part %d of %q: %w", part.PartNumber, sourcePath, err)
		}

		if err := u.putPartWithRetry(ctx, part.UploadURL, buf); err != nil {
			return nil, fmt.Errorf("uploader: uploading part %d of %q: %w", part.PartNumber, sourcePath, err)
		}
	}

	entry, err := u.remote.CompleteUpload(ctx, result.FileID, result.UploadID)
	if err != nil {
		return nil, fmt.Errorf("uploader: completing upload for %q: %w", sourcePath, err)
	}

	return entry, nil
}

// putPartWithRetry implements spec §4.9 step 7's 3x/5ⁿs backoff policy.
func (u *Uploader) putPartWithRetry(ctx context.Context, uploadURL string, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= partRetries; attempt++ {
		if attempt > 0 {
			delay := partRetryBase
			for i := 1; i < attempt; i++ {
				delay *= 5
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := u.remote.PutPart(ctx, uploadURL, data)
		if err == nil {
			return nil
		}

		lastErr = err
	}

	return lastErr
}

// ensureFolder walks parentKey's path-key segments, creating any missing
// remote folders, and returns the leaf folder's remote id (spec §4.9
// step 1). An empty parentKey means the save-root itself.
func (u *Uploader) ensureFolder(ctx context.Context, parentKey string) (string, error) {
	if parentKey == "" {
		return "", nil
	}

	if folder, ok := u.cat.GetRemoteFolder(parentKey); ok {
		return folder.FileID, nil
	}

	grandParentKey, name := splitParentKey(parentKey)

	grandParentID, err := u.ensureFolder(ctx, grandParentKey)
	if err != nil {
		return "", err
	}

	result, err := u.remote.CreateFolder(ctx, grandParentID, name)
	if err != nil {
		return "", fmt.Errorf("uploader: creating missing ancestor folder %q: %w", parentKey, err)
	}

	u.cat.PutRemoteFolder(parentKey, catalogue.RemoteEntry{FileID: result.FileID, ParentID: grandParentID, Name: name, IsFolder: true})

	return result.FileID, nil
}

// deleteExisting removes the stale remote entry by id. Same-name
// duplicates are left to ResolveCollisions, which Transfer calls next.
func (u *Uploader) deleteExisting(ctx context.Context, fileID string) error {
	if err := u.remote.Delete(ctx, fileID, false); err != nil {
		return err
	}

	return nil
}

// ResolveCollisions re-queries parent/name via search and deletes any
// duplicate entries still present, per spec §4.9's same-name-collision
// clause: "if after delete-and-retry the server still reports an existing
// entry with the same name, re-query via search and delete duplicates
// until absent."
func (u *Uploader) ResolveCollisions(ctx context.Context, parentID, name string) error {
	for {
		result, err := u.remote.Search(ctx, name)
		if err != nil {
			return fmt.Errorf("uploader: searching for collisions on %q: %w", name, err)
		}

		found := false

		for _, e := range result.Entries {
			if e.Name != name || e.ParentID != parentID {
				continue
			}

			found = true

			if err := u.remote.Delete(ctx, e.FileID, false); err != nil {
				return fmt.Errorf("uploader: deleting duplicate %q: %w", name, err)
			}
		}

		if !found {
			return nil
		}
	}
}

func partCount(size int64) int {
	if size <= 0 {
		return 1
	}

	n := size / partSize
	if size%partSize != 0 {
		n++
	}

	if n == 0 {
		n = 1
	}

	return int(n)
}

func splitParentKey(pathKey string) (parentKey, name string) {
	return pathSplit(pathKey)
}

// localKeyFor derives the Catalogue local-entry key a SourceToTarget action
// was planned from. The planner keys local entries by source-root-relative
// path; RelativeKey already carries that same key for SourceToTarget
// actions (planner.planOneWay/planTwoWay set it directly from the scanned
// LocalEntry).
func localKeyFor(a planner.Action) string {
	return a.RelativeKey
}

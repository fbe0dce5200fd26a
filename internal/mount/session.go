package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudkeep/drivesync/internal/driveapi"
)

// partSize matches the Uploader's 16 MiB part plan (internal/uploader's
// partCount), so the Mount Adapter's write path produces uploads
// indistinguishable from a regular sync run.
const partSize = 16 << 20

// uploadCacheDirName is the teacher-style sibling of a temp-download
// directory: a scratch area for in-flight writes, rooted under the
// current working directory per spec §4.12.
const uploadCacheDirName = ".uploadcache"

// writeSession buffers a FUSE file's writes into per-part temp files and
// PUTs each part to the remote as soon as it fills, per spec §4.12:
// SetEndOfFile(length) preallocates the plan, WriteFile dispatches bytes
// into the right part's temp file, and CloseFile flushes the remainder
// and completes the upload.
type writeSession struct {
	client *driveapi.Client

	mu       sync.Mutex
	fileID   string
	uploadID string
	parts    []driveapi.PartInfo // 1-indexed PartNumber, as returned by CreateFile
	size     int64
	dir      string
	handles  map[int]*os.File // part index (0-based) -> open temp file
	sent     map[int]bool     // part index -> already PUT
	filled   map[int]int64    // part index -> bytes written so far
}

// newWriteSession calls CreateFile for a length-byte upload and opens a
// scratch directory for its parts.
func newWriteSession(ctx context.Context, client *driveapi.Client, cacheRoot, parent, name string, length int64) (*writeSession, error) {
	result, err := client.CreateFile(ctx, driveapi.CreateFileParams{
		Parent: parent,
		Name:   name,
		Size:   length,
		Parts:  partCount(length),
	})
	if err != nil {
		return nil, fmt.Errorf("mount: allocating upload for %q: %w", name, err)
	}

	dir, err := os.MkdirTemp(filepath.Join(cacheRoot, uploadCacheDirName), "part-*")
	if err != nil {
		return nil, fmt.Errorf("mount: creating part scratch dir: %w", err)
	}

	return &writeSession{
		client:   client,
		fileID:   result.FileID,
		uploadID: result.UploadID,
		parts:    result.PartInfoList,
		size:     length,
		dir:      dir,
		handles:  make(map[int]*os.File),
		sent:     make(map[int]bool),
		filled:   make(map[int]int64),
	}, nil
}

func partCount(size int64) int {
	if size == 0 {
		return 1
	}

	return int((size + partSize - 1) / partSize)
}

// writeAt dispatches data at file offset off into the correct part's
// temp file, PUTting any part that fills completely.
func (s *writeSession) writeAt(ctx context.Context, data []byte, off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(data) > 0 {
		idx := int(off / partSize)
		inPart := off % partSize

		f, err := s.handleLocked(idx)
		if err != nil {
			return err
		}

		n := partSize - inPart
		if int64(len(data)) < n {
			n = int64(len(data))
		}

		if _, err := f.WriteAt(data[:n], inPart); err != nil {
			return fmt.Errorf("mount: buffering part %d: %w", idx, err)
		}

		if end := inPart + n; end > s.filled[idx] {
			s.filled[idx] = end
		}

		// Only a part that reaches the full 16 MiB PUTs immediately; a
		// smaller final part always waits for close to flush, since a
		// writer may still append to it before the file descriptor
		// closes.
		if s.filled[idx] >= partSize && !s.sent[idx] {
			if err := s.flushPartLocked(ctx, idx); err != nil {
				return err
			}
		}

		data = data[n:]
		off += n
	}

	return nil
}

func (s *writeSession) handleLocked(idx int) (*os.File, error) {
	if f, ok := s.handles[idx]; ok {
		return f, nil
	}

	f, err := os.OpenFile(filepath.Join(s.dir, fmt.Sprintf("%d", idx)), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("mount: opening part %d: %w", idx, err)
	}

	s.handles[idx] = f

	return f, nil
}

// flushPartLocked PUTs part idx's buffered bytes and closes/removes its
// temp file. Caller must hold s.mu.
func (s *writeSession) flushPartLocked(ctx context.Context, idx int) error {
	f, ok := s.handles[idx]
	if !ok {
		return nil
	}

	n := s.filled[idx]
	if n == 0 {
		return nil
	}

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("mount: reading part %d back: %w", idx, err)
	}

	if idx >= len(s.parts) {
		return fmt.Errorf("mount: part index %d exceeds allocated plan (%d parts)", idx, len(s.parts))
	}

	if err := s.client.PutPart(ctx, s.parts[idx].UploadURL, buf); err != nil {
		return fmt.Errorf("mount: uploading part %d: %w", idx, err)
	}

	s.sent[idx] = true

	f.Close()
	os.Remove(f.Name())
	delete(s.handles, idx)

	return nil
}

// close flushes any partially-written final part, completes the upload,
// and removes the scratch directory.
func (s *writeSession) close(ctx context.Context) (*driveapi.Entry, error) {
	s.mu.Lock()

	for idx := range s.handles {
		if !s.sent[idx] {
			if err := s.flushPartLocked(ctx, idx); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
	}

	s.mu.Unlock()

	entry, err := s.client.CompleteUpload(ctx, s.fileID, s.uploadID)

	os.RemoveAll(s.dir)

	if err != nil {
		return nil, fmt.Errorf("mount: completing upload for %q: %w", s.fileID, err)
	}

	return entry, nil
}

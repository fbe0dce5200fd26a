// Package downloader implements the Downloader (spec §4.10, C10): signed
// download-URL caching, temp-file streaming with SHA-1 verification and
// atomic rename into place, plus the ranged-read path the Mount Adapter
// reuses for random-access reads.
//
// Grounded on the teacher's internal/graph/download.go (fetch pre-authed
// URL via item metadata, then stream directly from it bypassing the API
// client's normal auth path) — this package keeps that two-step shape but
// adds the URL cache and content-hash verification this spec's download
// step explicitly requires (§4.10) that the teacher's single-shot Download
// never needed.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/cryptopipe"
	"github.com/cloudkeep/drivesync/internal/driveapi"
	"github.com/cloudkeep/drivesync/internal/hash"
	"github.com/cloudkeep/drivesync/internal/planner"
)

// urlTTL/urlEvictionMargin implement spec §4.10: "fetch a fresh signed URL
// (cached for 4 h minus 10 min eviction)".
const (
	urlTTL            = 4 * time.Hour
	urlEvictionMargin = 10 * time.Minute
)

type cachedURL struct {
	url       string
	fetchedAt time.Time
}

func (c cachedURL) expired(now time.Time) bool {
	return now.Sub(c.fetchedAt) >= urlTTL-urlEvictionMargin
}

// Downloader implements executor.Transferer for TargetToSource actions and
// serves ranged reads for the Mount Adapter.
type Downloader struct {
	remote     *driveapi.Client
	cat        *catalogue.Catalogue
	crypto     *cryptopipe.Pipeline // nil when the job has crypto disabled
	httpClient *http.Client
	cacheRoot  string // holds "<root>/.cache/<guid>.part" temp files
	logger     *slog.Logger

	mu   sync.Mutex
	urls map[string]cachedURL // fileID -> signed URL
}

// New builds a Downloader. cacheRoot is the directory under which the
// ".cache" staging subdirectory is created (typically a job's first
// source root).
func New(remote *driveapi.Client, cat *catalogue.Catalogue, crypto *cryptopipe.Pipeline, httpClient *http.Client, cacheRoot string, logger *slog.Logger) *Downloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		remote:     remote,
		cat:        cat,
		crypto:     crypto,
		httpClient: httpClient,
		cacheRoot:  cacheRoot,
		logger:     logger,
		urls:       make(map[string]cachedURL),
	}
}

// signedURL returns a cached signed download URL for fileID, refreshing it
// once the cached copy is within urlEvictionMargin of its 4h lifetime.
func (d *Downloader) signedURL(ctx context.Context, fileID string) (string, error) {
	d.mu.Lock()
	cached, ok := d.urls[fileID]
	d.mu.Unlock()

	if ok && !cached.expired(time.Now()) {
		return cached.url, nil
	}

	url, err := d.remote.GetDownloadURL(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("downloader: fetching download URL for %q: %w", fileID, err)
	}

	d.mu.Lock()
	d.urls[fileID] = cachedURL{url: url, fetchedAt: time.Now()}
	d.mu.Unlock()

	return url, nil
}

// Transfer downloads one TargetToSource action's remote file to its local
// target, implementing executor.Transferer.
func (d *Downloader) Transfer(ctx context.Context, a planner.Action) error {
	remote, ok := d.cat.GetRemoteFile(a.Source)
	if !ok {
		return fmt.Errorf("downloader: no remote entry for %q", a.Source)
	}

	tempPath, err := d.downloadToTemp(ctx, remote.FileID)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath) //nolint:errcheck

	sha1Hex, err := hash.FullSHA1(tempPath)
	if err != nil {
		return fmt.Errorf("downloader: hashing downloaded %q: %w", a.Source, err)
	}

	if remote.ContentHash != "" && sha1Hex != remote.ContentHash {
		return fmt.Errorf("downloader: %w: %q expected %s got %s", driveapi.ErrIntegrityMismatch, a.Source, remote.ContentHash, sha1Hex)
	}

	if err := os.MkdirAll(filepath.Dir(a.Target), 0o755); err != nil {
		return fmt.Errorf("downloader: creating parent directory for %q: %w", a.Target, err)
	}

	if d.crypto == nil {
		if err := atomicRename(tempPath, a.Target); err != nil {
			return err
		}
	} else if err := d.decryptInto(tempPath, a.Target); err != nil {
		return err
	}

	info, statErr := os.Stat(a.Target)
	if statErr != nil {
		return fmt.Errorf("downloader: stat %q after download: %w", a.Target, statErr)
	}

	d.cat.PutLocal(a.RelativeKey, catalogue.LocalEntry{
		AbsPath:     a.Target,
		RelativeKey: a.RelativeKey,
		IsFile:      true,
		Size:        info.Size(),
		ModifiedAt:  info.ModTime(),
		FullSHA1:    sha1Hex,
	})

	return nil
}

// decryptInto decrypts the downloaded envelope at tempPath into target,
// via its own temp file so a decrypt failure never leaves a partial file
// at the final path.
func (d *Downloader) decryptInto(tempPath, target string) error {
	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("downloader: opening encrypted temp file: %w", err)
	}
	defer src.Close()

	plainTemp := tempPath + ".plain"

	dst, err := os.Create(plainTemp)
	if err != nil {
		return fmt.Errorf("downloader: creating decrypted temp file: %w", err)
	}

	if _, err := d.crypto.DecryptTo(dst, src); err != nil {
		dst.Close() //nolint:errcheck
		os.Remove(plainTemp) //nolint:errcheck

		return fmt.Errorf("downloader: decrypting %q: %w", target, err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(plainTemp) //nolint:errcheck

		return fmt.Errorf("downloader: closing decrypted temp file: %w", err)
	}

	return atomicRename(plainTemp, target)
}

// downloadToTemp streams fileID's full content into a fresh temp file
// under "<cacheRoot>/.cache/<guid>.part" (spec §4.10).
func (d *Downloader) downloadToTemp(ctx context.Context, fileID string) (string, error) {
	cacheDir := filepath.Join(d.cacheRoot, ".cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("downloader: creating cache directory: %w", err)
	}

	tempPath := filepath.Join(cacheDir, uuid.NewString()+".part")

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("downloader: creating temp file %q: %w", tempPath, err)
	}
	defer f.Close()

	url, err := d.signedURL(ctx, fileID)
	if err != nil {
		os.Remove(tempPath) //nolint:errcheck

		return "", err
	}

	if err := d.streamTo(ctx, f, url, 0, 0); err != nil {
		os.Remove(tempPath) //nolint:errcheck

		return "", err
	}

	return tempPath, nil
}

// ReadRange fetches a ranged byte window of fileID's content, for the
// Mount Adapter's read path (spec §4.12). length == 0 means to end of file.
func (d *Downloader) ReadRange(ctx context.Context, fileID string, offset, length int64) ([]byte, error) {
	url, err := d.signedURL(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	if err := d.streamTo(ctx, &buf, url, offset, length); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// streamTo GETs url (optionally as a byte-range request) and copies the
// response body into w.
func (d *Downloader) streamTo(ctx context.Context, w io.Writer, url string, offset, length int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("downloader: creating download request: %w", err)
	}

	if offset > 0 || length > 0 {
		if length > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloader: download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("downloader: download request returned status %d", resp.StatusCode)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("downloader: streaming download content: %w", err)
	}

	return nil
}

// atomicRename moves src to dst via os.Rename, which is atomic within the
// same filesystem (spec §4.10: "on match, atomically rename into place").
func atomicRename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("downloader: renaming %q to %q: %w", src, dst, err)
	}

	return nil
}

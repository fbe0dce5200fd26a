package mount

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudkeep/drivesync/internal/driveapi"
)

func TestPartCount(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{0, 1},
		{1, 1},
		{partSize, 1},
		{partSize + 1, 2},
		{3 * partSize, 3},
	}

	for _, c := range cases {
		if got := partCount(c.size); got != c.want {
			t.Errorf("partCount(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestReadCache_HitWithinTTLMissAfterExpiry(t *testing.T) {
	c := newReadCache()
	key := readCacheKey{fileID: "f1", contentHash: "h1", offset: 0, length: 4}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.put(key, []byte("data"), now)

	if _, ok := c.get(key, now.Add(1*time.Minute)); !ok {
		t.Error("expected a hit within the TTL window")
	}

	if _, ok := c.get(key, now.Add(1*time.Minute).Add(readCacheTTL).Add(time.Second)); ok {
		t.Error("expected a miss once the sliding TTL from the last hit has elapsed")
	}
}

func TestReadCache_RejectsEntriesOverMax(t *testing.T) {
	c := newReadCache()
	key := readCacheKey{fileID: "f1", length: readCacheMax + 1}

	c.put(key, make([]byte, readCacheMax+1), time.Now())

	if _, ok := c.get(key, time.Now()); ok {
		t.Error("expected an over-max entry never to be cached")
	}
}

func TestReadCache_InvalidateDropsAllWindowsForFile(t *testing.T) {
	c := newReadCache()
	now := time.Now()

	c.put(readCacheKey{fileID: "f1", offset: 0, length: 4}, []byte("abcd"), now)
	c.put(readCacheKey{fileID: "f1", offset: 4, length: 4}, []byte("efgh"), now)
	c.put(readCacheKey{fileID: "f2", offset: 0, length: 4}, []byte("ijkl"), now)

	c.invalidate("f1")

	if _, ok := c.get(readCacheKey{fileID: "f1", offset: 0, length: 4}, now); ok {
		t.Error("expected f1's windows to be gone")
	}

	if _, ok := c.get(readCacheKey{fileID: "f2", offset: 0, length: 4}, now); !ok {
		t.Error("expected f2's window to survive invalidating f1")
	}
}

// newUploadServer fakes the three endpoints writeSession drives: CreateFile
// (returns a part plan), PutPart (records each uploaded part's bytes), and
// CompleteUpload.
func newUploadServer(t *testing.T, partsUploaded *[][]byte) *driveapi.Client {
	t.Helper()

	mux := http.NewServeMux()

	var srvURL string

	mux.HandleFunc("/file/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Size int64 `json:"size"`
		}
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck

		n := partCount(req.Size)

		result := driveapi.CreateFileResult{FileID: "file-1", UploadID: "upload-1"}
		for i := 0; i < n; i++ {
			result.PartInfoList = append(result.PartInfoList, driveapi.PartInfo{
				PartNumber: i + 1,
				UploadURL:  srvURL + "/part/" + string(rune('a'+i)),
			})
		}

		json.NewEncoder(w).Encode(result) //nolint:errcheck
	})

	mux.HandleFunc("/part/", func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		*partsUploaded = append(*partsUploaded, buf)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/file/complete", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(driveapi.Entry{FileID: "file-1", Name: "a.txt", Size: 10}) //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	tokenSource := driveapi.FuncTokenSource(func(context.Context) (string, error) {
		return "test-token", nil
	})

	return driveapi.NewClient(srv.URL, "drive-1", srv.Client(), tokenSource, nil)
}

func TestWriteSession_FlushesFullPartsAndCompletesOnClose(t *testing.T) {
	var uploaded [][]byte

	client := newUploadServer(t, &uploaded)

	cacheRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(cacheRoot, uploadCacheDirName), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ctx := context.Background()

	s, err := newWriteSession(ctx, client, cacheRoot, "", "a.txt", partSize+10)
	if err != nil {
		t.Fatalf("newWriteSession: %v", err)
	}

	full := make([]byte, partSize)
	for i := range full {
		full[i] = byte(i)
	}

	if err := s.writeAt(ctx, full, 0); err != nil {
		t.Fatalf("writeAt full part: %v", err)
	}

	if len(uploaded) != 1 {
		t.Fatalf("expected the first full part to be PUT immediately, got %d uploads", len(uploaded))
	}

	tail := []byte("0123456789")
	if err := s.writeAt(ctx, tail, partSize); err != nil {
		t.Fatalf("writeAt tail: %v", err)
	}

	if len(uploaded) != 1 {
		t.Fatalf("expected the undersized final part not to be PUT before close, got %d uploads", len(uploaded))
	}

	entry, err := s.close(ctx)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	if entry.FileID != "file-1" {
		t.Errorf("expected the completed entry's FileID, got %q", entry.FileID)
	}

	if len(uploaded) != 2 {
		t.Fatalf("expected close to flush the remaining partial part, got %d uploads total", len(uploaded))
	}

	if string(uploaded[1]) != string(tail) {
		t.Errorf("expected the final part's bytes to match what was written, got %q", uploaded[1])
	}

	if _, err := os.Stat(s.dir); !os.IsNotExist(err) {
		t.Error("expected close to remove the scratch directory")
	}
}

func TestWriteSession_OutOfOrderWritesWithinAPartAreAssembled(t *testing.T) {
	var uploaded [][]byte

	client := newUploadServer(t, &uploaded)

	cacheRoot := t.TempDir()
	os.MkdirAll(filepath.Join(cacheRoot, uploadCacheDirName), 0o700) //nolint:errcheck

	ctx := context.Background()

	s, err := newWriteSession(ctx, client, cacheRoot, "", "b.txt", 10)
	if err != nil {
		t.Fatalf("newWriteSession: %v", err)
	}

	if err := s.writeAt(ctx, []byte("World"), 5); err != nil {
		t.Fatalf("writeAt: %v", err)
	}

	if err := s.writeAt(ctx, []byte("Hello"), 0); err != nil {
		t.Fatalf("writeAt: %v", err)
	}

	if _, err := s.close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(uploaded) != 1 || string(uploaded[0]) != "HelloWorld" {
		t.Fatalf("expected a single assembled part %q, got %v", "HelloWorld", uploaded)
	}
}

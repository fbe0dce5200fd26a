package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/cryptopipe"
	"github.com/cloudkeep/drivesync/internal/driveapi"
	"github.com/cloudkeep/drivesync/internal/hash"
	"github.com/cloudkeep/drivesync/internal/planner"
)

func testTokenSource() driveapi.TokenSource {
	return driveapi.FuncTokenSource(func(context.Context) (string, error) {
		return "test-token", nil
	})
}

func newTestRemote(t *testing.T, handler http.HandlerFunc) *driveapi.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return driveapi.NewClient(srv.URL, "drive-1", srv.Client(), testTokenSource(), nil)
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	return path
}

func TestTransfer_NoopWhenRemoteHashMatchesLocal(t *testing.T) {
	content := "unchanged content"
	localPath := writeTempFile(t, content)

	localSHA1, err := hash.FullSHA1(localPath)
	if err != nil {
		t.Fatalf("hashing fixture: %v", err)
	}

	remote := newTestRemote(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected no API calls for an unchanged file")
	})

	cat := catalogue.New()
	cat.PutLocal("docs/a.txt", catalogue.LocalEntry{AbsPath: localPath, RelativeKey: "docs/a.txt", IsFile: true, Size: int64(len(content))})
	cat.PutRemoteFile("backup/docs/a.txt", catalogue.RemoteEntry{FileID: "file-1", ContentHash: localSHA1})

	up := New(remote, cat, nil, false, false, nil, nil)

	action := planner.Action{RelativeKey: "docs/a.txt", Source: localPath, Target: "backup/docs/a.txt", Direction: planner.SourceToTarget}

	if err := up.Transfer(context.Background(), action); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
}

func TestTransfer_DeletesStaleEntryThenUploadsReplacement(t *testing.T) {
	content := "new content"
	localPath := writeTempFile(t, content)

	var (
		deletedID string
		partsPUT  int
		mux       = http.NewServeMux()
	)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/file/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FileID string `json:"file_id"`
		}

		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		deletedID = req.FileID

		w.WriteHeader(http.StatusOK)
	})

	// Transfer searches for same-name duplicates after the delete; none remain.
	mux.HandleFunc("/file/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(driveapi.ListResult{}) //nolint:errcheck
	})

	mux.HandleFunc("/file/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(driveapi.CreateFileResult{ //nolint:errcheck
			FileID: "file-2", UploadID: "upload-1",
			PartInfoList: []driveapi.PartInfo{{PartNumber: 1, UploadURL: srv.URL + "/part"}},
		})
	})

	mux.HandleFunc("/part", func(w http.ResponseWriter, r *http.Request) {
		partsPUT++
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/file/complete", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(driveapi.Entry{FileID: "file-2", ContentHash: "deadbeef"}) //nolint:errcheck
	})

	remote := driveapi.NewClient(srv.URL, "drive-1", srv.Client(), testTokenSource(), nil)

	cat := catalogue.New()
	cat.PutLocal("docs/a.txt", catalogue.LocalEntry{AbsPath: localPath, RelativeKey: "docs/a.txt", IsFile: true, Size: int64(len(content))})
	cat.PutRemoteFile("backup/docs/a.txt", catalogue.RemoteEntry{FileID: "file-1", ContentHash: "stale-hash"})
	cat.PutRemoteFolder("backup/docs", catalogue.RemoteEntry{FileID: "parent-1"})

	up := New(remote, cat, nil, false, false, nil, nil)

	action := planner.Action{RelativeKey: "docs/a.txt", Source: localPath, Target: "backup/docs/a.txt", Direction: planner.SourceToTarget}

	if err := up.Transfer(context.Background(), action); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if deletedID != "file-1" {
		t.Errorf("expected the stale entry file-1 to be deleted, got %q", deletedID)
	}

	if partsPUT != 1 {
		t.Errorf("expected exactly 1 part PUT, got %d", partsPUT)
	}

	updated, ok := cat.GetRemoteFile("backup/docs/a.txt")
	if !ok {
		t.Fatal("expected the catalogue to hold the new remote entry")
	}

	if updated.FileID != "file-2" {
		t.Errorf("expected catalogue entry to point at the new file id, got %q", updated.FileID)
	}
}

func TestPartCount_ComputesCeilingDivision(t *testing.T) {
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

	for _, tc := range cases {
		if got := partCount(tc.size); got != tc.want {
			t.Errorf("partCount(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestEnsureFolder_CreatesMissingAncestors(t *testing.T) {
	var created []string

	remote := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/create" {
			t.Fatalf("unexpected request to %s", r.URL.Path)
		}

		var req struct {
			Name         string `json:"name"`
			ParentFileID string `json:"parent_file_id"`
		}

		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		created = append(created, req.Name)

		json.NewEncoder(w).Encode(driveapi.CreateFileResult{FileID: "id-" + req.Name}) //nolint:errcheck
	})

	cat := catalogue.New()
	up := New(remote, cat, nil, false, false, nil, nil)

	id, err := up.ensureFolder(context.Background(), "backup/docs/sub")
	if err != nil {
		t.Fatalf("ensureFolder: %v", err)
	}

	if id != "id-sub" {
		t.Errorf("expected leaf folder id %q, got %q", "id-sub", id)
	}

	if len(created) != 3 {
		t.Fatalf("expected 3 ancestor folders created, got %d (%v)", len(created), created)
	}

	if _, ok := cat.GetRemoteFolder("backup/docs/sub"); !ok {
		t.Error("expected leaf folder recorded in the catalogue")
	}
}

func TestEnsureFolder_ReusesCataloguedFolder(t *testing.T) {
	remote := newTestRemote(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected no API calls when the folder is already catalogued")
	})

	cat := catalogue.New()
	cat.PutRemoteFolder("backup/docs", catalogue.RemoteEntry{FileID: "existing-1"})

	up := New(remote, cat, nil, false, false, nil, nil)

	id, err := up.ensureFolder(context.Background(), "backup/docs")
	if err != nil {
		t.Fatalf("ensureFolder: %v", err)
	}

	if id != "existing-1" {
		t.Errorf("expected cached folder id, got %q", id)
	}
}

func TestPrepareContent_EncryptsWhenCryptoConfigured(t *testing.T) {
	content := "plaintext body"
	localPath := writeTempFile(t, content)

	var key [32]byte

	pipeline, err := cryptopipe.New(cryptopipe.Algorithms{Compression: "zstd", Encryption: "aes256gcm", Digest: "sha256"}, key)
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}

	up := &Uploader{crypto: pipeline}

	path, sha1Hex, size, cleanup, err := up.prepareContent(localPath, "a.txt")
	if err != nil {
		t.Fatalf("prepareContent: %v", err)
	}
	defer cleanup()

	if sha1Hex == "" {
		t.Error("expected a non-empty digest for the encrypted envelope")
	}

	if size == 0 {
		t.Error("expected a non-zero encrypted size")
	}

	encrypted, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading encrypted output: %v", err)
	}

	if string(encrypted) == content {
		t.Error("expected the encrypted envelope to differ from the plaintext")
	}
}

func TestSplitParentKey_SplitsLeafFromParent(t *testing.T) {
	parent, name := splitParentKey("backup/docs/sub")
	if parent != "backup/docs" || name != "sub" {
		t.Errorf("got (%q, %q), want (\"backup/docs\", \"sub\")", parent, name)
	}

	parent, name = splitParentKey("backup")
	if parent != "" || name != "backup" {
		t.Errorf("got (%q, %q), want (\"\", \"backup\")", parent, name)
	}
}

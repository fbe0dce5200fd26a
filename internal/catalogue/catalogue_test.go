package catalogue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestPutGetDeleteLocal(t *testing.T) {
	c := New()

	e := LocalEntry{AbsPath: "/src/a.txt", RelativeKey: "a.txt", IsFile: true, Size: 10}
	c.PutLocal("a.txt", e)

	got, ok := c.GetLocal("a.txt")
	if !ok || got.Size != 10 {
		t.Fatalf("GetLocal: got %+v, ok=%v", got, ok)
	}

	if isDir, known := c.IsDir("a.txt"); !known || isDir {
		t.Errorf("expected a.txt to be known and not a directory, got isDir=%v known=%v", isDir, known)
	}

	c.DeleteLocal("a.txt")

	if _, ok := c.GetLocal("a.txt"); ok {
		t.Error("expected a.txt to be gone after DeleteLocal")
	}

	if _, known := c.IsDir("a.txt"); known {
		t.Error("expected path_is_dir entry to be removed alongside the local entry")
	}
}

func TestRangeLocal(t *testing.T) {
	c := New()
	c.PutLocal("a.txt", LocalEntry{RelativeKey: "a.txt", IsFile: true})
	c.PutLocal("b.txt", LocalEntry{RelativeKey: "b.txt", IsFile: true})

	seen := map[string]bool{}

	c.RangeLocal(func(pathKey string, _ LocalEntry) bool {
		seen[pathKey] = true
		return true
	})

	if len(seen) != 2 || !seen["a.txt"] || !seen["b.txt"] {
		t.Errorf("unexpected RangeLocal result: %v", seen)
	}
}

func TestRemoteFilesAndFolders(t *testing.T) {
	c := New()

	c.PutRemoteFolder("docs", RemoteEntry{FileID: "f-docs", Name: "docs"})
	c.PutRemoteFile("docs/a.txt", RemoteEntry{FileID: "f-a", Name: "a.txt", ContentHash: "abc"})

	folder, ok := c.GetRemoteFolder("docs")
	if !ok || folder.FileID != "f-docs" || !folder.IsFolder {
		t.Fatalf("GetRemoteFolder: %+v ok=%v", folder, ok)
	}

	file, ok := c.GetRemoteFile("docs/a.txt")
	if !ok || file.ContentHash != "abc" || file.PathKey != "docs/a.txt" {
		t.Fatalf("GetRemoteFile: %+v ok=%v", file, ok)
	}

	c.ResetRemote()

	if _, ok := c.GetRemoteFile("docs/a.txt"); ok {
		t.Error("expected ResetRemote to clear remote files")
	}

	if _, ok := c.GetRemoteFolder("docs"); ok {
		t.Error("expected ResetRemote to clear remote folders")
	}
}

func TestLocalEntryEqual(t *testing.T) {
	now := time.Now().UTC()

	a := LocalEntry{AbsPath: "/x", Size: 5, ModifiedAt: now, CreatedAt: now}
	b := a
	b.Size = 6

	if a.Equal(b) {
		t.Error("expected differing size to break equality")
	}

	if !a.Equal(a) {
		t.Error("expected identical entries to be equal")
	}
}

func TestLocalEntryUnchanged(t *testing.T) {
	now := time.Now().UTC()
	e := LocalEntry{Size: 100, ModifiedAt: now, CreatedAt: now}

	if !e.Unchanged(100, now, now) {
		t.Error("expected matching (size, modified, created) to report unchanged")
	}

	if e.Unchanged(101, now, now) {
		t.Error("expected differing size to report changed")
	}
}

func TestFlushAndLoadPersisted(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenStore(filepath.Join(dir, "catalogue.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	c1 := New()
	c1.PutLocal("a.txt", LocalEntry{AbsPath: "/src/a.txt", RelativeKey: "a.txt", IsFile: true, Size: 42, ModifiedAt: now, CreatedAt: now, FastHash: "h1"})
	c1.PutLocal("b.txt", LocalEntry{AbsPath: "/src/b.txt", RelativeKey: "b.txt", IsFile: true, Size: 7, ModifiedAt: now, CreatedAt: now, FastHash: "h2"})

	if err := c1.Flush(ctx, store, "job-1"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Simulate a fresh process: a new Catalogue loads the persisted snapshot.
	c2 := New()
	if err := c2.LoadPersisted(ctx, store, "job-1"); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}

	got, ok := c2.GetLocal("a.txt")
	if !ok || got.Size != 42 || got.FastHash != "h1" {
		t.Fatalf("LoadPersisted did not restore a.txt: %+v ok=%v", got, ok)
	}

	// Deleting b.txt locally and flushing again should remove it from the store.
	c1.DeleteLocal("b.txt")

	if err := c1.Flush(ctx, store, "job-1"); err != nil {
		t.Fatalf("second Flush: %v", err)
	}

	c3 := New()
	if err := c3.LoadPersisted(ctx, store, "job-1"); err != nil {
		t.Fatalf("LoadPersisted after delete: %v", err)
	}

	if _, ok := c3.GetLocal("b.txt"); ok {
		t.Error("expected b.txt to be gone from the persisted snapshot after delete+flush")
	}

	if _, ok := c3.GetLocal("a.txt"); !ok {
		t.Error("expected a.txt to still be present after an unrelated delete+flush")
	}
}

func TestFlushIsNoOpWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenStore(filepath.Join(dir, "catalogue.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	c := New()
	c.PutLocal("a.txt", LocalEntry{RelativeKey: "a.txt", IsFile: true, Size: 1})

	if err := c.Flush(ctx, store, "job-1"); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	if err := c.Flush(ctx, store, "job-1"); err != nil {
		t.Fatalf("second no-op Flush: %v", err)
	}
}

func TestLocalCount(t *testing.T) {
	c := New()
	if c.LocalCount() != 0 {
		t.Fatalf("expected empty catalogue to count 0")
	}

	c.PutLocal("a.txt", LocalEntry{RelativeKey: "a.txt", IsFile: true})
	c.PutLocal("b.txt", LocalEntry{RelativeKey: "b.txt", IsFile: true})

	if c.LocalCount() != 2 {
		t.Errorf("expected count 2, got %d", c.LocalCount())
	}
}

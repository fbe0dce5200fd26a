package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudkeep/drivesync/internal/catalogue"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScan_PopulatesCatalogue(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	cat := catalogue.New()
	s := New(2, false, nil)

	filter := NewFilter(nil)

	stats, err := s.Scan(context.Background(), []string{root}, filter, cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if stats.FilesScanned != 2 {
		t.Errorf("expected 2 files scanned, got %d", stats.FilesScanned)
	}

	rootName := filepath.Base(root)

	a, ok := cat.GetLocal(rootName + "/a.txt")
	if !ok || a.Size != 5 || a.FastHash == "" {
		t.Fatalf("expected a.txt catalogued with a fast hash, got %+v ok=%v", a, ok)
	}

	b, ok := cat.GetLocal(rootName + "/sub/b.txt")
	if !ok || b.Size != 5 {
		t.Fatalf("expected sub/b.txt catalogued, got %+v ok=%v", b, ok)
	}

	if isDir, known := cat.IsDir(rootName + "/sub"); !known || !isDir {
		t.Errorf("expected sub/ to be catalogued as a directory, got isDir=%v known=%v", isDir, known)
	}
}

func TestScan_ExcludesIgnoredPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "a")
	writeFile(t, filepath.Join(root, "skip.log"), "b")
	writeFile(t, filepath.Join(root, "node_modules", "x.js"), "c")

	cat := catalogue.New()
	s := New(2, false, nil)
	filter := NewFilter([]string{"*.log", "node_modules/"})

	stats, err := s.Scan(context.Background(), []string{root}, filter, cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if stats.FilesScanned != 1 {
		t.Errorf("expected 1 file scanned (keep.txt only), got %d", stats.FilesScanned)
	}

	rootName := filepath.Base(root)

	if _, ok := cat.GetLocal(rootName + "/keep.txt"); !ok {
		t.Error("expected keep.txt to be catalogued")
	}

	if _, ok := cat.GetLocal(rootName + "/skip.log"); ok {
		t.Error("expected skip.log to be excluded")
	}

	if _, ok := cat.GetLocal(rootName + "/node_modules/x.js"); ok {
		t.Error("expected node_modules/ subtree to be excluded entirely")
	}
}

func TestScan_ReusesFastHashWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "stable content")

	cat := catalogue.New()
	s := New(1, false, nil)
	filter := NewFilter(nil)

	if _, err := s.Scan(context.Background(), []string{root}, filter, cat); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	rootName := filepath.Base(root)
	first, _ := cat.GetLocal(rootName + "/a.txt")

	stats, err := s.Scan(context.Background(), []string{root}, filter, cat)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	if stats.HashesReused != 1 || stats.HashesComputed != 0 {
		t.Errorf("expected the unchanged file's hash to be reused, got reused=%d computed=%d",
			stats.HashesReused, stats.HashesComputed)
	}

	second, _ := cat.GetLocal(rootName + "/a.txt")
	if second.FastHash != first.FastHash {
		t.Errorf("expected stable fast hash across rescans, got %q then %q", first.FastHash, second.FastHash)
	}
}

func TestScan_RecomputesHashWhenFileChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "version one")

	cat := catalogue.New()
	s := New(1, false, nil)
	filter := NewFilter(nil)

	if _, err := s.Scan(context.Background(), []string{root}, filter, cat); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	writeFile(t, path, "version two, much longer than before")

	stats, err := s.Scan(context.Background(), []string{root}, filter, cat)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	if stats.HashesComputed != 1 {
		t.Errorf("expected the changed file's hash to be recomputed, got computed=%d", stats.HashesComputed)
	}
}

func TestFilter_ExcludesDeepGlob(t *testing.T) {
	f := NewFilter([]string{"**/*.tmp"})

	if !f.Excluded("a/b/c.tmp", false) {
		t.Error("expected a/b/c.tmp to be excluded by **/*.tmp")
	}

	if f.Excluded("a/b/c.txt", false) {
		t.Error("expected a/b/c.txt to remain included")
	}
}

func TestFilter_NilPatternsExcludesNothing(t *testing.T) {
	f := NewFilter(nil)

	if f.Excluded("anything.txt", false) {
		t.Error("expected an empty filter to exclude nothing")
	}
}

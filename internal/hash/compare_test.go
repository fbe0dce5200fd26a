package hash

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mustWrite(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}

	return path
}

func TestEqual_Size(t *testing.T) {
	a := Comparable{Size: 100}
	b := Comparable{Size: 100}
	c := Comparable{Size: 200}

	eq, err := Equal("size", a, b, 0, 0)
	if err != nil || !eq {
		t.Errorf("expected equal sizes to compare equal, got %v err=%v", eq, err)
	}

	eq, err = Equal("size", a, c, 0, 0)
	if err != nil || eq {
		t.Errorf("expected differing sizes to compare unequal, got %v err=%v", eq, err)
	}
}

func TestEqual_DateTimeWithinDrift(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Comparable{ModTime: base}
	b := Comparable{ModTime: base.Add(1 * time.Second)}
	c := Comparable{ModTime: base.Add(10 * time.Second)}

	eq, err := Equal("date_time", a, b, 2, 0)
	if err != nil || !eq {
		t.Errorf("expected times within drift to compare equal, got %v err=%v", eq, err)
	}

	eq, err = Equal("date_time", a, c, 2, 0)
	if err != nil || eq {
		t.Errorf("expected times outside drift to compare unequal, got %v err=%v", eq, err)
	}
}

func TestEqual_DateTimeSize(t *testing.T) {
	base := time.Now()
	a := Comparable{Size: 10, ModTime: base}
	b := Comparable{Size: 10, ModTime: base}
	c := Comparable{Size: 20, ModTime: base}

	eq, _ := Equal("date_time_size", a, b, 1, 0)
	if !eq {
		t.Error("expected matching size+time to compare equal")
	}

	eq, _ = Equal("date_time_size", a, c, 1, 0)
	if eq {
		t.Error("expected differing size to break date_time_size equality")
	}
}

func TestEqual_ByteContent(t *testing.T) {
	dir := t.TempDir()
	pa := mustWrite(t, dir, "a.bin", []byte("hello world, this is a test file"))
	pb := mustWrite(t, dir, "b.bin", []byte("hello world, this is a test file"))
	pc := mustWrite(t, dir, "c.bin", []byte("hello world, this is a DIFFERENT file"))

	eq, err := Equal("byte_content", Comparable{Path: pa}, Comparable{Path: pb}, 0, 0)
	if err != nil || !eq {
		t.Errorf("expected identical content to compare equal, got %v err=%v", eq, err)
	}

	eq, err = Equal("byte_content", Comparable{Path: pa}, Comparable{Path: pc}, 0, 0)
	if err != nil || eq {
		t.Errorf("expected differing content to compare unequal, got %v err=%v", eq, err)
	}
}

func TestEqual_ByteContent_DifferentLength(t *testing.T) {
	dir := t.TempDir()
	pa := mustWrite(t, dir, "a.bin", []byte("short"))
	pb := mustWrite(t, dir, "b.bin", []byte("much much longer content"))

	eq, err := Equal("byte_content", Comparable{Path: pa}, Comparable{Path: pb}, 0, 0)
	if err != nil || eq {
		t.Errorf("expected different-length files to compare unequal, got %v err=%v", eq, err)
	}
}

func TestEqual_HashUsesKnownFullHashWhenPresent(t *testing.T) {
	a := Comparable{FullHash: "deadbeef"}
	b := Comparable{FullHash: "deadbeef"}
	c := Comparable{FullHash: "cafebabe"}

	eq, _ := Equal("hash", a, b, 0, 0)
	if !eq {
		t.Error("expected matching known full hashes to compare equal without touching disk")
	}

	eq, _ = Equal("hash", a, c, 0, 0.5)
	if eq {
		t.Error("expected differing known full hashes to compare unequal")
	}
}

func TestEqual_HashSamplesWhenHashUnknown(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 20*blockSize)
	for i := range content {
		content[i] = byte(i)
	}

	pa := mustWrite(t, dir, "a.bin", content)
	pb := mustWrite(t, dir, "b.bin", content)

	eq, err := Equal("hash", Comparable{Path: pa, Size: int64(len(content))}, Comparable{Path: pb, Size: int64(len(content))}, 0, 1.0)
	if err != nil || !eq {
		t.Errorf("expected identical sampled content to compare equal, got %v err=%v", eq, err)
	}

	content2 := append([]byte{}, content...)
	content2[len(content2)/2] ^= 0xFF
	pc := mustWrite(t, dir, "c.bin", content2)

	eq, err = Equal("hash", Comparable{Path: pa, Size: int64(len(content))}, Comparable{Path: pc, Size: int64(len(content2))}, 0, 1.0)
	if err != nil || eq {
		t.Errorf("expected a changed middle block to be caught at full sampling rate, got %v err=%v", eq, err)
	}
}

func TestEqual_UnknownMethod(t *testing.T) {
	if _, err := Equal("telepathy", Comparable{}, Comparable{}, 0, 0); err == nil {
		t.Error("expected an error for an unrecognized compare method")
	}
}

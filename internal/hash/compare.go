package hash

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"
)

// Comparable is the minimal pair of attributes the size/date comparators
// need from an entry, independent of which side (local/remote) it came from.
type Comparable struct {
	Size     int64
	ModTime  time.Time
	Path     string // local filesystem path, required for byte_content/hash comparisons
	FullHash string // full SHA-1, required for the hash comparator when already known
}

// blockSize is the streaming read size for byte-content comparison (spec
// §4.5: "streams in 4 KiB blocks").
const blockSize = 4096

// Equal reports whether a and b are indistinguishable under method, per
// spec §4.5. driftSeconds bounds date-time comparisons' tolerance;
// samplingRate controls how much of the interior a hash comparison samples.
func Equal(method string, a, b Comparable, driftSeconds int, samplingRate float64) (bool, error) {
	switch method {
	case "size":
		return a.Size == b.Size, nil
	case "date_time":
		return withinDrift(a.ModTime, b.ModTime, driftSeconds), nil
	case "date_time_size":
		return a.Size == b.Size && withinDrift(a.ModTime, b.ModTime, driftSeconds), nil
	case "byte_content":
		return equalByteContent(a.Path, b.Path)
	case "hash":
		return equalSampledHash(a, b, samplingRate)
	default:
		return false, fmt.Errorf("hash: unknown compare method %q", method)
	}
}

func withinDrift(a, b time.Time, driftSeconds int) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}

	return d <= time.Duration(driftSeconds)*time.Second
}

// equalByteContent streams both files in blockSize chunks, short-circuiting
// on the first mismatch.
func equalByteContent(pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, fmt.Errorf("hash: opening %s: %w", pathA, err)
	}
	defer fa.Close()

	fb, err := os.Open(pathB)
	if err != nil {
		return false, fmt.Errorf("hash: opening %s: %w", pathB, err)
	}
	defer fb.Close()

	bufA := make([]byte, blockSize)
	bufB := make([]byte, blockSize)

	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)

		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}

		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF

		if doneA != doneB {
			return false, nil
		}

		if doneA {
			return true, nil
		}

		if errA != nil {
			return false, fmt.Errorf("hash: reading %s: %w", pathA, errA)
		}

		if errB != nil {
			return false, fmt.Errorf("hash: reading %s: %w", pathB, errB)
		}
	}
}

// equalSampledHash compares full content hashes when both are already known;
// otherwise it falls back to a sampled byte comparison: header and footer
// blocks always, then N random interior blocks sized proportionally to
// samplingRate (spec §4.5).
func equalSampledHash(a, b Comparable, samplingRate float64) (bool, error) {
	if a.FullHash != "" && b.FullHash != "" {
		return a.FullHash == b.FullHash, nil
	}

	if a.Size != b.Size {
		return false, nil
	}

	fa, err := os.Open(a.Path)
	if err != nil {
		return false, fmt.Errorf("hash: opening %s: %w", a.Path, err)
	}
	defer fa.Close()

	fb, err := os.Open(b.Path)
	if err != nil {
		return false, fmt.Errorf("hash: opening %s: %w", b.Path, err)
	}
	defer fb.Close()

	size := a.Size
	if size == 0 {
		return true, nil
	}

	offsets := sampleOffsets(size, samplingRate)

	for _, off := range offsets {
		width := int64(blockSize)
		if off+width > size {
			width = size - off
		}

		bufA := make([]byte, width)
		bufB := make([]byte, width)

		if _, err := fa.ReadAt(bufA, off); err != nil && err != io.EOF {
			return false, fmt.Errorf("hash: reading %s at %d: %w", a.Path, off, err)
		}

		if _, err := fb.ReadAt(bufB, off); err != nil && err != io.EOF {
			return false, fmt.Errorf("hash: reading %s at %d: %w", b.Path, off, err)
		}

		if !bytes.Equal(bufA, bufB) {
			return false, nil
		}
	}

	return true, nil
}

// sampleOffsets returns the header offset, footer offset, and interior
// offsets to sample. The interior sample count scales with samplingRate:
// 0 samples none beyond header/footer, 1 samples every block.
func sampleOffsets(size int64, samplingRate float64) []int64 {
	if samplingRate < 0 {
		samplingRate = 0
	}

	if samplingRate > 1 {
		samplingRate = 1
	}

	offsets := []int64{0}

	footer := size - blockSize
	if footer < 0 {
		footer = 0
	}

	if footer != 0 {
		offsets = append(offsets, footer)
	}

	totalBlocks := size / blockSize
	interiorBlocks := int(float64(totalBlocks) * samplingRate)

	if interiorBlocks >= int(totalBlocks) {
		for i := int64(0); i < totalBlocks; i++ {
			offsets = append(offsets, i*blockSize)
		}

		return offsets
	}

	for i := 0; i < interiorBlocks; i++ {
		off := rand.Int64N(size/blockSize+1) * blockSize //nolint:gosec // sampling does not need crypto rand
		offsets = append(offsets, off)
	}

	return offsets
}

package cryptopipe

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressWriter wraps the three allow-listed compressors (spec §4.6) behind
// one io.WriteCloser so the pipeline's chunker doesn't care which was chosen.
func compressWriter(kind string, w io.Writer) (io.WriteCloser, error) {
	switch kind {
	case "zstd":
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case "lz4":
		zw := lz4.NewWriter(w)
		return zw, nil
	case "snappy":
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedAlgorithm, kind)
	}
}

// decompressReader is the inverse of compressWriter. lz4 and snappy readers
// don't need closing; zstd's does, so every case returns an io.ReadCloser
// and callers always call Close.
func decompressReader(kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("cryptopipe: opening zstd reader: %w", err)
		}

		return zstdReadCloser{zr}, nil
	case "lz4":
		return io.NopCloser(lz4.NewReader(r)), nil
	case "snappy":
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedAlgorithm, kind)
	}
}

// zstdReadCloser adapts *zstd.Decoder's Close (which returns nothing) to
// io.Closer's signature.
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

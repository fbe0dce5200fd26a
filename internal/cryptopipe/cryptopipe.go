// Package cryptopipe implements the Crypto Pipeline (spec §4.6, C6): a
// streaming compress -> encrypt -> envelope transform for the upload path,
// and its inverse for restore. The teacher has no analogous component;
// this is grounded on the broader example pack's crypto/compression
// dependency surface (the storj-storj-shaped go.mod pulls in the same
// golang.org/x/crypto and klauspost/compress family this spec names
// explicitly in §4.6), plus the example pack's rclone-shaped upload
// backend for the general shape of "transform before wire, invert after".
//
// The envelope is a small framed format: a header recording the original
// filename and the chosen algorithms, followed by a sequence of
// independently-sealed fixed-size chunks. Framing in fixed chunks (rather
// than one AEAD seal over the whole file) is what makes the pipeline
// genuinely streaming per §4.6 ("a small working buffer is sufficient
// regardless of file size") — AES-GCM and ChaCha20-Poly1305 are
// whole-message AEADs, so a multi-gigabyte file sealed in one call would
// need the entire plaintext (or ciphertext) buffered in memory.
package cryptopipe

import (
	"crypto/md5" //nolint:gosec // name-hash is a namespacing choice, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
)

// chunkSize is the plaintext size of each sealed frame.
const chunkSize = 64 * 1024

// envelopeMagic identifies this package's framed format.
var envelopeMagic = [8]byte{'D', 'S', 'Y', 'N', 'C', 'E', 'N', '1'}

// ErrUnsupportedAlgorithm is returned for any compression/encryption/digest
// name outside the spec §4.6 allow-list.
var ErrUnsupportedAlgorithm = errors.New("cryptopipe: unsupported algorithm")

// Algorithms names the three algorithm choices a job configures (spec
// §4.6). Validated against config.Allowed* before a Pipeline is built —
// this package re-validates defensively since it has callers beyond the CLI.
type Algorithms struct {
	Compression string // "zstd" | "lz4" | "snappy"
	Encryption  string // "aes256gcm" | "chacha20poly1305"
	Digest      string // "sha256" | "blake3"
}

func (a Algorithms) validate() error {
	switch a.Compression {
	case "zstd", "lz4", "snappy":
	default:
		return fmt.Errorf("%w: compression %q", ErrUnsupportedAlgorithm, a.Compression)
	}

	switch a.Encryption {
	case "aes256gcm", "chacha20poly1305":
	default:
		return fmt.Errorf("%w: encryption %q", ErrUnsupportedAlgorithm, a.Encryption)
	}

	switch a.Digest {
	case "sha256", "blake3":
	default:
		return fmt.Errorf("%w: digest %q", ErrUnsupportedAlgorithm, a.Digest)
	}

	return nil
}

// Pipeline holds one job's resolved crypto settings: the algorithm choice
// and the derived symmetric key. Stateless and safe for concurrent use —
// every Encrypt/Decrypt call is independent.
type Pipeline struct {
	algo Algorithms
	key  [32]byte
}

// New builds a Pipeline from the job's algorithm choice and a raw 32-byte
// key. The controller derives that key as the SHA-256 of the job's
// CryptoConfig.PassphrKeyID; this package only uses it.
func New(algo Algorithms, key [32]byte) (*Pipeline, error) {
	if err := algo.validate(); err != nil {
		return nil, err
	}

	return &Pipeline{algo: algo, key: key}, nil
}

// EncryptedName computes the remote name for a locally-named file per
// spec §4.6: "<original>.e" or, when name-encryption is enabled,
// "<MD5 of name>.e" — the envelope itself carries the real name so a
// restore can recover it even when the remote name is hashed.
func EncryptedName(original string, hashName bool) string {
	if !hashName {
		return original + ".e"
	}

	sum := md5.Sum([]byte(original)) //nolint:gosec // namespacing hash, not a security property

	return hex.EncodeToString(sum[:]) + ".e"
}

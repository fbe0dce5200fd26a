package cryptopipe

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// newAEAD builds the allow-listed cipher (spec §4.6) keyed by the
// Pipeline's 32-byte key. AES-256-GCM comes from the standard library
// (crypto/aes + crypto/cipher) since Go's stdlib AES-GCM is the
// constant-time, hardware-accelerated reference implementation — no
// third-party package in the corpus improves on it. ChaCha20-Poly1305
// comes from golang.org/x/crypto, which the teacher's go.mod already
// carries (spec §4.6 names it explicitly).
func newAEAD(kind string, key [32]byte) (cipher.AEAD, error) {
	switch kind {
	case "aes256gcm":
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("cryptopipe: building AES cipher: %w", err)
		}

		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("cryptopipe: building AES-GCM: %w", err)
		}

		return aead, nil
	case "chacha20poly1305":
		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, fmt.Errorf("cryptopipe: building ChaCha20-Poly1305: %w", err)
		}

		return aead, nil
	default:
		return nil, fmt.Errorf("%w: encryption %q", ErrUnsupportedAlgorithm, kind)
	}
}

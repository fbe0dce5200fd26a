package cryptopipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"lukechampine.com/blake3"
)

// newDigest returns the allow-listed content-digest hash (spec §4.6),
// computed over the plaintext alongside compression/encryption so restore
// can verify integrity independent of which cipher was used.
func newDigest(kind string) (hash.Hash, error) {
	switch kind {
	case "sha256":
		return sha256.New(), nil
	case "blake3":
		return blake3.New(32, nil), nil
	default:
		return nil, fmt.Errorf("%w: digest %q", ErrUnsupportedAlgorithm, kind)
	}
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

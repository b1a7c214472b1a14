package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashBytes computes the SHA-256 content hash of data as lowercase hex.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the lowercase hex digest.
// Use this for file content that should not be held in memory at once.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyContentHash recomputes the hash of data and compares it to the
// claimed digest. Hash values are not secrets, so a plain compare is fine.
func VerifyContentHash(data []byte, claimed string) bool {
	return HashBytes(data) == claimed
}

// ValidDigest reports whether s is a 64-character lowercase hex string.
func ValidDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}

	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

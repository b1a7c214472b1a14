// Package merkle computes deterministic Merkle roots over ordered leaf
// hashes for snapshot manifests.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"Veristamp/internal/fault"
)

// Root computes the Merkle root of the ordered leaves. Adjacent leaves are
// paired and their concatenation hashed with SHA-256; an unpaired final leaf
// is promoted unchanged to the next level. The carry rule means an odd level
// never duplicates or zero-pads its last leaf, so the root of a single leaf
// is the leaf itself.
func Root(leaves [][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, fault.New(fault.Validation, "cannot build a tree with no leaves")
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)

		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, pairHash(level[i], level[i+1]))
		}

		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}

		level = next
	}

	return level[0], nil
}

// RootHex computes the Merkle root over hex-encoded leaf digests and returns
// the root as lowercase hex. Each digest must decode to raw bytes; a
// malformed digest rejects the whole batch.
func RootHex(digests []string) (string, error) {
	leaves := make([][]byte, len(digests))

	for i, digest := range digests {
		raw, err := hex.DecodeString(digest)
		if err != nil {
			return "", fault.Wrap(fault.Validation, err, "invalid leaf digest at index %d", i)
		}
		leaves[i] = raw
	}

	root, err := Root(leaves)
	if err != nil {
		return "", fmt.Errorf("compute root: %w", err)
	}

	return hex.EncodeToString(root), nil
}

func pairHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

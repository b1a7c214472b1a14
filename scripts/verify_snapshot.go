//go:build ignore

// Offline snapshot verification: checks a published manifest and batch
// blob against a signer public key, with no registry involved. This is
// the independence guarantee in executable form.
//
// Usage: go run scripts/verify_snapshot.go <manifest.json> <blob.jsonl[.gz]> <key.pub>
package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"Veristamp/internal/keys"
	"Veristamp/internal/proof"
	"Veristamp/internal/snapshot"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "Usage: %s <manifest.json> <blob.jsonl[.gz]> <key.pub>\n", os.Args[0])
		os.Exit(1)
	}

	manifestPath := os.Args[1]
	blobPath := os.Args[2]
	keyPath := os.Args[3]

	manifest, err := readManifest(manifestPath)
	if err != nil {
		fail("read manifest: %v", err)
	}

	blob, err := readBlob(blobPath)
	if err != nil {
		fail("read blob: %v", err)
	}

	ring, err := readKey(keyPath)
	if err != nil {
		fail("read key: %v", err)
	}

	fmt.Printf("batch %d: %d proofs, root %s\n", manifest.Batch, manifest.Count, manifest.MerkleRoot)

	if result := snapshot.Verify(manifest, ring); !result.Valid {
		fail("manifest verification failed: %s", result.Reason)
	}
	fmt.Println("✓ manifest signature and self-hash verify")

	if !snapshot.BlobMatches(manifest, blob) {
		fail("blob does not match sha256_jsonl")
	}
	fmt.Println("✓ blob matches sha256_jsonl")

	proofs, err := snapshot.DecodeJSONL(blob)
	if err != nil {
		fail("decode blob: %v", err)
	}
	if len(proofs) != manifest.Count {
		fail("blob holds %d proofs, manifest says %d", len(proofs), manifest.Count)
	}

	invalid := 0
	for i, p := range proofs {
		if result := proof.Verify(p, ring); !result.Valid {
			fmt.Printf("  ✗ proof %d: %s\n", i+1, result.Reason)
			invalid++
		}
	}
	if invalid > 0 {
		fail("%d of %d proofs failed verification", invalid, len(proofs))
	}
	fmt.Printf("✓ all %d proofs verify\n", len(proofs))

	fmt.Println("\n✓ Snapshot is authentic")
}

// readManifest parses the manifest document.
func readManifest(path string) (*snapshot.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m snapshot.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// readBlob reads the batch blob, decompressing when the path says so.
func readBlob(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".gz") {
		return snapshot.Decompress(data)
	}

	return data, nil
}

// readKey loads a raw Ed25519 public key into a single-entry ring.
func readKey(path string) (*keys.Ring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key must be %d raw bytes, got %d", ed25519.PublicKeySize, len(data))
	}

	ring := keys.NewRing()
	if _, err := ring.Add(ed25519.PublicKey(data)); err != nil {
		return nil, err
	}

	return ring, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
	os.Exit(1)
}

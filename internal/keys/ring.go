package keys

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ring indexes retained public keys by fingerprint so proofs signed before a
// key rotation stay verifiable. The active key is added like any other.
type Ring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewRing creates an empty keyring.
func NewRing() *Ring {
	return &Ring{
		keys: make(map[string]ed25519.PublicKey),
	}
}

// Add registers a public key and returns its fingerprint.
// Re-adding the same key is a no-op.
func (r *Ring) Add(pub ed25519.PublicKey) (string, error) {
	fp, err := Fingerprint(pub)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.keys[fp] = append(ed25519.PublicKey(nil), pub...)

	return fp, nil
}

// Lookup returns the public key for a fingerprint.
func (r *Ring) Lookup(fingerprint string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pub, ok := r.keys[fingerprint]
	return pub, ok
}

// Fingerprints returns all known fingerprints in sorted order.
func (r *Ring) Fingerprints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fps := make([]string, 0, len(r.keys))
	for fp := range r.keys {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	return fps
}

// LoadDir adds every *.pub file in dir to the ring. Each file holds the raw
// 32-byte Ed25519 public key. A missing directory is not an error; the ring
// just stays as it was.
func (r *Ring) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pub") {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read public key %s: %w", path, err)
		}
		if len(data) != ed25519.PublicKeySize {
			return fmt.Errorf("invalid public key %s: got %d bytes, want %d", path, len(data), ed25519.PublicKeySize)
		}

		if _, err := r.Add(ed25519.PublicKey(data)); err != nil {
			return fmt.Errorf("add public key %s: %w", path, err)
		}
	}

	return nil
}

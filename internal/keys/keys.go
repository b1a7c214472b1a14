// Package keys holds the signing key material behind a single manager so the
// rest of the core stays agnostic to the key algorithm and storage location.
package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"Veristamp/internal/fault"
)

const (
	// fingerprintVersion prefixes every fingerprint so the derivation can
	// change later without orphaning recorded proofs.
	fingerprintVersion = "v1"
)

// Manager signs registry payloads with a single active Ed25519 key and
// identifies it by a deterministic public-key fingerprint.
type Manager struct {
	priv        ed25519.PrivateKey // priv is the active signing key
	pub         ed25519.PublicKey  // pub is the matching public key
	fingerprint string             // fingerprint identifies pub, computed once
}

// NewManager creates a manager for the given private key.
func NewManager(priv ed25519.PrivateKey) (*Manager, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fault.New(fault.Configuration, "invalid private key size: got %d, want %d", len(priv), ed25519.PrivateKeySize)
	}

	pub := priv.Public().(ed25519.PublicKey)

	fp, err := Fingerprint(pub)
	if err != nil {
		return nil, fmt.Errorf("derive fingerprint: %w", err)
	}

	return &Manager{
		priv:        priv,
		pub:         pub,
		fingerprint: fp,
	}, nil
}

// Sign signs the payload with the active key.
// Fails loudly when no key is configured; there is no fallback signer.
func (m *Manager) Sign(payload []byte) ([]byte, error) {
	if m == nil || len(m.priv) != ed25519.PrivateKeySize {
		return nil, fault.New(fault.Configuration, "no signing key configured")
	}

	return ed25519.Sign(m.priv, payload), nil
}

// Fingerprint returns the active public key's fingerprint.
func (m *Manager) Fingerprint() string {
	if m == nil {
		return ""
	}
	return m.fingerprint
}

// PublicKey returns the active public key.
func (m *Manager) PublicKey() ed25519.PublicKey {
	return m.pub
}

// Fingerprint derives the versioned fingerprint of a public key:
// v1:<hex sha256 of the PKIX DER encoding>. The derivation is a pure
// function of the key bytes, so rotation changes it deterministically.
func Fingerprint(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid public key size: got %d, want %d", len(pub), ed25519.PublicKeySize)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}

	sum := sha256.Sum256(der)

	return fingerprintVersion + ":" + hex.EncodeToString(sum[:]), nil
}

// ValidFingerprint reports whether s has the shape of a known fingerprint
// version. It does not prove a key with that fingerprint exists.
func ValidFingerprint(s string) bool {
	rest, ok := strings.CutPrefix(s, fingerprintVersion+":")
	if !ok || len(rest) != sha256.Size*2 {
		return false
	}

	_, err := hex.DecodeString(rest)
	return err == nil
}

// Verify checks an Ed25519 signature against a payload and public key.
func Verify(pub ed25519.PublicKey, payload, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(pub, payload, sig)
}

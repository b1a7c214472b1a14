// Package proof builds and verifies canonical proof records: signed,
// immutable attestations that a content hash existed at a point in time.
//
// Canonical form is the JSON encoding with fields in schema order and map
// keys sorted, no extraneous whitespace. Two logically identical proofs
// therefore produce byte-identical signing input regardless of how their
// fields were assembled, which is what makes cross-implementation
// verification possible.
package proof

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"Veristamp/internal/fault"
	"Veristamp/internal/keys"
)

const (
	// SchemaVersion is the current proof schema generation.
	SchemaVersion = 1

	// HashAlgoSHA256 is the only hash algorithm this generation accepts.
	HashAlgoSHA256 = "sha256"
)

// Subject references what was hashed, never the file bytes themselves.
type Subject struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

// CanonicalProof is a signed attestation of a content hash. Immutable once
// created: any mutation of any field invalidates the signature.
//
// Field order here is the canonical serialization order; do not reorder.
type CanonicalProof struct {
	SchemaVersion     int               `json:"schema_version"`
	HashAlgo          string            `json:"hash_algo"`
	HashFull          string            `json:"hash_full"`
	SignedAt          string            `json:"signed_at"`
	SignerFingerprint string            `json:"signer_fingerprint"`
	Subject           Subject           `json:"subject"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Signature         string            `json:"signature,omitempty"`
}

// SigningBytes returns the canonical serialization of every field except the
// signature. This is the exact payload the signature covers.
func (p *CanonicalProof) SigningBytes() ([]byte, error) {
	unsigned := *p
	unsigned.Signature = ""

	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}

	return data, nil
}

// Signer produces signatures and identifies the key that made them.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	Fingerprint() string
}

// Builder constructs signed canonical proofs.
type Builder struct {
	signer Signer
	now    func() time.Time
}

// NewBuilder creates a builder backed by the given signer.
func NewBuilder(signer Signer) *Builder {
	return &Builder{
		signer: signer,
		now:    time.Now,
	}
}

// Build constructs a canonical proof for an already-computed content hash and
// signs it. The signer is invoked exactly once, over the canonical bytes of
// every field except the signature.
func (b *Builder) Build(hashFull string, subject Subject, metadata map[string]string) (*CanonicalProof, error) {
	if !ValidDigest(hashFull) {
		return nil, fault.New(fault.Validation, "invalid content hash: want 64 lowercase hex characters")
	}
	if subject.Type == "" || subject.Namespace == "" || subject.ID == "" {
		return nil, fault.New(fault.Validation, "incomplete subject: type, namespace and id are required")
	}

	fingerprint := b.signer.Fingerprint()
	if fingerprint == "" {
		return nil, fault.New(fault.Configuration, "no signing key configured")
	}

	p := &CanonicalProof{
		SchemaVersion:     SchemaVersion,
		HashAlgo:          HashAlgoSHA256,
		HashFull:          hashFull,
		SignedAt:          b.now().UTC().Format(time.RFC3339),
		SignerFingerprint: fingerprint,
		Subject:           subject,
		Metadata:          copyMetadata(metadata),
	}

	payload, err := p.SigningBytes()
	if err != nil {
		return nil, err
	}

	sig, err := b.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign proof: %w", err)
	}

	p.Signature = base64.StdEncoding.EncodeToString(sig)

	return p, nil
}

// copyMetadata decouples the proof from later mutation of the caller's map.
// Empty metadata normalizes to nil so it is omitted from the canonical form.
func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}

	return out
}

// KeyLookup resolves a signer fingerprint to its public key.
type KeyLookup interface {
	Lookup(fingerprint string) (ed25519.PublicKey, bool)
}

// Result is a verification outcome. An invalid proof is a result, not an
// error: the caller decides how to surface it.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Verify recomputes the canonical bytes of the proof, resolves the signer's
// public key by fingerprint and checks the signature. Unknown fingerprints,
// malformed encodings and cryptographic mismatches all yield an invalid
// result rather than an error.
func Verify(p *CanonicalProof, lookup KeyLookup) Result {
	if p == nil {
		return invalid("missing proof")
	}
	if p.SchemaVersion != SchemaVersion {
		return invalid(fmt.Sprintf("unsupported schema version %d", p.SchemaVersion))
	}
	if p.HashAlgo != HashAlgoSHA256 {
		return invalid(fmt.Sprintf("unsupported hash algorithm %q", p.HashAlgo))
	}
	if !ValidDigest(p.HashFull) {
		return invalid("malformed content hash")
	}
	if p.Subject.Type == "" || p.Subject.Namespace == "" || p.Subject.ID == "" {
		return invalid("incomplete subject")
	}
	if _, err := time.Parse(time.RFC3339, p.SignedAt); err != nil {
		return invalid("malformed signed_at timestamp")
	}

	pub, ok := lookup.Lookup(p.SignerFingerprint)
	if !ok {
		return invalid("unknown signer fingerprint")
	}

	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return invalid("malformed signature encoding")
	}

	payload, err := p.SigningBytes()
	if err != nil {
		return invalid("canonical serialization failed")
	}

	if !keys.Verify(pub, payload, sig) {
		return invalid("signature mismatch")
	}

	return Result{Valid: true}
}

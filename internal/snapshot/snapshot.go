// Package snapshot turns completed 1000-proof batches into signed,
// independently verifiable snapshot manifests and their serialized blobs.
package snapshot

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"Veristamp/internal/fault"
	"Veristamp/internal/keys"
	"Veristamp/internal/merkle"
	"Veristamp/internal/proof"
)

// BatchSize is the fixed number of proofs per snapshot. Partial batches are
// never snapshotted.
const BatchSize = 1000

// WindowStart returns the first 1-based proof sequence covered by a batch.
func WindowStart(batch uint64) uint64 {
	return (batch-1)*BatchSize + 1
}

// WindowEnd returns the last proof sequence covered by a batch.
func WindowEnd(batch uint64) uint64 {
	return batch * BatchSize
}

// Manifest describes one snapshotted batch. The field order is the canonical
// serialization order; do not reorder.
//
// sha256_manifest_without_signature is self-referential: it is the hash of
// the manifest's canonical bytes with both the signature and this field
// itself absent, so any reader can check the manifest was not altered after
// signing, independent of transport. The signature then covers everything
// except itself, self-hash included.
type Manifest struct {
	Batch                          uint64 `json:"batch"`
	Count                          int    `json:"count"`
	MerkleRoot                     string `json:"merkle_root"`
	SHA256JSONL                    string `json:"sha256_jsonl"`
	SHA256ManifestWithoutSignature string `json:"sha256_manifest_without_signature,omitempty"`
	CreatedAt                      string `json:"created_at"`
	Signature                      string `json:"signature,omitempty"`
}

// HashBytes returns the canonical bytes the self-hash field covers.
func (m *Manifest) HashBytes() ([]byte, error) {
	view := *m
	view.SHA256ManifestWithoutSignature = ""
	view.Signature = ""

	data, err := json.Marshal(&view)
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}

	return data, nil
}

// SigningBytes returns the canonical bytes the signature covers: every field
// except the signature itself.
func (m *Manifest) SigningBytes() ([]byte, error) {
	view := *m
	view.Signature = ""

	data, err := json.Marshal(&view)
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}

	return data, nil
}

// Builder packages proof batches into signed manifests. It does no I/O; the
// caller supplies the ordered batch window and persists the outputs.
type Builder struct {
	signer proof.Signer
	now    func() time.Time
}

// NewBuilder creates a builder backed by the given signer.
func NewBuilder(signer proof.Signer) *Builder {
	return &Builder{
		signer: signer,
		now:    time.Now,
	}
}

// Build produces the manifest and JSONL blob for one batch. The caller
// guarantees exactly BatchSize proofs in stable issuance order; the builder
// does not re-sort, re-fetch or deduplicate. The Merkle leaves are the
// hex-decoded content hashes of the proofs, in order.
func (b *Builder) Build(batch uint64, proofs []*proof.CanonicalProof) (*Manifest, []byte, error) {
	if batch < 1 {
		return nil, nil, fault.New(fault.Validation, "invalid batch number %d", batch)
	}
	if len(proofs) != BatchSize {
		return nil, nil, fault.New(fault.Validation, "batch %d needs exactly %d proofs, got %d", batch, BatchSize, len(proofs))
	}

	digests := make([]string, len(proofs))
	for i, p := range proofs {
		if p == nil || !proof.ValidDigest(p.HashFull) {
			return nil, nil, fault.New(fault.Validation, "proof at index %d has no valid content hash", i)
		}
		digests[i] = p.HashFull
	}

	blob, err := EncodeJSONL(proofs)
	if err != nil {
		return nil, nil, err
	}

	root, err := merkle.RootHex(digests)
	if err != nil {
		return nil, nil, fmt.Errorf("build merkle tree for batch %d: %w", batch, err)
	}

	m := &Manifest{
		Batch:       batch,
		Count:       BatchSize,
		MerkleRoot:  root,
		SHA256JSONL: proof.HashBytes(blob),
		CreatedAt:   b.now().UTC().Format(time.RFC3339),
	}

	hashView, err := m.HashBytes()
	if err != nil {
		return nil, nil, err
	}
	m.SHA256ManifestWithoutSignature = proof.HashBytes(hashView)

	payload, err := m.SigningBytes()
	if err != nil {
		return nil, nil, err
	}

	sig, err := b.signer.Sign(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("sign manifest for batch %d: %w", batch, err)
	}
	m.Signature = base64.StdEncoding.EncodeToString(sig)

	return m, blob, nil
}

// KeyRing enumerates retained verification keys. The manifest does not carry
// a fingerprint, so verification tries each retained key in turn; manifests
// signed before a key rotation stay verifiable this way.
type KeyRing interface {
	Fingerprints() []string
	Lookup(fingerprint string) (ed25519.PublicKey, bool)
}

// Verify checks a manifest's structure, self-hash and signature. Like proof
// verification, a failed check is an invalid result, not an error.
func Verify(m *Manifest, ring KeyRing) proof.Result {
	if m == nil {
		return proof.Result{Valid: false, Reason: "missing manifest"}
	}
	if m.Batch < 1 {
		return proof.Result{Valid: false, Reason: fmt.Sprintf("invalid batch number %d", m.Batch)}
	}
	if m.Count != BatchSize {
		return proof.Result{Valid: false, Reason: fmt.Sprintf("invalid count %d, want %d", m.Count, BatchSize)}
	}
	if !proof.ValidDigest(m.MerkleRoot) {
		return proof.Result{Valid: false, Reason: "malformed merkle root"}
	}
	if !proof.ValidDigest(m.SHA256JSONL) {
		return proof.Result{Valid: false, Reason: "malformed blob hash"}
	}
	if _, err := time.Parse(time.RFC3339, m.CreatedAt); err != nil {
		return proof.Result{Valid: false, Reason: "malformed created_at timestamp"}
	}

	hashView, err := m.HashBytes()
	if err != nil {
		return proof.Result{Valid: false, Reason: "canonical serialization failed"}
	}
	if proof.HashBytes(hashView) != m.SHA256ManifestWithoutSignature {
		return proof.Result{Valid: false, Reason: "self-hash mismatch"}
	}

	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return proof.Result{Valid: false, Reason: "malformed signature encoding"}
	}

	payload, err := m.SigningBytes()
	if err != nil {
		return proof.Result{Valid: false, Reason: "canonical serialization failed"}
	}

	for _, fp := range ring.Fingerprints() {
		pub, ok := ring.Lookup(fp)
		if ok && keys.Verify(pub, payload, sig) {
			return proof.Result{Valid: true}
		}
	}

	return proof.Result{Valid: false, Reason: "signature matches no retained key"}
}

// BlobMatches reports whether blob hashes to the manifest's sha256_jsonl.
func BlobMatches(m *Manifest, blob []byte) bool {
	return m != nil && proof.HashBytes(blob) == m.SHA256JSONL
}

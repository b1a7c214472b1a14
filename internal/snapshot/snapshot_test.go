package snapshot

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"Veristamp/internal/fault"
	"Veristamp/internal/keys"
	"Veristamp/internal/merkle"
	"Veristamp/internal/proof"
)

func newTestSigner(t *testing.T) (*keys.Manager, *keys.Ring) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	manager, err := keys.NewManager(priv)
	if err != nil {
		t.Fatalf("failed to create key manager: %v", err)
	}

	ring := keys.NewRing()
	if _, err := ring.Add(manager.PublicKey()); err != nil {
		t.Fatalf("failed to add key to ring: %v", err)
	}

	return manager, ring
}

func buildTestProofs(t *testing.T, signer proof.Signer, count int) []*proof.CanonicalProof {
	t.Helper()

	builder := proof.NewBuilder(signer)
	proofs := make([]*proof.CanonicalProof, count)

	for i := range proofs {
		subject := proof.Subject{Type: "file", Namespace: "acme", ID: fmt.Sprintf("doc-%d", i+1)}

		p, err := builder.Build(proof.HashBytes([]byte(fmt.Sprintf("content-%d", i+1))), subject, nil)
		if err != nil {
			t.Fatalf("failed to build proof %d: %v", i+1, err)
		}

		proofs[i] = p
	}

	return proofs
}

func TestBuild_ManifestFields(t *testing.T) {
	manager, _ := newTestSigner(t)
	proofs := buildTestProofs(t, manager, BatchSize)

	m, blob, err := NewBuilder(manager).Build(1, proofs)
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}

	if m.Batch != 1 {
		t.Errorf("expected batch 1, got %d", m.Batch)
	}
	if m.Count != BatchSize {
		t.Errorf("expected count %d, got %d", BatchSize, m.Count)
	}
	if m.SHA256JSONL != proof.HashBytes(blob) {
		t.Error("sha256_jsonl does not match the blob bytes")
	}

	digests := make([]string, len(proofs))
	for i, p := range proofs {
		digests[i] = p.HashFull
	}

	root, err := merkle.RootHex(digests)
	if err != nil {
		t.Fatalf("failed to compute reference root: %v", err)
	}
	if m.MerkleRoot != root {
		t.Errorf("merkle root mismatch: got %s, want %s", m.MerkleRoot, root)
	}

	if _, err := time.Parse(time.RFC3339, m.CreatedAt); err != nil {
		t.Errorf("created_at is not RFC 3339: %v", err)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	manager, _ := newTestSigner(t)
	proofs := buildTestProofs(t, manager, BatchSize)

	builder := NewBuilder(manager)
	builder.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	m1, blob1, err := builder.Build(1, proofs)
	if err != nil {
		t.Fatalf("failed to build first snapshot: %v", err)
	}

	m2, blob2, err := builder.Build(1, proofs)
	if err != nil {
		t.Fatalf("failed to build second snapshot: %v", err)
	}

	if !bytes.Equal(blob1, blob2) {
		t.Error("blob bytes differ between identical builds")
	}
	if *m1 != *m2 {
		t.Errorf("manifests differ between identical builds:\n%+v\n%+v", m1, m2)
	}
}

func TestBuild_RejectsPartialBatch(t *testing.T) {
	manager, _ := newTestSigner(t)
	proofs := buildTestProofs(t, manager, 10)

	_, _, err := NewBuilder(manager).Build(1, proofs)
	if err == nil {
		t.Fatal("expected build of a partial batch to fail")
	}
	if !fault.Is(err, fault.Validation) {
		t.Errorf("expected validation fault, got %v", fault.KindOf(err))
	}
}

func TestBuild_RejectsBatchZero(t *testing.T) {
	manager, _ := newTestSigner(t)
	proofs := buildTestProofs(t, manager, BatchSize)

	if _, _, err := NewBuilder(manager).Build(0, proofs); err == nil {
		t.Fatal("expected build with batch 0 to fail")
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	manager, ring := newTestSigner(t)
	proofs := buildTestProofs(t, manager, BatchSize)

	m, _, err := NewBuilder(manager).Build(1, proofs)
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}

	if result := Verify(m, ring); !result.Valid {
		t.Errorf("freshly built manifest failed verification: %s", result.Reason)
	}

	// The self-hash must be reproducible from the manifest alone.
	hashView, err := m.HashBytes()
	if err != nil {
		t.Fatalf("failed to serialize hash view: %v", err)
	}
	if proof.HashBytes(hashView) != m.SHA256ManifestWithoutSignature {
		t.Error("self-hash not reproducible from manifest fields")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	manager, ring := newTestSigner(t)
	proofs := buildTestProofs(t, manager, BatchSize)

	original, blob, err := NewBuilder(manager).Build(1, proofs)
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(m *Manifest)
	}{
		{"merkle root", func(m *Manifest) { m.MerkleRoot = proof.HashBytes([]byte("forged")) }},
		{"blob hash", func(m *Manifest) { m.SHA256JSONL = proof.HashBytes([]byte("forged")) }},
		{"created_at", func(m *Manifest) { m.CreatedAt = "2020-01-01T00:00:00Z" }},
		{"batch", func(m *Manifest) { m.Batch = 2 }},
		{"self-hash", func(m *Manifest) { m.SHA256ManifestWithoutSignature = proof.HashBytes(blob) }},
		{"signature", func(m *Manifest) { m.Signature = m.Signature[:len(m.Signature)-4] + "AAA=" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mutated := *original
			tc.mutate(&mutated)

			if result := Verify(&mutated, ring); result.Valid {
				t.Errorf("manifest still valid after mutating %s", tc.name)
			}
		})
	}
}

func TestBlobMatches_Corruption(t *testing.T) {
	manager, _ := newTestSigner(t)
	proofs := buildTestProofs(t, manager, BatchSize)

	m, blob, err := NewBuilder(manager).Build(1, proofs)
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}

	if !BlobMatches(m, blob) {
		t.Fatal("pristine blob rejected")
	}

	corrupted := append([]byte(nil), blob...)
	corrupted[len(corrupted)/2] ^= 0xFF

	if BlobMatches(m, corrupted) {
		t.Error("corrupted blob accepted")
	}
}

func TestJSONL_RoundTrip(t *testing.T) {
	manager, ring := newTestSigner(t)
	proofs := buildTestProofs(t, manager, 25)

	blob, err := EncodeJSONL(proofs)
	if err != nil {
		t.Fatalf("failed to encode blob: %v", err)
	}

	decoded, err := DecodeJSONL(blob)
	if err != nil {
		t.Fatalf("failed to decode blob: %v", err)
	}

	if len(decoded) != len(proofs) {
		t.Fatalf("expected %d proofs, got %d", len(proofs), len(decoded))
	}

	for i, p := range decoded {
		if p.HashFull != proofs[i].HashFull {
			t.Errorf("proof %d out of order after round trip", i)
		}
		if result := proof.Verify(p, ring); !result.Valid {
			t.Errorf("proof %d invalid after round trip: %s", i, result.Reason)
		}
	}
}

func TestDecodeJSONL_MalformedLine(t *testing.T) {
	if _, err := DecodeJSONL([]byte("{\"schema_version\":1}\nnot json\n")); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestCompress_RoundTrip(t *testing.T) {
	manager, _ := newTestSigner(t)
	proofs := buildTestProofs(t, manager, 25)

	blob, err := EncodeJSONL(proofs)
	if err != nil {
		t.Fatalf("failed to encode blob: %v", err)
	}

	compressed, err := Compress(blob)
	if err != nil {
		t.Fatalf("failed to compress blob: %v", err)
	}

	restored, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("failed to decompress blob: %v", err)
	}

	if !bytes.Equal(blob, restored) {
		t.Error("blob changed across compression round trip")
	}
}

func TestDecompress_CorruptedData(t *testing.T) {
	if _, err := Decompress([]byte("definitely not gzip")); err == nil {
		t.Error("expected error for corrupted data")
	}
}

func TestBatchWindow(t *testing.T) {
	tests := []struct {
		batch uint64
		start uint64
		end   uint64
	}{
		{1, 1, 1000},
		{2, 1001, 2000},
		{7, 6001, 7000},
	}

	for _, tc := range tests {
		if got := WindowStart(tc.batch); got != tc.start {
			t.Errorf("WindowStart(%d) = %d, want %d", tc.batch, got, tc.start)
		}
		if got := WindowEnd(tc.batch); got != tc.end {
			t.Errorf("WindowEnd(%d) = %d, want %d", tc.batch, got, tc.end)
		}
	}
}

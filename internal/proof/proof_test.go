package proof

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"Veristamp/internal/fault"
	"Veristamp/internal/keys"
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

func testSubject() Subject {
	return Subject{Type: "file", Namespace: "acme", ID: "report-2024.pdf"}
}

func TestBuildAndVerify(t *testing.T) {
	manager, ring := newTestSigner(t)
	builder := NewBuilder(manager)

	p, err := builder.Build(HashBytes([]byte("file content")), testSubject(), map[string]string{"size": "12"})
	if err != nil {
		t.Fatalf("failed to build proof: %v", err)
	}

	if p.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, p.SchemaVersion)
	}
	if p.HashAlgo != HashAlgoSHA256 {
		t.Errorf("expected hash algo %q, got %q", HashAlgoSHA256, p.HashAlgo)
	}
	if p.SignerFingerprint != manager.Fingerprint() {
		t.Error("proof records wrong signer fingerprint")
	}
	if _, err := time.Parse(time.RFC3339, p.SignedAt); err != nil {
		t.Errorf("signed_at is not RFC 3339: %v", err)
	}

	result := Verify(p, ring)
	if !result.Valid {
		t.Errorf("freshly built proof failed verification: %s", result.Reason)
	}
}

func TestVerify_MutationInvalidates(t *testing.T) {
	manager, ring := newTestSigner(t)
	builder := NewBuilder(manager)

	// Second key registered in the ring so redirecting the fingerprint
	// exercises the cryptographic mismatch path, not just key lookup.
	otherManager, _ := newTestSigner(t)
	if _, err := ring.Add(otherManager.PublicKey()); err != nil {
		t.Fatalf("failed to add second key: %v", err)
	}

	original, err := builder.Build(HashBytes([]byte("file content")), testSubject(), map[string]string{"size": "12"})
	if err != nil {
		t.Fatalf("failed to build proof: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *CanonicalProof)
	}{
		{"hash", func(p *CanonicalProof) { p.HashFull = HashBytes([]byte("other content")) }},
		{"timestamp", func(p *CanonicalProof) { p.SignedAt = "2020-01-01T00:00:00Z" }},
		{"fingerprint", func(p *CanonicalProof) { p.SignerFingerprint = otherManager.Fingerprint() }},
		{"subject type", func(p *CanonicalProof) { p.Subject.Type = "directory" }},
		{"subject namespace", func(p *CanonicalProof) { p.Subject.Namespace = "globex" }},
		{"subject id", func(p *CanonicalProof) { p.Subject.ID = "other.pdf" }},
		{"metadata value", func(p *CanonicalProof) { p.Metadata = map[string]string{"size": "13"} }},
		{"metadata extra key", func(p *CanonicalProof) { p.Metadata = map[string]string{"size": "12", "owner": "bob"} }},
		{"signature", func(p *CanonicalProof) { p.Signature = p.Signature[:len(p.Signature)-4] + "AAA=" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mutated := *original
			tc.mutate(&mutated)

			if result := Verify(&mutated, ring); result.Valid {
				t.Errorf("proof still valid after mutating %s", tc.name)
			}
		})
	}

	// Control: the original is untouched and still verifies.
	if result := Verify(original, ring); !result.Valid {
		t.Errorf("unmutated proof failed verification: %s", result.Reason)
	}
}

func TestSigningBytes_MetadataOrderIndependent(t *testing.T) {
	manager, _ := newTestSigner(t)

	builder := NewBuilder(manager)
	builder.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	first := map[string]string{}
	first["alpha"] = "1"
	first["beta"] = "2"
	first["gamma"] = "3"

	second := map[string]string{}
	second["gamma"] = "3"
	second["beta"] = "2"
	second["alpha"] = "1"

	hash := HashBytes([]byte("file content"))

	p1, err := builder.Build(hash, testSubject(), first)
	if err != nil {
		t.Fatalf("failed to build first proof: %v", err)
	}

	p2, err := builder.Build(hash, testSubject(), second)
	if err != nil {
		t.Fatalf("failed to build second proof: %v", err)
	}

	b1, err := p1.SigningBytes()
	if err != nil {
		t.Fatalf("failed to serialize first proof: %v", err)
	}

	b2, err := p2.SigningBytes()
	if err != nil {
		t.Fatalf("failed to serialize second proof: %v", err)
	}

	if !bytes.Equal(b1, b2) {
		t.Errorf("signing input differs by metadata insertion order:\n%s\n%s", b1, b2)
	}

	if p1.Signature != p2.Signature {
		t.Error("signatures differ for logically identical proofs")
	}
}

func TestBuild_RejectsBadInput(t *testing.T) {
	manager, _ := newTestSigner(t)
	builder := NewBuilder(manager)

	validHash := HashBytes([]byte("x"))

	tests := []struct {
		name    string
		hash    string
		subject Subject
	}{
		{"short hash", "abc123", testSubject()},
		{"uppercase hash", strings.ToUpper(validHash), testSubject()},
		{"non-hex hash", strings.Repeat("zz", 32), testSubject()},
		{"empty subject type", validHash, Subject{Namespace: "acme", ID: "f"}},
		{"empty subject namespace", validHash, Subject{Type: "file", ID: "f"}},
		{"empty subject id", validHash, Subject{Type: "file", Namespace: "acme"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builder.Build(tc.hash, tc.subject, nil)
			if err == nil {
				t.Fatal("expected build to fail")
			}
			if !fault.Is(err, fault.Validation) {
				t.Errorf("expected validation fault, got %v", fault.KindOf(err))
			}
		})
	}
}

func TestVerify_UnknownFingerprint(t *testing.T) {
	manager, _ := newTestSigner(t)
	builder := NewBuilder(manager)

	p, err := builder.Build(HashBytes([]byte("file content")), testSubject(), nil)
	if err != nil {
		t.Fatalf("failed to build proof: %v", err)
	}

	// Empty ring: the signer's key was never retained.
	result := Verify(p, keys.NewRing())
	if result.Valid {
		t.Fatal("proof verified without a known key")
	}
	if result.Reason != "unknown signer fingerprint" {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestVerify_MalformedSignatureEncoding(t *testing.T) {
	manager, ring := newTestSigner(t)
	builder := NewBuilder(manager)

	p, err := builder.Build(HashBytes([]byte("file content")), testSubject(), nil)
	if err != nil {
		t.Fatalf("failed to build proof: %v", err)
	}

	p.Signature = "not base64 !!!"

	result := Verify(p, ring)
	if result.Valid {
		t.Fatal("proof with unparseable signature verified")
	}
	if result.Reason != "malformed signature encoding" {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestBuild_EmptyMetadataOmitted(t *testing.T) {
	manager, _ := newTestSigner(t)
	builder := NewBuilder(manager)

	p, err := builder.Build(HashBytes([]byte("file content")), testSubject(), map[string]string{})
	if err != nil {
		t.Fatalf("failed to build proof: %v", err)
	}

	data, err := p.SigningBytes()
	if err != nil {
		t.Fatalf("failed to serialize proof: %v", err)
	}

	if bytes.Contains(data, []byte(`"metadata"`)) {
		t.Errorf("empty metadata should be omitted from canonical form: %s", data)
	}
}

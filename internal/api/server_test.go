package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"Veristamp/internal/keys"
	"Veristamp/internal/ledger"
	"Veristamp/internal/objstore"
	"Veristamp/internal/proof"
	"Veristamp/internal/registry"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

func newTestServer(t *testing.T) (*Server, *registry.Registry, func()) {
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

	dir, err := os.MkdirTemp("", "api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	st, err := store.Open(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to open store: %v", err)
	}

	objects, err := objstore.NewLocal(filepath.Join(dir, "objects"))
	if err != nil {
		st.Close()
		os.RemoveAll(dir)
		t.Fatalf("failed to open object store: %v", err)
	}

	reg, err := registry.New(manager, ring, st, objects, ledger.NewMemory(), registry.Config{
		App:      "veristamp-test",
		Prefix:   "test",
		Compress: true,
	})
	if err != nil {
		objects.Close()
		st.Close()
		os.RemoveAll(dir)
		t.Fatalf("failed to create registry: %v", err)
	}

	server := New(":0", reg)

	cleanup := func() {
		objects.Close()
		st.Close()
		os.RemoveAll(dir)
	}

	return server, reg, cleanup
}

// do routes a request through the real mux so path values resolve.
func do(server *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.routes().ServeHTTP(w, req)

	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	return resp
}

func issueOne(t *testing.T, server *Server, content string) (uint64, string) {
	t.Helper()

	hash := proof.HashBytes([]byte(content))
	body, _ := json.Marshal(issueRequest{
		HashFull: hash,
		Subject:  proof.Subject{Type: "file", Namespace: "acme", ID: content},
	})

	w := do(server, "POST", "/proofs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	seq, ok := resp["seq"].(float64)
	if !ok {
		t.Fatalf("response has no sequence number: %s", w.Body.String())
	}

	return uint64(seq), hash
}

func TestHealthEndpoint(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	w := do(server, "GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, reg, cleanup := newTestServer(t)
	defer cleanup()

	w := do(server, "GET", "/status", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	resp := decodeBody(t, w)
	if resp["fingerprint"] != reg.Fingerprint() {
		t.Errorf("fingerprint = %v, want %s", resp["fingerprint"], reg.Fingerprint())
	}
	if resp["proofs"] != float64(0) {
		t.Errorf("proofs = %v, want 0", resp["proofs"])
	}
}

func TestIssueProof(t *testing.T) {
	server, reg, cleanup := newTestServer(t)
	defer cleanup()

	seq, _ := issueOne(t, server, "report.pdf")
	if seq != 1 {
		t.Errorf("first proof got sequence %d", seq)
	}

	if reg.Count() != 1 {
		t.Errorf("registry count = %d, want 1", reg.Count())
	}
}

func TestIssueProof_EmptyBody(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	w := do(server, "POST", "/proofs", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestIssueProof_MalformedHash(t *testing.T) {
	server, reg, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(issueRequest{
		HashFull: "not-a-digest",
		Subject:  proof.Subject{Type: "file", Namespace: "acme", ID: "x"},
	})

	w := do(server, "POST", "/proofs", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
	if reg.Count() != 0 {
		t.Error("rejected proof was persisted")
	}
}

func TestGetProof(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	seq, hash := issueOne(t, server, "report.pdf")

	w := do(server, "GET", fmt.Sprintf("/proofs/%d", seq), nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var p proof.CanonicalProof
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to parse proof: %v", err)
	}
	if p.HashFull != hash {
		t.Errorf("proof hash = %s, want %s", p.HashFull, hash)
	}
	if p.Signature == "" {
		t.Error("stored proof has no signature")
	}
}

func TestGetProof_NotFound(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	w := do(server, "GET", "/proofs/42", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestGetProof_InvalidSeq(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	for _, path := range []string{"/proofs/0", "/proofs/abc"} {
		w := do(server, "GET", path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", path, w.Code)
		}
	}
}

func TestVerifyProof(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	seq, _ := issueOne(t, server, "report.pdf")

	w := do(server, "GET", fmt.Sprintf("/proofs/%d", seq), nil)
	proofBody := w.Body.Bytes()

	w = do(server, "POST", "/proofs/verify", proofBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["valid"] != true {
		t.Errorf("issued proof reported invalid: %v", resp["reason"])
	}

	// Tamper with the hash and verify again.
	var p proof.CanonicalProof
	if err := json.Unmarshal(proofBody, &p); err != nil {
		t.Fatalf("failed to parse proof: %v", err)
	}
	p.HashFull = proof.HashBytes([]byte("something else"))
	tampered, _ := json.Marshal(&p)

	w = do(server, "POST", "/proofs/verify", tampered)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["valid"] != false {
		t.Error("tampered proof reported valid")
	}
}

func TestVerifyContent(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	content := []byte("the quick brown fox")
	hash := proof.HashBytes(content)

	w := do(server, "POST", "/content/verify?hash="+hash, content)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["valid"] != true {
		t.Error("matching content reported invalid")
	}

	w = do(server, "POST", "/content/verify?hash="+hash, []byte("tampered content"))
	if resp := decodeBody(t, w); resp["valid"] != false {
		t.Error("mismatched content reported valid")
	}

	w = do(server, "POST", "/content/verify?hash=zzz", content)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad hash param, got %d", w.Code)
	}
}

func TestBuildSnapshot_IncompleteBatch(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	issueOne(t, server, "only-one")

	w := do(server, "POST", "/batches/1/snapshot", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBatchParamValidation(t *testing.T) {
	server, _, cleanup := newTestServer(t)
	defer cleanup()

	for _, path := range []string{"/batches/0", "/batches/xyz"} {
		w := do(server, "GET", path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", path, w.Code)
		}
	}
}

func TestBatchLifecycleEndpoints(t *testing.T) {
	server, reg, cleanup := newTestServer(t)
	defer cleanup()

	for i := 0; i < snapshot.BatchSize; i++ {
		subject := proof.Subject{Type: "file", Namespace: "acme", ID: fmt.Sprintf("doc-%d", i+1)}
		if _, _, err := reg.BuildAndSignProof(proof.HashBytes([]byte(fmt.Sprintf("content-%d", i+1))), subject, nil); err != nil {
			t.Fatalf("failed to issue proof %d: %v", i+1, err)
		}
	}

	w := do(server, "POST", "/batches/1/snapshot", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot build: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var m snapshot.Manifest
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if m.Count != snapshot.BatchSize {
		t.Errorf("manifest count = %d, want %d", m.Count, snapshot.BatchSize)
	}

	w = do(server, "POST", "/batches/1/publish", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("publish: expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	manifestTx, _ := resp["manifest_tx"].(string)
	blobTx, _ := resp["blob_tx"].(string)
	if manifestTx == "" || blobTx == "" {
		t.Error("publish outcome is missing transaction ids")
	}

	w = do(server, "GET", "/batches/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("batch read: expected status 200, got %d", w.Code)
	}
	resp = decodeBody(t, w)
	if resp["state"] != string(store.StateAnchored) {
		t.Errorf("batch state = %v, want %s", resp["state"], store.StateAnchored)
	}
	if resp["manifest"] == nil || resp["anchor"] == nil {
		t.Error("batch read is missing manifest or anchor")
	}

	w = do(server, "GET", "/batches/1/verify", nil)
	if w.Code != http.StatusOK {
		t.Errorf("batch verify: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(server, "GET", "/audit", nil)
	if w.Code != http.StatusOK {
		t.Errorf("audit: expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = decodeBody(t, w)
	if resp["healthy"] != true {
		t.Errorf("audit unhealthy after clean lifecycle: %v", resp["issues"])
	}

	body, _ := json.Marshal(pruneRequest{UpTo: snapshot.BatchSize})
	w = do(server, "POST", "/prune", body)
	if w.Code != http.StatusOK {
		t.Fatalf("prune: expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody(t, w); resp["pruned"] != float64(snapshot.BatchSize) {
		t.Errorf("pruned = %v, want %d", resp["pruned"], snapshot.BatchSize)
	}
}

func TestAuditEndpoint_Unhealthy(t *testing.T) {
	server, reg, cleanup := newTestServer(t)
	defer cleanup()

	// A complete batch with no snapshot row is an audit failure.
	for i := 0; i < snapshot.BatchSize; i++ {
		subject := proof.Subject{Type: "file", Namespace: "acme", ID: fmt.Sprintf("doc-%d", i+1)}
		if _, _, err := reg.BuildAndSignProof(proof.HashBytes([]byte(fmt.Sprintf("content-%d", i+1))), subject, nil); err != nil {
			t.Fatalf("failed to issue proof %d: %v", i+1, err)
		}
	}

	w := do(server, "GET", "/audit", nil)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["healthy"] != false {
		t.Error("expected unhealthy report")
	}
}

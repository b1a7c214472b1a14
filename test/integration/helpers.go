// Package integration exercises the full registry stack: HTTP client
// against a live API server backed by real storage, an object store and a
// ledger, all in-process.
package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Veristamp/client"
	"Veristamp/internal/api"
	"Veristamp/internal/keys"
	"Veristamp/internal/ledger"
	"Veristamp/internal/objstore"
	"Veristamp/internal/proof"
	"Veristamp/internal/registry"
	"Veristamp/internal/store"
)

// Env is a complete in-process registry deployment.
type Env struct {
	Client   *client.Client
	Registry *registry.Registry
	Store    *store.Store
	Objects  *objstore.Local
	Ledger   *ledger.Memory
	Manager  *keys.Manager
	Ring     *keys.Ring
	Prefix   string

	dir    string
	server *httptest.Server
}

// NewEnv boots a registry with a fresh key, local object store and
// in-process ledger, serves its API over a test listener, and connects a
// client to it.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	dir, err := os.MkdirTemp("", "veristamp-integration-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	env := &Env{
		Ledger: ledger.NewMemory(),
		Ring:   keys.NewRing(),
		Prefix: "integration",
		dir:    dir,
	}
	t.Cleanup(env.Close)

	env.Manager, err = keys.NewManager(priv)
	if err != nil {
		t.Fatalf("failed to create key manager: %v", err)
	}
	if _, err := env.Ring.Add(env.Manager.PublicKey()); err != nil {
		t.Fatalf("failed to add key to ring: %v", err)
	}

	env.Store, err = store.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	env.Objects, err = objstore.NewLocal(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("failed to open object store: %v", err)
	}

	env.start(t)

	return env
}

// start assembles the registry around the current key manager and serves
// it. Splitting this from NewEnv lets rotation tests rebuild the stack on
// the same stores.
func (env *Env) start(t *testing.T) {
	t.Helper()

	reg, err := registry.New(env.Manager, env.Ring, env.Store, env.Objects, env.Ledger, registry.Config{
		App:      "veristamp-integration",
		Prefix:   env.Prefix,
		Compress: true,
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	env.Registry = reg
	env.server = httptest.NewServer(api.New(":0", reg).Handler())

	env.Client, err = client.NewClient(strings.TrimPrefix(env.server.URL, "http://"))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
}

// RotateKey swaps in a fresh signing key, retaining the old public key in
// the ring, and restarts the registry stack on the same stores.
func (env *Env) RotateKey(t *testing.T) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate rotation key: %v", err)
	}

	manager, err := keys.NewManager(priv)
	if err != nil {
		t.Fatalf("failed to create rotated key manager: %v", err)
	}
	if _, err := env.Ring.Add(manager.PublicKey()); err != nil {
		t.Fatalf("failed to add rotated key to ring: %v", err)
	}

	env.server.Close()
	env.Manager = manager
	env.start(t)
}

// Close tears the environment down. Safe to call on a partially built Env.
func (env *Env) Close() {
	if env.server != nil {
		env.server.Close()
		env.server = nil
	}
	if env.Objects != nil {
		env.Objects.Close()
		env.Objects = nil
	}
	if env.Store != nil {
		env.Store.Close()
		env.Store = nil
	}
	if env.dir != "" {
		os.RemoveAll(env.dir)
		env.dir = ""
	}
}

// IssueProofs registers n sequential content hashes through the HTTP
// client and returns them in issuance order.
func (env *Env) IssueProofs(t *testing.T, n int) []string {
	t.Helper()

	hashes := make([]string, n)
	for i := 0; i < n; i++ {
		content := []byte(fmt.Sprintf("document body %d", i+1))
		subject := proof.Subject{Type: "file", Namespace: "acme", ID: fmt.Sprintf("doc-%d.pdf", i+1)}

		p, seq, err := env.Client.IssueFor(content, subject, map[string]string{"origin": "integration"})
		if err != nil {
			t.Fatalf("failed to issue proof %d: %v", i+1, err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("proof %d got sequence %d", i+1, seq)
		}

		hashes[i] = p.HashFull
	}

	return hashes
}

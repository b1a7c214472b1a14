// Package registry wires the proof, snapshot, publishing and audit cores
// together behind the operations collaborators call: issue, verify,
// snapshot, publish, audit. It owns no policy beyond sequencing; each
// operation delegates to the component that implements it.
package registry

import (
	"context"
	"time"

	"Veristamp/internal/audit"
	"Veristamp/internal/fault"
	"Veristamp/internal/keys"
	"Veristamp/internal/ledger"
	"Veristamp/internal/logger"
	"Veristamp/internal/objstore"
	"Veristamp/internal/proof"
	"Veristamp/internal/publish"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

// Config carries the registry-wide settings shared by the publisher and
// auditor.
type Config struct {
	App         string        // App is the ledger App tag value
	Prefix      string        // Prefix is the object store key prefix
	Compress    bool          // Compress stores blobs as .jsonl.gz
	AuditMaxAge time.Duration // AuditMaxAge bounds manifest staleness
	NTPServer   string        // NTPServer enables the audit clock check
	MaxDrift    time.Duration // MaxDrift bounds tolerated clock offset
}

// Registry is the assembled proof registry.
type Registry struct {
	manager   *keys.Manager
	ring      *keys.Ring
	builder   *proof.Builder
	batcher   *snapshot.Builder
	store     *store.Store
	publisher *publish.Publisher
	auditor   *audit.Auditor
}

// New assembles a registry from its collaborators.
func New(manager *keys.Manager, ring *keys.Ring, st *store.Store, objects objstore.Client, lc ledger.Client, cfg Config) (*Registry, error) {
	if manager == nil {
		return nil, fault.New(fault.Configuration, "no signing key configured")
	}

	publisher, err := publish.New(st, objects, lc, ring, publish.Config{
		App:      cfg.App,
		Prefix:   cfg.Prefix,
		Compress: cfg.Compress,
	})
	if err != nil {
		return nil, err
	}

	auditor := audit.New(st, objects, lc, manager, ring, audit.Config{
		App:       cfg.App,
		Prefix:    cfg.Prefix,
		Compress:  cfg.Compress,
		MaxAge:    cfg.AuditMaxAge,
		NTPServer: cfg.NTPServer,
		MaxDrift:  cfg.MaxDrift,
	})

	return &Registry{
		manager:   manager,
		ring:      ring,
		builder:   proof.NewBuilder(manager),
		batcher:   snapshot.NewBuilder(manager),
		store:     st,
		publisher: publisher,
		auditor:   auditor,
	}, nil
}

// Fingerprint returns the active signing key's fingerprint.
func (r *Registry) Fingerprint() string {
	return r.manager.Fingerprint()
}

// BuildAndSignProof issues a proof for an already-computed content hash and
// appends it to the store, returning the proof and its sequence number.
func (r *Registry) BuildAndSignProof(hashFull string, subject proof.Subject, metadata map[string]string) (*proof.CanonicalProof, uint64, error) {
	p, err := r.builder.Build(hashFull, subject, metadata)
	if err != nil {
		return nil, 0, err
	}

	seq, err := r.store.Append(p)
	if err != nil {
		return nil, 0, err
	}

	logger.Debug("proof issued", "seq", seq, "subject", subject.ID, "hash", p.HashFull)

	return p, seq, nil
}

// VerifyProof checks a proof against the retained keys.
func (r *Registry) VerifyProof(p *proof.CanonicalProof) proof.Result {
	return proof.Verify(p, r.ring)
}

// VerifyContentHash recomputes the hash of raw bytes against a claimed
// digest.
func (r *Registry) VerifyContentHash(data []byte, claimed string) bool {
	return proof.VerifyContentHash(data, claimed)
}

// BuildSnapshotForBatch builds and persists the manifest for one complete
// batch. If another attempt already persisted a manifest for the batch, the
// existing one wins and is returned unchanged.
func (r *Registry) BuildSnapshotForBatch(batch uint64) (*snapshot.Manifest, error) {
	window, err := r.store.Window(batch)
	if err != nil {
		return nil, err
	}

	m, _, err := r.batcher.Build(batch, window)
	if err != nil {
		return nil, err
	}

	if err := r.store.PutManifestIfAbsent(m); err != nil {
		if fault.Is(err, fault.Duplicate) {
			existing, lerr := r.store.Manifest(batch)
			if lerr != nil {
				return nil, lerr
			}

			logger.Info("manifest already exists, keeping it", "batch", batch)
			return existing, nil
		}
		return nil, err
	}

	logger.Info("snapshot built", "batch", batch, "merkle_root", m.MerkleRoot)

	return m, nil
}

// PublishSnapshot uploads and anchors one built batch.
func (r *Registry) PublishSnapshot(ctx context.Context, batch uint64) (*publish.Outcome, error) {
	return r.publisher.Publish(ctx, batch)
}

// AuditIntegrity runs the health sweep.
func (r *Registry) AuditIntegrity(ctx context.Context) *audit.Report {
	return r.auditor.Audit(ctx)
}

// VerifyBatch deeply reconciles one published batch across stores.
func (r *Registry) VerifyBatch(ctx context.Context, batch uint64) error {
	return r.auditor.VerifyBatch(ctx, batch)
}

// BatchState reports a batch's lifecycle state.
func (r *Registry) BatchState(batch uint64) (store.State, error) {
	return r.store.BatchState(batch)
}

// Count returns the total number of issued proofs.
func (r *Registry) Count() uint64 {
	return r.store.Count()
}

// Watermark returns the highest anchored sequence.
func (r *Registry) Watermark() (uint64, error) {
	return r.store.Watermark()
}

// Proof returns the stored proof at a sequence number, or nil.
func (r *Registry) Proof(seq uint64) (*proof.CanonicalProof, error) {
	return r.store.Proof(seq)
}

// Manifest returns the stored manifest for a batch, or nil.
func (r *Registry) Manifest(batch uint64) (*snapshot.Manifest, error) {
	return r.store.Manifest(batch)
}

// Anchor returns the anchor record for a batch, or nil.
func (r *Registry) Anchor(batch uint64) (*snapshot.AnchorRecord, error) {
	return r.store.Anchor(batch)
}

// Prune removes proof rows at or below the given sequence, clamped to the
// anchored watermark.
func (r *Registry) Prune(upTo uint64) (uint64, error) {
	pruned, err := r.store.Prune(upTo)
	if err != nil {
		return 0, err
	}

	if pruned > 0 {
		logger.Info("proof rows pruned", "rows", pruned, "through", upTo)
	}

	return pruned, nil
}

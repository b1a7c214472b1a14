// Package publish pushes built snapshots to the primary object store and
// anchors them to the immutable ledger. Publication is gated on local
// integrity verification: nothing corrupt or forged may reach a store where
// mistakes cannot be retracted.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Veristamp/internal/fault"
	"Veristamp/internal/ledger"
	"Veristamp/internal/logger"
	"Veristamp/internal/objstore"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

// Config carries the publication targets. All fields are required.
type Config struct {
	App      string // App is the ledger App tag value identifying this registry
	Prefix   string // Prefix is the object store key prefix
	Compress bool   // Compress stores the blob as .jsonl.gz instead of .jsonl
}

// Outcome reports where one batch's artifacts ended up.
type Outcome struct {
	Batch            uint64 `json:"batch"`
	AlreadyPublished bool   `json:"already_published,omitempty"`
	ManifestLocation string `json:"manifest_location,omitempty"`
	BlobLocation     string `json:"blob_location,omitempty"`
	ManifestTx       string `json:"manifest_tx,omitempty"`
	BlobTx           string `json:"blob_tx,omitempty"`
}

// Publisher publishes and anchors batches. It performs no retries of its
// own; a failed publication leaves the batch in the batched state and the
// next invocation picks it up again.
type Publisher struct {
	store   *store.Store
	objects objstore.Client
	ledger  ledger.Client
	ring    snapshot.KeyRing
	cfg     Config
	now     func() time.Time
}

// New creates a publisher. The configuration must name the ledger app tag
// and the object store prefix; publishing with either missing would scatter
// artifacts under unfindable keys.
func New(st *store.Store, objects objstore.Client, lc ledger.Client, ring snapshot.KeyRing, cfg Config) (*Publisher, error) {
	if cfg.App == "" {
		return nil, fault.New(fault.Configuration, "ledger app tag is not configured")
	}
	if cfg.Prefix == "" {
		return nil, fault.New(fault.Configuration, "object store prefix is not configured")
	}

	return &Publisher{
		store:   st,
		objects: objects,
		ledger:  lc,
		ring:    ring,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Publish uploads a batch's manifest and blob to the primary store and
// anchors both to the ledger. The sequence is: duplicate check, integrity
// gate, primary upload, ledger anchoring, anchor record. A batch that is
// already anchored returns an already-published outcome and posts nothing.
func (p *Publisher) Publish(ctx context.Context, batch uint64) (*Outcome, error) {
	if batch < 1 {
		return nil, fault.New(fault.Validation, "invalid batch number %d", batch)
	}

	tags := ledger.SnapshotTags(p.cfg.App, batch)

	// Existence check is optimistic: a failed query must not block a
	// legitimate first publication. A duplicate anchor is additive and
	// harmless; a missed one is not.
	ids, err := p.ledger.Query(ctx, tags)
	if err != nil {
		logger.Warn("ledger existence check failed, assuming not anchored", "batch", batch, "error", err)
	} else if len(ids) > 0 {
		logger.Info("batch already anchored, skipping publication", "batch", batch, "transactions", len(ids))
		return p.alreadyPublished(batch, ids)
	}

	m, err := p.store.Manifest(batch)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fault.New(fault.Validation, "no manifest for batch %d: build the snapshot first", batch)
	}

	blob, err := p.loadBlob(ctx, batch)
	if err != nil {
		return nil, err
	}

	// Integrity gate. Fails before anything is uploaded or anchored.
	if result := snapshot.Verify(m, p.ring); !result.Valid {
		return nil, fault.New(fault.Integrity, "manifest integrity verification failed: %s", result.Reason)
	}
	if !snapshot.BlobMatches(m, blob) {
		return nil, fault.New(fault.Integrity, "hash mismatch: blob does not match sha256_jsonl of batch %d", batch)
	}

	manifestBytes, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serialize manifest for batch %d: %w", batch, err)
	}

	manifestLoc, err := p.objects.Put(ctx, objstore.ManifestKey(p.cfg.Prefix, batch), manifestBytes)
	if err != nil {
		return nil, fmt.Errorf("upload manifest for batch %d: %w", batch, err)
	}

	storedBlob := blob
	if p.cfg.Compress {
		storedBlob, err = snapshot.Compress(blob)
		if err != nil {
			return nil, fmt.Errorf("compress blob for batch %d: %w", batch, err)
		}
	}

	blobLoc, err := p.objects.Put(ctx, objstore.BlobKey(p.cfg.Prefix, batch, p.cfg.Compress), storedBlob)
	if err != nil {
		return nil, fmt.Errorf("upload blob for batch %d: %w", batch, err)
	}

	// Anchor the manifest and the uncompressed blob. Anchoring the raw
	// JSONL keeps the transaction id a function of the proof bytes alone,
	// independent of the compression encoder.
	manifestTx, err := p.ledger.Publish(ctx, manifestBytes, tags)
	if err != nil {
		return nil, fmt.Errorf("anchor manifest for batch %d: %w", batch, err)
	}

	blobTx, err := p.ledger.Publish(ctx, blob, tags)
	if err != nil {
		return nil, fmt.Errorf("anchor blob for batch %d: %w", batch, err)
	}

	rec := &snapshot.AnchorRecord{
		Batch:            batch,
		ManifestLocation: manifestLoc,
		BlobLocation:     blobLoc,
		ManifestTx:       manifestTx,
		BlobTx:           blobTx,
		PublishedAt:      p.now().UTC().Format(time.RFC3339),
	}
	if err := p.store.PutAnchor(rec); err != nil {
		return nil, err
	}

	logger.Info("snapshot published",
		"batch", batch,
		"manifest_tx", manifestTx,
		"blob_tx", blobTx,
		"blob_location", blobLoc)

	return &Outcome{
		Batch:            batch,
		ManifestLocation: manifestLoc,
		BlobLocation:     blobLoc,
		ManifestTx:       manifestTx,
		BlobTx:           blobTx,
	}, nil
}

// loadBlob fetches the batch blob from the primary store, falling back to a
// deterministic rebuild from the local window for first-time publication.
func (p *Publisher) loadBlob(ctx context.Context, batch uint64) ([]byte, error) {
	key := objstore.BlobKey(p.cfg.Prefix, batch, p.cfg.Compress)

	stored, err := p.objects.Get(ctx, key)
	if err != nil {
		logger.Warn("blob fetch from primary store failed, rebuilding locally", "batch", batch, "error", err)
	}
	if stored != nil {
		if !p.cfg.Compress {
			return stored, nil
		}

		blob, err := snapshot.Decompress(stored)
		if err != nil {
			return nil, fault.Wrap(fault.Integrity, err, "stored blob for batch %d is corrupt", batch)
		}
		return blob, nil
	}

	window, err := p.store.Window(batch)
	if err != nil {
		return nil, err
	}

	return snapshot.EncodeJSONL(window)
}

// alreadyPublished builds the duplicate outcome and, if a crash lost the
// local anchor row after a successful anchoring, heals it so the batch
// reaches its terminal state locally too.
func (p *Publisher) alreadyPublished(batch uint64, ids []string) (*Outcome, error) {
	outcome := &Outcome{Batch: batch, AlreadyPublished: true}

	rec, err := p.store.Anchor(batch)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		// Locations are unknowable from the ledger alone; the record still
		// moves the batch to its terminal state and fences pruning.
		rec = &snapshot.AnchorRecord{
			Batch:       batch,
			ManifestTx:  ids[0],
			PublishedAt: p.now().UTC().Format(time.RFC3339),
		}
		if len(ids) > 1 {
			rec.BlobTx = ids[1]
		}

		if err := p.store.PutAnchor(rec); err != nil {
			return nil, err
		}

		logger.Info("restored anchor record from ledger", "batch", batch)
	}

	outcome.ManifestLocation = rec.ManifestLocation
	outcome.BlobLocation = rec.BlobLocation
	outcome.ManifestTx = rec.ManifestTx
	outcome.BlobTx = rec.BlobTx

	return outcome, nil
}

// Package audit reconciles the registry's three vantage points: the local
// store, the primary object store and the immutable ledger. It is strictly
// read-only; a failed check is reported, never repaired, because silently
// republishing over a divergence would destroy the evidence.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"Veristamp/internal/fault"
	"Veristamp/internal/ledger"
	"Veristamp/internal/logger"
	"Veristamp/internal/objstore"
	"Veristamp/internal/proof"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

const (
	// DefaultMaxAge is how old the latest batch's manifest may be before
	// the pipeline is considered stalled.
	DefaultMaxAge = 24 * time.Hour

	// DefaultMaxDrift is the tolerated system clock offset. Proof
	// timestamps are attestations; a drifting clock quietly poisons them.
	DefaultMaxDrift = 2 * time.Second
)

// Config controls the audit thresholds.
type Config struct {
	App       string        // App is the ledger App tag value
	Prefix    string        // Prefix is the object store key prefix
	Compress  bool          // Compress matches the publisher's blob format
	MaxAge    time.Duration // MaxAge bounds manifest staleness, default DefaultMaxAge
	NTPServer string        // NTPServer enables the clock drift check when set
	MaxDrift  time.Duration // MaxDrift bounds clock offset, default DefaultMaxDrift
}

// Report is the outcome of one audit sweep. Overall health is the AND of
// every named check; each failure appends a human-readable issue.
type Report struct {
	Healthy                bool     `json:"healthy"`
	SignerConfigured       bool     `json:"signer_configured"`
	PrimaryStoreReachable  bool     `json:"primary_store_reachable"`
	LatestBatchSnapshotted bool     `json:"latest_batch_snapshotted"`
	SnapshotCountCorrect   bool     `json:"snapshot_count_correct"`
	ClockInSync            bool     `json:"clock_in_sync"`
	Issues                 []string `json:"issues,omitempty"`
}

// Auditor runs the checks.
type Auditor struct {
	store   *store.Store
	objects objstore.Client
	ledger  ledger.Client
	signer  proof.Signer
	ring    snapshot.KeyRing
	cfg     Config

	now      func() time.Time
	ntpQuery func(server string) (time.Duration, error)
}

// New creates an auditor with defaulted thresholds.
func New(st *store.Store, objects objstore.Client, lc ledger.Client, signer proof.Signer, ring snapshot.KeyRing, cfg Config) *Auditor {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxDrift <= 0 {
		cfg.MaxDrift = DefaultMaxDrift
	}

	return &Auditor{
		store:   st,
		objects: objects,
		ledger:  lc,
		signer:  signer,
		ring:    ring,
		cfg:     cfg,
		now:     time.Now,
		ntpQuery: func(server string) (time.Duration, error) {
			resp, err := ntp.Query(server)
			if err != nil {
				return 0, err
			}
			return resp.ClockOffset, nil
		},
	}
}

// Audit runs the health sweep: signer configured, primary store reachable,
// latest full batch snapshotted and anchored, snapshot count matching the
// number of complete batches, and (if enabled) system clock in sync.
func (a *Auditor) Audit(ctx context.Context) *Report {
	report := &Report{
		SignerConfigured:       true,
		PrimaryStoreReachable:  true,
		LatestBatchSnapshotted: true,
		SnapshotCountCorrect:   true,
		ClockInSync:            true,
	}

	if a.signer == nil || a.signer.Fingerprint() == "" {
		report.SignerConfigured = false
		report.Issues = append(report.Issues, "no signing key configured")
	}

	if err := a.objects.Check(ctx); err != nil {
		report.PrimaryStoreReachable = false
		report.Issues = append(report.Issues, fmt.Sprintf("primary store unreachable: %v", err))
	}

	a.checkLatestBatch(report)
	a.checkSnapshotCount(report)
	a.checkClock(report)

	report.Healthy = report.SignerConfigured &&
		report.PrimaryStoreReachable &&
		report.LatestBatchSnapshotted &&
		report.SnapshotCountCorrect &&
		report.ClockInSync

	if !report.Healthy {
		logger.Warn("integrity audit found issues", "issues", len(report.Issues))
	}

	return report
}

// checkLatestBatch confirms the most recent complete batch has a manifest,
// that the manifest is not stale, and that the batch carries a ledger
// anchor. Vacuously true while no batch is complete.
func (a *Auditor) checkLatestBatch(report *Report) {
	latest := a.store.Count() / snapshot.BatchSize
	if latest == 0 {
		return
	}

	m, err := a.store.Manifest(latest)
	if err != nil {
		report.LatestBatchSnapshotted = false
		report.Issues = append(report.Issues, fmt.Sprintf("cannot load manifest for batch %d: %v", latest, err))
		return
	}
	if m == nil {
		report.LatestBatchSnapshotted = false
		report.Issues = append(report.Issues, fmt.Sprintf("no manifest for batch %d", latest))
		return
	}

	created, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		report.LatestBatchSnapshotted = false
		report.Issues = append(report.Issues, fmt.Sprintf("manifest for batch %d has malformed created_at", latest))
	} else if age := a.now().Sub(created); age > a.cfg.MaxAge {
		report.LatestBatchSnapshotted = false
		report.Issues = append(report.Issues, fmt.Sprintf("manifest for batch %d is stale: created %s ago", latest, age.Round(time.Minute)))
	}

	rec, err := a.store.Anchor(latest)
	if err != nil {
		report.LatestBatchSnapshotted = false
		report.Issues = append(report.Issues, fmt.Sprintf("cannot load anchor for batch %d: %v", latest, err))
		return
	}
	if rec == nil {
		report.LatestBatchSnapshotted = false
		report.Issues = append(report.Issues, fmt.Sprintf("batch %d has no ledger anchor", latest))
	}
}

// checkSnapshotCount catches silently skipped batches: every complete batch
// must have left a manifest behind.
func (a *Auditor) checkSnapshotCount(report *Report) {
	expected := a.store.Count() / snapshot.BatchSize

	found, err := a.store.ManifestCount()
	if err != nil {
		report.SnapshotCountCorrect = false
		report.Issues = append(report.Issues, fmt.Sprintf("cannot count manifests: %v", err))
		return
	}

	if found != expected {
		noun := "snapshots"
		if expected == 1 {
			noun = "snapshot"
		}

		report.SnapshotCountCorrect = false
		report.Issues = append(report.Issues, fmt.Sprintf("expected %d %s, found %d", expected, noun, found))
	}
}

// checkClock compares the system clock against NTP when a server is
// configured. An unanswerable probe is an issue: the whole point is knowing
// the clock is right, not hoping it is.
func (a *Auditor) checkClock(report *Report) {
	if a.cfg.NTPServer == "" {
		return
	}

	offset, err := a.ntpQuery(a.cfg.NTPServer)
	if err != nil {
		report.ClockInSync = false
		report.Issues = append(report.Issues, fmt.Sprintf("clock check against %s failed: %v", a.cfg.NTPServer, err))
		return
	}

	if offset < 0 {
		offset = -offset
	}
	if offset > a.cfg.MaxDrift {
		report.ClockInSync = false
		report.Issues = append(report.Issues, fmt.Sprintf("system clock drifts %s from %s", offset.Round(time.Millisecond), a.cfg.NTPServer))
	}
}

// VerifyBatch deeply reconciles one published batch across stores: the
// primary manifest re-downloads and re-verifies, matches the local row, the
// blob hashes to sha256_jsonl, and the ledger still answers for the batch.
// Any divergence is an integrity fault; this is the fatal anchoring fault
// path, deliberately not a republish.
func (a *Auditor) VerifyBatch(ctx context.Context, batch uint64) error {
	local, err := a.store.Manifest(batch)
	if err != nil {
		return err
	}
	if local == nil {
		return fault.New(fault.Validation, "no manifest for batch %d", batch)
	}

	remoteBytes, err := a.objects.Get(ctx, objstore.ManifestKey(a.cfg.Prefix, batch))
	if err != nil {
		return fmt.Errorf("fetch manifest for batch %d: %w", batch, err)
	}
	if remoteBytes == nil {
		return fault.New(fault.Integrity, "manifest for batch %d missing from primary store", batch)
	}

	remote := new(snapshot.Manifest)
	if err := json.Unmarshal(remoteBytes, remote); err != nil {
		return fault.Wrap(fault.Integrity, err, "manifest for batch %d is unparseable", batch)
	}

	if result := snapshot.Verify(remote, a.ring); !result.Valid {
		return fault.New(fault.Integrity, "manifest integrity verification failed: %s", result.Reason)
	}

	if *remote != *local {
		return fault.New(fault.Integrity, "primary store manifest diverges from local manifest for batch %d", batch)
	}

	blob, err := a.objects.Get(ctx, objstore.BlobKey(a.cfg.Prefix, batch, a.cfg.Compress))
	if err != nil {
		return fmt.Errorf("fetch blob for batch %d: %w", batch, err)
	}
	if blob == nil {
		return fault.New(fault.Integrity, "blob for batch %d missing from primary store", batch)
	}

	if a.cfg.Compress {
		blob, err = snapshot.Decompress(blob)
		if err != nil {
			return fault.Wrap(fault.Integrity, err, "blob for batch %d is corrupt", batch)
		}
	}

	if !snapshot.BlobMatches(remote, blob) {
		return fault.New(fault.Integrity, "hash mismatch: blob does not match sha256_jsonl of batch %d", batch)
	}

	ids, err := a.ledger.Query(ctx, ledger.SnapshotTags(a.cfg.App, batch))
	if err != nil {
		return fault.Wrap(fault.Transient, err, "ledger query for batch %d", batch)
	}
	if len(ids) == 0 {
		return fault.New(fault.Integrity, "batch %d is not anchored on the ledger", batch)
	}

	return nil
}

// Package store persists issued proofs in stable issuance order, along with
// the snapshot manifests and anchor records derived from them. It is the
// single writer for batch bookkeeping: batch numbers are a pure function of
// the proof sequence, and manifest rows are insert-if-absent so two snapshot
// attempts for the same batch can never both succeed.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"Veristamp/internal/fault"
	"Veristamp/internal/proof"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/storage"
)

const (
	proofPrefix    = "p:" // proofPrefix + big-endian sequence -> canonical proof JSON
	manifestPrefix = "s:" // manifestPrefix + big-endian batch -> manifest JSON
	anchorPrefix   = "a:" // anchorPrefix + big-endian batch -> anchor record JSON

	countKey     = "m:count"     // countKey -> total issued proofs, big-endian
	watermarkKey = "m:watermark" // watermarkKey -> last anchored sequence, big-endian
)

// State is a batch's position in its lifecycle. Anchored is terminal;
// batches never move backwards.
type State string

const (
	StateNotYetDue State = "not-yet-due"
	StateDue       State = "due"
	StateBatched   State = "batched"
	StateAnchored  State = "anchored"
)

// Store is the ordered proof store.
type Store struct {
	storage *storage.Storage

	mu    sync.Mutex
	count uint64 // count mirrors countKey; total proofs ever issued, never decremented
}

// Open opens (or creates) a store at the given path.
func Open(path string) (*Store, error) {
	s, err := storage.New(path)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	st := &Store{storage: s}

	count, err := st.readCounter(countKey)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load proof count: %w", err)
	}
	st.count = count

	return st, nil
}

// Close closes the underlying database.
func (st *Store) Close() error {
	return st.storage.Close()
}

// Append durably stores a proof under the next 1-based sequence number and
// returns that sequence. The record and the counter move in one atomic
// batch, so a crash cannot leave them disagreeing.
func (st *Store) Append(p *proof.CanonicalProof) (uint64, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("serialize proof: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	seq := st.count + 1

	pairs := []storage.KeyValue{
		{Key: makeProofKey(seq), Value: data},
		{Key: []byte(countKey), Value: encodeSeq(seq)},
	}
	if err := st.storage.SetBatch(pairs); err != nil {
		return 0, fmt.Errorf("store proof %d: %w", seq, err)
	}

	st.count = seq

	return seq, nil
}

// Proof returns the proof at a sequence number, or nil if it does not exist
// (never issued, or pruned after anchoring).
func (st *Store) Proof(seq uint64) (*proof.CanonicalProof, error) {
	data, err := st.storage.Get(makeProofKey(seq))
	if err != nil {
		return nil, fmt.Errorf("load proof %d: %w", seq, err)
	}
	if data == nil {
		return nil, nil
	}

	p := new(proof.CanonicalProof)
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse proof %d: %w", seq, err)
	}

	return p, nil
}

// Count returns the total number of proofs ever issued. Pruning does not
// reduce it; batch numbering depends on it being monotonic.
func (st *Store) Count() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count
}

// Window returns the proofs of one batch in issuance order. The batch must
// be complete; a window that should be full but has missing rows is an
// integrity failure, not a retry case.
func (st *Store) Window(batch uint64) ([]*proof.CanonicalProof, error) {
	if batch < 1 {
		return nil, fault.New(fault.Validation, "invalid batch number %d", batch)
	}

	start, end := snapshot.WindowStart(batch), snapshot.WindowEnd(batch)
	if end > st.Count() {
		return nil, fault.New(fault.Validation, "batch %d is not complete: needs proofs through %d, have %d", batch, end, st.Count())
	}

	proofs := make([]*proof.CanonicalProof, 0, snapshot.BatchSize)

	err := st.storage.IterateRange(makeProofKey(start), makeProofKey(end+1), func(key, value []byte) error {
		p := new(proof.CanonicalProof)
		if err := json.Unmarshal(value, p); err != nil {
			return fmt.Errorf("parse proof at key %x: %w", key, err)
		}

		proofs = append(proofs, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan batch %d window: %w", batch, err)
	}

	if len(proofs) != snapshot.BatchSize {
		return nil, fault.New(fault.Integrity, "batch %d window is missing proofs: expected %d, found %d", batch, snapshot.BatchSize, len(proofs))
	}

	return proofs, nil
}

// PutManifestIfAbsent stores a batch's manifest, failing with a duplicate
// fault if one already exists. This is the uniqueness constraint that keeps
// snapshot creation single-writer per batch.
func (st *Store) PutManifestIfAbsent(m *snapshot.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("serialize manifest: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	key := makeManifestKey(m.Batch)

	existing, err := st.storage.Get(key)
	if err != nil {
		return fmt.Errorf("check manifest for batch %d: %w", m.Batch, err)
	}
	if existing != nil {
		return fault.New(fault.Duplicate, "manifest for batch %d already exists", m.Batch)
	}

	if err := st.storage.Set(key, data); err != nil {
		return fmt.Errorf("store manifest for batch %d: %w", m.Batch, err)
	}

	return nil
}

// Manifest returns the manifest for a batch, or nil if none exists.
func (st *Store) Manifest(batch uint64) (*snapshot.Manifest, error) {
	data, err := st.storage.Get(makeManifestKey(batch))
	if err != nil {
		return nil, fmt.Errorf("load manifest for batch %d: %w", batch, err)
	}
	if data == nil {
		return nil, nil
	}

	m := new(snapshot.Manifest)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest for batch %d: %w", batch, err)
	}

	return m, nil
}

// ManifestCount returns the number of persisted manifests.
func (st *Store) ManifestCount() (uint64, error) {
	var n uint64

	err := st.storage.IteratePrefix([]byte(manifestPrefix), func(key, value []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count manifests: %w", err)
	}

	return n, nil
}

// PutAnchor records where a batch was published and advances the anchored
// watermark to the batch's last sequence. Anchors are additive; overwriting
// with a fresh record for the same batch is harmless.
func (st *Store) PutAnchor(rec *snapshot.AnchorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize anchor record: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	pairs := []storage.KeyValue{
		{Key: makeAnchorKey(rec.Batch), Value: data},
	}

	watermark, err := st.readCounter(watermarkKey)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	if end := snapshot.WindowEnd(rec.Batch); end > watermark {
		pairs = append(pairs, storage.KeyValue{Key: []byte(watermarkKey), Value: encodeSeq(end)})
	}

	if err := st.storage.SetBatch(pairs); err != nil {
		return fmt.Errorf("store anchor for batch %d: %w", rec.Batch, err)
	}

	return nil
}

// Anchor returns the anchor record for a batch, or nil if none exists.
func (st *Store) Anchor(batch uint64) (*snapshot.AnchorRecord, error) {
	data, err := st.storage.Get(makeAnchorKey(batch))
	if err != nil {
		return nil, fmt.Errorf("load anchor for batch %d: %w", batch, err)
	}
	if data == nil {
		return nil, nil
	}

	rec := new(snapshot.AnchorRecord)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("parse anchor for batch %d: %w", batch, err)
	}

	return rec, nil
}

// Watermark returns the highest anchored sequence. Retention pruning must
// never delete proofs above it.
func (st *Store) Watermark() (uint64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.readCounter(watermarkKey)
}

// Prune deletes proof records with sequence <= upTo, clamped to the anchored
// watermark: rows that are not yet covered by an anchored snapshot are kept
// no matter what the caller asks for. Returns the number of rows deleted.
// The issuance counter is untouched; batch numbering survives pruning.
func (st *Store) Prune(upTo uint64) (uint64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	watermark, err := st.readCounter(watermarkKey)
	if err != nil {
		return 0, fmt.Errorf("load watermark: %w", err)
	}

	if upTo > watermark {
		upTo = watermark
	}
	if upTo == 0 {
		return 0, nil
	}

	start, end := makeProofKey(1), makeProofKey(upTo+1)

	var pruned uint64
	err = st.storage.IterateRange(start, end, func(key, value []byte) error {
		pruned++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan prune range: %w", err)
	}

	if err := st.storage.DeleteRange(start, end); err != nil {
		return 0, fmt.Errorf("prune proofs through %d: %w", upTo, err)
	}

	return pruned, nil
}

// BatchState reports where a batch sits in its lifecycle based on the
// issued count, manifest presence and anchor presence.
func (st *Store) BatchState(batch uint64) (State, error) {
	if batch < 1 {
		return "", fault.New(fault.Validation, "invalid batch number %d", batch)
	}

	if snapshot.WindowEnd(batch) > st.Count() {
		return StateNotYetDue, nil
	}

	m, err := st.Manifest(batch)
	if err != nil {
		return "", err
	}
	if m == nil {
		return StateDue, nil
	}

	rec, err := st.Anchor(batch)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return StateBatched, nil
	}

	return StateAnchored, nil
}

// readCounter loads a big-endian counter, treating absence as zero.
// Callers hold st.mu when the counter participates in a read-modify-write.
func (st *Store) readCounter(key string) (uint64, error) {
	data, err := st.storage.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt counter %s: %d bytes", key, len(data))
	}

	return binary.BigEndian.Uint64(data), nil
}

func makeProofKey(seq uint64) []byte {
	return makeSeqKey(proofPrefix, seq)
}

func makeManifestKey(batch uint64) []byte {
	return makeSeqKey(manifestPrefix, batch)
}

func makeAnchorKey(batch uint64) []byte {
	return makeSeqKey(anchorPrefix, batch)
}

// makeSeqKey builds prefix + big-endian number so lexicographic key order
// matches numeric order.
func makeSeqKey(prefix string, n uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], n)
	return key
}

func encodeSeq(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

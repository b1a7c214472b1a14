package ledger

import (
	"context"
	"sync"

	"Veristamp/internal/proof"
)

type memoryTx struct {
	id   string
	data []byte
	tags []Tag
}

// Memory is an in-process ledger. It backs development deployments that run
// without a gateway and the test suites of everything above this package.
// Contents do not survive the process; nothing anchored here is durable.
type Memory struct {
	mu  sync.Mutex
	txs []memoryTx
}

// NewMemory creates an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records a transaction and returns its content-derived id.
func (m *Memory) Publish(ctx context.Context, data []byte, tags []Tag) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := memoryTx{
		id:   proof.HashBytes(data),
		data: append([]byte(nil), data...),
		tags: append([]Tag(nil), tags...),
	}
	m.txs = append(m.txs, tx)

	return tx.id, nil
}

// Query returns the ids of transactions matching all given tags.
func (m *Memory) Query(ctx context.Context, tags []Tag) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, tx := range m.txs {
		if matchesAll(tx.tags, tags) {
			ids = append(ids, tx.id)
		}
	}

	return ids, nil
}

// TxCount returns the number of recorded transactions.
func (m *Memory) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// Tx returns a transaction's data by id.
func (m *Memory) Tx(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range m.txs {
		if tx.id == id {
			return append([]byte(nil), tx.data...), true
		}
	}

	return nil, false
}

func matchesAll(have, want []Tag) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h.Name == w.Name && h.Value == w.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

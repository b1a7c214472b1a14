// Package ledger clients the secondary immutable ledger that snapshot
// artifacts are anchored to. Transactions are content-addressed and tagged
// for later discovery; once posted they cannot be retracted, which is why
// the publisher verifies integrity before ever calling this package.
package ledger

import "context"

// Standard tag names and values for registry transactions.
const (
	TagApp   = "App"
	TagType  = "Type"
	TagBatch = "Batch"

	TypeSnapshot = "registry-snapshot"
)

// Tag is a name/value pair attached to a transaction for querying.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Client posts data to the ledger and looks up existing transactions.
type Client interface {
	// Publish creates, signs and posts one transaction carrying data with
	// the given tags, returning the transaction id.
	Publish(ctx context.Context, data []byte, tags []Tag) (string, error)

	// Query returns the ids of transactions matching all given tags. An
	// empty result means nothing is anchored under those tags.
	Query(ctx context.Context, tags []Tag) ([]string, error)
}

// SnapshotTags returns the discovery tags for one batch's anchoring
// transactions: {App, Type=registry-snapshot, Batch=<n>}.
func SnapshotTags(app string, batch uint64) []Tag {
	return []Tag{
		{Name: TagApp, Value: app},
		{Name: TagType, Value: TypeSnapshot},
		{Name: TagBatch, Value: formatBatch(batch)},
	}
}

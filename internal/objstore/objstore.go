// Package objstore abstracts the primary durable store that snapshot
// artifacts are published to. Implementations cover a local Pebble-backed
// store for single-node deployments and an HTTP gateway for bucket-style
// remote storage.
package objstore

import (
	"context"
	"fmt"
)

// Client is the minimal put/get contract the publisher and auditor need.
type Client interface {
	// Put stores an object and returns its resolved location.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get retrieves an object. A missing object returns nil bytes, not an
	// error; callers decide whether absence is a failure.
	Get(ctx context.Context, key string) ([]byte, error)

	// Check probes reachability without transferring object data.
	Check(ctx context.Context) error
}

// ManifestKey returns the object key for a batch's manifest.
func ManifestKey(prefix string, batch uint64) string {
	return fmt.Sprintf("%s/snapshots/%d.manifest.json", prefix, batch)
}

// BlobKey returns the object key for a batch's serialized blob.
func BlobKey(prefix string, batch uint64, compressed bool) string {
	if compressed {
		return fmt.Sprintf("%s/snapshots/%d.jsonl.gz", prefix, batch)
	}
	return fmt.Sprintf("%s/snapshots/%d.jsonl", prefix, batch)
}

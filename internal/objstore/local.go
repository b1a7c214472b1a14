package objstore

import (
	"context"
	"fmt"

	"Veristamp/internal/storage"
)

const localPrefix = "o:" // localPrefix + object key -> object bytes

// Local stores objects in a Pebble database on local disk. It serves
// single-node deployments and tests; the contract matches the remote
// gateway, location strings use a local:// scheme.
type Local struct {
	storage *storage.Storage
}

// NewLocal opens (or creates) a local object store at the given path.
func NewLocal(path string) (*Local, error) {
	s, err := storage.New(path)
	if err != nil {
		return nil, fmt.Errorf("open local object store at %s: %w", path, err)
	}

	return &Local{storage: s}, nil
}

// Close closes the underlying database.
func (l *Local) Close() error {
	return l.storage.Close()
}

// Put stores an object durably and returns its local:// location.
func (l *Local) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := l.storage.Set(append([]byte(localPrefix), key...), data); err != nil {
		return "", fmt.Errorf("store object %s: %w", key, err)
	}

	return "local://" + key, nil
}

// Get retrieves an object; missing objects return nil.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := l.storage.Get(append([]byte(localPrefix), key...))
	if err != nil {
		return nil, fmt.Errorf("load object %s: %w", key, err)
	}

	return data, nil
}

// Check reports whether the store is usable. An open database is.
func (l *Local) Check(ctx context.Context) error {
	return nil
}

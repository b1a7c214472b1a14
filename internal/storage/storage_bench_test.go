package storage

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// benchStorage creates a storage for benchmarks.
func benchStorage(b *testing.B) (*Storage, func()) {
	b.Helper()

	dir, err := os.MkdirTemp("", "storage-bench-*")
	if err != nil {
		b.Fatalf("failed to create temp dir: %v", err)
	}

	s, err := New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		b.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(dir)
	}

	return s, cleanup
}

// makeKey creates a sequence-ordered key from an integer.
func makeKey(i int) []byte {
	key := make([]byte, 10)
	copy(key, "p:")
	binary.BigEndian.PutUint64(key[2:], uint64(i))
	return key
}

// makeValue creates a random value of the given size.
func makeValue(size int) []byte {
	value := make([]byte, size)
	rand.Read(value)
	return value
}

// BenchmarkSet benchmarks durable writes at proof-record sizes.
func BenchmarkSet(b *testing.B) {
	sizes := []int{256, 768, 2048}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			s, cleanup := benchStorage(b)
			defer cleanup()

			value := makeValue(size)

			b.ResetTimer()
			b.SetBytes(int64(size))

			for i := 0; i < b.N; i++ {
				if err := s.Set(makeKey(i), value); err != nil {
					b.Fatalf("Set failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkGet benchmarks point reads on pre-populated data.
func BenchmarkGet(b *testing.B) {
	s, cleanup := benchStorage(b)
	defer cleanup()

	const numEntries = 100_000
	const valueSize = 768

	value := makeValue(valueSize)
	for i := 0; i < numEntries; i++ {
		if err := s.Set(makeKey(i), value); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	b.ResetTimer()
	b.SetBytes(valueSize)

	for i := 0; i < b.N; i++ {
		if _, err := s.Get(makeKey(i % numEntries)); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

// BenchmarkSetBatch benchmarks the atomic record+index write pattern used
// when appending a proof.
func BenchmarkSetBatch(b *testing.B) {
	batchSizes := []int{2, 8, 32}
	valueSize := 768

	for _, batchSize := range batchSizes {
		b.Run(fmt.Sprintf("batch=%d", batchSize), func(b *testing.B) {
			s, cleanup := benchStorage(b)
			defer cleanup()

			b.ResetTimer()
			b.SetBytes(int64(batchSize * valueSize))

			for i := 0; i < b.N; i++ {
				pairs := make([]KeyValue, batchSize)
				for j := 0; j < batchSize; j++ {
					pairs[j] = KeyValue{
						Key:   makeKey(i*batchSize + j),
						Value: makeValue(valueSize),
					}
				}
				if err := s.SetBatch(pairs); err != nil {
					b.Fatalf("SetBatch failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkIteratePrefix benchmarks scanning a full 1000-record batch
// window, the read pattern of snapshot building.
func BenchmarkIteratePrefix(b *testing.B) {
	s, cleanup := benchStorage(b)
	defer cleanup()

	const numEntries = 10_000
	const valueSize = 768

	value := makeValue(valueSize)
	for i := 0; i < numEntries; i++ {
		if err := s.Set(makeKey(i), value); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	errStop := errors.New("stop")

	b.ResetTimer()
	b.SetBytes(int64(1000 * valueSize))

	for i := 0; i < b.N; i++ {
		count := 0
		err := s.IteratePrefix([]byte("p:"), func(key, value []byte) error {
			if count++; count >= 1000 {
				return errStop
			}
			return nil
		})
		if err != nil && err != errStop {
			b.Fatalf("IteratePrefix failed: %v", err)
		}
	}
}

package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"Veristamp/internal/proof"
)

// EncodeJSONL serializes proofs into a newline-delimited blob, one canonical
// proof per line, in the order given. This is the persisted batch format.
func EncodeJSONL(proofs []*proof.CanonicalProof) ([]byte, error) {
	var buf bytes.Buffer

	for i, p := range proofs {
		line, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("serialize proof at index %d: %w", i, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// DecodeJSONL parses a newline-delimited blob back into proofs, preserving
// line order.
func DecodeJSONL(data []byte) ([]*proof.CanonicalProof, error) {
	var proofs []*proof.CanonicalProof

	for i, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		p := new(proof.CanonicalProof)
		if err := json.Unmarshal(line, p); err != nil {
			return nil, fmt.Errorf("parse proof at line %d: %w", i+1, err)
		}

		proofs = append(proofs, p)
	}

	return proofs, nil
}

// Compress gzips a blob for storage as <batch>.jsonl.gz.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}

	return out, nil
}

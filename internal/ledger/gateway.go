package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Veristamp/internal/fault"
	"Veristamp/internal/proof"
)

const defaultLedgerTimeout = 60 * time.Second

// Gateway posts transactions to a ledger gateway over HTTP. Transaction ids
// are content addresses: the hex SHA-256 of the signature, which itself
// deterministically covers the data. Re-posting identical data yields the
// same id.
type Gateway struct {
	base   string
	signer proof.Signer
	client *http.Client
}

// NewGateway creates a ledger client for the given gateway URL, signing
// transactions with the registry key.
func NewGateway(baseURL string, signer proof.Signer) *Gateway {
	return &Gateway{
		base:   strings.TrimSuffix(baseURL, "/"),
		signer: signer,
		client: &http.Client{Timeout: defaultLedgerTimeout},
	}
}

// wireTransaction is the gateway's POST /tx body.
type wireTransaction struct {
	ID        string `json:"id"`
	Data      string `json:"data"` // base64
	Tags      []Tag  `json:"tags"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"` // base64
}

// queryRequest is the gateway's POST /tx/query body.
type queryRequest struct {
	Tags []Tag `json:"tags"`
}

// queryResponse is the gateway's query result.
type queryResponse struct {
	IDs []string `json:"ids"`
}

// Publish signs data, derives the transaction id and posts it. A non-success
// status is a hard failure; this client never retries on its own.
func (g *Gateway) Publish(ctx context.Context, data []byte, tags []Tag) (string, error) {
	sig, err := g.signer.Sign(data)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	tx := wireTransaction{
		ID:        proof.HashBytes(sig),
		Data:      base64.StdEncoding.EncodeToString(data),
		Tags:      tags,
		Owner:     g.signer.Fingerprint(),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}

	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/tx", bytes.NewReader(body))
	if err != nil {
		return "", fault.Wrap(fault.Configuration, err, "build ledger request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.Transient, err, "post transaction")
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fault.New(fault.Transient, "failed to post transaction: %d", resp.StatusCode)
	}

	return tx.ID, nil
}

// Query looks up transaction ids by tags.
func (g *Gateway) Query(ctx context.Context, tags []Tag) ([]string, error) {
	body, err := json.Marshal(queryRequest{Tags: tags})
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/tx/query", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err, "build ledger request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Transient, err, "query transactions")
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.Transient, "failed to query transactions: status %d", resp.StatusCode)
	}

	var result queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fault.Wrap(fault.Transient, err, "parse query response")
	}

	return result.IDs, nil
}

func formatBatch(batch uint64) string {
	return strconv.FormatUint(batch, 10)
}

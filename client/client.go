// Package client is a Go client for the Veristamp HTTP API. Content is
// always hashed locally; only digests travel to the registry.
package client

import (
	"fmt"
	"net/url"
	"strconv"

	"Veristamp/internal/audit"
	"Veristamp/internal/proof"
	"Veristamp/internal/publish"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

// Client connects to a Veristamp registry via HTTP.
type Client struct {
	baseURL     string // baseURL is the registry endpoint (e.g. "http://127.0.0.1:8080")
	fingerprint string // fingerprint is the registry's signer fingerprint
}

// Status holds registry counters from the /status endpoint.
type Status struct {
	Fingerprint string `json:"fingerprint"`
	Proofs      uint64 `json:"proofs"`
	Batches     uint64 `json:"batches"`
	Watermark   uint64 `json:"watermark"`
}

// BatchInfo holds the lifecycle view of one batch.
type BatchInfo struct {
	Batch    uint64                 `json:"batch"`
	State    store.State            `json:"state"`
	Manifest *snapshot.Manifest     `json:"manifest,omitempty"`
	Anchor   *snapshot.AnchorRecord `json:"anchor,omitempty"`
}

// NewClient creates a client connected to a registry.
// It fetches the signer fingerprint from the registry's /status endpoint.
func NewClient(nodeAddr string) (*Client, error) {
	c := &Client{baseURL: "http://" + nodeAddr}

	status, err := c.Status()
	if err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	c.fingerprint = status.Fingerprint

	return c, nil
}

// Fingerprint returns the registry's signer fingerprint.
func (c *Client) Fingerprint() string {
	return c.fingerprint
}

// Status fetches the registry counters.
func (c *Client) Status() (*Status, error) {
	var status Status
	if err := httpGet(c.baseURL+"/status", &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// Health checks the registry's health endpoint.
func (c *Client) Health() error {
	var resp struct {
		Status string `json:"status"`
	}

	if err := httpGet(c.baseURL+"/health", &resp); err != nil {
		return fmt.Errorf("health check:\n%w", err)
	}

	if resp.Status != "ok" {
		return fmt.Errorf("unexpected health status: %q", resp.Status)
	}

	return nil
}

// issueRequest mirrors the POST /proofs body.
type issueRequest struct {
	HashFull string            `json:"hash_full"`
	Subject  proof.Subject     `json:"subject"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// issueResponse mirrors the POST /proofs response.
type issueResponse struct {
	Seq   uint64                `json:"seq"`
	Proof *proof.CanonicalProof `json:"proof"`
}

// IssueProof registers a content hash and returns the signed proof and its
// sequence number.
func (c *Client) IssueProof(hashFull string, subject proof.Subject, metadata map[string]string) (*proof.CanonicalProof, uint64, error) {
	req := issueRequest{HashFull: hashFull, Subject: subject, Metadata: metadata}

	var resp issueResponse
	if err := httpPostJSON(c.baseURL+"/proofs", req, &resp); err != nil {
		return nil, 0, fmt.Errorf("issue proof:\n%w", err)
	}

	return resp.Proof, resp.Seq, nil
}

// IssueFor hashes content locally and registers the digest. The content
// itself never leaves the caller.
func (c *Client) IssueFor(content []byte, subject proof.Subject, metadata map[string]string) (*proof.CanonicalProof, uint64, error) {
	return c.IssueProof(proof.HashBytes(content), subject, metadata)
}

// Proof fetches a stored proof by sequence number. A missing proof returns
// nil without error.
func (c *Client) Proof(seq uint64) (*proof.CanonicalProof, error) {
	var p proof.CanonicalProof

	found, err := httpGetOptional(c.baseURL+"/proofs/"+strconv.FormatUint(seq, 10), &p)
	if err != nil {
		return nil, fmt.Errorf("get proof:\n%w", err)
	}
	if !found {
		return nil, nil
	}

	return &p, nil
}

// VerifyProof asks the registry to verify a proof document. The reason is
// empty when the proof is valid.
func (c *Client) VerifyProof(p *proof.CanonicalProof) (bool, string, error) {
	var resp struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}

	if err := httpPostJSON(c.baseURL+"/proofs/verify", p, &resp); err != nil {
		return false, "", fmt.Errorf("verify proof:\n%w", err)
	}

	return resp.Valid, resp.Reason, nil
}

// VerifyContent checks raw content against a claimed digest server-side.
// Prefer VerifyContentLocal for large content.
func (c *Client) VerifyContent(content []byte, claimed string) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}

	u := c.baseURL + "/content/verify?hash=" + url.QueryEscape(claimed)
	if err := httpPostBytes(u, content, &resp); err != nil {
		return false, fmt.Errorf("verify content:\n%w", err)
	}

	return resp.Valid, nil
}

// VerifyContentLocal checks content against a claimed digest without any
// network round trip.
func (c *Client) VerifyContentLocal(content []byte, claimed string) bool {
	return proof.VerifyContentHash(content, claimed)
}

// BuildSnapshot builds the Merkle snapshot for a complete batch.
func (c *Client) BuildSnapshot(batch uint64) (*snapshot.Manifest, error) {
	var m snapshot.Manifest
	if err := httpPostJSON(c.batchURL(batch)+"/snapshot", nil, &m); err != nil {
		return nil, fmt.Errorf("build snapshot:\n%w", err)
	}

	return &m, nil
}

// PublishSnapshot publishes a built snapshot to the object store and the
// ledger.
func (c *Client) PublishSnapshot(batch uint64) (*publish.Outcome, error) {
	var outcome publish.Outcome
	if err := httpPostJSON(c.batchURL(batch)+"/publish", nil, &outcome); err != nil {
		return nil, fmt.Errorf("publish snapshot:\n%w", err)
	}

	return &outcome, nil
}

// Batch fetches the lifecycle view of a batch.
func (c *Client) Batch(batch uint64) (*BatchInfo, error) {
	var info BatchInfo
	if err := httpGet(c.batchURL(batch), &info); err != nil {
		return nil, fmt.Errorf("get batch:\n%w", err)
	}

	return &info, nil
}

// VerifyBatch cross-checks a published batch against both external stores.
func (c *Client) VerifyBatch(batch uint64) error {
	var resp struct {
		OK bool `json:"ok"`
	}

	if err := httpGet(c.batchURL(batch)+"/verify", &resp); err != nil {
		return fmt.Errorf("verify batch:\n%w", err)
	}

	return nil
}

// Audit runs the registry's integrity audit. An unhealthy report is
// returned, not an error; errors mean the audit could not run.
func (c *Client) Audit() (*audit.Report, error) {
	var report audit.Report
	if err := httpGetAudit(c.baseURL+"/audit", &report); err != nil {
		return nil, fmt.Errorf("audit:\n%w", err)
	}

	return &report, nil
}

// Prune deletes anchored proof rows up to a sequence number and returns
// how many were removed.
func (c *Client) Prune(upTo uint64) (uint64, error) {
	body := map[string]uint64{"up_to": upTo}

	var resp struct {
		Pruned uint64 `json:"pruned"`
	}

	if err := httpPostJSON(c.baseURL+"/prune", body, &resp); err != nil {
		return 0, fmt.Errorf("prune:\n%w", err)
	}

	return resp.Pruned, nil
}

// batchURL builds the base URL for one batch's endpoints.
func (c *Client) batchURL(batch uint64) string {
	return c.baseURL + "/batches/" + strconv.FormatUint(batch, 10)
}

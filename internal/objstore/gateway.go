package objstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"Veristamp/internal/fault"
)

const defaultGatewayTimeout = 30 * time.Second

// Gateway talks to a bucket-style object store over HTTP: objects live at
// <base>/<bucket>/<key> and respond to plain PUT and GET. Network and
// status failures surface as transient faults; the caller owns retries.
type Gateway struct {
	base   string
	bucket string
	client *http.Client
}

// NewGateway creates a gateway client for the given base URL and bucket.
func NewGateway(baseURL, bucket string) *Gateway {
	return &Gateway{
		base:   strings.TrimSuffix(baseURL, "/"),
		bucket: bucket,
		client: &http.Client{Timeout: defaultGatewayTimeout},
	}
}

func (g *Gateway) objectURL(key string) string {
	return g.base + "/" + g.bucket + "/" + key
}

// Put uploads an object and returns its URL.
func (g *Gateway) Put(ctx context.Context, key string, data []byte) (string, error) {
	url := g.objectURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fault.Wrap(fault.Configuration, err, "build request for %s", url)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.Transient, err, "store object %s", key)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return url, nil
	default:
		return "", fault.New(fault.Transient, "failed to store object %s: status %d", key, resp.StatusCode)
	}
}

// Get downloads an object; a 404 returns nil bytes.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	url := g.objectURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err, "build request for %s", url)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Transient, err, "load object %s", key)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fault.Wrap(fault.Transient, err, "read object %s", key)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fault.New(fault.Transient, "failed to load object %s: status %d", key, resp.StatusCode)
	}
}

// Check probes the bucket endpoint. Any HTTP response counts as reachable;
// only transport failures are reported.
func (g *Gateway) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.base+"/"+g.bucket, nil)
	if err != nil {
		return fault.Wrap(fault.Configuration, err, "build request for %s", g.bucket)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.Transient, err, "object store unreachable")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return nil
}

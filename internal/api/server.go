package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"Veristamp/internal/audit"
	"Veristamp/internal/fault"
	"Veristamp/internal/logger"
	"Veristamp/internal/proof"
	"Veristamp/internal/publish"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

const (
	// maxBodySize is the maximum size of a JSON request body.
	maxBodySize = 1 << 20 // 1 MB

	// maxContentSize is the maximum size of raw content accepted for
	// hash verification. Content is hashed and discarded, never stored.
	maxContentSize = 32 << 20 // 32 MB
)

// Service is the registry surface the HTTP API exposes.
type Service interface {
	Fingerprint() string
	Count() uint64
	Watermark() (uint64, error)

	BuildAndSignProof(hashFull string, subject proof.Subject, metadata map[string]string) (*proof.CanonicalProof, uint64, error)
	VerifyProof(p *proof.CanonicalProof) proof.Result
	VerifyContentHash(data []byte, claimed string) bool
	Proof(seq uint64) (*proof.CanonicalProof, error)

	BuildSnapshotForBatch(batch uint64) (*snapshot.Manifest, error)
	PublishSnapshot(ctx context.Context, batch uint64) (*publish.Outcome, error)
	Manifest(batch uint64) (*snapshot.Manifest, error)
	Anchor(batch uint64) (*snapshot.AnchorRecord, error)
	BatchState(batch uint64) (store.State, error)

	AuditIntegrity(ctx context.Context) *audit.Report
	VerifyBatch(ctx context.Context, batch uint64) error
	Prune(upTo uint64) (uint64, error)
}

// Server is the HTTP API server.
type Server struct {
	addr    string       // addr is the HTTP listen address
	service Service      // service executes registry operations
	server  *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, service Service) *Server {
	return &Server{
		addr:    addr,
		service: service,
	}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /proofs", s.handleIssueProof)
	mux.HandleFunc("GET /proofs/{seq}", s.handleGetProof)
	mux.HandleFunc("POST /proofs/verify", s.handleVerifyProof)
	mux.HandleFunc("POST /content/verify", s.handleVerifyContent)
	mux.HandleFunc("POST /batches/{batch}/snapshot", s.handleBuildSnapshot)
	mux.HandleFunc("POST /batches/{batch}/publish", s.handlePublishSnapshot)
	mux.HandleFunc("GET /batches/{batch}", s.handleGetBatch)
	mux.HandleFunc("GET /batches/{batch}/verify", s.handleVerifyBatch)
	mux.HandleFunc("GET /audit", s.handleAudit)
	mux.HandleFunc("POST /prune", s.handlePrune)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Handler returns the route handler for mounting in an existing server.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// issueRequest is the body of POST /proofs.
type issueRequest struct {
	HashFull string            `json:"hash_full"`
	Subject  proof.Subject     `json:"subject"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleIssueProof handles POST /proofs requests.
func (s *Server) handleIssueProof(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, seq, err := s.service.BuildAndSignProof(req.HashFull, req.Subject, req.Metadata)
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"seq":   seq,
		"proof": p,
	})
}

// handleGetProof handles GET /proofs/{seq} requests.
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil || seq == 0 {
		writeError(w, http.StatusBadRequest, "invalid sequence number")
		return
	}

	p, err := s.service.Proof(seq)
	if err != nil {
		writeFault(w, err)
		return
	}

	if p == nil {
		writeError(w, http.StatusNotFound, "proof not found")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleVerifyProof handles POST /proofs/verify requests. The body is a
// canonical proof document; the response reports validity, never an error.
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var p proof.CanonicalProof
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.service.VerifyProof(&p)

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  result.Valid,
		"reason": result.Reason,
	})
}

// handleVerifyContent handles POST /content/verify requests. The raw body
// is hashed and compared against the claimed digest in the hash query
// parameter; the content itself is discarded.
func (s *Server) handleVerifyContent(w http.ResponseWriter, r *http.Request) {
	claimed := r.URL.Query().Get("hash")
	if !proof.ValidDigest(claimed) {
		writeError(w, http.StatusBadRequest, "hash parameter must be a 64-char lowercase hex sha256")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxContentSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": s.service.VerifyContentHash(data, claimed),
	})
}

// handleBuildSnapshot handles POST /batches/{batch}/snapshot requests.
func (s *Server) handleBuildSnapshot(w http.ResponseWriter, r *http.Request) {
	batch, ok := parseBatch(w, r)
	if !ok {
		return
	}

	m, err := s.service.BuildSnapshotForBatch(batch)
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// handlePublishSnapshot handles POST /batches/{batch}/publish requests.
func (s *Server) handlePublishSnapshot(w http.ResponseWriter, r *http.Request) {
	batch, ok := parseBatch(w, r)
	if !ok {
		return
	}

	outcome, err := s.service.PublishSnapshot(r.Context(), batch)
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// handleGetBatch handles GET /batches/{batch} requests.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := parseBatch(w, r)
	if !ok {
		return
	}

	state, err := s.service.BatchState(batch)
	if err != nil {
		writeFault(w, err)
		return
	}

	m, err := s.service.Manifest(batch)
	if err != nil {
		writeFault(w, err)
		return
	}

	anchor, err := s.service.Anchor(batch)
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := map[string]any{
		"batch": batch,
		"state": state,
	}
	if m != nil {
		resp["manifest"] = m
	}
	if anchor != nil {
		resp["anchor"] = anchor
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleVerifyBatch handles GET /batches/{batch}/verify requests. It
// cross-checks the local manifest against both external stores.
func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := parseBatch(w, r)
	if !ok {
		return
	}

	if err := s.service.VerifyBatch(r.Context(), batch); err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch": batch,
		"ok":    true,
	})
}

// handleAudit handles GET /audit requests.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report := s.service.AuditIntegrity(r.Context())

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusConflict
	}

	writeJSON(w, status, report)
}

// pruneRequest is the body of POST /prune.
type pruneRequest struct {
	UpTo uint64 `json:"up_to"`
}

// handlePrune handles POST /prune requests.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pruned, err := s.service.Prune(req.UpTo)
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pruned": pruned,
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	watermark, err := s.service.Watermark()
	if err != nil {
		writeFault(w, err)
		return
	}

	count := s.service.Count()

	writeJSON(w, http.StatusOK, map[string]any{
		"fingerprint": s.service.Fingerprint(),
		"proofs":      count,
		"batches":     count / snapshot.BatchSize,
		"watermark":   watermark,
	})
}

// parseBatch extracts the batch path value. A zero or malformed batch
// number is rejected before it reaches the service.
func parseBatch(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	batch, err := strconv.ParseUint(r.PathValue("batch"), 10, 64)
	if err != nil || batch == 0 {
		writeError(w, http.StatusBadRequest, "invalid batch number")
		return 0, false
	}

	return batch, true
}

// readJSON decodes a size-limited JSON request body.
func readJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err == io.EOF {
		return fmt.Errorf("empty request body")
	}
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeFault writes an error response with the status its fault kind maps
// to.
func writeFault(w http.ResponseWriter, err error) {
	writeError(w, fault.HTTPStatus(err), err.Error())
}

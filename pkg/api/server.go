package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/controller"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/cuemby/hangar/pkg/reconciler"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodySize caps request bodies
const maxBodySize = 1 << 20

// Backend is what the API serves; *manager.Manager implements it
type Backend interface {
	Reconcile(ctx context.Context) (*reconciler.Result, error)
	ListResources(ctx context.Context, node string) ([]*types.ResourceRecord, error)
	ControlResource(ctx context.Context, node string, vmid int, rtype types.ResourceType, action types.Action) (*controller.TaskHandle, error)

	AddNode(ctx context.Context, node *types.NodeConfig, password string) error
	GetNode(ctx context.Context, name string) (*types.NodeConfig, error)
	ListNodes(ctx context.Context) ([]*types.NodeConfig, error)
	RemoveNode(ctx context.Context, name string) error

	PutSecret(ctx context.Context, key, plaintext, description string) error
	GetSecretMetadata(ctx context.Context, key string) (*types.SecretMetadata, error)
	ListSecrets(ctx context.Context) ([]*types.SecretMetadata, error)
	DeleteSecret(ctx context.Context, key string) error
}

// Options configures the server
type Options struct {
	// ReadOnly rejects every request that would change state
	ReadOnly bool

	// Version is reported by /health
	Version string
}

// Server exposes the manager over HTTP/JSON
type Server struct {
	backend Backend
	opts    Options
	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
	logger  zerolog.Logger
}

// DefaultWriteTimeout bounds every response except a sync
const DefaultWriteTimeout = 2 * time.Minute

// NewServer creates the HTTP server and registers every endpoint
func NewServer(backend Backend, opts Options) *Server {
	s := &Server{
		backend: backend,
		opts:    opts,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("api"),
	}

	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.Handle("GET /health/components", metrics.HealthHandler())
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.HandleFunc("POST /v1/inventory/sync", s.handleSync)
	s.mux.HandleFunc("GET /v1/inventory", s.handleListInventory)

	s.mux.HandleFunc("GET /v1/nodes", s.handleListNodes)
	s.mux.HandleFunc("POST /v1/nodes", s.handleAddNode)
	s.mux.HandleFunc("GET /v1/nodes/{node}", s.handleGetNode)
	s.mux.HandleFunc("DELETE /v1/nodes/{node}", s.handleRemoveNode)
	s.mux.HandleFunc("POST /v1/nodes/{node}/{type}/{vmid}/status/{action}", s.handleControl)

	s.mux.HandleFunc("GET /v1/secrets", s.handleListSecrets)
	s.mux.HandleFunc("GET /v1/secrets/{key...}", s.handleGetSecret)
	s.mux.HandleFunc("PUT /v1/secrets/{key...}", s.handlePutSecret)
	s.mux.HandleFunc("DELETE /v1/secrets/{key...}", s.handleDeleteSecret)

	s.handler = s.withMiddleware(s.mux)
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Shutdown is called
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	metrics.UpdateComponent(metrics.ComponentAPI, true, "listening on "+addr)
	s.logger.Info().Str("addr", addr).Bool("read_only", s.opts.ReadOnly).Msg("API server listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.server.Shutdown(ctx)
}

// SyncResponse is the body returned by POST /v1/inventory/sync
type SyncResponse struct {
	Records     []*types.ResourceRecord `json:"records"`
	SyncedCount int                     `json:"synced_count"`
	NodeErrors  map[string]string       `json:"node_errors,omitempty"`
}

// AddNodeRequest is the body of POST /v1/nodes
type AddNodeRequest struct {
	types.NodeConfig
	Password string `json:"password,omitempty"`
}

// PutSecretRequest is the body of PUT /v1/secrets/{key}
type PutSecretRequest struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// A pass takes as long as its slowest batch of nodes; every node call is
	// bounded by the control-plane request timeout instead
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn().Err(err).Msg("Failed to lift write deadline for sync")
	}

	result, err := s.backend.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := SyncResponse{
		Records:     result.Records,
		SyncedCount: result.SyncedCount,
	}
	if len(result.NodeErrors) > 0 {
		resp.NodeErrors = make(map[string]string, len(result.NodeErrors))
		for node, err := range result.NodeErrors {
			resp.NodeErrors[node] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInventory(w http.ResponseWriter, r *http.Request) {
	records, err := s.backend.ListResources(r.Context(), r.URL.Query().Get("node"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*types.ResourceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.backend.ListNodes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []*types.NodeConfig{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	node := req.NodeConfig
	if err := s.backend.AddNode(r.Context(), &node, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &node)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.backend.GetNode(r.Context(), r.PathValue("node"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.RemoveNode(r.Context(), r.PathValue("node")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	rtype, ok := types.ParseResourceType(r.PathValue("type"))
	if !ok {
		s.writeError(w, r, fmt.Errorf("unknown resource type %q: %w", r.PathValue("type"), errdefs.ErrInvalidArgument))
		return
	}
	vmid, err := strconv.Atoi(r.PathValue("vmid"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("invalid vmid %q: %w", r.PathValue("vmid"), errdefs.ErrInvalidArgument))
		return
	}

	handle, err := s.backend.ControlResource(r.Context(), r.PathValue("node"), vmid, rtype, types.Action(r.PathValue("action")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.backend.ListSecrets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, secrets)
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	meta, err := s.backend.GetSecretMetadata(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	var req PutSecretRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	key := r.PathValue("key")
	if err := s.backend.PutSecret(r.Context(), key, req.Value, req.Description); err != nil {
		s.writeError(w, r, err)
		return
	}

	meta, err := s.backend.GetSecretMetadata(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteSecret(r.Context(), r.PathValue("key")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return nil
}

// writeError maps the error class to a status code
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest, "invalid_argument"
	case errdefs.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errdefs.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case errdefs.IsPermissionDenied(err):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errdefs.IsUnauthorized(err):
		// The node rejected our credentials, not the caller's
		return http.StatusBadGateway, "node_authentication"
	case errdefs.IsUnavailable(err):
		return http.StatusBadGateway, "node_unavailable"
	case errdefs.IsFailedPrecondition(err):
		return http.StatusPreconditionFailed, "configuration"
	case errdefs.IsDataLoss(err):
		return http.StatusInternalServerError, "decryption"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

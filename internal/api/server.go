// Package api provides the coordinator HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/auth"
	"github.com/griddfs/griddfs/internal/ledger"
	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/metadata"
	"github.com/griddfs/griddfs/internal/metrics"
	"github.com/griddfs/griddfs/internal/protocol"
	"github.com/griddfs/griddfs/internal/registry"
)

// Server is the coordinator HTTP server.
type Server struct {
	ledger   *ledger.Service
	registry *registry.Registry
	verifier *auth.Verifier
}

// NewServer creates a coordinator server.
func NewServer(ledgerSvc *ledger.Service, reg *registry.Registry, verifier *auth.Verifier) *Server {
	return &Server{
		ledger:   ledgerSvc,
		registry: reg,
		verifier: verifier,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Fleet management
	mux.HandleFunc("POST /api/v1/nodes/register", s.handleRegisterNode)
	mux.HandleFunc("POST /api/v1/nodes/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/v1/nodes", s.handleListNodes)

	// Credential admin
	mux.HandleFunc("POST /api/v1/auth/register", s.handleRegisterUser)
	mux.HandleFunc("POST /api/v1/auth/token", s.handleLogin)

	// Namespace and block ledger
	mux.HandleFunc("POST /api/v1/files/allocate", s.handleAllocate)
	mux.HandleFunc("POST /api/v1/files/confirm", s.handleConfirm)
	mux.HandleFunc("GET /api/v1/files/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/v1/files", s.handleList)
	mux.HandleFunc("DELETE /api/v1/files", s.handleDelete)
	mux.HandleFunc("POST /api/v1/dirs", s.handleMkdir)
	mux.HandleFunc("DELETE /api/v1/dirs", s.handleRmdir)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Fleet ──────────────────────────────────────────────────────────────────

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" {
		sendError(w, http.StatusBadRequest, "datanode_url is required")
		return
	}

	if err := s.registry.Register(r.Context(), req.Endpoint, req.Capacity, req.Free); err != nil {
		s.sendLedgerError(w, r, err)
		return
	}

	nodes, err := s.registry.List(r.Context())
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.RegisterNodeResponse{
		Endpoint: req.Endpoint,
		Nodes:    nodeInfos(nodes),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req protocol.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" {
		sendError(w, http.StatusBadRequest, "datanode_url is required")
		return
	}

	if err := s.registry.Heartbeat(r.Context(), req.Endpoint); err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"datanode_url": req.Endpoint})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.registry.List(r.Context())
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NodeListResponse{Nodes: nodeInfos(nodes)})
}

func nodeInfos(nodes []*metadata.Node) []protocol.NodeInfo {
	infos := make([]protocol.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, protocol.NodeInfo{
			Endpoint: n.Endpoint,
			Capacity: n.Capacity,
			Free:     n.Free,
			LastSeen: n.LastSeen,
		})
	}
	return infos
}

// ─── Credentials ────────────────────────────────────────────────────────────

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, http.StatusBadRequest, "user and password are required")
		return
	}

	if err := s.verifier.Register(r.Context(), req.Username, req.Password); err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user": req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.verifier.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.LoginResponse{Token: token})
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req protocol.AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	allocation, err := s.ledger.Allocate(r.Context(), credFrom(r, req.Credential),
		req.Path, req.NumBlocks, req.BlockSize)
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.AllocateResponse{
		Path:       req.Path,
		Allocation: allocation,
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req protocol.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.ledger.Confirm(r.Context(), credFrom(r, req.Credential),
		req.Path, req.Index, req.BlockID, req.Endpoint, req.Size, req.Checksum)
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		sendError(w, http.StatusBadRequest, "path is required")
		return
	}

	entry, err := s.ledger.Metadata(r.Context(), credFrom(r, queryCred(r)), path)
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.MetadataResponse{
		Path:      entry.Path,
		Owner:     entry.Owner,
		Size:      entry.Size,
		BlockSize: entry.BlockSize,
		Status:    string(entry.Status),
		CreatedAt: entry.CreatedAt,
		Blocks:    entry.Blocks,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "/"
	}

	entries, err := s.ledger.List(r.Context(), credFrom(r, queryCred(r)), prefix)
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}

	resp := protocol.ListResponse{Entries: make([]protocol.FileSummary, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, protocol.FileSummary{
			Path:      e.Path,
			Owner:     e.Owner,
			Size:      e.Size,
			Status:    string(e.Status),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		sendError(w, http.StatusBadRequest, "path is required")
		return
	}

	if err := s.ledger.Delete(r.Context(), credFrom(r, queryCred(r)), path); err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.DeleteResponse{Path: path})
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req protocol.MkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.ledger.Mkdir(r.Context(), credFrom(r, req.Credential), req.Path); err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleRmdir(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		sendError(w, http.StatusBadRequest, "path is required")
		return
	}

	removed, err := s.ledger.Rmdir(r.Context(), credFrom(r, queryCred(r)), path)
	if err != nil {
		s.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.RmdirResponse{Path: path, Removed: removed})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// credFrom merges a body/query credential with an Authorization bearer
// token; the header wins when both are present.
func credFrom(r *http.Request, c protocol.Credential) auth.Credential {
	cred := auth.Credential{
		Username: c.Username,
		Password: c.Password,
		Token:    c.Token,
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		cred.Token = strings.TrimPrefix(h, "Bearer ")
	}
	return cred
}

// queryCred reads the credential fields the original wire protocol put in
// query parameters of read/delete calls.
func queryCred(r *http.Request) protocol.Credential {
	q := r.URL.Query()
	return protocol.Credential{
		Username: q.Get("user"),
		Password: q.Get("password"),
		Token:    q.Get("token"),
	}
}

func (s *Server) sendLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.Error("internal error",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	sendError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, metadata.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, metadata.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, metadata.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, metadata.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, metadata.ErrNoActiveNodes):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, protocol.ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

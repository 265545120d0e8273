// Package blocknode implements the storage-node HTTP surface and the
// client used to talk to it.
package blocknode

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/blockstore"
	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/metrics"
	"github.com/griddfs/griddfs/internal/protocol"
)

// copyChunkSize bounds per-iteration memory while streaming a block.
const copyChunkSize = 64 * 1024

// Server serves the block RPCs over a blockstore.Store.
type Server struct {
	store blockstore.Store
}

// NewServer creates a block-node server.
func NewServer(store blockstore.Store) *Server {
	return &Server{store: store}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /blocks/{id}", s.handleStore)
	mux.HandleFunc("GET /blocks/{id}", s.handleGet)
	mux.HandleFunc("DELETE /blocks/{id}", s.handleDelete)
	mux.HandleFunc("GET /blocks", s.handleList)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "store": s.store.Type()})
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	blockID := r.PathValue("id")
	if blockID == "" {
		sendError(w, http.StatusBadRequest, "block id required")
		return
	}
	defer r.Body.Close()

	stat, err := s.store.Put(r.Context(), blockID, r.Body)
	if err != nil {
		metrics.RecordBlockStored(0, false)
		logging.Error("block store failed", zap.String("block_id", blockID), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "store failed")
		return
	}
	metrics.RecordBlockStored(stat.Size, true)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.StoreBlockResponse{
		BlockID:  stat.BlockID,
		Size:     stat.Size,
		Checksum: stat.Checksum,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	blockID := r.PathValue("id")

	rc, size, err := s.store.Get(r.Context(), blockID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.RecordBlockFetched(0, false)
			sendError(w, http.StatusNotFound, "block not found")
			return
		}
		metrics.RecordBlockFetched(0, false)
		logging.Error("block read failed", zap.String("block_id", blockID), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "read failed")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))

	// Bounded copy chunks keep memory flat regardless of block size.
	buf := make([]byte, copyChunkSize)
	written, err := io.CopyBuffer(w, rc, buf)
	if err != nil {
		// Too late for a status code; the client sees a short body.
		logging.Warn("block stream interrupted",
			zap.String("block_id", blockID),
			zap.Int64("written", written),
			zap.Error(err))
		metrics.RecordBlockFetched(written, false)
		return
	}
	metrics.RecordBlockFetched(written, true)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	blockID := r.PathValue("id")

	if err := s.store.Delete(r.Context(), blockID); err != nil {
		metrics.RecordBlockDeleted(false)
		logging.Error("block delete failed", zap.String("block_id", blockID), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	metrics.RecordBlockDeleted(true)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"block_id": blockID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.List(r.Context())
	if err != nil {
		logging.Error("block list failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "list failed")
		return
	}

	resp := protocol.BlockListResponse{Blocks: make([]protocol.BlockInfo, 0, len(stats))}
	for _, st := range stats {
		resp.Blocks = append(resp.Blocks, protocol.BlockInfo{BlockID: st.BlockID, Size: st.Size})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: message, Code: code})
}

// Package ledger implements the coordinator's namespace and the
// allocate/confirm write protocol over a metadata store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/auth"
	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/metadata"
	"github.com/griddfs/griddfs/internal/metrics"
	"github.com/griddfs/griddfs/internal/protocol"
	"github.com/griddfs/griddfs/internal/registry"
)

// BlockDeleter is the slice of the block-node client the ledger needs for
// best-effort cleanup.
type BlockDeleter interface {
	DeleteBlock(ctx context.Context, endpoint, blockID string) error
}

// Service is the namespace and block ledger. All mutating operations
// serialize on one coordinator-wide mutex: Confirm's read-modify-write of
// a block list must be atomic against concurrent confirms and
// allocations, and a coarse lock bounded to metadata work is the
// intended design. Reads go straight to the store, which gives row-level
// consistency.
//
// Block transfers never pass through here, so the lock is held only for
// metadata work.
type Service struct {
	mu sync.Mutex

	store       metadata.Store
	registry    *registry.Registry
	verifier    *auth.Verifier
	nodes       BlockDeleter
	nodeTimeout time.Duration
}

// New creates the ledger service.
func New(store metadata.Store, reg *registry.Registry, verifier *auth.Verifier,
	nodes BlockDeleter, nodeTimeout time.Duration) *Service {
	return &Service{
		store:       store,
		registry:    reg,
		verifier:    verifier,
		nodes:       nodes,
		nodeTimeout: nodeTimeout,
	}
}

// newBlockID builds a system-wide unique block identifier. The random
// suffix keeps retried allocations from colliding with superseded ones.
func newBlockID(path string, index int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s__%d__%s", path, index, suffix)
}

// Allocate creates (or wholesale re-creates) the block list for path and
// assigns each slot a storage node round-robin over the active fleet.
// Re-allocating an existing path resets its progress: prior slots are
// superseded and their confirms will fail.
//
// No file entry is created when no nodes are active.
func (s *Service) Allocate(ctx context.Context, cred auth.Credential, path string, numBlocks int, blockSize int64) ([]protocol.BlockAssignment, error) {
	defer s.timeOp("allocate")()

	caller, err := s.verifier.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path must start with /: %w", metadata.ErrInvalidArgument)
	}
	if numBlocks < 1 {
		return nil, fmt.Errorf("num_blocks must be at least 1: %w", metadata.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.registry.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	if len(active) == 0 {
		return nil, metadata.ErrNoActiveNodes
	}

	entry, err := s.store.GetFile(ctx, path)
	switch {
	case err == nil:
		if entry.Status == metadata.StatusDir {
			return nil, fmt.Errorf("path is a directory: %w", metadata.ErrInvalidArgument)
		}
		if entry.Owner != caller {
			return nil, fmt.Errorf("file %q owned by another user: %w", path, metadata.ErrForbidden)
		}
	case errors.Is(err, metadata.ErrNotFound):
		entry = &metadata.FileEntry{
			Path:      path,
			Owner:     caller,
			CreatedAt: time.Now().UTC(),
		}
	default:
		return nil, err
	}

	entry.Status = metadata.StatusIncomplete
	entry.Size = 0
	entry.BlockSize = blockSize
	entry.Blocks = make([]metadata.BlockDescriptor, 0, numBlocks)

	assignments := make([]protocol.BlockAssignment, 0, numBlocks)
	for i := 0; i < numBlocks; i++ {
		endpoint := registry.Pick(active, i)
		blockID := newBlockID(path, i)
		entry.Blocks = append(entry.Blocks, metadata.BlockDescriptor{
			Index:        i,
			BlockID:      blockID,
			NodeEndpoint: endpoint,
		})
		assignments = append(assignments, protocol.BlockAssignment{
			Index:    i,
			BlockID:  blockID,
			Endpoint: endpoint,
		})
	}

	if err := s.store.PutFile(ctx, entry); err != nil {
		return nil, fmt.Errorf("store allocation for %s: %w", path, err)
	}

	logging.Info("allocated blocks",
		zap.String("path", path),
		zap.String("owner", caller),
		zap.Int("num_blocks", numBlocks),
		zap.Int("active_nodes", len(active)))
	return assignments, nil
}

// Confirm marks one block slot present. It fails with ErrNotFound unless
// the exact (index, blockID) pair matches the current allocation, which
// guards against confirming a superseded slot. Replaying the same confirm
// is safe. When the last slot lands, the file flips to available with
// its total size in the same store write.
func (s *Service) Confirm(ctx context.Context, cred auth.Credential, path string, index int, blockID, endpoint string, size int64, checksum string) error {
	defer s.timeOp("confirm")()

	if _, err := s.verifier.Authenticate(ctx, cred); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.store.GetFile(ctx, path)
	if err != nil {
		return err
	}

	slot := -1
	for i := range entry.Blocks {
		if entry.Blocks[i].Index == index && entry.Blocks[i].BlockID == blockID {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("no slot (%d, %s) in current allocation of %q: %w",
			index, blockID, path, metadata.ErrNotFound)
	}

	entry.Blocks[slot].Present = true
	entry.Blocks[slot].Size = size
	entry.Blocks[slot].Checksum = checksum
	entry.Blocks[slot].NodeEndpoint = endpoint

	if entry.AllPresent() {
		entry.Status = metadata.StatusAvailable
		entry.Size = entry.TotalBlockSize()
	}

	if err := s.store.PutFile(ctx, entry); err != nil {
		return fmt.Errorf("store confirm for %s: %w", path, err)
	}

	if entry.Status == metadata.StatusAvailable {
		metrics.RecordFileAvailable()
		logging.Info("file available",
			zap.String("path", path),
			zap.Int64("size", entry.Size),
			zap.Int("blocks", len(entry.Blocks)))
	}
	return nil
}

// Metadata returns the full projection of path, block placement included.
// A non-owner gets ErrNotFound rather than a hint that the path exists.
func (s *Service) Metadata(ctx context.Context, cred auth.Credential, path string) (*metadata.FileEntry, error) {
	defer s.timeOp("metadata")()

	caller, err := s.verifier.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.Owner != caller {
		return nil, fmt.Errorf("file %q: %w", path, metadata.ErrNotFound)
	}
	return entry, nil
}

// List returns summaries of entries under prefix. With a credential the
// listing is restricted to the caller's entries; without one it is a
// bare namespace listing.
func (s *Service) List(ctx context.Context, cred auth.Credential, prefix string) ([]*metadata.FileEntry, error) {
	defer s.timeOp("list")()

	caller := ""
	if cred.Token != "" || cred.Username != "" {
		var err error
		caller, err = s.verifier.Authenticate(ctx, cred)
		if err != nil {
			return nil, err
		}
	}

	normalized := strings.TrimRight(prefix, "/") + "/"
	entries, err := s.store.ListFiles(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if caller == "" {
		return entries, nil
	}
	owned := entries[:0]
	for _, e := range entries {
		if e.Owner == caller {
			owned = append(owned, e)
		}
	}
	return owned, nil
}

// Delete removes a file. The metadata row goes away regardless of how
// the per-block cleanup fares; bytes on unreachable nodes are orphaned
// by design, not silently masked.
func (s *Service) Delete(ctx context.Context, cred auth.Credential, path string) error {
	defer s.timeOp("delete")()

	caller, err := s.verifier.Authenticate(ctx, cred)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, err := s.store.GetFile(ctx, path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if entry.Owner != caller {
		s.mu.Unlock()
		return fmt.Errorf("file %q owned by another user: %w", path, metadata.ErrForbidden)
	}
	if err := s.store.DeleteFile(ctx, path); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	// Remote cleanup happens outside the critical section: data-plane
	// calls must never extend metadata lock hold time.
	s.cleanupBlocks(ctx, entry)

	logging.Info("deleted file", zap.String("path", path), zap.String("owner", caller))
	return nil
}

// cleanupBlocks best-effort deletes every present block, each under its
// own bounded timeout. Failures are logged and counted, never surfaced.
func (s *Service) cleanupBlocks(ctx context.Context, entry *metadata.FileEntry) {
	for _, b := range entry.Blocks {
		if !b.Present {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.nodeTimeout)
		err := s.nodes.DeleteBlock(callCtx, b.NodeEndpoint, b.BlockID)
		cancel()
		if err != nil {
			metrics.RecordOrphanedBlock()
			logging.Warn("block cleanup failed, bytes orphaned",
				zap.String("path", entry.Path),
				zap.String("block_id", b.BlockID),
				zap.String("endpoint", b.NodeEndpoint),
				zap.Error(err))
		}
	}
}

// Mkdir inserts a zero-block directory marker. Repeating it is a no-op.
func (s *Service) Mkdir(ctx context.Context, cred auth.Credential, path string) error {
	defer s.timeOp("mkdir")()

	caller, err := s.verifier.Authenticate(ctx, cred)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with /: %w", metadata.ErrInvalidArgument)
	}
	path = strings.TrimRight(path, "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetFile(ctx, path)
	if err == nil {
		if existing.Status == metadata.StatusDir {
			return nil
		}
		return fmt.Errorf("path %q exists as a file: %w", path, metadata.ErrAlreadyExists)
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return err
	}

	return s.store.PutFile(ctx, &metadata.FileEntry{
		Path:      path,
		Owner:     caller,
		Status:    metadata.StatusDir,
		CreatedAt: time.Now().UTC(),
	})
}

// Rmdir deletes every entry under the directory via Delete, then the
// marker itself. One entry failing does not abort the rest; the returned
// slice reports what was actually removed. The prefix iteration runs
// outside the critical section, each Delete takes it on its own.
func (s *Service) Rmdir(ctx context.Context, cred auth.Credential, path string) ([]string, error) {
	defer s.timeOp("rmdir")()

	caller, err := s.verifier.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path must start with /: %w", metadata.ErrInvalidArgument)
	}
	path = strings.TrimRight(path, "/")

	marker, err := s.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if marker.Status != metadata.StatusDir {
		return nil, fmt.Errorf("path %q is not a directory: %w", path, metadata.ErrInvalidArgument)
	}
	if marker.Owner != caller {
		return nil, fmt.Errorf("directory %q owned by another user: %w", path, metadata.ErrForbidden)
	}

	entries, err := s.store.ListFiles(ctx, path+"/")
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if err := s.Delete(ctx, cred, e.Path); err != nil {
			logging.Warn("rmdir: entry not removed",
				zap.String("dir", path),
				zap.String("path", e.Path),
				zap.Error(err))
			continue
		}
		removed = append(removed, e.Path)
	}

	s.mu.Lock()
	err = s.store.DeleteFile(ctx, path)
	s.mu.Unlock()
	if err != nil {
		return removed, err
	}
	removed = append(removed, path)

	logging.Info("removed directory",
		zap.String("path", path),
		zap.Int("entries", len(removed)))
	return removed, nil
}

func (s *Service) timeOp(op string) func() {
	start := time.Now()
	return func() { metrics.RecordLedgerOp(op, time.Since(start)) }
}

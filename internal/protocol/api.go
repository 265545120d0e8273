// Package protocol defines the API request/response types shared by the
// coordinator, the block nodes, and the CLI client.
package protocol

import (
	"time"

	"github.com/griddfs/griddfs/internal/metadata"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Credential rides on every authenticated request body. Token replaces
// the username/password pair once the client has logged in.
type Credential struct {
	Username string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// RegisterUserRequest is the body for POST /api/v1/auth/register.
type RegisterUserRequest struct {
	Username string `json:"user"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /api/v1/auth/token.
type LoginResponse struct {
	Token string `json:"token"`
}

// RegisterNodeRequest is the body for POST /api/v1/nodes/register.
// Capacity and free are advisory; -1 means unknown.
type RegisterNodeRequest struct {
	Endpoint string `json:"datanode_url"`
	Capacity int64  `json:"capacity"`
	Free     int64  `json:"free"`
}

// RegisterNodeResponse acks a registration with the current fleet.
type RegisterNodeResponse struct {
	Endpoint string     `json:"datanode_url"`
	Nodes    []NodeInfo `json:"nodes"`
}

// HeartbeatRequest is the body for POST /api/v1/nodes/heartbeat.
type HeartbeatRequest struct {
	Endpoint string `json:"datanode_url"`
}

// NodeInfo describes one registered storage node.
type NodeInfo struct {
	Endpoint string    `json:"datanode_url"`
	Capacity int64     `json:"capacity"`
	Free     int64     `json:"free"`
	LastSeen time.Time `json:"last_seen"`
}

// NodeListResponse is returned by GET /api/v1/nodes.
type NodeListResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// AllocateRequest is the body for POST /api/v1/files/allocate.
type AllocateRequest struct {
	Credential
	Path      string `json:"path"`
	NumBlocks int    `json:"num_blocks"`
	BlockSize int64  `json:"block_size,omitempty"`
}

// BlockAssignment is one slot of an allocation: upload block Index to
// Endpoint under BlockID, then confirm.
type BlockAssignment struct {
	Index    int    `json:"block_index"`
	BlockID  string `json:"block_id"`
	Endpoint string `json:"datanode_url"`
}

// AllocateResponse is returned by POST /api/v1/files/allocate.
type AllocateResponse struct {
	Path       string            `json:"path"`
	Allocation []BlockAssignment `json:"allocation"`
}

// ConfirmRequest is the body for POST /api/v1/files/confirm.
type ConfirmRequest struct {
	Credential
	Path     string `json:"path"`
	Index    int    `json:"block_index"`
	BlockID  string `json:"block_id"`
	Endpoint string `json:"datanode_url"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// MetadataResponse is the full projection of a file entry, block
// placement included, so the caller can fan out reads.
type MetadataResponse struct {
	Path      string                     `json:"path"`
	Owner     string                     `json:"owner"`
	Size      int64                      `json:"size"`
	BlockSize int64                      `json:"block_size"`
	Status    string                     `json:"status"`
	CreatedAt time.Time                  `json:"created_at"`
	Blocks    []metadata.BlockDescriptor `json:"blocks"`
}

// FileSummary is one row of a listing.
type FileSummary struct {
	Path      string    `json:"path"`
	Owner     string    `json:"owner"`
	Size      int64     `json:"size"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ListResponse is returned by GET /api/v1/files.
type ListResponse struct {
	Entries []FileSummary `json:"entries"`
}

// DeleteResponse acks a single-file delete.
type DeleteResponse struct {
	Path string `json:"path"`
}

// MkdirRequest is the body for POST /api/v1/dirs.
type MkdirRequest struct {
	Credential
	Path string `json:"path"`
}

// RmdirResponse reports which entries a directory delete actually
// removed; individual block cleanups inside it are best effort.
type RmdirResponse struct {
	Path    string   `json:"path"`
	Removed []string `json:"removed"`
}

// StoreBlockResponse is returned by a block node after a write.
type StoreBlockResponse struct {
	BlockID  string `json:"block_id"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// BlockInfo is one row of a block node's local listing.
type BlockInfo struct {
	BlockID string `json:"block_id"`
	Size    int64  `json:"size"`
}

// BlockListResponse is returned by GET /blocks on a block node.
type BlockListResponse struct {
	Blocks []BlockInfo `json:"blocks"`
}

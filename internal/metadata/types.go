// Package metadata defines the namespace and block ledger model and the
// durable stores that back it.
package metadata

import "time"

// Status is the lifecycle tag of a file entry.
type Status string

const (
	// StatusIncomplete marks a file with at least one unconfirmed block.
	StatusIncomplete Status = "incomplete"
	// StatusAvailable marks a file whose every block has been confirmed.
	StatusAvailable Status = "available"
	// StatusDir marks a zero-block namespace marker. Terminal: a dir never
	// transitions to or from the file statuses.
	StatusDir Status = "dir"
)

// BlockDescriptor is one slot of a file's block list. It is created
// unconfirmed at allocation time and mutated exactly once by a matching
// confirm. The node endpoint is a non-owning reference: the node may drop
// out of the registry without invalidating the descriptor.
type BlockDescriptor struct {
	Index        int    `json:"block_index"`
	BlockID      string `json:"block_id"`
	NodeEndpoint string `json:"datanode_url"`
	Size         int64  `json:"size"`
	Checksum     string `json:"checksum"`
	Present      bool   `json:"present"`
}

// FileEntry is the authoritative record for one path. It exclusively owns
// its block list.
type FileEntry struct {
	Path      string            `json:"path"`
	Owner     string            `json:"owner"`
	Size      int64             `json:"size"`
	BlockSize int64             `json:"block_size"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Blocks    []BlockDescriptor `json:"blocks"`
}

// AllPresent reports whether every block slot has been confirmed.
func (f *FileEntry) AllPresent() bool {
	if len(f.Blocks) == 0 {
		return false
	}
	for _, b := range f.Blocks {
		if !b.Present {
			return false
		}
	}
	return true
}

// TotalBlockSize sums the confirmed sizes of all blocks.
func (f *FileEntry) TotalBlockSize() int64 {
	var total int64
	for _, b := range f.Blocks {
		total += b.Size
	}
	return total
}

// Node is a registered storage node. Capacity and Free are advisory and
// may be -1 when unknown. Seq preserves registration order across store
// engines.
type Node struct {
	Endpoint string    `json:"endpoint"`
	Capacity int64     `json:"capacity"`
	Free     int64     `json:"free"`
	Seq      uint64    `json:"seq"`
	LastSeen time.Time `json:"last_seen"`
}

// User is a stored credential. The hash is only ever read back for
// verification, never mutated.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

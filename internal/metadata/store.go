package metadata

import "context"

// Store is the durable backing store for the namespace, the node table,
// and credentials. Implementations must give row-level consistency: a
// reader never observes a half-written file entry. Serialization of
// read-modify-write cycles is the ledger's job, not the store's.
type Store interface {
	// PutFile inserts or replaces the entry for its path.
	PutFile(ctx context.Context, entry *FileEntry) error

	// GetFile returns the entry for path, or ErrNotFound.
	GetFile(ctx context.Context, path string) (*FileEntry, error)

	// DeleteFile removes the entry for path, or ErrNotFound.
	DeleteFile(ctx context.Context, path string) error

	// ListFiles returns entries whose path starts with prefix, sorted by
	// path. An empty prefix lists everything.
	ListFiles(ctx context.Context, prefix string) ([]*FileEntry, error)

	// PutNode inserts or updates a node by endpoint. The registration
	// sequence of an existing node is preserved.
	PutNode(ctx context.Context, node *Node) error

	// ListNodes returns all known nodes in registration order.
	ListNodes(ctx context.Context) ([]*Node, error)

	// CreateUser stores a new credential, or ErrAlreadyExists.
	CreateUser(ctx context.Context, username, passwordHash string) error

	// GetUser returns a stored credential, or ErrNotFound.
	GetUser(ctx context.Context, username string) (*User, error)

	Close() error
}

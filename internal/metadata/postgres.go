package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/logging"
)

// PostgresStore is a PostgreSQL metadata store. The block list is embedded
// in the files row as a JSONB column; registration order of nodes comes
// from a bigserial sequence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Migrate runs SQL migration files.
func (s *PostgresStore) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// PutFile inserts or replaces the entry for its path.
func (s *PostgresStore) PutFile(ctx context.Context, entry *FileEntry) error {
	blocks, err := json.Marshal(entry.Blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (path, owner, size, block_size, status, created_at, blocks)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (path) DO UPDATE
		 SET owner = $2, size = $3, block_size = $4, status = $5, blocks = $7`,
		entry.Path, entry.Owner, entry.Size, entry.BlockSize,
		string(entry.Status), entry.CreatedAt, blocks)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", entry.Path, err)
	}
	return nil
}

// GetFile returns the entry for path, or ErrNotFound.
func (s *PostgresStore) GetFile(ctx context.Context, path string) (*FileEntry, error) {
	var entry FileEntry
	var status string
	var blocks []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT path, owner, size, block_size, status, created_at, blocks
		 FROM files WHERE path = $1`, path).
		Scan(&entry.Path, &entry.Owner, &entry.Size, &entry.BlockSize,
			&status, &entry.CreatedAt, &blocks)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query file %s: %w", path, err)
	}

	entry.Status = Status(status)
	if err := json.Unmarshal(blocks, &entry.Blocks); err != nil {
		return nil, fmt.Errorf("decode blocks for %s: %w", path, err)
	}
	return &entry, nil
}

// DeleteFile removes the entry for path, or ErrNotFound.
func (s *PostgresStore) DeleteFile(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %q: %w", path, ErrNotFound)
	}
	return nil
}

// ListFiles returns entries whose path starts with prefix, sorted by path.
// The comparison is a literal starts-with, not a LIKE pattern: prefixes
// containing _ or % must not act as wildcards.
func (s *PostgresStore) ListFiles(ctx context.Context, prefix string) ([]*FileEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, owner, size, block_size, status, created_at, blocks
		 FROM files WHERE left(path, length($1)) = $1 ORDER BY path`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var entries []*FileEntry
	for rows.Next() {
		var entry FileEntry
		var status string
		var blocks []byte
		if err := rows.Scan(&entry.Path, &entry.Owner, &entry.Size, &entry.BlockSize,
			&status, &entry.CreatedAt, &blocks); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		entry.Status = Status(status)
		if err := json.Unmarshal(blocks, &entry.Blocks); err != nil {
			return nil, fmt.Errorf("decode blocks for %s: %w", entry.Path, err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// PutNode inserts or updates a node by endpoint. The seq column keeps
// registration order stable across updates.
func (s *PostgresStore) PutNode(ctx context.Context, node *Node) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO nodes (endpoint, capacity, free, last_seen)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (endpoint) DO UPDATE
		 SET capacity = $2, free = $3, last_seen = $4
		 RETURNING seq`,
		node.Endpoint, node.Capacity, node.Free, node.LastSeen).
		Scan(&node.Seq)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.Endpoint, err)
	}
	return nil
}

// ListNodes returns all known nodes in registration order.
func (s *PostgresStore) ListNodes(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, capacity, free, seq, last_seen FROM nodes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.Endpoint, &node.Capacity, &node.Free,
			&node.Seq, &node.LastSeen); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// CreateUser stores a new credential, or ErrAlreadyExists.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT (username) DO NOTHING`,
		username, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert user %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
	}
	return nil
}

// GetUser returns a stored credential, or ErrNotFound.
func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM users WHERE username = $1`,
		username).
		Scan(&user.Username, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", username, err)
	}
	return &user, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

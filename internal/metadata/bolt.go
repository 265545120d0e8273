package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	filesBucket = []byte("files")
	nodesBucket = []byte("nodes")
	usersBucket = []byte("users")
)

// BoltStore is an embedded metadata store on bbolt. Rows are JSON-encoded;
// the block list is serialized only at this boundary and handled as a
// first-class slice everywhere above it.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{filesBucket, nodesBucket, usersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// PutFile inserts or replaces the entry for its path.
func (s *BoltStore) PutFile(_ context.Context, entry *FileEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(filesBucket).Put([]byte(entry.Path), encoded)
	})
}

// GetFile returns the entry for path, or ErrNotFound.
func (s *BoltStore) GetFile(_ context.Context, path string) (*FileEntry, error) {
	var entry FileEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(filesBucket).Get([]byte(path))
		if data == nil {
			return fmt.Errorf("file %q: %w", path, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// DeleteFile removes the entry for path, or ErrNotFound.
func (s *BoltStore) DeleteFile(_ context.Context, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)
		if b.Get([]byte(path)) == nil {
			return fmt.Errorf("file %q: %w", path, ErrNotFound)
		}
		return b.Delete([]byte(path))
	})
}

// ListFiles returns entries whose path starts with prefix, sorted by path.
func (s *BoltStore) ListFiles(_ context.Context, prefix string) ([]*FileEntry, error) {
	var entries []*FileEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(filesBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var entry FileEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode file %q: %w", k, err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// PutNode inserts or updates a node by endpoint, preserving the
// registration sequence of existing entries.
func (s *BoltStore) PutNode(_ context.Context, node *Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		key := []byte(node.Endpoint)

		if data := b.Get(key); data != nil {
			var existing Node
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			node.Seq = existing.Seq
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			node.Seq = seq
		}

		encoded, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}

// ListNodes returns all known nodes in registration order.
func (s *BoltStore) ListNodes(_ context.Context) ([]*Node, error) {
	var nodes []*Node

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).ForEach(func(_, v []byte) error {
			var node Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Seq < nodes[j].Seq })
	return nodes, nil
}

// CreateUser stores a new credential, or ErrAlreadyExists.
func (s *BoltStore) CreateUser(_ context.Context, username, passwordHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		key := []byte(username)

		if b.Get(key) != nil {
			return fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
		}

		encoded, err := json.Marshal(&User{
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}

// GetUser returns a stored credential, or ErrNotFound.
func (s *BoltStore) GetUser(_ context.Context, username string) (*User, error) {
	var user User

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(username))
		if data == nil {
			return fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Close closes the underlying bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStore_FileLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &FileEntry{
		Path:      "/docs/report.pdf",
		Owner:     "alice",
		BlockSize: 64 * 1024,
		Status:    StatusIncomplete,
		CreatedAt: time.Now().UTC(),
		Blocks: []BlockDescriptor{
			{Index: 0, BlockID: "/docs/report.pdf__0__aa", NodeEndpoint: "http://n1:8001"},
			{Index: 1, BlockID: "/docs/report.pdf__1__bb", NodeEndpoint: "http://n2:8002"},
		},
	}
	require.NoError(t, store.PutFile(ctx, entry))

	got, err := store.GetFile(ctx, "/docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Len(t, got.Blocks, 2)
	assert.Equal(t, "/docs/report.pdf__1__bb", got.Blocks[1].BlockID)
	assert.False(t, got.Blocks[0].Present)

	// Replacing the entry overwrites the block list wholesale.
	entry.Blocks[0].Present = true
	entry.Blocks[0].Size = 100
	require.NoError(t, store.PutFile(ctx, entry))
	got, err = store.GetFile(ctx, "/docs/report.pdf")
	require.NoError(t, err)
	assert.True(t, got.Blocks[0].Present)
	assert.Equal(t, int64(100), got.Blocks[0].Size)

	require.NoError(t, store.DeleteFile(ctx, "/docs/report.pdf"))
	_, err = store.GetFile(ctx, "/docs/report.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_GetFileNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetFile(context.Background(), "/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteFile(context.Background(), "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_ListFilesByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"/a/one", "/a/two", "/b/three"} {
		require.NoError(t, store.PutFile(ctx, &FileEntry{Path: path, Owner: "alice"}))
	}

	entries, err := store.ListFiles(ctx, "/a/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/a/one", entries[0].Path)
	assert.Equal(t, "/a/two", entries[1].Path)

	entries, err = store.ListFiles(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = store.ListFiles(ctx, "/c/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBoltStore_ListFilesLiteralPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// _ and % are ordinary path characters, not wildcards.
	for _, path := range []string{"/user/my_docs/a", "/user/myxdocs/b", "/user/my%docs/c"} {
		require.NoError(t, store.PutFile(ctx, &FileEntry{Path: path, Owner: "alice"}))
	}

	entries, err := store.ListFiles(ctx, "/user/my_docs/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/user/my_docs/a", entries[0].Path)
}

func TestBoltStore_NodeSequenceStable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutNode(ctx, &Node{Endpoint: "http://n1:8001", LastSeen: time.Now()}))
	require.NoError(t, store.PutNode(ctx, &Node{Endpoint: "http://n2:8002", LastSeen: time.Now()}))

	// Updating n1 must not move it behind n2.
	require.NoError(t, store.PutNode(ctx, &Node{Endpoint: "http://n1:8001", LastSeen: time.Now()}))

	nodes, err := store.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "http://n1:8001", nodes[0].Endpoint)
	assert.Equal(t, "http://n2:8002", nodes[1].Endpoint)
	assert.Less(t, nodes[0].Seq, nodes[1].Seq)
}

func TestBoltStore_Users(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, "alice", "hash1"))

	err := store.CreateUser(ctx, "alice", "hash2")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	user, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash1", user.PasswordHash)

	_, err = store.GetUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileEntry_AllPresent(t *testing.T) {
	entry := &FileEntry{}
	assert.False(t, entry.AllPresent(), "zero blocks is never complete")

	entry.Blocks = []BlockDescriptor{
		{Index: 0, Present: true, Size: 10},
		{Index: 1, Present: false},
	}
	assert.False(t, entry.AllPresent())

	entry.Blocks[1].Present = true
	entry.Blocks[1].Size = 5
	assert.True(t, entry.AllPresent())
	assert.Equal(t, int64(15), entry.TotalBlockSize())
}

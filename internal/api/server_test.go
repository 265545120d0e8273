package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/griddfs/griddfs/internal/auth"
	"github.com/griddfs/griddfs/internal/blocknode"
	"github.com/griddfs/griddfs/internal/blockstore"
	"github.com/griddfs/griddfs/internal/client"
	"github.com/griddfs/griddfs/internal/config"
	"github.com/griddfs/griddfs/internal/ledger"
	"github.com/griddfs/griddfs/internal/metadata"
	"github.com/griddfs/griddfs/internal/protocol"
	"github.com/griddfs/griddfs/internal/registry"
)

// cluster is a coordinator plus a fleet of block nodes, all on httptest
// servers.
type cluster struct {
	coordinator *httptest.Server
	nodes       []*httptest.Server
	nodeDirs    []string
}

func newCluster(t *testing.T, numNodes int) *cluster {
	t.Helper()

	store, err := metadata.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := registry.New(store, time.Minute)
	verifier := auth.New(store, "test-secret")
	nodeClient := blocknode.NewClient(2 * time.Second)
	svc := ledger.New(store, reg, verifier, nodeClient, 2*time.Second)

	c := &cluster{
		coordinator: httptest.NewServer(NewServer(svc, reg, verifier).Handler()),
	}
	t.Cleanup(c.coordinator.Close)

	for i := 0; i < numNodes; i++ {
		dir := t.TempDir()
		bs, err := blockstore.NewDiskStore(dir)
		if err != nil {
			t.Fatalf("create block store: %v", err)
		}
		ns := httptest.NewServer(blocknode.NewServer(bs).Handler())
		t.Cleanup(ns.Close)
		c.nodes = append(c.nodes, ns)
		c.nodeDirs = append(c.nodeDirs, dir)

		c.postJSON(t, "/api/v1/nodes/register", protocol.RegisterNodeRequest{
			Endpoint: ns.URL,
			Capacity: 1 << 30,
			Free:     1 << 30,
		}, nil, http.StatusOK)
	}
	return c
}

func (c *cluster) postJSON(t *testing.T, path string, body, out any, wantStatus int) {
	t.Helper()

	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := http.Post(c.coordinator.URL+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != wantStatus {
		var apiErr protocol.ErrorResponse
		json.NewDecoder(res.Body).Decode(&apiErr)
		t.Fatalf("POST %s: expected %d, got %d (%s)", path, wantStatus, res.StatusCode, apiErr.Error)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s: %v", path, err)
		}
	}
}

func (c *cluster) registerUser(t *testing.T, username, password string) protocol.Credential {
	t.Helper()
	c.postJSON(t, "/api/v1/auth/register",
		protocol.RegisterUserRequest{Username: username, Password: password}, nil, http.StatusOK)
	return protocol.Credential{Username: username, Password: password}
}

func (c *cluster) metadata(t *testing.T, cred protocol.Credential, path string) (*protocol.MetadataResponse, int) {
	t.Helper()

	u := c.coordinator.URL + "/api/v1/files/metadata?path=" + url.QueryEscape(path) +
		"&user=" + url.QueryEscape(cred.Username) + "&password=" + url.QueryEscape(cred.Password)
	res, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET metadata: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, res.StatusCode
	}
	var meta protocol.MetadataResponse
	if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return &meta, res.StatusCode
}

func (c *cluster) client(blockSize int64) *client.Client {
	return client.New(&config.Client{
		CoordinatorURL: c.coordinator.URL,
		BlockSize:      blockSize,
		NodeTimeout:    2 * time.Second,
	})
}

// Scenario: one node, three blocks confirmed with distinct sizes. The
// file flips to available with the summed size.
func TestConfirmAllBlocks_FileBecomesAvailable(t *testing.T) {
	c := newCluster(t, 1)
	cred := c.registerUser(t, "alice", "pw")

	var alloc protocol.AllocateResponse
	c.postJSON(t, "/api/v1/files/allocate", protocol.AllocateRequest{
		Credential: cred,
		Path:       "/user/alice/report.txt",
		NumBlocks:  3,
	}, &alloc, http.StatusOK)
	if len(alloc.Allocation) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(alloc.Allocation))
	}

	sizes := []int64{10, 20, 30}
	for i, a := range alloc.Allocation {
		c.postJSON(t, "/api/v1/files/confirm", protocol.ConfirmRequest{
			Credential: cred,
			Path:       "/user/alice/report.txt",
			Index:      a.Index,
			BlockID:    a.BlockID,
			Endpoint:   a.Endpoint,
			Size:       sizes[i],
			Checksum:   fmt.Sprintf("sum-%d", i),
		}, nil, http.StatusOK)
	}

	meta, status := c.metadata(t, cred, "/user/alice/report.txt")
	if status != http.StatusOK {
		t.Fatalf("metadata: status %d", status)
	}
	if meta.Status != "available" {
		t.Errorf("expected available, got %s", meta.Status)
	}
	if meta.Size != 60 {
		t.Errorf("expected total size 60, got %d", meta.Size)
	}
}

// Scenario: no nodes registered. Allocation fails 503 and leaves no
// file entry behind.
func TestAllocate_NoNodes_NoEntryCreated(t *testing.T) {
	c := newCluster(t, 0)
	cred := c.registerUser(t, "alice", "pw")

	encoded, _ := json.Marshal(protocol.AllocateRequest{
		Credential: cred,
		Path:       "/f",
		NumBlocks:  2,
	})
	res, err := http.Post(c.coordinator.URL+"/api/v1/files/allocate", "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("POST allocate: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.StatusCode)
	}

	if _, status := c.metadata(t, cred, "/f"); status != http.StatusNotFound {
		t.Fatalf("expected no entry (404), got %d", status)
	}
}

// Scenario: confirming with a block id that is not part of the current
// allocation fails 404 and changes nothing.
func TestConfirm_StaleBlockID(t *testing.T) {
	c := newCluster(t, 1)
	cred := c.registerUser(t, "alice", "pw")

	var alloc protocol.AllocateResponse
	c.postJSON(t, "/api/v1/files/allocate", protocol.AllocateRequest{
		Credential: cred,
		Path:       "/f",
		NumBlocks:  1,
	}, &alloc, http.StatusOK)

	encoded, _ := json.Marshal(protocol.ConfirmRequest{
		Credential: cred,
		Path:       "/f",
		Index:      0,
		BlockID:    "stale-id",
		Size:       10,
	})
	res, err := http.Post(c.coordinator.URL+"/api/v1/files/confirm", "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("POST confirm: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	meta, _ := c.metadata(t, cred, "/f")
	if meta.Status != "incomplete" {
		t.Errorf("expected state unchanged (incomplete), got %s", meta.Status)
	}
}

// Scenario: rmdir with an unreachable block node. The metadata rows go
// away and the response reports what was removed; the bytes are
// orphaned.
func TestRmdir_UnreachableNode(t *testing.T) {
	c := newCluster(t, 1)
	cred := c.registerUser(t, "alice", "pw")
	dfs := c.client(16)
	dfs.SetCredential("alice", "pw")
	ctx := context.Background()

	if err := dfs.Mkdir(ctx, "/user/alice/docs"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	local := filepath.Join(t.TempDir(), "in.bin")
	if err := os.WriteFile(local, []byte("0123456789abcdef0123"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := dfs.Put(ctx, local, "/user/alice/docs/in.bin"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Kill the only block node; its blocks become unreachable.
	c.nodes[0].Close()

	removed, err := dfs.Rmdir(ctx, "/user/alice/docs")
	if err != nil {
		t.Fatalf("rmdir: %v", err)
	}
	want := map[string]bool{"/user/alice/docs/in.bin": true, "/user/alice/docs": true}
	if len(removed) != len(want) {
		t.Fatalf("expected %d removed entries, got %v", len(want), removed)
	}
	for _, p := range removed {
		if !want[p] {
			t.Errorf("unexpected removed entry %s", p)
		}
	}

	if _, status := c.metadata(t, cred, "/user/alice/docs/in.bin"); status != http.StatusNotFound {
		t.Errorf("expected file row gone, got %d", status)
	}
	if _, status := c.metadata(t, cred, "/user/alice/docs"); status != http.StatusNotFound {
		t.Errorf("expected dir row gone, got %d", status)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	c := newCluster(t, 2)
	c.registerUser(t, "alice", "pw")

	dfs := c.client(64)
	dfs.SetCredential("alice", "pw")
	ctx := context.Background()

	// 150 bytes at block size 64: three blocks, last one short.
	content := bytes.Repeat([]byte("0123456789"), 15)
	local := filepath.Join(t.TempDir(), "in.bin")
	if err := os.WriteFile(local, content, 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if err := dfs.Put(ctx, local, "/user/alice/data.bin"); err != nil {
		t.Fatalf("put: %v", err)
	}

	meta, err := dfs.Metadata(ctx, "/user/alice/data.bin")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Status != "available" {
		t.Fatalf("expected available, got %s", meta.Status)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), meta.Size)
	}
	if len(meta.Blocks) != 3 {
		t.Errorf("expected 3 blocks, got %d", len(meta.Blocks))
	}

	out := filepath.Join(t.TempDir(), "out.bin")
	if err := dfs.Get(ctx, "/user/alice/data.bin", out); err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch: %d bytes in, %d bytes out", len(content), len(got))
	}
}

func TestGet_DetectsCorruptedBlock(t *testing.T) {
	c := newCluster(t, 1)
	c.registerUser(t, "alice", "pw")

	dfs := c.client(64)
	dfs.SetCredential("alice", "pw")
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "in.bin")
	if err := os.WriteFile(local, []byte("precious data"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := dfs.Put(ctx, local, "/f"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Flip the stored bytes behind the node's back.
	entries, err := os.ReadDir(c.nodeDirs[0])
	if err != nil {
		t.Fatalf("read node dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stored block, got %d", len(entries))
	}
	corrupted := filepath.Join(c.nodeDirs[0], entries[0].Name())
	if err := os.WriteFile(corrupted, []byte("precious d4ta"), 0644); err != nil {
		t.Fatalf("corrupt block: %v", err)
	}

	err = dfs.Get(ctx, "/f", filepath.Join(t.TempDir(), "out.bin"))
	if !errors.Is(err, client.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
}

func TestTokenLoginFlow(t *testing.T) {
	c := newCluster(t, 1)
	c.registerUser(t, "alice", "pw")

	dfs := c.client(64)
	if _, err := dfs.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Token-authenticated mutation.
	if err := dfs.Mkdir(context.Background(), "/tokens-work"); err != nil {
		t.Fatalf("mkdir with token: %v", err)
	}

	bad := c.client(64)
	if _, err := bad.Login(context.Background(), "alice", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
}

func TestOwnership_ErrorMapping(t *testing.T) {
	c := newCluster(t, 1)
	alice := c.registerUser(t, "alice", "pw-a")
	c.registerUser(t, "bob", "pw-b")

	var alloc protocol.AllocateResponse
	c.postJSON(t, "/api/v1/files/allocate", protocol.AllocateRequest{
		Credential: alice,
		Path:       "/private",
		NumBlocks:  1,
	}, &alloc, http.StatusOK)

	// Metadata by a non-owner does not reveal the path exists.
	bob := protocol.Credential{Username: "bob", Password: "pw-b"}
	if _, status := c.metadata(t, bob, "/private"); status != http.StatusNotFound {
		t.Errorf("expected 404 for non-owner metadata, got %d", status)
	}

	// Delete by a non-owner is forbidden.
	req, _ := http.NewRequest(http.MethodDelete,
		c.coordinator.URL+"/api/v1/files?path=/private&user=bob&password=pw-b", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner delete, got %d", res.StatusCode)
	}

	// Garbage credentials are unauthorized.
	encoded, _ := json.Marshal(protocol.AllocateRequest{
		Credential: protocol.Credential{Username: "alice", Password: "wrong"},
		Path:       "/x",
		NumBlocks:  1,
	})
	res, err = http.Post(c.coordinator.URL+"/api/v1/files/allocate", "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("POST allocate: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", res.StatusCode)
	}
}

func TestNodeEndpoints(t *testing.T) {
	c := newCluster(t, 2)

	res, err := http.Get(c.coordinator.URL + "/api/v1/nodes")
	if err != nil {
		t.Fatalf("GET nodes: %v", err)
	}
	defer res.Body.Close()

	var list protocol.NodeListResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(list.Nodes))
	}

	c.postJSON(t, "/api/v1/nodes/heartbeat",
		protocol.HeartbeatRequest{Endpoint: list.Nodes[0].Endpoint}, nil, http.StatusOK)
}

func TestList_Files(t *testing.T) {
	c := newCluster(t, 1)
	cred := c.registerUser(t, "alice", "pw")

	for _, p := range []string{"/a/one", "/a/two"} {
		c.postJSON(t, "/api/v1/files/allocate", protocol.AllocateRequest{
			Credential: cred,
			Path:       p,
			NumBlocks:  1,
		}, nil, http.StatusOK)
	}

	res, err := http.Get(c.coordinator.URL + "/api/v1/files?prefix=/a&user=alice&password=pw")
	if err != nil {
		t.Fatalf("GET files: %v", err)
	}
	defer res.Body.Close()

	var list protocol.ListResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list.Entries))
	}
	for _, e := range list.Entries {
		if e.Status != "incomplete" {
			t.Errorf("expected incomplete, got %s for %s", e.Status, e.Path)
		}
	}
}

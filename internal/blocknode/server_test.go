package blocknode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/griddfs/griddfs/internal/blockstore"
	"github.com/griddfs/griddfs/internal/protocol"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := blockstore.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ts := httptest.NewServer(NewServer(store).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestStoreAndGetBlock(t *testing.T) {
	ts := testServer(t)
	c := NewClient(5 * time.Second)
	ctx := context.Background()
	content := []byte("block payload bytes")

	stat, err := c.StoreBlock(ctx, ts.URL, "f__0__aa", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if stat.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), stat.Size)
	}
	if want := blockstore.Checksum(content); stat.Checksum != want {
		t.Errorf("expected checksum %s, got %s", want, stat.Checksum)
	}

	rc, err := c.GetBlock(ctx, ts.URL, "f__0__aa")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestGetBlock_NotFound(t *testing.T) {
	ts := testServer(t)

	res, err := http.Get(ts.URL + "/blocks/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	var apiErr protocol.ErrorResponse
	if err := json.NewDecoder(res.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Code != http.StatusNotFound {
		t.Errorf("expected code 404 in body, got %d", apiErr.Code)
	}
}

func TestDeleteBlock(t *testing.T) {
	ts := testServer(t)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	if _, err := c.StoreBlock(ctx, ts.URL, "b1", strings.NewReader("data")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := c.DeleteBlock(ctx, ts.URL, "b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting an absent block still succeeds.
	if err := c.DeleteBlock(ctx, ts.URL, "b1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if _, err := c.GetBlock(ctx, ts.URL, "b1"); err == nil {
		t.Error("expected error fetching deleted block")
	}
}

func TestListBlocks(t *testing.T) {
	ts := testServer(t)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		if _, err := c.StoreBlock(ctx, ts.URL, id, strings.NewReader("x")); err != nil {
			t.Fatalf("store %s: %v", id, err)
		}
	}

	blocks, err := c.ListBlocks(ctx, ts.URL)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
}

func TestHealth(t *testing.T) {
	ts := testServer(t)

	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["store"] != "disk" {
		t.Errorf("expected disk store, got %q", body["store"])
	}
}

func TestStoreBlock_EscapedID(t *testing.T) {
	ts := testServer(t)
	c := NewClient(5 * time.Second)
	ctx := context.Background()

	// IDs carry the file path; slashes must survive the round trip.
	id := "/docs/a.txt__0__ff"
	if _, err := c.StoreBlock(ctx, ts.URL, id, strings.NewReader("data")); err != nil {
		t.Fatalf("store: %v", err)
	}
	rc, err := c.GetBlock(ctx, ts.URL, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rc.Close()
}

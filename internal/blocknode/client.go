package blocknode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/griddfs/griddfs/internal/protocol"
)

// Client talks to block-node RPCs. The coordinator uses it for
// best-effort cleanup; the CLI uses it for the bulk transfers.
type Client struct {
	http *http.Client
}

// NewClient creates a client with a bounded per-call timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

func blockURL(endpoint, blockID string) string {
	return strings.TrimRight(endpoint, "/") + "/blocks/" + url.PathEscape(blockID)
}

// StoreBlock uploads block content and returns the node's size/checksum
// report.
func (c *Client) StoreBlock(ctx context.Context, endpoint, blockID string, r io.Reader) (protocol.StoreBlockResponse, error) {
	var resp protocol.StoreBlockResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, blockURL(endpoint, blockID), r)
	if err != nil {
		return resp, fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	res, err := c.http.Do(req)
	if err != nil {
		return resp, fmt.Errorf("store block %s on %s: %w", blockID, endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("store block %s on %s: status %d", blockID, endpoint, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode store response: %w", err)
	}
	return resp, nil
}

// GetBlock streams a block from a node. The caller must close the reader.
func (c *Client) GetBlock(ctx context.Context, endpoint, blockID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blockURL(endpoint, blockID), nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get block %s from %s: %w", blockID, endpoint, err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("get block %s from %s: status %d", blockID, endpoint, res.StatusCode)
	}
	return res.Body, nil
}

// DeleteBlock asks a node to drop a block.
func (c *Client) DeleteBlock(ctx context.Context, endpoint, blockID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, blockURL(endpoint, blockID), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete block %s on %s: %w", blockID, endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("delete block %s on %s: status %d", blockID, endpoint, res.StatusCode)
	}
	return nil
}

// ListBlocks fetches a node's local block listing.
func (c *Client) ListBlocks(ctx context.Context, endpoint string) ([]protocol.BlockInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(endpoint, "/")+"/blocks", nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list blocks on %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list blocks on %s: status %d", endpoint, res.StatusCode)
	}

	var resp protocol.BlockListResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return resp.Blocks, nil
}

// Package client implements the coordinator-facing client used by the
// dfs command line tool: it runs the allocate → store → confirm write
// protocol and reassembles files on read.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/griddfs/griddfs/internal/blocknode"
	"github.com/griddfs/griddfs/internal/config"
	"github.com/griddfs/griddfs/internal/protocol"
)

// ErrDataCorruption is returned when a fetched block's bytes do not hash
// to the checksum recorded at confirm time. With a single placement per
// block there is no replica to fall back to; the caller only gets the
// signal.
var ErrDataCorruption = errors.New("block checksum mismatch")

// Client talks to one coordinator and to whatever block nodes it assigns.
type Client struct {
	base      string
	blockSize int64

	http  *http.Client
	nodes *blocknode.Client

	cred protocol.Credential
}

// New creates a client from CLI configuration.
func New(cfg *config.Client) *Client {
	return &Client{
		base:      strings.TrimRight(cfg.CoordinatorURL, "/"),
		blockSize: cfg.BlockSize,
		http:      &http.Client{},
		nodes:     blocknode.NewClient(cfg.NodeTimeout),
	}
}

// SetCredential sets the username/password pair sent with each call.
func (c *Client) SetCredential(username, password string) {
	c.cred = protocol.Credential{Username: username, Password: password}
}

// SetToken switches the client to bearer-token auth.
func (c *Client) SetToken(token string) {
	c.cred = protocol.Credential{Token: token}
}

// Register creates a credential on the coordinator.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.post(ctx, "/api/v1/auth/register",
		protocol.RegisterUserRequest{Username: username, Password: password}, nil)
}

// Login trades the pair for a bearer token and installs it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp protocol.LoginResponse
	err := c.post(ctx, "/api/v1/auth/token",
		protocol.RegisterUserRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return "", err
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Put splits a local file into fixed blocks, allocates slots for them,
// streams each block to its assigned node, and confirms every slot.
func (c *Client) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("refusing to upload empty file %s", localPath)
	}
	numBlocks := int((info.Size() + c.blockSize - 1) / c.blockSize)

	var alloc protocol.AllocateResponse
	err = c.post(ctx, "/api/v1/files/allocate", protocol.AllocateRequest{
		Credential: c.cred,
		Path:       remotePath,
		NumBlocks:  numBlocks,
		BlockSize:  c.blockSize,
	}, &alloc)
	if err != nil {
		return err
	}

	// Assignments come back in slot order; consume the file sequentially.
	for _, a := range alloc.Allocation {
		stat, err := c.nodes.StoreBlock(ctx, a.Endpoint, a.BlockID,
			io.LimitReader(f, c.blockSize))
		if err != nil {
			return fmt.Errorf("upload block %d: %w", a.Index, err)
		}

		err = c.post(ctx, "/api/v1/files/confirm", protocol.ConfirmRequest{
			Credential: c.cred,
			Path:       remotePath,
			Index:      a.Index,
			BlockID:    a.BlockID,
			Endpoint:   a.Endpoint,
			Size:       stat.Size,
			Checksum:   stat.Checksum,
		}, nil)
		if err != nil {
			return fmt.Errorf("confirm block %d: %w", a.Index, err)
		}
	}

	return nil
}

// Get fetches metadata and reassembles the file block by block,
// verifying each block's checksum end to end.
func (c *Client) Get(ctx context.Context, remotePath, outPath string) error {
	meta, err := c.Metadata(ctx, remotePath)
	if err != nil {
		return err
	}
	if meta.Status != "available" {
		return fmt.Errorf("file %s is not available yet (status=%s)", remotePath, meta.Status)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	for _, b := range meta.Blocks {
		if err := c.fetchBlock(ctx, b.NodeEndpoint, b.BlockID, b.Checksum, out); err != nil {
			return fmt.Errorf("block %d: %w", b.Index, err)
		}
	}
	return nil
}

func (c *Client) fetchBlock(ctx context.Context, endpoint, blockID, want string, out io.Writer) error {
	rc, err := c.nodes.GetBlock(ctx, endpoint, blockID)
	if err != nil {
		return err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), rc); err != nil {
		return fmt.Errorf("stream block: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrDataCorruption, want, got)
	}
	return nil
}

// Metadata returns the coordinator's projection of a file.
func (c *Client) Metadata(ctx context.Context, remotePath string) (*protocol.MetadataResponse, error) {
	var resp protocol.MetadataResponse
	err := c.get(ctx, "/api/v1/files/metadata?path="+url.QueryEscape(remotePath), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns the entries under a prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]protocol.FileSummary, error) {
	var resp protocol.ListResponse
	err := c.get(ctx, "/api/v1/files?prefix="+url.QueryEscape(prefix), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Delete removes a file.
func (c *Client) Delete(ctx context.Context, remotePath string) error {
	return c.del(ctx, "/api/v1/files?path="+url.QueryEscape(remotePath))
}

// Mkdir creates a directory marker.
func (c *Client) Mkdir(ctx context.Context, remotePath string) error {
	return c.post(ctx, "/api/v1/dirs", protocol.MkdirRequest{
		Credential: c.cred,
		Path:       remotePath,
	}, nil)
}

// Rmdir removes a directory and everything under it, reporting what was
// actually removed.
func (c *Client) Rmdir(ctx context.Context, remotePath string) ([]string, error) {
	var resp protocol.RmdirResponse
	err := c.delInto(ctx, "/api/v1/dirs?path="+url.QueryEscape(remotePath), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Removed, nil
}

// Nodes lists the registered storage fleet.
func (c *Client) Nodes(ctx context.Context) ([]protocol.NodeInfo, error) {
	var resp protocol.NodeListResponse
	if err := c.get(ctx, "/api/v1/nodes", &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.withCred(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) del(ctx context.Context, path string) error {
	return c.delInto(ctx, path, nil)
}

func (c *Client) delInto(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+c.withCred(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// withCred appends the username/password credential to query-parameter
// calls; token auth goes in the Authorization header instead.
func (c *Client) withCred(path string) string {
	if c.cred.Token != "" || c.cred.Username == "" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "user=" + url.QueryEscape(c.cred.Username) +
		"&password=" + url.QueryEscape(c.cred.Password)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cred.Token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var apiErr protocol.ErrorResponse
		if json.NewDecoder(res.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", res.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, res.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

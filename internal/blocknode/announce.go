package blocknode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/protocol"
)

// registerTimeout bounds a single registration or heartbeat call.
const registerTimeout = 3 * time.Second

// Announcer registers a node with the coordinator on startup and keeps it
// inside the liveness window with periodic heartbeats.
type Announcer struct {
	coordinatorURL string
	endpoint       string
	capacity       int64
	free           int64
	interval       time.Duration

	http *http.Client
}

// NewAnnouncer creates an announcer for the given self endpoint.
func NewAnnouncer(coordinatorURL, endpoint string, capacity, free int64, interval time.Duration) *Announcer {
	return &Announcer{
		coordinatorURL: strings.TrimRight(coordinatorURL, "/"),
		endpoint:       endpoint,
		capacity:       capacity,
		free:           free,
		interval:       interval,
		http:           &http.Client{Timeout: registerTimeout},
	}
}

// Register announces the node once. A failure is returned but is not
// fatal to the node: the next heartbeat registers leniently anyway.
func (a *Announcer) Register(ctx context.Context) error {
	return a.post(ctx, "/api/v1/nodes/register", protocol.RegisterNodeRequest{
		Endpoint: a.endpoint,
		Capacity: a.capacity,
		Free:     a.free,
	})
}

// Run registers and then heartbeats until the context is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	if err := a.Register(ctx); err != nil {
		logging.Warn("initial registration failed", zap.Error(err))
	} else {
		logging.Info("registered with coordinator",
			zap.String("coordinator", a.coordinatorURL),
			zap.String("endpoint", a.endpoint))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.post(ctx, "/api/v1/nodes/heartbeat", protocol.HeartbeatRequest{
				Endpoint: a.endpoint,
			})
			if err != nil {
				logging.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (a *Announcer) post(ctx context.Context, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.coordinatorURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, res.StatusCode)
	}
	return nil
}

// Package registry tracks storage nodes and derives the active subset
// used for block placement.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/griddfs/griddfs/internal/metadata"
	"github.com/griddfs/griddfs/internal/metrics"
)

// Registry is the coordinator's view of the storage-node fleet. Nodes are
// never deleted; they fall out of the active set once silent for longer
// than the liveness window and come straight back on the next heartbeat.
type Registry struct {
	store  metadata.Store
	window time.Duration

	now func() time.Time // overridable in tests
}

// New creates a registry over the given store with the given liveness
// window.
func New(store metadata.Store, window time.Duration) *Registry {
	return &Registry{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// Register inserts or refreshes a node by endpoint and stamps its
// last-seen time. Capacity and free are advisory; pass -1 when unknown.
func (r *Registry) Register(ctx context.Context, endpoint string, capacity, free int64) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint required: %w", metadata.ErrInvalidArgument)
	}
	return r.store.PutNode(ctx, &metadata.Node{
		Endpoint: endpoint,
		Capacity: capacity,
		Free:     free,
		LastSeen: r.now().UTC(),
	})
}

// Heartbeat stamps last-seen for a node. Unknown endpoints are registered
// on the spot rather than rejected (lenient policy): a node that restarts
// faster than the coordinator should not be locked out of the fleet.
func (r *Registry) Heartbeat(ctx context.Context, endpoint string) error {
	metrics.RecordHeartbeat()

	node, err := r.find(ctx, endpoint)
	if err != nil {
		return err
	}
	if node == nil {
		return r.Register(ctx, endpoint, -1, -1)
	}

	node.LastSeen = r.now().UTC()
	return r.store.PutNode(ctx, node)
}

// List returns every known node in registration order, live or not.
func (r *Registry) List(ctx context.Context) ([]*metadata.Node, error) {
	return r.store.ListNodes(ctx)
}

// Active returns the endpoints of nodes heard from within the liveness
// window, in registration order. An empty result is not an error; callers
// deciding placement must treat it as service-unavailable.
func (r *Registry) Active(ctx context.Context) ([]string, error) {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.window)
	var active []string
	for _, n := range nodes {
		if n.LastSeen.After(cutoff) {
			active = append(active, n.Endpoint)
		}
	}

	metrics.SetActiveNodes(len(active))
	return active, nil
}

// Pick assigns the i-th block slot round-robin over the active set.
func Pick(active []string, index int) string {
	return active[index%len(active)]
}

func (r *Registry) find(ctx context.Context, endpoint string) (*metadata.Node, error) {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Endpoint == endpoint {
			return n, nil
		}
	}
	return nil, nil
}

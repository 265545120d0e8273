package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/griddfs/griddfs/internal/metadata"
)

func testRegistry(t *testing.T, window time.Duration) (*Registry, *time.Time) {
	t.Helper()

	store, err := metadata.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := New(store, window)
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestRegister_RequiresEndpoint(t *testing.T) {
	r, _ := testRegistry(t, time.Minute)

	err := r.Register(context.Background(), "", 100, 50)
	if !errors.Is(err, metadata.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestActive_FiltersByLivenessWindow(t *testing.T) {
	r, clock := testRegistry(t, time.Minute)
	ctx := context.Background()

	if err := r.Register(ctx, "http://n1:8001", -1, -1); err != nil {
		t.Fatalf("register n1: %v", err)
	}
	if err := r.Register(ctx, "http://n2:8002", -1, -1); err != nil {
		t.Fatalf("register n2: %v", err)
	}

	active, err := r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active nodes, got %d", len(active))
	}

	// n1 goes silent past the window, n2 keeps heartbeating.
	*clock = clock.Add(45 * time.Second)
	if err := r.Heartbeat(ctx, "http://n2:8002"); err != nil {
		t.Fatalf("heartbeat n2: %v", err)
	}
	*clock = clock.Add(30 * time.Second)

	active, err = r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0] != "http://n2:8002" {
		t.Fatalf("expected only n2 active, got %v", active)
	}

	// All known nodes stay listed regardless of liveness.
	nodes, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 known nodes, got %d", len(nodes))
	}
}

func TestHeartbeat_ReactivatesSilentNode(t *testing.T) {
	r, clock := testRegistry(t, time.Minute)
	ctx := context.Background()

	if err := r.Register(ctx, "http://n1:8001", -1, -1); err != nil {
		t.Fatalf("register: %v", err)
	}

	*clock = clock.Add(2 * time.Minute)
	if active, _ := r.Active(ctx); len(active) != 0 {
		t.Fatalf("expected no active nodes, got %v", active)
	}

	if err := r.Heartbeat(ctx, "http://n1:8001"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	active, err := r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected node back in active set, got %v", active)
	}
}

func TestHeartbeat_UnknownNodeAutoRegisters(t *testing.T) {
	r, _ := testRegistry(t, time.Minute)
	ctx := context.Background()

	if err := r.Heartbeat(ctx, "http://stranger:9000"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	active, err := r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0] != "http://stranger:9000" {
		t.Fatalf("expected auto-registered node, got %v", active)
	}
}

func TestActive_RegistrationOrderSurvivesHeartbeats(t *testing.T) {
	r, _ := testRegistry(t, time.Minute)
	ctx := context.Background()

	endpoints := []string{"http://a:1", "http://b:2", "http://c:3"}
	for _, ep := range endpoints {
		if err := r.Register(ctx, ep, -1, -1); err != nil {
			t.Fatalf("register %s: %v", ep, err)
		}
	}

	// Heartbeats out of order must not reorder the active set.
	for _, ep := range []string{"http://c:3", "http://a:1", "http://b:2"} {
		if err := r.Heartbeat(ctx, ep); err != nil {
			t.Fatalf("heartbeat %s: %v", ep, err)
		}
	}

	active, err := r.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	for i, ep := range endpoints {
		if active[i] != ep {
			t.Fatalf("expected order %v, got %v", endpoints, active)
		}
	}
}

func TestPick_RoundRobin(t *testing.T) {
	active := []string{"http://a:1", "http://b:2", "http://c:3"}

	want := []string{
		"http://a:1", "http://b:2", "http://c:3",
		"http://a:1", "http://b:2",
	}
	for i, w := range want {
		if got := Pick(active, i); got != w {
			t.Errorf("Pick(%d) = %s, want %s", i, got, w)
		}
	}
}

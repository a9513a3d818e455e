package reaper_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"forgequeue/pkg/reaper"
	"forgequeue/pkg/store"
)

type countingStore struct {
	store.Store
	reenqueues int32
	vacuums    int32
}

func (c *countingStore) ReenqueueOrphaned(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	atomic.AddInt32(&c.reenqueues, 1)
	return 0, nil
}

func (c *countingStore) Vacuum(ctx context.Context, namespace string) (int, error) {
	atomic.AddInt32(&c.vacuums, 1)
	return 0, nil
}

type alwaysLeaderElection struct{ id string }

func (e *alwaysLeaderElection) Campaign(ctx context.Context, value string) error { return nil }
func (e *alwaysLeaderElection) Resign(ctx context.Context) error                 { return nil }
func (e *alwaysLeaderElection) Leader(ctx context.Context) (string, error)       { return e.id, nil }

type neverLeaderElection struct{}

func (e *neverLeaderElection) Campaign(ctx context.Context, value string) error { return nil }
func (e *neverLeaderElection) Resign(ctx context.Context) error                 { return nil }
func (e *neverLeaderElection) Leader(ctx context.Context) (string, error)       { return "someone-else", nil }

func TestReaperTicksWhenLeader(t *testing.T) {
	cs := &countingStore{}
	r := reaper.New(cs, "ns", &alwaysLeaderElection{id: "node-1"}, reaper.Config{
		Interval: 10 * time.Millisecond, OrphanAfter: time.Minute, NodeID: "node-1",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if atomic.LoadInt32(&cs.reenqueues) < 2 {
		t.Fatalf("expected multiple reenqueue ticks, got %d", cs.reenqueues)
	}
	if atomic.LoadInt32(&cs.vacuums) < 2 {
		t.Fatalf("expected multiple vacuum ticks, got %d", cs.vacuums)
	}
}

func TestReaperSkipsWhenNotLeader(t *testing.T) {
	cs := &countingStore{}
	r := reaper.New(cs, "ns", &neverLeaderElection{}, reaper.Config{
		Interval: 10 * time.Millisecond, OrphanAfter: time.Minute, NodeID: "node-1",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if atomic.LoadInt32(&cs.reenqueues) != 0 {
		t.Fatalf("expected no reenqueue ticks when not leader, got %d", cs.reenqueues)
	}
}

func TestReaperRunsUngatedWithNilElection(t *testing.T) {
	cs := &countingStore{}
	r := reaper.New(cs, "ns", nil, reaper.Config{
		Interval: 10 * time.Millisecond, OrphanAfter: time.Minute,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if atomic.LoadInt32(&cs.reenqueues) < 1 {
		t.Fatalf("expected at least one tick with nil election, got %d", cs.reenqueues)
	}
}

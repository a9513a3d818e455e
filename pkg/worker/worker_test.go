package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"forgequeue/pkg/job"
	"forgequeue/pkg/store"
	"forgequeue/pkg/worker"
)

type recordingStore struct {
	store.Store
	mu      sync.Mutex
	acked   []string
	retried []string
	killed  []string
}

func (r *recordingStore) Ack(ctx context.Context, namespace, workerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acked = append(r.acked, id)
	return nil
}

func (r *recordingStore) Retry(ctx context.Context, namespace, workerID, id, reason string, wait time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried = append(r.retried, id)
	return nil
}

func (r *recordingStore) Kill(ctx context.Context, namespace, workerID, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, id)
	return nil
}

func (r *recordingStore) snapshot() (acked, retried, killed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.acked...), append([]string(nil), r.retried...), append([]string(nil), r.killed...)
}

func runStream(t *testing.T, rt *worker.Runtime, recs []job.Record) {
	t.Helper()
	stream := make(chan job.Record, len(recs))
	for _, r := range recs {
		stream <- r
	}
	close(stream)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rt.Run(ctx, stream)
}

func TestRuntimeAcksOnSuccess(t *testing.T) {
	rs := &recordingStore{}
	handler := func(ctx context.Context, rec job.Record) job.Result { return job.Ok() }
	rt := worker.New(rs, "ns", "w1", handler, worker.Config{Concurrency: 2}, nil)

	runStream(t, rt, []job.Record{{ID: "a"}, {ID: "b"}})

	acked, retried, killed := rs.snapshot()
	if len(acked) != 2 || len(retried) != 0 || len(killed) != 0 {
		t.Fatalf("unexpected outcome: acked=%v retried=%v killed=%v", acked, retried, killed)
	}
}

func TestRuntimeRetriesOnFailure(t *testing.T) {
	rs := &recordingStore{}
	handler := func(ctx context.Context, rec job.Record) job.Result {
		return job.Failed(errors.New("transient"))
	}
	rt := worker.New(rs, "ns", "w1", handler, worker.Config{Concurrency: 1, Backoff: worker.FixedBackoff(0)}, nil)

	runStream(t, rt, []job.Record{{ID: "a", MaxAttempts: 5}})

	_, retried, killed := rs.snapshot()
	if len(retried) != 1 || len(killed) != 0 {
		t.Fatalf("expected one retry, got retried=%v killed=%v", retried, killed)
	}
}

func TestRuntimeKillsOnAbort(t *testing.T) {
	rs := &recordingStore{}
	handler := func(ctx context.Context, rec job.Record) job.Result {
		return job.Aborted(errors.New("fatal"))
	}
	rt := worker.New(rs, "ns", "w1", handler, worker.Config{Concurrency: 1}, nil)

	runStream(t, rt, []job.Record{{ID: "a"}})

	_, _, killed := rs.snapshot()
	if len(killed) != 1 || killed[0] != "a" {
		t.Fatalf("expected job a killed, got %v", killed)
	}
}

// TestRuntimeDrainsInFlightHandlersBeforeCancelling models the
// shutdown scenario where handlers sleeping 500ms are still running
// when the run context is cancelled, but ShutdownTimeout (1s) gives
// them room to finish instead of having their context cut immediately.
func TestRuntimeDrainsInFlightHandlersBeforeCancelling(t *testing.T) {
	rs := &recordingStore{}
	handlerSleep := 500 * time.Millisecond
	handler := func(ctx context.Context, rec job.Record) job.Result {
		select {
		case <-time.After(handlerSleep):
			return job.Ok()
		case <-ctx.Done():
			return job.Aborted(ctx.Err())
		}
	}
	rt := worker.New(rs, "ns", "w1", handler, worker.Config{
		Concurrency:     4,
		ShutdownTimeout: time.Second,
	}, nil)

	stream := make(chan job.Record, 4)
	for i := 0; i < 4; i++ {
		stream <- job.Record{ID: fmt.Sprintf("job-%d", i)}
	}
	close(stream)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	rt.Run(ctx, stream)
	elapsed := time.Since(start)

	acked, _, killed := rs.snapshot()
	if len(acked) < 4 {
		t.Fatalf("expected all 4 jobs to reach done within the shutdown grace period, got acked=%v killed=%v", acked, killed)
	}
	if elapsed >= time.Second {
		t.Fatalf("Run blocked for the full shutdown timeout (%v) even though every handler finished within it", elapsed)
	}
}

func TestChainAppliesMiddlewareOuterToInner(t *testing.T) {
	var order []string
	mark := func(name string) worker.Middleware {
		return func(next worker.Handler) worker.Handler {
			return func(ctx context.Context, rec job.Record) job.Result {
				order = append(order, name)
				return next(ctx, rec)
			}
		}
	}
	base := func(ctx context.Context, rec job.Record) job.Result {
		order = append(order, "base")
		return job.Ok()
	}

	h := worker.Chain(mark("outer"), mark("inner"))(base)
	h(context.Background(), job.Record{})

	want := []string{"outer", "inner", "base"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

package monitor_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"forgequeue/pkg/job"
	"forgequeue/pkg/monitor"
	"forgequeue/pkg/poller"
	"forgequeue/pkg/store"
	"forgequeue/pkg/worker"
)

type fakeStore struct {
	store.Store
	fetches int32
}

func (f *fakeStore) FetchBatch(ctx context.Context, namespace, workerID string, n int) ([]job.Record, error) {
	atomic.AddInt32(&f.fetches, 1)
	return nil, nil
}

func (f *fakeStore) Ack(ctx context.Context, namespace, workerID, id string) error { return nil }

func TestMonitorStartStop(t *testing.T) {
	fs := &fakeStore{}
	p := poller.New(fs, "ns", "w1", poller.Config{Interval: 5 * time.Millisecond}, nil)
	handler := func(ctx context.Context, rec job.Record) job.Result { return job.Ok() }
	rt := worker.New(fs, "ns", "w1", handler, worker.Config{Concurrency: 1}, nil)

	m := monitor.New([]monitor.Lane{{Poller: p, Runtime: rt}}, nil, nil)
	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop(time.Second)

	if atomic.LoadInt32(&fs.fetches) == 0 {
		t.Fatal("expected at least one poll to have occurred before stop")
	}
}

// drainStore serves one batch of records and records acks, so
// TestMonitorDrainsInFlightHandlersWithinShutdownTimeout can tell
// whether in-flight handlers got their full shutdown grace period.
type drainStore struct {
	store.Store
	mu     sync.Mutex
	served bool
	acked  []string
}

func (f *drainStore) FetchBatch(ctx context.Context, namespace, workerID string, n int) ([]job.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.served {
		return nil, nil
	}
	f.served = true
	recs := make([]job.Record, n)
	for i := range recs {
		recs[i] = job.Record{ID: fmt.Sprintf("job-%d", i)}
	}
	return recs, nil
}

func (f *drainStore) Ack(ctx context.Context, namespace, workerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

// TestMonitorDrainsInFlightHandlersWithinShutdownTimeout models
// spec scenario 6: handlers sleeping 500ms, shutdown_timeout=1s,
// Stop called while they're still in flight — expect all of them to
// reach done instead of being cancelled the instant Stop is called.
func TestMonitorDrainsInFlightHandlersWithinShutdownTimeout(t *testing.T) {
	fs := &drainStore{}
	p := poller.New(fs, "ns", "w1", poller.Config{Interval: 5 * time.Millisecond, BatchSize: 4}, nil)
	handlerSleep := 500 * time.Millisecond
	handler := func(ctx context.Context, rec job.Record) job.Result {
		select {
		case <-time.After(handlerSleep):
			return job.Ok()
		case <-ctx.Done():
			return job.Aborted(ctx.Err())
		}
	}
	rt := worker.New(fs, "ns", "w1", handler, worker.Config{Concurrency: 4, ShutdownTimeout: time.Second}, nil)

	m := monitor.New([]monitor.Lane{{Poller: p, Runtime: rt}}, nil, nil)
	m.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	m.Stop(time.Second)

	fs.mu.Lock()
	acked := append([]string(nil), fs.acked...)
	fs.mu.Unlock()

	if len(acked) < 4 {
		t.Fatalf("expected at least 4 jobs to reach done within the shutdown grace period, got %v", acked)
	}
}

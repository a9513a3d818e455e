package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"forgequeue/pkg/job"
	"forgequeue/pkg/poller"
	"forgequeue/pkg/store"
)

// fakeStore is a minimal store.Store stand-in that serves pre-loaded
// batches and counts how many times FetchBatch was called.
type fakeStore struct {
	store.Store // embed to satisfy the interface; only FetchBatch is used

	mu      sync.Mutex
	batches [][]job.Record
	calls   int
	failN   int // fail the first failN calls with a transport error
}

func (f *fakeStore) FetchBatch(ctx context.Context, namespace, workerID string, n int) ([]job.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return nil, job.TransportError(context.DeadlineExceeded)
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestPollerStreamsBatchesInOrder(t *testing.T) {
	fs := &fakeStore{batches: [][]job.Record{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "c"}},
	}}
	p := poller.New(fs, "ns", "w1", poller.Config{Interval: 5 * time.Millisecond, BatchSize: 2}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var got []string
	for rec := range p.Stream(ctx) {
		got = append(got, rec.ID)
		if len(got) == 3 {
			break
		}
	}

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected stream order: %v", got)
	}
}

func TestPollerSurvivesTransientTransportErrors(t *testing.T) {
	fs := &fakeStore{failN: 2, batches: [][]job.Record{{{ID: "x"}}}}
	p := poller.New(fs, "ns", "w1", poller.Config{Interval: 5 * time.Millisecond, BatchSize: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	select {
	case rec, ok := <-p.Stream(ctx):
		if !ok {
			t.Fatal("channel closed before delivering a record")
		}
		if rec.ID != "x" {
			t.Fatalf("got %q, want x", rec.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record past transient errors")
	}
}

func TestPollerSleepsIntervalEvenAfterNonEmptyBatch(t *testing.T) {
	fs := &fakeStore{batches: [][]job.Record{
		{{ID: "a"}},
		{{ID: "b"}},
	}}
	interval := 50 * time.Millisecond
	p := poller.New(fs, "ns", "w1", poller.Config{Interval: interval, BatchSize: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream := p.Stream(ctx)
	first := <-stream
	start := time.Now()
	second := <-stream
	elapsed := time.Since(start)

	if first.ID != "a" || second.ID != "b" {
		t.Fatalf("unexpected ids: %q, %q", first.ID, second.ID)
	}
	if elapsed < interval {
		t.Fatalf("second fetch arrived after %v, want at least %v — poller is not sleeping between non-empty batches", elapsed, interval)
	}
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	fs := &fakeStore{}
	p := poller.New(fs, "ns", "w1", poller.Config{Interval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Stream(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close with no records")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

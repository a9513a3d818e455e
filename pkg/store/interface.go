// Package store defines the abstract Job Store contract (SPEC §4.1):
// a durable map from job id to record plus the pending/scheduled/
// in-flight/terminal collections, with every multi-step transition
// atomic with respect to concurrent callers. Concrete drivers
// (pkg/store/redis, pkg/store/postgres) implement this interface;
// everything above it — Poller, Heartbeat, Reaper, Worker runtime — is
// driver-agnostic.
package store

import (
	"context"
	"errors"
	"time"

	"forgequeue/pkg/job"
)

var (
	// ErrNotFound mirrors job.ErrNotFound for store-level lookups.
	ErrNotFound = job.ErrNotFound
	// ErrUnavailable is returned (wrapped in job.TransportError by
	// callers) when the backend cannot be reached.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Store is the durable backend every engine component talks to. All
// methods must be safe for concurrent use by multiple workers sharing
// one connection/client.
type Store interface {
	// Push allocates an id, writes the record, and appends it to
	// pending. Fails with a transport error on backend failure.
	Push(ctx context.Context, namespace string, payload []byte, maxAttempts int) (id string, err error)

	// Schedule is like Push but inserts into the scheduled set keyed by
	// at instead of pending. A non-future at is tolerated; such jobs
	// are promoted on the Promoter's (heartbeat.Promoter) next tick.
	Schedule(ctx context.Context, namespace string, payload []byte, maxAttempts int, at time.Time) (id string, err error)

	// FetchBatch atomically moves up to n ids from the head of pending
	// into in_flight[workerID] and returns their records, FIFO order.
	// Returns an empty slice (not an error) when pending is empty.
	FetchBatch(ctx context.Context, namespace, workerID string, n int) ([]job.Record, error)

	// Ack removes id from in_flight[workerID] and records it done.
	// No-op (and no error) if id is not in that partition.
	Ack(ctx context.Context, namespace, workerID, id string) error

	// Kill removes id from in_flight[workerID], records it dead and
	// failed, and persists reason as the record's last_error.
	Kill(ctx context.Context, namespace, workerID, id, reason string) error

	// Retry either re-schedules id (attempts incremented, wait applied)
	// or, if the retry budget is exhausted, behaves exactly as Kill.
	Retry(ctx context.Context, namespace, workerID, id, reason string, wait time.Duration) error

	// KeepAlive upserts consumers[workerID] = now, creating the
	// partition key if absent.
	KeepAlive(ctx context.Context, namespace, workerID string) error

	// PromoteScheduled transfers up to n ids whose scheduled_for <= now
	// from scheduled to pending, oldest eligibility first, ties broken
	// by id. Returns the count transferred.
	PromoteScheduled(ctx context.Context, namespace string, n int) (int, error)

	// ReenqueueOrphaned moves every in_flight id of any consumer whose
	// last_seen is older than maxAge back to pending (attempts
	// preserved) and deletes that consumer entry. Returns the count
	// reclaimed.
	ReenqueueOrphaned(ctx context.Context, namespace string, maxAge time.Duration) (int, error)

	// Vacuum removes every id present in dead from data. Returns the
	// count removed.
	Vacuum(ctx context.Context, namespace string) (int, error)

	// Cancel withdraws id from pending or scheduled before it is ever
	// leased. Reports false (not an error) if id is not present in
	// either collection — already in_flight, done, failed, or dead.
	Cancel(ctx context.Context, namespace, id string) (bool, error)

	// Len returns the number of records tracked in data (i.e. not yet
	// vacuumed) for the namespace.
	Len(ctx context.Context, namespace string) (int64, error)

	// IsEmpty reports whether pending is empty for the namespace.
	IsEmpty(ctx context.Context, namespace string) (bool, error)

	// FetchByID is a read helper, independent of which collection the
	// id currently lives in.
	FetchByID(ctx context.Context, namespace, id string) (*job.Record, error)

	// Update patches an existing record's mutable fields (payload,
	// last_error). It does not move the record between collections.
	Update(ctx context.Context, namespace string, rec *job.Record) error

	// Stats reports the depth of every collection, for operator
	// introspection (not part of the core contract but useful enough
	// that every driver implements it the same way).
	Stats(ctx context.Context, namespace string) (Stats, error)

	// Consumers lists the live workers registered via KeepAlive.
	Consumers(ctx context.Context, namespace string) ([]job.Consumer, error)
}

// Stats is a snapshot of collection depths for one namespace.
type Stats struct {
	Pending   int64
	Scheduled int64
	InFlight  int64
	Done      int64
	Failed    int64
	Dead      int64
}

// Package poller turns a store.Store into a lazy per-worker stream of
// job.Record. It never blocks the caller indefinitely: between
// batches it sleeps for a configurable interval, and every sleep is
// interruptible by context cancellation.
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"forgequeue/pkg/job"
	"forgequeue/pkg/resilience"
	"forgequeue/pkg/store"
)

// Config tunes the poll cadence and batch shape.
type Config struct {
	// Interval is slept before every FetchBatch call, unconditionally —
	// the steady-state poll cadence, not just a backoff after an empty
	// or failed fetch.
	Interval time.Duration
	// BatchSize is the maximum number of records requested per fetch.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	return c
}

// Poller pulls batches from a Store and republishes them one at a time
// on a channel, so a worker can range over it like any other stream.
type Poller struct {
	backend   store.Store
	namespace string
	workerID  string
	cfg       Config
	log       *zap.Logger
	cb        *resilience.CircuitBreaker // optional; nil calls backend directly
}

// New builds a Poller bound to one namespace and worker id.
func New(backend store.Store, namespace, workerID string, cfg Config, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		backend:   backend,
		namespace: namespace,
		workerID:  workerID,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// WithCircuitBreaker trips the poller's FetchBatch calls through cb,
// so a failing store stops being hammered by every idle worker at
// once. Returns the same Poller for chaining at construction time.
func (p *Poller) WithCircuitBreaker(cb *resilience.CircuitBreaker) *Poller {
	p.cb = cb
	return p
}

func (p *Poller) fetchBatch(ctx context.Context) ([]job.Record, error) {
	if p.cb == nil {
		return p.backend.FetchBatch(ctx, p.namespace, p.workerID, p.cfg.BatchSize)
	}
	var batch []job.Record
	err := p.cb.Execute(ctx, func() error {
		var innerErr error
		batch, innerErr = p.backend.FetchBatch(ctx, p.namespace, p.workerID, p.cfg.BatchSize)
		return innerErr
	})
	if err == resilience.ErrCircuitOpen {
		return nil, job.TransportError(err)
	}
	return batch, err
}

// Stream returns a channel of records that closes when ctx is done.
// Transient transport errors are logged and retried after Interval;
// they never close the channel or propagate to the caller.
func (p *Poller) Stream(ctx context.Context) <-chan job.Record {
	out := make(chan job.Record)
	go p.run(ctx, out)
	return out
}

func (p *Poller) run(ctx context.Context, out chan<- job.Record) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, p.cfg.Interval) {
			return
		}

		batch, err := p.fetchBatch(ctx)
		if err != nil {
			var engineErr *job.Error
			if errors.As(err, &engineErr) && engineErr.Kind == job.KindTransport {
				p.log.Warn("poller: transient fetch failure, retrying",
					zap.String("namespace", p.namespace),
					zap.String("worker_id", p.workerID),
					zap.Error(err))
			} else {
				p.log.Error("poller: fetch failed", zap.Error(err))
			}
			continue
		}

		for _, rec := range batch {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sleep blocks for d or until ctx is cancelled, returning false in the
// latter case so callers can short-circuit immediately.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

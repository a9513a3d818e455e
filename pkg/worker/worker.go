// Package worker is the execution runtime: it binds a Poller's record
// stream to a Handler, runs the middleware-wrapped handler for each
// record under a bounded concurrency pool, and interprets the
// returned Result as an Ack, Retry, or Kill against the Store.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgequeue/pkg/job"
	"forgequeue/pkg/metrics"
	"forgequeue/pkg/store"
)

// Config tunes one Runtime's concurrency and shutdown behavior.
type Config struct {
	// Concurrency bounds how many handler invocations run at once.
	Concurrency int
	// ShutdownTimeout is how long Run waits for in-flight handlers to
	// finish after ctx is cancelled before returning anyway.
	ShutdownTimeout time.Duration
	// Backoff computes the retry wait for a Failed result. Defaults to
	// ExponentialBackoff(5s, 5m).
	Backoff BackoffFunc
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(5*time.Second, 5*time.Minute)
	}
	return c
}

// Runtime is one worker's execution loop over a record stream.
type Runtime struct {
	backend   store.Store
	namespace string
	workerID  string
	handler   Handler
	cfg       Config
	log       *zap.Logger
}

// New builds a Runtime. handler should already be wrapped with any
// desired Middleware (see Chain).
func New(backend store.Store, namespace, workerID string, handler Handler, cfg Config, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		backend:   backend,
		namespace: namespace,
		workerID:  workerID,
		handler:   handler,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// Run consumes stream until it closes or ctx is cancelled, dispatching
// each record to the handler under a semaphore of size Concurrency.
// ctx cancellation stops new work from being dispatched immediately,
// but in-flight handlers run against a separate context that is only
// cancelled once ShutdownTimeout elapses with handlers still running
// — giving them the full grace period before being cut off, per the
// shutdown contract (drain, then cancel on timeout, not on signal).
func (r *Runtime) Run(ctx context.Context, stream <-chan job.Record) {
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

loop:
	for {
		select {
		case rec, ok := <-stream:
			if !ok {
				break loop
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break loop
			}
			wg.Add(1)
			go func(rec job.Record) {
				defer wg.Done()
				defer func() { <-sem }()
				r.process(handlerCtx, rec)
			}(rec)
		case <-ctx.Done():
			break loop
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.ShutdownTimeout):
		r.log.Warn("worker: shutdown timeout elapsed, cancelling in-flight handlers",
			zap.String("worker_id", r.workerID))
		cancelHandlers()
	}
}

func (r *Runtime) process(ctx context.Context, rec job.Record) {
	metrics.WorkerInFlight.WithLabelValues(r.namespace, r.workerID).Inc()
	defer metrics.WorkerInFlight.WithLabelValues(r.namespace, r.workerID).Dec()

	result := r.handler(ctx, rec)

	switch result.Outcome {
	case job.OutcomeOK:
		if err := r.backend.Ack(ctx, r.namespace, r.workerID, rec.ID); err != nil {
			r.log.Error("worker: ack failed", zap.String("job_id", rec.ID), zap.Error(err))
			return
		}
		metrics.JobsAcked.WithLabelValues(r.namespace).Inc()

	case job.OutcomeFailed:
		reason := ""
		if result.Err != nil {
			reason = result.Err.Error()
		}
		wait := r.cfg.Backoff(rec.Attempts + 1)
		if err := r.backend.Retry(ctx, r.namespace, r.workerID, rec.ID, reason, wait); err != nil {
			r.log.Error("worker: retry failed", zap.String("job_id", rec.ID), zap.Error(err))
			return
		}
		if rec.ExhaustsRetries() {
			metrics.JobsKilled.WithLabelValues(r.namespace, "retries_exhausted").Inc()
		} else {
			metrics.JobsRetried.WithLabelValues(r.namespace).Inc()
		}

	case job.OutcomeAborted:
		reason := ""
		if result.Err != nil {
			reason = result.Err.Error()
		}
		if err := r.backend.Kill(ctx, r.namespace, r.workerID, rec.ID, reason); err != nil {
			r.log.Error("worker: kill failed", zap.String("job_id", rec.ID), zap.Error(err))
			return
		}
		metrics.JobsKilled.WithLabelValues(r.namespace, "aborted").Inc()
	}
}

// Package heartbeat runs the two periodic tasks every worker needs
// regardless of backend: announcing liveness (KeepAlive) and promoting
// due scheduled jobs into pending (PromoteScheduled). Both are
// log-and-continue: a failed tick never stops the ticker.
package heartbeat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"forgequeue/pkg/resilience"
	"forgequeue/pkg/store"
)

// Heartbeat periodically calls KeepAlive for one worker so the Reaper
// can tell a live worker from an orphaned one.
type Heartbeat struct {
	backend   store.Store
	namespace string
	workerID  string
	interval  time.Duration
	log       *zap.Logger
	cb        *resilience.CircuitBreaker // optional; nil calls backend directly
}

// New builds a Heartbeat. interval should be well under the Reaper's
// orphan-expiry threshold so a single missed tick never looks dead.
func New(backend store.Store, namespace, workerID string, interval time.Duration, log *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeat{backend: backend, namespace: namespace, workerID: workerID, interval: interval, log: log}
}

// WithCircuitBreaker trips KeepAlive calls through cb.
func (h *Heartbeat) WithCircuitBreaker(cb *resilience.CircuitBreaker) *Heartbeat {
	h.cb = cb
	return h
}

func (h *Heartbeat) keepAlive(ctx context.Context) error {
	if h.cb == nil {
		return h.backend.KeepAlive(ctx, h.namespace, h.workerID)
	}
	return h.cb.Execute(ctx, func() error {
		return h.backend.KeepAlive(ctx, h.namespace, h.workerID)
	})
}

// Run blocks, ticking until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.keepAlive(ctx); err != nil {
		h.log.Warn("heartbeat: initial keepalive failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.keepAlive(ctx); err != nil {
				h.log.Warn("heartbeat: keepalive failed",
					zap.String("worker_id", h.workerID), zap.Error(err))
			}
		}
	}
}

// Promoter periodically promotes due scheduled jobs into pending. One
// Promoter per namespace is enough; running it per-worker is harmless
// since PromoteScheduled is idempotent per id.
type Promoter struct {
	backend   store.Store
	namespace string
	interval  time.Duration
	batchSize int
	log       *zap.Logger
	cb        *resilience.CircuitBreaker // optional; nil calls backend directly
}

// NewPromoter builds a Promoter for one namespace.
func NewPromoter(backend store.Store, namespace string, interval time.Duration, batchSize int, log *zap.Logger) *Promoter {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Promoter{backend: backend, namespace: namespace, interval: interval, batchSize: batchSize, log: log}
}

// WithCircuitBreaker trips PromoteScheduled calls through cb.
func (p *Promoter) WithCircuitBreaker(cb *resilience.CircuitBreaker) *Promoter {
	p.cb = cb
	return p
}

func (p *Promoter) promoteScheduled(ctx context.Context) (int, error) {
	if p.cb == nil {
		return p.backend.PromoteScheduled(ctx, p.namespace, p.batchSize)
	}
	var n int
	err := p.cb.Execute(ctx, func() error {
		var innerErr error
		n, innerErr = p.backend.PromoteScheduled(ctx, p.namespace, p.batchSize)
		return innerErr
	})
	return n, err
}

// Run blocks, ticking until ctx is cancelled.
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.promoteScheduled(ctx)
			if err != nil {
				p.log.Warn("promoter: promote failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.log.Debug("promoter: promoted scheduled jobs",
					zap.String("namespace", p.namespace), zap.Int("count", n))
			}
		}
	}
}

// Package reaper runs the process-level reconciliation tick —
// reclaiming orphaned in-flight jobs and vacuuming dead ones — gated
// by leader election so only one process in the cluster runs it at a
// time. Per-worker Heartbeat and Promoter ticks are NOT gated; only
// this coarser, cluster-wide sweep is.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"forgequeue/pkg/coordination"
	"forgequeue/pkg/resilience"
	"forgequeue/pkg/store"
)

// Config tunes the reconciliation cadence.
type Config struct {
	Interval    time.Duration
	OrphanAfter time.Duration
	NodeID      string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.OrphanAfter <= 0 {
		c.OrphanAfter = 2 * time.Minute
	}
	return c
}

// Reaper owns the namespace-wide sweep: ReenqueueOrphaned followed by
// Vacuum, once per tick.
type Reaper struct {
	backend   store.Store
	namespace string
	election  coordination.Election // nil runs unconditionally (single-process mode)
	cfg       Config
	log       *zap.Logger
	cb        *resilience.CircuitBreaker // optional; nil calls backend directly
}

// New builds a Reaper. election may be nil, in which case the sweep
// runs on every tick with no leadership check — appropriate for a
// single-process deployment with no etcd coordinator configured.
func New(backend store.Store, namespace string, election coordination.Election, cfg Config, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{backend: backend, namespace: namespace, election: election, cfg: cfg.withDefaults(), log: log}
}

// WithCircuitBreaker trips ReenqueueOrphaned and Vacuum calls through cb.
func (r *Reaper) WithCircuitBreaker(cb *resilience.CircuitBreaker) *Reaper {
	r.cb = cb
	return r
}

// Run blocks, sweeping once per Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.election != nil {
		if err := r.election.Campaign(ctx, r.cfg.NodeID); err != nil {
			r.log.Error("reaper: campaign failed, sweeping only while leader", zap.Error(err))
		} else {
			defer r.election.Resign(context.Background())
		}
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if r.election != nil {
		leader, err := r.election.Leader(ctx)
		if err != nil {
			r.log.Warn("reaper: leader check failed, skipping tick", zap.Error(err))
			return
		}
		if leader != r.cfg.NodeID {
			return
		}
	}

	reclaimed, err := r.reenqueueOrphaned(ctx)
	if err != nil {
		r.log.Warn("reaper: reenqueue failed", zap.Error(err))
	} else if reclaimed > 0 {
		r.log.Info("reaper: reclaimed orphaned jobs",
			zap.String("namespace", r.namespace), zap.Int("count", reclaimed))
	}

	vacuumed, err := r.vacuum(ctx)
	if err != nil {
		r.log.Warn("reaper: vacuum failed", zap.Error(err))
	} else if vacuumed > 0 {
		r.log.Debug("reaper: vacuumed dead jobs",
			zap.String("namespace", r.namespace), zap.Int("count", vacuumed))
	}
}

func (r *Reaper) reenqueueOrphaned(ctx context.Context) (int, error) {
	if r.cb == nil {
		return r.backend.ReenqueueOrphaned(ctx, r.namespace, r.cfg.OrphanAfter)
	}
	var n int
	err := r.cb.Execute(ctx, func() error {
		var innerErr error
		n, innerErr = r.backend.ReenqueueOrphaned(ctx, r.namespace, r.cfg.OrphanAfter)
		return innerErr
	})
	return n, err
}

func (r *Reaper) vacuum(ctx context.Context) (int, error) {
	if r.cb == nil {
		return r.backend.Vacuum(ctx, r.namespace)
	}
	var n int
	err := r.cb.Execute(ctx, func() error {
		var innerErr error
		n, innerErr = r.backend.Vacuum(ctx, r.namespace)
		return innerErr
	})
	return n, err
}

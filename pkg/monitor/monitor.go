// Package monitor composes the per-process pieces of a worker node —
// one or more worker.Runtime instances, each fed by its own
// poller.Poller, plus a shared heartbeat.Heartbeat — into a single
// unit with one shutdown signal and a bounded grace period, the way
// the teacher's Executor.Start owns its heartbeat goroutine and work
// loop together.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgequeue/pkg/heartbeat"
	"forgequeue/pkg/poller"
	"forgequeue/pkg/worker"
)

// Lane binds one Poller to one Runtime; a Monitor runs any number of
// lanes concurrently, letting a node dedicate different concurrency
// and middleware stacks to different handlers within a namespace.
type Lane struct {
	Poller  *poller.Poller
	Runtime *worker.Runtime
}

// Monitor owns a node's full set of lanes plus its heartbeat, and
// brings all of them down together on Stop.
type Monitor struct {
	lanes     []Lane
	heartbeat *heartbeat.Heartbeat
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Monitor. hb may be nil if this node runs no heartbeat
// (e.g. a test harness driving lanes directly).
func New(lanes []Lane, hb *heartbeat.Heartbeat, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{lanes: lanes, heartbeat: hb, log: log}
}

// Start launches every lane and the heartbeat in their own goroutines.
// It returns immediately; call Stop to shut down gracefully.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	var wg sync.WaitGroup

	if m.heartbeat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.heartbeat.Run(ctx)
		}()
	}

	for i, lane := range m.lanes {
		wg.Add(1)
		go func(i int, lane Lane) {
			defer wg.Done()
			stream := lane.Poller.Stream(ctx)
			lane.Runtime.Run(ctx, stream)
		}(i, lane)
	}

	go func() {
		wg.Wait()
		close(m.done)
	}()

	m.log.Info("monitor: started", zap.Int("lanes", len(m.lanes)))
}

// Stop signals every lane to drain and wait up to timeout for them to
// finish before returning.
func (m *Monitor) Stop(timeout time.Duration) {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
		m.log.Info("monitor: stopped cleanly")
	case <-time.After(timeout):
		m.log.Warn("monitor: stop timeout elapsed with lanes still draining")
	}
}

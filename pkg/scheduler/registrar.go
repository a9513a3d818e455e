// Package scheduler supplements the core engine with the teacher's
// recurring-job concept: named cron Definitions that periodically
// Push (or Schedule) a job into the Store, optionally gated on a DAG
// of dependencies between definitions. The engine underneath — Store,
// Poller, Worker runtime — has no notion of "definitions"; this
// package is purely a producer sitting on top of it.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"forgequeue/pkg/job"
	"forgequeue/pkg/store"
	"forgequeue/pkg/worker"
)

// Definition is a named recurring job: on each cron firing it pushes
// Payload into Namespace, subject to MaxAttempts and (if it has
// parents registered in a DependencyStore) the parents' last
// outcome. Tagged for JSON so a set of Definitions can be loaded from
// config (see configs.Config.SchedulerDefinitions) rather than only
// hardcoded by a caller of Register.
//
// By convention Namespace equals Name for a Definition that
// participates in dependency gating: the worker bound to that
// namespace wires scheduler.CompletionMiddleware(deps, cfg.Namespace)
// so completions land back under the matching definition name.
type Definition struct {
	Name        string        `json:"name"`
	Namespace   string        `json:"namespace"`
	Schedule    string        `json:"schedule"` // standard 5-field cron expression
	Payload     []byte        `json:"payload"`
	MaxAttempts int           `json:"max_attempts"`
	// Delay, when positive, makes each firing a Schedule instead of an
	// immediate Push — e.g. to stagger a burst of otherwise-identical
	// cron ticks across a following window.
	Delay time.Duration `json:"delay,omitempty"`
}

// Registrar owns a cron scheduler that fires Definitions into a
// Store, the way the teacher's cron.Parser drove PollAndSchedule.
type Registrar struct {
	cron    *cron.Cron
	parser  cron.Parser
	backend store.Store
	deps    *DependencyStore // nil disables dependency gating
	log     *zap.Logger
}

// New builds a Registrar. deps may be nil if no definition declares
// dependencies.
func New(backend store.Store, deps *DependencyStore, log *zap.Logger) *Registrar {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Registrar{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser:  parser,
		backend: backend,
		deps:    deps,
		log:     log,
	}
}

// Register validates def.Schedule and adds it to the cron wheel. It
// does not fire immediately; the first run happens at its next
// scheduled tick.
func (r *Registrar) Register(def Definition) error {
	if _, err := r.parser.Parse(def.Schedule); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %q: %w", def.Schedule, def.Name, err)
	}
	_, err := r.cron.AddFunc(def.Schedule, func() {
		r.fire(context.Background(), def)
	})
	return err
}

// Start begins running the cron wheel in a background goroutine.
func (r *Registrar) Start() { r.cron.Start() }

// Stop halts the cron wheel without waiting; the returned context is
// done once any in-progress fire has finished.
func (r *Registrar) Stop() context.Context { return r.cron.Stop() }

func (r *Registrar) fire(ctx context.Context, def Definition) {
	if r.deps != nil {
		ok, err := r.deps.Satisfied(ctx, def.Name)
		if err != nil {
			r.log.Warn("scheduler: dependency check failed, skipping fire",
				zap.String("definition", def.Name), zap.Error(err))
			return
		}
		if !ok {
			r.log.Debug("scheduler: dependencies not satisfied, skipping fire",
				zap.String("definition", def.Name))
			return
		}
	}

	var id string
	var err error
	if def.Delay > 0 {
		id, err = r.backend.Schedule(ctx, def.Namespace, def.Payload, def.MaxAttempts, time.Now().Add(def.Delay))
	} else {
		id, err = r.backend.Push(ctx, def.Namespace, def.Payload, def.MaxAttempts)
	}
	if err != nil {
		r.log.Error("scheduler: fire failed", zap.String("definition", def.Name), zap.Error(err))
		return
	}
	r.log.Info("scheduler: fired definition",
		zap.String("definition", def.Name), zap.String("job_id", id))
}

// CompletionMiddleware wraps a Handler so that every outcome is
// reported back to deps as the named definition's last completion.
// Wire this into the middleware chain of any worker that processes
// jobs produced by a Registrar with dependency-gated definitions.
func CompletionMiddleware(deps *DependencyStore, name string) worker.Middleware {
	return func(next worker.Handler) worker.Handler {
		return func(ctx context.Context, rec job.Record) job.Result {
			result := next(ctx, rec)
			// Best-effort: a missed completion record only delays a
			// dependent's next fire by one tick's re-check.
			_ = deps.RecordCompletion(ctx, name, result.Outcome == job.OutcomeOK)
			return result
		}
	}
}

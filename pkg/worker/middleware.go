package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"forgequeue/pkg/ai"
	"forgequeue/pkg/job"
	"forgequeue/pkg/metrics"
	"forgequeue/pkg/resilience"
)

// Handler processes one job.Record and reports an Outcome. Handlers
// never touch the Store directly; the Runtime interprets Result and
// drives Ack/Retry/Kill.
type Handler func(ctx context.Context, rec job.Record) job.Result

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middleware outer-to-inner: Chain(a, b)(h) runs as
// a(b(h)).
func Chain(mws ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// Tracing starts a span named "forgequeue.job" around the handler
// call, the way the teacher's tracing.Provider wraps HTTP handlers.
func Tracing(tracerName string) Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next Handler) Handler {
		return func(ctx context.Context, rec job.Record) job.Result {
			ctx, span := tracer.Start(ctx, "forgequeue.job",
				trace.WithAttributes(
					attribute.String("job.id", rec.ID),
					attribute.String("job.namespace", rec.Namespace),
					attribute.Int("job.attempts", rec.Attempts),
				))
			defer span.End()

			result := next(ctx, rec)
			if result.Outcome != job.OutcomeOK {
				span.SetStatus(codes.Error, result.Outcome.String())
				if result.Err != nil {
					span.RecordError(result.Err)
				}
			}
			return result
		}
	}
}

// Recovery converts a handler panic into an Aborted result instead of
// crashing the worker goroutine.
func Recovery(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, rec job.Record) (result job.Result) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("worker: handler panicked",
						zap.String("job_id", rec.ID), zap.Any("recover", r))
					result = job.Aborted(job.NewError(job.KindHandlerAborted, fmt.Errorf("panic: %v", r)))
				}
			}()
			return next(ctx, rec)
		}
	}
}

// Metrics records handler latency and outcome in Prometheus.
func Metrics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rec job.Record) job.Result {
			start := time.Now()
			result := next(ctx, rec)
			metrics.RecordHandler(rec.Namespace, result.Outcome.String(), time.Since(start).Seconds())
			return result
		}
	}
}

// DispatchAdvisor consults an optional ai.Client before running the
// handler; if the advisor says "skip" it retries the job (with the
// normal backoff) instead of invoking the handler at all. Any advisor
// error fails open: the handler runs as if never consulted.
func DispatchAdvisor(client *ai.Client) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rec job.Record) job.Result {
			if !ai.ShouldDispatch(ctx, client, rec.ID, map[string]interface{}{
				"attempts":     rec.Attempts,
				"max_attempts": rec.MaxAttempts,
				"payload_size": len(rec.Payload),
			}) {
				return job.Failed(job.NewError(job.KindHandlerFailed, fmt.Errorf("dispatch advisor recommended skip")))
			}
			return next(ctx, rec)
		}
	}
}

// CircuitBreaker short-circuits handler calls once failures cross the
// breaker's threshold, returning a Failed result (eligible for retry
// with backoff) without ever invoking the handler.
func CircuitBreaker(cb *resilience.CircuitBreaker) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rec job.Record) job.Result {
			var result job.Result
			err := cb.Execute(ctx, func() error {
				result = next(ctx, rec)
				if result.Outcome == job.OutcomeFailed {
					return result.Err
				}
				return nil
			})
			if err == resilience.ErrCircuitOpen {
				return job.Failed(job.NewError(job.KindHandlerFailed, err))
			}
			return result
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "forgequeue/configs"
	"forgequeue/pkg/ai"
	"forgequeue/pkg/heartbeat"
	logpkg "forgequeue/pkg/logger"
	"forgequeue/pkg/logstore"
	"forgequeue/pkg/monitor"
	"forgequeue/pkg/observability"
	"forgequeue/pkg/poller"
	"forgequeue/pkg/resilience"
	"forgequeue/pkg/scheduler"
	"forgequeue/pkg/store"
	"forgequeue/pkg/store/postgres"
	"forgequeue/pkg/store/redis"
	"forgequeue/pkg/worker"
)

func main() {
	cfg := config.LoadConfig()
	zlog, err := logpkg.Init(logpkg.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, OutputPath: "stdout", Service: "forgequeue-worker"})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zlog.Info("worker: starting up", zap.String("namespace", cfg.Namespace))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig("forgequeue-worker")
	tracingCfg.Endpoint = cfg.OTLPEndpoint
	tracingCfg.Enabled = cfg.TracingEnabled
	tracerProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		zlog.Warn("worker: tracing disabled", zap.Error(err))
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	backend := mustOpenStore(cfg, zlog)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	var logs logstore.LogStore
	if local, err := logstore.NewLocalLogStore("./data/job-logs"); err != nil {
		zlog.Warn("worker: log archive disabled", zap.Error(err))
	} else {
		logs = local
	}

	var advisor *ai.Client
	if cfg.AIServiceURL != "" {
		advisor = ai.NewClient(cfg.AIServiceURL)
	}

	// A dependency store lets completions of jobs produced by this
	// worker's namespace gate scheduler.Definitions that depend on it
	// (see scheduler.CompletionMiddleware). Only meaningful on postgres,
	// where the DAG of definition dependencies actually lives.
	var deps *scheduler.DependencyStore
	if cfg.StoreDriver == "postgres" {
		deps, err = scheduler.NewDependencyStore(cfg.PostgresDSN())
		if err != nil {
			zlog.Warn("worker: dependency completion tracking disabled", zap.Error(err))
			deps = nil
		}
	}

	handler := worker.ShellHandler(worker.ShellHandlerConfig{Logs: logs, Log: zlog})
	middlewares := []worker.Middleware{
		worker.Tracing("forgequeue-worker"),
		worker.Recovery(zlog),
		worker.Metrics(),
		worker.DispatchAdvisor(advisor),
	}
	if deps != nil {
		middlewares = append(middlewares, scheduler.CompletionMiddleware(deps, cfg.Namespace))
	}
	chain := worker.Chain(middlewares...)

	concurrency := runtime.NumCPU()
	runtimes := make([]monitor.Lane, 0, concurrency)

	storeBreaker := resilience.NewCircuitBreaker("store", resilience.DefaultCircuitBreakerConfig())

	p := poller.New(backend, cfg.Namespace, workerID, poller.Config{
		Interval:  cfg.FetchInterval,
		BatchSize: cfg.BufferSize,
	}, zlog).WithCircuitBreaker(storeBreaker)

	rt := worker.New(backend, cfg.Namespace, workerID, chain(handler), worker.Config{
		Concurrency:     concurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Backoff:         worker.ExponentialBackoff(5*time.Second, 5*time.Minute),
	}, zlog)

	runtimes = append(runtimes, monitor.Lane{Poller: p, Runtime: rt})

	hb := heartbeat.New(backend, cfg.Namespace, workerID, cfg.KeepAlive, zlog).WithCircuitBreaker(storeBreaker)

	m := monitor.New(runtimes, hb, zlog)
	m.Start(ctx)

	zlog.Info("worker: running", zap.String("worker_id", workerID), zap.Int("concurrency", concurrency))

	sig := <-sigChan
	zlog.Info("worker: received signal, shutting down", zap.String("signal", sig.String()))

	m.Stop(cfg.ShutdownTimeout)
	cancel()
	zlog.Info("worker: shutdown complete")
}

func mustOpenStore(cfg *config.Config, zlog *zap.Logger) store.Store {
	switch cfg.StoreDriver {
	case "postgres":
		st, err := postgres.New(cfg.PostgresDSN())
		if err != nil {
			zlog.Fatal("worker: failed to open postgres store", zap.Error(err))
		}
		return st
	default:
		st, err := redis.New(cfg.RedisAddr)
		if err != nil {
			zlog.Fatal("worker: failed to open redis store", zap.Error(err))
		}
		return st.WithLogger(zlog)
	}
}

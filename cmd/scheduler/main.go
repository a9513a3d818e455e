package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "forgequeue/configs"
	"forgequeue/pkg/coordination/etcd"
	"forgequeue/pkg/heartbeat"
	logpkg "forgequeue/pkg/logger"
	"forgequeue/pkg/observability"
	"forgequeue/pkg/reaper"
	"forgequeue/pkg/resilience"
	"forgequeue/pkg/scheduler"
	"forgequeue/pkg/store"
	"forgequeue/pkg/store/postgres"
	"forgequeue/pkg/store/redis"
)

func main() {
	cfg := config.LoadConfig()
	zlog, err := logpkg.Init(logpkg.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, OutputPath: "stdout", Service: "forgequeue-scheduler"})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zlog.Info("scheduler: starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig("forgequeue-scheduler")
	tracingCfg.Endpoint = cfg.OTLPEndpoint
	tracingCfg.Enabled = cfg.TracingEnabled
	tracerProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		zlog.Warn("scheduler: tracing disabled", zap.Error(err))
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	backend := mustOpenStore(cfg, zlog)

	coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		zlog.Fatal("scheduler: failed to connect to etcd", zap.Error(err))
	}
	defer coord.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler-" + uuid.NewString()
	}
	election := coord.NewElection("forgequeue-scheduler-leader")

	var depStore *scheduler.DependencyStore
	if cfg.StoreDriver == "postgres" {
		depStore, err = scheduler.NewDependencyStore(cfg.PostgresDSN())
		if err != nil {
			zlog.Warn("scheduler: dependency store disabled", zap.Error(err))
			depStore = nil
		}
	}

	registrar := scheduler.New(backend, depStore, zlog)
	registerDefinitions(registrar, cfg.SchedulerDefinitions, zlog)
	registrar.Start()
	defer registrar.Stop()

	storeBreaker := resilience.NewCircuitBreaker("store", resilience.DefaultCircuitBreakerConfig())

	r := reaper.New(backend, cfg.Namespace, election, reaper.Config{
		Interval:    cfg.ReaperInterval,
		OrphanAfter: cfg.OrphanAfter,
		NodeID:      hostname,
	}, zlog).WithCircuitBreaker(storeBreaker)

	promoter := heartbeat.NewPromoter(backend, cfg.Namespace, cfg.FetchInterval, cfg.BufferSize, zlog).WithCircuitBreaker(storeBreaker)

	go r.Run(ctx)
	if cfg.EnqueueScheduled {
		go promoter.Run(ctx)
	}

	zlog.Info("scheduler: running", zap.String("node_id", hostname))

	sig := <-sigChan
	zlog.Info("scheduler: received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if err := election.Resign(context.Background()); err != nil {
		zlog.Warn("scheduler: failed to resign leadership", zap.Error(err))
	}
	zlog.Info("scheduler: shutdown complete")
}

// registerDefinitions parses raw (a JSON array of scheduler.Definition,
// see configs.Config.SchedulerDefinitions) and registers each one with
// registrar. A bad definition is logged and skipped rather than taking
// down the whole process.
func registerDefinitions(registrar *scheduler.Registrar, raw string, zlog *zap.Logger) {
	if raw == "" {
		return
	}
	var defs []scheduler.Definition
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		zlog.Error("scheduler: failed to parse SCHEDULER_DEFINITIONS, no recurring jobs registered", zap.Error(err))
		return
	}
	for _, def := range defs {
		if err := registrar.Register(def); err != nil {
			zlog.Warn("scheduler: failed to register definition", zap.String("definition", def.Name), zap.Error(err))
			continue
		}
		zlog.Info("scheduler: registered definition", zap.String("definition", def.Name), zap.String("schedule", def.Schedule))
	}
}

func mustOpenStore(cfg *config.Config, zlog *zap.Logger) store.Store {
	switch cfg.StoreDriver {
	case "postgres":
		st, err := postgres.New(cfg.PostgresDSN())
		if err != nil {
			zlog.Fatal("scheduler: failed to open postgres store", zap.Error(err))
		}
		return st
	default:
		st, err := redis.New(cfg.RedisAddr)
		if err != nil {
			zlog.Fatal("scheduler: failed to open redis store", zap.Error(err))
		}
		return st.WithLogger(zlog)
	}
}

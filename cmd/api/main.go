package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"forgequeue/pkg/api"
	"forgequeue/pkg/auth"
	"forgequeue/pkg/coordination/etcd"

	config "forgequeue/configs"
	logpkg "forgequeue/pkg/logger"
	"forgequeue/pkg/observability"
	"forgequeue/pkg/store"
	"forgequeue/pkg/store/postgres"
	"forgequeue/pkg/store/redis"
)

func main() {
	cfg := config.LoadConfig()
	zlog, err := logpkg.Init(logpkg.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, OutputPath: "stdout", Service: "forgequeue-api"})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zlog.Info("api: starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig("forgequeue-api")
	tracingCfg.Endpoint = cfg.OTLPEndpoint
	tracingCfg.Enabled = cfg.TracingEnabled
	tracerProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		zlog.Warn("api: tracing disabled", zap.Error(err))
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	backend := mustOpenStore(cfg, zlog)

	var coord *etcd.EtcdCoordinator
	if len(cfg.EtcdEndpoints) > 0 && cfg.EtcdEndpoints[0] != "" {
		coord, err = etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
		if err != nil {
			zlog.Warn("api: etcd unavailable, cluster endpoints disabled", zap.Error(err))
			coord = nil
		} else {
			defer coord.Close()
		}
	}

	var jwtService *auth.JWTService
	var apiKeyStore auth.APIKeyStore
	if cfg.AuthEnabled {
		jwtService, err = auth.NewJWTService(auth.JWTConfig{
			SecretKey:     cfg.JWTSecret,
			Issuer:        cfg.JWTIssuer,
			TokenExpiry:   time.Hour,
			RefreshExpiry: 24 * time.Hour,
		})
		if err != nil {
			zlog.Fatal("api: invalid JWT configuration", zap.Error(err))
		}
		apiKeyStore = auth.NewRedisAPIKeyStore(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}))
	}

	apiCfg := api.Config{
		Port:               cfg.APIPort,
		Backend:            backend,
		AuthEnabled:        cfg.AuthEnabled,
		JWTService:         jwtService,
		APIKeyStore:        apiKeyStore,
		Log:                zlog,
		DefaultMaxAttempts: cfg.MaxRetries,
	}
	if coord != nil {
		apiCfg.Coordinator = coord
	}
	server := api.NewServer(apiCfg)

	go func() {
		if err := server.Start(); err != nil {
			zlog.Error("api: server error", zap.Error(err))
		}
	}()

	zlog.Info("api: listening", zap.String("port", cfg.APIPort))

	sig := <-sigChan
	zlog.Info("api: received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("api: shutdown error", zap.Error(err))
	}

	cancel()
	zlog.Info("api: shutdown complete")
}

func mustOpenStore(cfg *config.Config, zlog *zap.Logger) store.Store {
	switch cfg.StoreDriver {
	case "postgres":
		st, err := postgres.New(cfg.PostgresDSN())
		if err != nil {
			zlog.Fatal("api: failed to open postgres store", zap.Error(err))
		}
		return st
	default:
		st, err := redis.New(cfg.RedisAddr)
		if err != nil {
			zlog.Fatal("api: failed to open redis store", zap.Error(err))
		}
		return st.WithLogger(zlog)
	}
}

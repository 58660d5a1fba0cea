package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"modeldrop/internal/config"
	"modeldrop/internal/live"
	"modeldrop/internal/logging"
	"modeldrop/internal/server"
	"modeldrop/internal/storage"
)

const (
	storageInitTimeout = 30 * time.Second
	redisPingTimeout   = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

type serveOptions struct {
	addr string
}

func (o *serveOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.addr, "addr", "", "listen address, overrides MD_ADDR")
}

func runServe(opts serveOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if cfg.Build.Version == "dev" {
		cfg.Build.Version = version
	}
	if cfg.Build.Commit == "unknown" {
		cfg.Build.Commit = commit
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), storageInitTimeout)
	store, err := storage.New(initCtx, cfg.Storage)
	cancelInit()
	if err != nil {
		logging.Error("storage_init_failed", logging.Fields{
			"provider": cfg.Storage.Provider,
			"bucket":   cfg.Storage.Bucket,
		}, err)
		return err
	}
	if cfg.BreakerFailures > 0 {
		store = storage.NewBreaker(store, uint32(cfg.BreakerFailures), cfg.BreakerCooldown)
	}
	logging.Info("storage_ready", logging.Fields{
		"provider": cfg.Storage.Provider,
		"bucket":   cfg.Storage.Bucket,
		"breaker":  cfg.BreakerFailures > 0,
	})

	hub := live.NewHub(live.WithOriginCheck(server.OriginChecker(cfg.AllowedOrigins)))
	var events live.Publisher = hub

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	if cfg.RedisURL != "" {
		relay, closeRedis, err := startRelay(relayCtx, cfg, hub)
		if err != nil {
			logging.Error("relay_init_failed", logging.Fields{"channel": cfg.RedisChannel}, err)
			return err
		}
		defer closeRedis()
		events = relay
	}

	scfg := server.FromConfig(cfg)
	scfg.Store = store
	scfg.Hub = hub
	scfg.Events = events
	srv, err := server.New(scfg)
	if err != nil {
		return err
	}

	// Start the HTTP server in a background goroutine so we can listen for
	// OS signals while it runs.
	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting", logging.Fields{
			"addr":        cfg.Addr,
			"version":     cfg.Build.Version,
			"commit":      cfg.Build.Commit,
			"model_types": server.AllowedModelTypes(),
		})
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info("shutting_down", logging.Fields{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error("shutdown_error", nil, err)
			return err
		}
		logging.Info("shutdown_complete", nil)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logging.Error("server_error", logging.Fields{"addr": cfg.Addr}, err)
		return err
	}
}

// startRelay connects to Redis and starts relaying events into hub. The
// returned func closes the client.
func startRelay(ctx context.Context, cfg config.Config, hub *live.Hub) (*live.RedisRelay, func(), error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse MD_REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}

	relay := live.NewRedisRelay(client, cfg.RedisChannel, hub)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("relay_stopped", logging.Fields{"channel": cfg.RedisChannel}, err)
		}
	}()
	logging.Info("relay_started", logging.Fields{"addr": opt.Addr, "channel": cfg.RedisChannel})

	return relay, func() { _ = client.Close() }, nil
}

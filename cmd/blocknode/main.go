// GridDFS block node (datanode).
//
// Holds raw block bytes behind a store/get/delete contract, registers
// itself with the coordinator on startup, and heartbeats to stay in the
// active placement set.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/blocknode"
	"github.com/griddfs/griddfs/internal/blockstore"
	"github.com/griddfs/griddfs/internal/config"
	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/metrics"
)

func main() {
	cfg, err := config.LoadBlockNode()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("GridDFS block node starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("endpoint", cfg.AdvertiseURL),
		zap.String("store", cfg.StoreBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := blockstore.NewFromConfig(ctx, cfg)
	if err != nil {
		logging.Fatal("block store init failed", zap.Error(err))
	}
	defer store.Close()

	srv := blocknode.NewServer(store)

	announcer := blocknode.NewAnnouncer(cfg.CoordinatorURL, cfg.AdvertiseURL,
		cfg.Capacity, cfg.Free, cfg.HeartbeatInterval)
	go announcer.Run(ctx)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("block node listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

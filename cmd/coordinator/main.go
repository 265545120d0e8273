// GridDFS coordinator (namenode).
//
// Single metadata authority: flat namespace, block ledger, node registry,
// and the allocate/confirm write protocol. Bulk block transfer goes
// directly between clients and block nodes and never passes through here.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/griddfs/griddfs/internal/api"
	"github.com/griddfs/griddfs/internal/auth"
	"github.com/griddfs/griddfs/internal/blocknode"
	"github.com/griddfs/griddfs/internal/config"
	"github.com/griddfs/griddfs/internal/ledger"
	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/metadata"
	"github.com/griddfs/griddfs/internal/metrics"
	"github.com/griddfs/griddfs/internal/registry"
)

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("GridDFS coordinator starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("metadata_backend", cfg.MetadataBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		logging.Fatal("metadata store init failed", zap.Error(err))
	}
	defer store.Close()

	reg := registry.New(store, cfg.LivenessWindow)
	verifier := auth.New(store, cfg.JWTSecret)
	nodeClient := blocknode.NewClient(cfg.NodeTimeout)
	ledgerSvc := ledger.New(store, reg, verifier, nodeClient, cfg.NodeTimeout)

	srv := api.NewServer(ledgerSvc, reg, verifier)

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

	logging.Info("coordinator listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}

	<-ctx.Done()
}

func openStore(cfg *config.Coordinator) (metadata.Store, error) {
	if cfg.MetadataBackend == "postgres" {
		store, err := metadata.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if dir := findMigrationsDir(); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := store.Migrate(dir); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
	return metadata.NewBoltStore(cfg.BoltPath)
}

func findMigrationsDir() string {
	candidates := []string{"migrations", "../migrations"}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

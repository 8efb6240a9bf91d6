// Command syncdemo wires the full engine against a REST backend and drains a
// few demo items, printing state transitions as they happen. It is the
// reference wiring for embedding the engine in a real client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	syncengine "github.com/kinetra/sync-engine"
	"github.com/kinetra/sync-engine/config"
	"github.com/kinetra/sync-engine/logging"
	"github.com/kinetra/sync-engine/storage/file"
	"github.com/kinetra/sync-engine/storage/memory"
	"github.com/kinetra/sync-engine/storage/sqlite"
	"github.com/kinetra/sync-engine/transport/resthttp"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "syncdemo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Init(cfg.Logging.LoggerConfig())
	logger := slog.Default()

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := resthttp.New(resthttp.Config{
		BaseURL:   cfg.Transport.BaseURL,
		Timeout:   cfg.Transport.Timeout.Duration(),
		AuthToken: cfg.Transport.AuthToken,
	}, resthttp.WithLogger(logger))
	if err != nil {
		return err
	}

	engine, err := syncengine.NewEngineBuilder().
		WithStore(store).
		WithTransport(transport).
		WithConnectivity(alwaysOnline{}).
		WithResolver(&syncengine.LastWriteWinsResolver{}).
		WithLogger(logger).
		WithStorageKeys(cfg.Queue.PendingKey, cfg.Queue.FailedKey).
		WithRetryPolicy(cfg.Retry.MaxRetries,
			cfg.Retry.BaseDelay.Duration(),
			cfg.Retry.MaxDelay.Duration(),
			cfg.Retry.JitterFactor).
		WithSchedule(cfg.Worker.SyncInterval.Duration(),
			cfg.Worker.DebounceDelay.Duration()).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	engine.Service.Subscribe(func(s syncengine.SyncState) {
		fmt.Printf("[%s] %s (pending=%d failed=%d)\n",
			s.Status, s.StatusLine(), s.PendingCount, s.FailedCount)
	})

	ctx := context.Background()
	engine.Monitor.Initialize(ctx)
	engine.Monitor.Start()
	engine.Worker.Start()

	if _, err := engine.Service.Enqueue(syncengine.EntitySession, syncengine.OperationCreate, "",
		map[string]any{"duration": 1800, "startedAt": "2026-08-30T08:00:00Z"},
		syncengine.PriorityHigh); err != nil {
		return err
	}
	if _, err := engine.Service.Enqueue(syncengine.EntityExerciseResult, syncengine.OperationCreate, "",
		map[string]any{"exercise": "deadlift", "reps": 5, "weight": 120},
		syncengine.PriorityNormal); err != nil {
		return err
	}

	if err := engine.Service.SyncPendingItems(ctx); err != nil {
		logger.Warn("initial sync failed", "error", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
	return nil
}

func openStore(cfg config.Storage, logger *slog.Logger) (syncengine.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "file":
		return file.New(cfg.Path, file.WithLogger(logger))
	case "sqlite":
		return sqlite.NewWithDataSource(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// alwaysOnline is a connectivity source for environments without a platform
// provider; the demo host is assumed to be connected.
type alwaysOnline struct{}

func (alwaysOnline) Transports(ctx context.Context) ([]syncengine.TransportKind, error) {
	return []syncengine.TransportKind{syncengine.TransportEthernet}, nil
}

func (alwaysOnline) Changes() <-chan []syncengine.TransportKind {
	return nil
}

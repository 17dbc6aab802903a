package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ironbook/internal/config"
	"ironbook/internal/engine"
	"ironbook/internal/net"
	"ironbook/internal/snapshot"
	"ironbook/internal/wal"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	configureLogging(cfg.Logging)

	snapMgr, err := snapshot.NewManager(cfg.Snapshot.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create snapshot manager")
	}

	registry := engine.NewRegistry(func(marketID string) (engine.WALAppender, int64, error) {
		path := filepath.Join(cfg.WAL.Dir, marketID+".wal")
		w, lastSeq, err := wal.Open(path)
		if err != nil {
			return nil, 0, err
		}
		return w, lastSeq, nil
	})

	srv := net.New(cfg.Listen.Address, cfg.Listen.Port, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	snapshotInterval, err := time.ParseDuration(cfg.Snapshot.Interval)
	if err != nil {
		log.Warn().Err(err).Str("interval", cfg.Snapshot.Interval).Msg("invalid snapshot interval, defaulting to 30s")
		snapshotInterval = 30 * time.Second
	}
	go runSnapshotLoop(ctx, registry, snapMgr, snapshotInterval)

	go srv.Run(ctx)
	<-ctx.Done()
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// runSnapshotLoop periodically persists every known market's current book
// state through mgr. Nothing in this program loads these snapshots back at
// start-up.
func runSnapshotLoop(ctx context.Context, registry *engine.Registry, mgr *snapshot.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, marketID := range registry.Markets() {
				if err := writeSnapshot(registry, mgr, marketID); err != nil {
					log.Error().Err(err).Str("market", marketID).Msg("snapshot write failed")
				}
			}
		}
	}
}

// fullDepth is large enough that no real book will ever reach it, so a
// snapshot captures every resting price level.
const fullDepth = 1 << 20

func writeSnapshot(registry *engine.Registry, mgr *snapshot.Manager, marketID string) error {
	bookSnap, seq, err := registry.Snapshot(marketID, fullDepth)
	if err != nil {
		return err
	}
	activeOrders, err := registry.ActiveOrders(marketID)
	if err != nil {
		return err
	}
	return mgr.Save(snapshot.State{
		MarketID:       marketID,
		SequenceNumber: seq,
		TimestampNs:    time.Now().UnixNano(),
		Book:           bookSnap,
		ActiveOrders:   activeOrders,
	})
}

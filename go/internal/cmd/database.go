package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/config"
	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

func setupSnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Store, func(), error) {
	switch cfg.Backend {
	case config.SnapshotPostgres:
		store, err := snapshot.NewPostgresStore(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to snapshot database: %w", err)
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("connected to snapshot database")
		return store, store.Close, nil

	case config.SnapshotMemory:
		log.Warn().Msg("snapshots kept in memory, room state will not survive a restart")
		return snapshot.NewMemoryStore(), func() {}, nil

	default:
		store, err := snapshot.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("dir", cfg.Dir).Msg("using file snapshots")
		return store, func() {}, nil
	}
}

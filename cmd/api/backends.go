package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contact-center/internal/config"
	"contact-center/internal/events"
	"contact-center/internal/orchestrator"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"
	"contact-center/internal/store"
	"contact-center/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// backends are the storage-facing collaborators selected by config.
type backends struct {
	db  *sql.DB
	rdb *redis.Client

	recorder  orchestrator.Recorder
	reports   reporting.Repository
	directory routing.AgentDirectory
	events    events.Repository
	limiter   orchestrator.Limiter
}

func openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	return db, nil
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	be := &backends{}
	var repos events.MultiRepo

	if cfg.UsesPostgres() {
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		be.db = db
		pg := store.NewPostgres(db)
		be.recorder = pg
		be.reports = pg
		be.directory = pg
		repos = append(repos, events.NewPostgresRepo(db))
	} else {
		dir := routing.NewMemoryDirectory()
		if cfg.Storage.AgentsFile != "" {
			agents, err := routing.LoadRoster(cfg.Storage.AgentsFile)
			if err != nil {
				return nil, err
			}
			for _, a := range agents {
				dir.Put(a)
			}
			log.Info("agent roster loaded", "agents", len(agents))
		}
		rec := store.NewMemoryRecorder()
		be.recorder = rec
		be.reports = rec
		be.directory = dir
	}

	if cfg.UsesRedis() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			be.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		be.rdb = rdb
		repos = append(repos, events.NewRedisRepo(rdb, events.DefaultChannelPrefix))
		if cfg.WebRTC.MaxConnections > 0 {
			be.limiter = store.NewSlotLimiter(rdb, cfg.WebRTC.MaxConnections, time.Hour)
		}
	} else if cfg.WebRTC.MaxConnections > 0 {
		be.limiter = store.NewMemoryLimiter(cfg.WebRTC.MaxConnections)
	}

	if len(repos) == 0 {
		repos = append(repos, events.NewLogRepo(log))
	}
	be.events = repos
	return be, nil
}

// Ready pings every configured backend.
func (b *backends) Ready(ctx context.Context) error {
	var errs []error
	if b.db != nil {
		if err := utils.HealthCheck(ctx, b.db, 2*time.Second); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if b.rdb != nil {
		if err := b.rdb.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *backends) Close() {
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

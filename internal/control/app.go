// Package control assembles C1-C8 into a running process, grounded on
// the teacher's internal/control.Watcher: a single struct owning every
// long-lived dependency, a NewApp constructor that wires them in order,
// and Start/Stop lifecycle methods driven by cmd/roundkeeper/main.go.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/roundkeeper/internal/core/config"
	"github.com/vietddude/roundkeeper/internal/harvester"
	"github.com/vietddude/roundkeeper/internal/health"
	"github.com/vietddude/roundkeeper/internal/infra/chain/evm"
	"github.com/vietddude/roundkeeper/internal/infra/rpc"
	"github.com/vietddude/roundkeeper/internal/lock"
	"github.com/vietddude/roundkeeper/internal/locator"
	"github.com/vietddude/roundkeeper/internal/persistence"
	"github.com/vietddude/roundkeeper/internal/pipeline"
	"github.com/vietddude/roundkeeper/internal/scheduler"
	"github.com/vietddude/roundkeeper/internal/validator"
)

// MigrationsDir is the goose migration directory, relative to the
// process's working directory, matching the teacher's convention.
const MigrationsDir = "migrations"

// App owns every long-lived dependency of the running process.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	db     *persistence.DB
	rdb    *redis.Client
	reader *evm.Reader

	sweeper *scheduler.Sweeper
	tip     *scheduler.TipRunner
	server  *health.Server
}

// NewApp wires C1-C8 per spec §6's environment configuration.
func NewApp(cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	ctx := context.Background()

	db, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := persistence.Migrate(db, MigrationsDir); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	rdb := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	rpcClient := rpc.NewClient(cfg.Chain.RPCURL, cfg.Chain.CallTimeout)
	reader := evm.NewReader(rpcClient, cfg.Chain.ContractAddr, cfg.Harvester.HeaderBatchSize)

	rangeCache := locator.NewRedisStore(rdb, cfg.Redis.Prefix+":locator:range")
	tsCache := locator.NewRedisStore(rdb, cfg.Redis.Prefix+":locator:ts")
	loc := locator.New(reader, cfg.Locator, rangeCache, tsCache)

	harv := harvester.New(reader, cfg.Harvester)
	val := validator.New(cfg.Harvester.EpochDelta)
	locker := lock.New(rdb, cfg.Redis.Prefix)
	breaker := pipeline.NewFailureWindow(cfg.Pipeline.MaxConsecutiveFailures, cfg.Pipeline.FailureWindow)

	pl := pipeline.New(reader, loc, harv, val, db, locker, breaker, cfg.Lock.TTL, log)

	monitor := health.NewMonitor(db, locker)
	server := health.NewServer(monitor, cfg.Server.Port)

	sweeper := scheduler.NewSweeper(reader, pl, cfg.Scheduler, monitor, log)
	tip := scheduler.NewTipRunner(reader, pl, cfg.Scheduler, monitor, log)

	return &App{
		cfg: cfg, log: log,
		db: db, rdb: rdb, reader: reader,
		sweeper: sweeper, tip: tip, server: server,
	}, nil
}

// Start launches the health server and both scheduler drivers. It
// returns immediately; a *errs.Fatal surfaced by either driver is
// delivered asynchronously via the returned fatal channel.
func (a *App) Start(ctx context.Context) <-chan error {
	fatal := make(chan error, 2)

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("health server stopped", "error", err)
		}
	}()

	go func() {
		if err := a.sweeper.Run(ctx); err != nil {
			fatal <- fmt.Errorf("sweeper: %w", err)
		}
	}()

	go func() {
		if err := a.tip.Run(ctx); err != nil {
			fatal <- fmt.Errorf("tip runner: %w", err)
		}
	}()

	return fatal
}

// Stop gracefully shuts the health server down and closes the
// database/redis connections. Scheduler drivers are stopped by
// cancelling the ctx passed to Start.
func (a *App) Stop(ctx context.Context) error {
	if err := a.server.Stop(ctx); err != nil {
		a.log.Warn("health server shutdown error", "error", err)
	}
	if err := a.rdb.Close(); err != nil {
		a.log.Warn("redis close error", "error", err)
	}
	return a.db.Close()
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/config"
	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/health"
	"github.com/vietddude/roundkeeper/internal/metrics"
)

// Sweeper drives the pipeline backward from current_epoch-2 toward
// genesis, N epochs per cycle, restarting every SweeperRestart to
// release accumulated resources. It never terminates on its own; the
// caller cancels ctx to stop it.
type Sweeper struct {
	source  EpochSource
	runner  Runner
	cfg     config.SchedulerConfig
	monitor *health.Monitor
	log     *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(source EpochSource, runner Runner, cfg config.SchedulerConfig, monitor *health.Monitor, log *slog.Logger) *Sweeper {
	return &Sweeper{source: source, runner: runner, cfg: cfg, monitor: monitor, log: log.With("driver", "sweeper")}
}

// Run blocks until ctx is cancelled or a *errs.Fatal error is returned
// by the pipeline (consecutive-failure breaker tripped).
func (s *Sweeper) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.restartCycle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// restartCycle holds one 30-minute incarnation of the driver: a fresh
// "attempted this uptime" set and a fresh floor read from current_epoch.
func (s *Sweeper) restartCycle(ctx context.Context) error {
	restart := time.NewTimer(s.cfg.SweeperRestart)
	defer restart.Stop()

	current, err := s.source.CurrentEpoch(ctx)
	if err != nil {
		s.log.Warn("failed to read current epoch, retrying after pause", "error", err)
		s.sleep(ctx, restart.C, s.cfg.SweeperCyclePause)
		return nil
	}

	var floor domain.Epoch
	if current > 2 {
		floor = domain.Epoch(current - 2)
	}
	attempted := make(map[domain.Epoch]bool)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-restart.C:
			s.log.Info("sweeper restarting", "floor", floor)
			return nil
		default:
		}

		for i := 0; i < s.cfg.SweeperBatchSize && floor > 0; i++ {
			if !attempted[floor] {
				outcome, err := s.runner.Run(ctx, floor)
				attempted[floor] = true
				if err != nil {
					var fatal *errs.Fatal
					if errors.As(err, &fatal) {
						return fatal
					}
					s.log.Warn("sweeper epoch failed", "epoch", floor, "error", err)
				} else {
					s.log.Debug("sweeper epoch processed", "epoch", floor, "outcome", outcome.String())
				}
			}
			floor--
		}

		metrics.SchedulerFloor.Set(float64(floor))
		s.monitor.UpdateSnapshot(health.SchedulerSnapshot{SweeperFloor: uint64(floor), SweeperLastCycle: time.Now()})

		if floor == 0 {
			// Reached genesis; nothing left to sweep until restarted.
			return nil
		}

		s.sleep(ctx, restart.C, s.cfg.SweeperCyclePause)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Sweeper) sleep(ctx context.Context, restartC <-chan time.Time, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-restartC:
	case <-time.After(d):
	}
}

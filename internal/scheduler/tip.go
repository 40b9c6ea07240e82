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
)

// TipRunner races the sweeper to the most recently settled epochs so
// the tip of the dataset is never stale.
type TipRunner struct {
	source  EpochSource
	runner  Runner
	cfg     config.SchedulerConfig
	monitor *health.Monitor
	log     *slog.Logger

	attempted map[domain.Epoch]bool
}

// NewTipRunner creates a TipRunner.
func NewTipRunner(source EpochSource, runner Runner, cfg config.SchedulerConfig, monitor *health.Monitor, log *slog.Logger) *TipRunner {
	return &TipRunner{
		source: source, runner: runner, cfg: cfg, monitor: monitor,
		log:       log.With("driver", "tip"),
		attempted: make(map[domain.Epoch]bool),
	}
}

// Run blocks until ctx is cancelled or a *errs.Fatal error surfaces.
func (t *TipRunner) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(t.cfg.TipWarmup):
	}

	ticker := time.NewTicker(t.cfg.TipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.cycle(ctx); err != nil {
				return err
			}
		}
	}
}

func (t *TipRunner) cycle(ctx context.Context) error {
	current, err := t.source.CurrentEpoch(ctx)
	if err != nil {
		t.log.Warn("failed to read current epoch", "error", err)
		return nil
	}

	for i := 2; i < 2+t.cfg.TipLookback; i++ {
		if current <= uint64(i) {
			continue
		}
		epoch := domain.Epoch(current - uint64(i))
		if t.attempted[epoch] {
			continue
		}

		outcome, err := t.runner.Run(ctx, epoch)
		if err != nil {
			var fatal *errs.Fatal
			if errors.As(err, &fatal) {
				return fatal
			}
			t.log.Warn("tip epoch failed", "epoch", epoch, "error", err)
			continue
		}

		t.log.Debug("tip epoch processed", "epoch", epoch, "outcome", outcome.String())
		if outcome.String() == "committed" || outcome.String() == "skipped" {
			t.attempted[epoch] = true
		}
	}

	t.monitor.UpdateSnapshot(health.SchedulerSnapshot{TipLastRun: time.Now()})
	return nil
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/config"
	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/health"
	"github.com/vietddude/roundkeeper/internal/pipeline"
)

type fakeSource struct{ epoch uint64 }

func (f *fakeSource) CurrentEpoch(ctx context.Context) (uint64, error) { return f.epoch, nil }

type fakeRunner struct {
	mu    sync.Mutex
	calls []domain.Epoch
	fatal bool
}

func (r *fakeRunner) Run(ctx context.Context, epoch domain.Epoch) (pipeline.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, epoch)
	if r.fatal && len(r.calls) > 2 {
		return pipeline.Failed, errs.NewFatal("breaker tripped", nil)
	}
	return pipeline.Committed, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeStorePinger struct{}

func (fakeStorePinger) Health(ctx context.Context) error { return nil }

type fakeLockPinger struct{}

func (fakeLockPinger) Ping(ctx context.Context) error { return nil }

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		SweeperBatchSize:  3,
		SweeperCyclePause: 5 * time.Millisecond,
		SweeperRestart:    time.Hour,
		TipInterval:       5 * time.Millisecond,
		TipWarmup:         time.Millisecond,
		TipLookback:       3,
	}
}

func TestSweeperProcessesDownwardFromFloor(t *testing.T) {
	source := &fakeSource{epoch: 20}
	runner := &fakeRunner{}
	monitor := health.NewMonitor(fakeStorePinger{}, fakeLockPinger{})
	s := NewSweeper(source, runner, testSchedulerConfig(), monitor, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	if runner.callCount() == 0 {
		t.Fatal("expected sweeper to invoke the runner")
	}
	runner.mu.Lock()
	first := runner.calls[0]
	runner.mu.Unlock()
	if first != domain.Epoch(18) {
		t.Fatalf("expected first swept epoch to be current-2=18, got %d", first)
	}
}

func TestSweeperStopsOnFatal(t *testing.T) {
	source := &fakeSource{epoch: 20}
	runner := &fakeRunner{fatal: true}
	monitor := health.NewMonitor(fakeStorePinger{}, fakeLockPinger{})
	s := NewSweeper(source, runner, testSchedulerConfig(), monitor, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	if err == nil {
		t.Fatal("expected a fatal error from the runner")
	}
}

func TestTipRunnerProcessesLookbackWindow(t *testing.T) {
	source := &fakeSource{epoch: 100}
	runner := &fakeRunner{}
	monitor := health.NewMonitor(fakeStorePinger{}, fakeLockPinger{})
	tr := NewTipRunner(source, runner, testSchedulerConfig(), monitor, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = tr.Run(ctx)

	if runner.callCount() < 3 {
		t.Fatalf("expected at least 3 calls for the lookback window, got %d", runner.callCount())
	}
}

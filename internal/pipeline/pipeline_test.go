package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/core/money"
	"github.com/vietddude/roundkeeper/internal/harvester"
	"github.com/vietddude/roundkeeper/internal/infra/chain"
	"github.com/vietddude/roundkeeper/internal/validator"
)

// fakeReader answers RoundMetadata only; Run never reaches the other
// chain.Reader methods once a fake locator/harvester are swapped in.
type fakeReader struct {
	meta map[uint64]chain.RoundMetadata
}

func (f *fakeReader) CurrentEpoch(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeReader) RoundMetadata(ctx context.Context, epoch uint64) (chain.RoundMetadata, error) {
	m, ok := f.meta[epoch]
	if !ok {
		return chain.RoundMetadata{}, nil
	}
	return m, nil
}

func (f *fakeReader) LatestBlockHeight(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeReader) BlockHeader(ctx context.Context, height uint64) (chain.Header, error) {
	return chain.Header{}, nil
}
func (f *fakeReader) BlockHeaders(ctx context.Context, heights []uint64) (map[uint64]chain.Header, error) {
	return nil, nil
}
func (f *fakeReader) Logs(ctx context.Context, kind chain.EventKind, from, to uint64) ([]chain.LogRecord, error) {
	return nil, nil
}

type fakeLocator struct {
	start, end uint64
	err        error
}

func (l *fakeLocator) EpochRange(ctx context.Context, epoch domain.Epoch, startTS, nextStartTS time.Time) (uint64, uint64, error) {
	return l.start, l.end, l.err
}

type fakeHarvester struct {
	events harvester.EpochEvents
	err    error
}

func (h *fakeHarvester) FetchEpoch(ctx context.Context, from, to, targetEpoch uint64) (harvester.EpochEvents, error) {
	return h.events, h.err
}

type fakeStore struct {
	complete      bool
	completeErr   error
	commitErr     error
	committed     bool
	recordedErr   string
	recordErrCall bool
	clearedErr    bool
}

func (s *fakeStore) IsComplete(ctx context.Context, epoch domain.Epoch) (bool, error) {
	return s.complete, s.completeErr
}

func (s *fakeStore) CommitEpoch(ctx context.Context, round domain.Round, bets []domain.Bet, claims []domain.Claim, multiClaims []domain.MultiClaim) error {
	if s.commitErr == nil {
		s.committed = true
	}
	return s.commitErr
}

func (s *fakeStore) RecordError(ctx context.Context, epoch domain.Epoch, message string, at time.Time) error {
	s.recordErrCall = true
	s.recordedErr = message
	return nil
}

func (s *fakeStore) ClearError(ctx context.Context, epoch domain.Epoch) error {
	s.clearedErr = true
	return nil
}

type fakeLocker struct {
	acquired   bool
	acquireErr error
	released   bool
	extended   bool
}

func (l *fakeLocker) Acquire(ctx context.Context, epoch domain.Epoch, ttl time.Duration) (bool, error) {
	return l.acquired, l.acquireErr
}

func (l *fakeLocker) Release(ctx context.Context, epoch domain.Epoch) error {
	l.released = true
	return nil
}

func (l *fakeLocker) Extend(ctx context.Context, epoch domain.Epoch, ttl time.Duration) error {
	l.extended = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func validScenarioEvents(epoch uint64, ts time.Time) harvester.EpochEvents {
	return harvester.EpochEvents{
		Start: []harvester.Event{{Epoch: epoch, Timestamp: ts}},
		Lock:  []harvester.Event{{Kind: chain.EventRoundLock, Epoch: epoch, LockPrice: money.MustParse("500.00000000"), Timestamp: ts}},
		End:   []harvester.Event{{Kind: chain.EventRoundEnd, Epoch: epoch, ClosePrice: money.MustParse("510.00000000"), Timestamp: ts}},
		StakeUp: []harvester.Event{
			{Epoch: epoch, Sender: "0xaaa", Amount: money.MustParse("3.00000000"), TxHash: "0x1", LogIndex: 0},
		},
		StakeDown: []harvester.Event{
			{Epoch: epoch, Sender: "0xbbb", Amount: money.MustParse("1.00000000"), TxHash: "0x2", LogIndex: 0},
		},
	}
}

func newTestPipeline(loc RangeLocator, harv EventHarvester, store Store, locker EpochLocker, meta map[uint64]chain.RoundMetadata) *Pipeline {
	reader := &fakeReader{meta: meta}
	val := validator.New(20)
	return New(reader, loc, harv, val, store, locker, NewFailureWindow(3, time.Minute), time.Minute, discardLogger())
}

func TestRunSkipsWhenAlreadyComplete(t *testing.T) {
	store := &fakeStore{complete: true}
	locker := &fakeLocker{acquired: true}
	p := newTestPipeline(&fakeLocator{}, &fakeHarvester{}, store, locker, nil)

	outcome, err := p.Run(context.Background(), domain.Epoch(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Skipped {
		t.Fatalf("got %s, want skipped", outcome)
	}
	if locker.released {
		t.Fatal("lock should never have been acquired, so it must not be released")
	}
}

func TestRunSkipsWhenLockNotAcquired(t *testing.T) {
	store := &fakeStore{complete: false}
	locker := &fakeLocker{acquired: false}
	p := newTestPipeline(&fakeLocator{}, &fakeHarvester{}, store, locker, nil)

	outcome, err := p.Run(context.Background(), domain.Epoch(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Skipped {
		t.Fatalf("got %s, want skipped", outcome)
	}
}

func TestRunCommitsOnValidEpoch(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := map[uint64]chain.RoundMetadata{
		10: {Epoch: 10, StartTS: ts, Exists: true},
		11: {Epoch: 11, Exists: false},
	}
	store := &fakeStore{complete: false}
	locker := &fakeLocker{acquired: true}
	loc := &fakeLocator{start: 100, end: 200}
	harv := &fakeHarvester{events: validScenarioEvents(10, ts)}
	p := newTestPipeline(loc, harv, store, locker, meta)

	outcome, err := p.Run(context.Background(), domain.Epoch(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Committed {
		t.Fatalf("got %s, want committed", outcome)
	}
	if !store.committed {
		t.Fatal("expected CommitEpoch to be called")
	}
	if !locker.released {
		t.Fatal("expected lock to be released after commit")
	}
	if !locker.extended {
		t.Fatal("expected lock to be extended before commit")
	}
	if !store.clearedErr {
		t.Fatal("expected a prior epoch error to be cleared on commit")
	}
}

func TestRunFailsAndRecordsErrorOnValidationFailure(t *testing.T) {
	meta := map[uint64]chain.RoundMetadata{
		10: {Epoch: 10, Exists: true},
	}
	store := &fakeStore{complete: false}
	locker := &fakeLocker{acquired: true}
	loc := &fakeLocator{start: 100, end: 200}
	// No RoundStart event: structural validation fails.
	harv := &fakeHarvester{events: harvester.EpochEvents{}}
	p := newTestPipeline(loc, harv, store, locker, meta)

	outcome, err := p.Run(context.Background(), domain.Epoch(10))
	if err == nil {
		t.Fatal("expected an error")
	}
	if outcome != Failed {
		t.Fatalf("got %s, want failed", outcome)
	}
	if !store.recordErrCall {
		t.Fatal("expected RecordError to be called")
	}
	if store.committed {
		t.Fatal("commit must not be called on a failed epoch")
	}
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected a structural failure to classify as errs.ErrValidation, got %v", err)
	}
	if errors.Is(err, errs.ErrInconsistent) {
		t.Fatalf("structural failure must not classify as errs.ErrInconsistent, got %v", err)
	}
}

// TestIsInconsistentClassifiesCrossTableCodes asserts that process
// wraps a §7 class-4 cross-table failure under errs.ErrInconsistent,
// distinct from a class-3 structural/claim-key failure under
// errs.ErrValidation, so callers can tell the two apart with errors.Is.
func TestIsInconsistentClassifiesCrossTableCodes(t *testing.T) {
	crossTable := []errs.ValidationError{{Code: errs.CodeSumMismatch, Message: "mismatch"}}
	if !isInconsistent(crossTable) {
		t.Fatal("expected a SUM_MISMATCH reason to classify as inconsistent")
	}

	sidePositive := []errs.ValidationError{{Code: errs.CodeSidePositiveNoOdds, Message: "no odds"}}
	if !isInconsistent(sidePositive) {
		t.Fatal("expected a SIDE_POSITIVE_NO_ODDS reason to classify as inconsistent")
	}

	structural := []errs.ValidationError{{Code: errs.CodeNoRoundStart, Message: "missing"}}
	if isInconsistent(structural) {
		t.Fatal("expected a NO_ROUND_START reason not to classify as inconsistent")
	}

	claimKey := []errs.ValidationError{{Code: errs.CodeDuplicateClaimKey, Message: "dup"}}
	if isInconsistent(claimKey) {
		t.Fatal("expected a DUPLICATE_CLAIM_KEY reason not to classify as inconsistent")
	}
}

func TestRunTripsBreakerAfterConsecutiveFailures(t *testing.T) {
	meta := map[uint64]chain.RoundMetadata{10: {Epoch: 10, Exists: true}}
	store := &fakeStore{complete: false}
	locker := &fakeLocker{acquired: true}
	loc := &fakeLocator{start: 100, end: 200}
	harv := &fakeHarvester{events: harvester.EpochEvents{}}
	p := newTestPipeline(loc, harv, store, locker, meta)
	p.breaker = NewFailureWindow(2, time.Minute)

	if _, err := p.Run(context.Background(), domain.Epoch(10)); err == nil {
		t.Fatal("expected first failure to return an error")
	}
	_, err := p.Run(context.Background(), domain.Epoch(10))
	if err == nil {
		t.Fatal("expected second failure to trip the breaker")
	}
	var fatal *errs.Fatal
	if !errors.As(err, &fatal) {
		t.Fatalf("expected a *errs.Fatal wrapping error, got %T", err)
	}
}

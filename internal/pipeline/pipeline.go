// Package pipeline implements the Epoch Pipeline (C7): the ten-state
// machine that drives one epoch from a completion check through
// locate/harvest/validate/commit, guarded by the lock service and the
// sliding-window failure circuit breaker, per spec §4.7.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/harvester"
	"github.com/vietddude/roundkeeper/internal/infra/chain"
	"github.com/vietddude/roundkeeper/internal/metrics"
	"github.com/vietddude/roundkeeper/internal/validator"
)

// Outcome is the terminal state a Run reaches for one epoch.
type Outcome int

const (
	// Skipped: already complete (CHECK_DONE) or lock not owned (ACQUIRE_LOCK).
	Skipped Outcome = iota
	// Committed: COMMIT/MARK_DONE succeeded.
	Committed
	// Failed: LOCATE, HARVEST, VALIDATE, or COMMIT failed; an EpochError
	// row was written and the lock released (DONE_WITH_FAIL). Also
	// returned, with no error row and no lock taken, when the CHECK_DONE
	// lookup itself fails.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// RangeLocator resolves an epoch's block range. Satisfied by *locator.Locator.
type RangeLocator interface {
	EpochRange(ctx context.Context, epoch domain.Epoch, startTS, nextStartTS time.Time) (start, end uint64, err error)
}

// EventHarvester pulls one epoch's events. Satisfied by *harvester.Harvester.
type EventHarvester interface {
	FetchEpoch(ctx context.Context, from, to, targetEpoch uint64) (harvester.EpochEvents, error)
}

// Store is the subset of persistence.DB the pipeline needs.
type Store interface {
	IsComplete(ctx context.Context, epoch domain.Epoch) (bool, error)
	CommitEpoch(ctx context.Context, round domain.Round, bets []domain.Bet, claims []domain.Claim, multiClaims []domain.MultiClaim) error
	RecordError(ctx context.Context, epoch domain.Epoch, message string, at time.Time) error
	ClearError(ctx context.Context, epoch domain.Epoch) error
}

// EpochLocker is the subset of lock.Locker the pipeline needs.
type EpochLocker interface {
	Acquire(ctx context.Context, epoch domain.Epoch, ttl time.Duration) (bool, error)
	Release(ctx context.Context, epoch domain.Epoch) error
	Extend(ctx context.Context, epoch domain.Epoch, ttl time.Duration) error
}

// Pipeline wires C1-C6 together into the per-epoch state machine.
type Pipeline struct {
	reader    chain.Reader
	locator   RangeLocator
	harvester EventHarvester
	validator *validator.Validator
	db        Store
	locker    EpochLocker
	breaker   *FailureWindow

	lockTTL time.Duration
	log     *slog.Logger
}

// New creates a Pipeline.
func New(
	reader chain.Reader,
	loc RangeLocator,
	harv EventHarvester,
	val *validator.Validator,
	db Store,
	locker EpochLocker,
	breaker *FailureWindow,
	lockTTL time.Duration,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		reader: reader, locator: loc, harvester: harv, validator: val,
		db: db, locker: locker, breaker: breaker, lockTTL: lockTTL, log: log,
	}
}

// Run drives one epoch through the full state machine. A non-nil
// *errs.Fatal return means the consecutive-failure threshold was
// reached and the caller must shut the process down with exit code 1.
func (p *Pipeline) Run(ctx context.Context, epoch domain.Epoch) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.EpochPipelineDuration.Observe(time.Since(start).Seconds())
	}()

	// CHECK_DONE
	complete, err := p.db.IsComplete(ctx, epoch)
	if err != nil {
		return Failed, fmt.Errorf("%w: check completion: %v", errs.ErrPersistence, err)
	}
	if complete {
		metrics.EpochsProcessed.WithLabelValues("skipped").Inc()
		return Skipped, nil
	}

	// ACQUIRE_LOCK
	acquired, err := p.locker.Acquire(ctx, epoch, p.lockTTL)
	if err != nil || !acquired {
		// Lock-service failure or lost race: skip this cycle, not fatal
		// (§7 class 6).
		metrics.EpochsProcessed.WithLabelValues("skipped").Inc()
		return Skipped, nil
	}
	defer func() {
		if relErr := p.locker.Release(context.Background(), epoch); relErr != nil {
			p.log.Warn("lock release failed", "epoch", epoch, "error", relErr)
		}
	}()

	records, fail := p.process(ctx, epoch)
	if fail != nil {
		p.logError(epoch, fail)
		tripped := p.breaker.RecordFailure()
		metrics.EpochsProcessed.WithLabelValues("failed").Inc()
		if tripped {
			return Failed, errs.NewFatal("consecutive pipeline failures exceeded threshold", fail)
		}
		return Failed, fail
	}

	// LOCATE/HARVEST/VALIDATE can approach the lock TTL for a wide block
	// range; reset the expiry before COMMIT so a slow epoch never loses
	// its lock mid-write.
	if err := p.locker.Extend(ctx, epoch, p.lockTTL); err != nil {
		p.log.Warn("lock extend failed", "epoch", epoch, "error", err)
	}

	if err := p.commit(ctx, records); err != nil {
		p.logError(epoch, err)
		tripped := p.breaker.RecordFailure()
		metrics.EpochsProcessed.WithLabelValues("failed").Inc()
		if tripped {
			return Failed, errs.NewFatal("consecutive pipeline failures exceeded threshold", err)
		}
		return Failed, err
	}

	if err := p.db.ClearError(context.Background(), epoch); err != nil {
		p.log.Warn("clear epoch error failed", "epoch", epoch, "error", err)
	}

	p.breaker.RecordSuccess()
	metrics.EpochsProcessed.WithLabelValues("committed").Inc()
	return Committed, nil
}

// process runs LOCATE, HARVEST, and VALIDATE, returning the validated
// records on success or the first error encountered.
func (p *Pipeline) process(ctx context.Context, epoch domain.Epoch) (*validator.Records, error) {
	meta, err := p.reader.RoundMetadata(ctx, uint64(epoch))
	if err != nil {
		return nil, fmt.Errorf("%w: round metadata for epoch %d: %v", errs.ErrRPCTransient, epoch, err)
	}
	if !meta.Exists {
		return nil, fmt.Errorf("%w: epoch %d has no on-chain round", errs.ErrRPCPermanent, epoch)
	}

	nextStart := time.Now()
	if nextMeta, err := p.reader.RoundMetadata(ctx, uint64(epoch)+1); err == nil && nextMeta.Exists {
		nextStart = nextMeta.StartTS
	}

	startBlock, endBlock, err := p.locator.EpochRange(ctx, epoch, meta.StartTS, nextStart)
	if err != nil {
		return nil, fmt.Errorf("%w: locate range for epoch %d: %v", errs.ErrRPCTransient, epoch, err)
	}

	events, err := p.harvester.FetchEpoch(ctx, startBlock, endBlock, uint64(epoch))
	if err != nil {
		return nil, fmt.Errorf("%w: harvest epoch %d: %v", errs.ErrRPCTransient, epoch, err)
	}

	result := p.validator.Validate(events, epoch)
	if !result.OK() {
		sentinel := errs.ErrValidation
		if isInconsistent(result.Reasons) {
			sentinel = errs.ErrInconsistent
		}
		return nil, fmt.Errorf("%w: epoch %d: %s", sentinel, epoch, errs.ValidationErrors(result.Reasons))
	}

	return result.Records, nil
}

// isInconsistent reports whether reasons are exclusively §7 class-4
// cross-table consistency codes rather than class-3 structural/claim
// validation codes, so process can wrap the two classes under distinct
// sentinels. Validate's phases are mutually exclusive (it returns as
// soon as one phase's checks fail), so reasons is never a mix of the
// two classes.
func isInconsistent(reasons []errs.ValidationError) bool {
	if len(reasons) == 0 {
		return false
	}
	for _, r := range reasons {
		switch r.Code {
		case errs.CodeSumMismatch, errs.CodeSideSumMismatch, errs.CodeSidePositiveNoOdds, errs.CodeBetCountMismatch:
		default:
			return false
		}
	}
	return true
}

// commit runs COMMIT (which is MARK_DONE by construction): a single
// transaction writing the Round, Bets, Claims, derived MultiClaims, and
// the completion marker, and clearing the epoch's live-feed rows.
func (p *Pipeline) commit(ctx context.Context, records *validator.Records) error {
	multiClaims := validator.DeriveMultiClaims(records.Claims)
	if err := p.db.CommitEpoch(ctx, records.Round, records.Bets, records.Claims, multiClaims); err != nil {
		return fmt.Errorf("%w: commit epoch %d: %v", errs.ErrPersistence, records.Round.Epoch, err)
	}
	return nil
}

// logError is LOG_ERR: written on an independent connection so
// diagnostics survive the failed pipeline's rollback.
func (p *Pipeline) logError(epoch domain.Epoch, cause error) {
	if err := p.db.RecordError(context.Background(), epoch, cause.Error(), time.Now()); err != nil {
		p.log.Error("failed to record epoch error", "epoch", epoch, "cause", cause, "record_error", err)
	}
}

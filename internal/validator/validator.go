// Package validator implements the Validator (C4): given EpochEvents
// and a target epoch, it produces either a validation success carrying
// the three canonical record sets or a failure with enumerated error
// reasons, per spec §4.4. A Result is a sum type: exactly one of
// Records or Reasons is populated, never both.
package validator

import (
	"fmt"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/core/money"
	"github.com/vietddude/roundkeeper/internal/harvester"
)

// SumTolerance is the permitted drift between Round.Total and the sum
// of Bet amounts, and between side sums and Round's up/down amounts
// (P2/P3, default 10^-4).
var SumTolerance = money.MustParse("0.00010000")

// Records is the validated output of one epoch: a canonical Round, its
// Bets, and any Claim events observed in the scanned range.
type Records struct {
	Round  domain.Round
	Bets   []domain.Bet
	Claims []domain.Claim
}

// Result is the sum-type outcome of validating one epoch: exactly one
// of Records or Reasons is populated.
type Result struct {
	Records *Records
	Reasons []errs.ValidationError
}

// OK reports whether validation succeeded.
func (r Result) OK() bool { return r.Records != nil }

// Validator checks structural and cross-stream consistency of
// harvested events and derives the canonical Round/Bet/Claim records.
type Validator struct {
	epochDelta int64
}

// New creates a Validator with the configured cross-epoch tolerance
// delta (spec §4.4, default 20).
func New(epochDelta int64) *Validator {
	return &Validator{epochDelta: epochDelta}
}

// Validate checks EpochEvents against targetEpoch and, on success,
// constructs the canonical Round/Bet/Claim records.
func (v *Validator) Validate(events harvester.EpochEvents, targetEpoch domain.Epoch) Result {
	var reasons []errs.ValidationError

	reasons = append(reasons, v.structuralChecks(events, targetEpoch)...)
	if len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	round, priceWarning := v.buildRound(events, targetEpoch)

	stakeUp := filterByEpoch(events.StakeUp, uint64(targetEpoch))
	stakeDown := filterByEpoch(events.StakeDown, uint64(targetEpoch))
	bets := buildBets(stakeUp, stakeDown, targetEpoch, round.Outcome)

	reasons = append(reasons, crossTableChecks(round, bets, stakeUp, stakeDown)...)
	if len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	round.PriceWarning = priceWarning
	claims := buildClaims(events.Claim, targetEpoch)

	reasons = append(reasons, claimKeyChecks(claims)...)
	if len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	return Result{Records: &Records{Round: round, Bets: bets, Claims: claims}}
}

// structuralChecks enforces §4.4's structural rules: at least one
// RoundStart within tolerance of the target, non-empty sender and
// positive amount on every stake/claim event, numeric (non-zero) epoch.
func (v *Validator) structuralChecks(events harvester.EpochEvents, targetEpoch domain.Epoch) []errs.ValidationError {
	var reasons []errs.ValidationError

	if !hasEpochWithinDelta(events.Start, uint64(targetEpoch), v.epochDelta) {
		reasons = append(reasons, errs.ValidationError{
			Code: errs.CodeNoRoundStart, Message: fmt.Sprintf("no RoundStart within delta of epoch %d", targetEpoch),
		})
	}

	for _, ev := range append(append([]harvester.Event{}, events.StakeUp...), events.StakeDown...) {
		reasons = append(reasons, eventStructuralChecks(ev)...)
	}
	for _, ev := range events.Claim {
		reasons = append(reasons, eventStructuralChecks(ev)...)
	}

	return reasons
}

func eventStructuralChecks(ev harvester.Event) []errs.ValidationError {
	var reasons []errs.ValidationError
	if ev.Sender == "" {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeEmptySender, Message: fmt.Sprintf("tx %s log %d has empty sender", ev.TxHash, ev.LogIndex)})
	}
	if !ev.Amount.IsPositive() {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeNonPositiveAmount, Message: fmt.Sprintf("tx %s log %d has non-positive amount", ev.TxHash, ev.LogIndex)})
	}
	if ev.Epoch == 0 {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeInvalidEpoch, Message: fmt.Sprintf("tx %s log %d has zero epoch", ev.TxHash, ev.LogIndex)})
	}
	return reasons
}

func hasEpochWithinDelta(events []harvester.Event, target uint64, delta int64) bool {
	for _, ev := range events {
		d := int64(ev.Epoch) - int64(target)
		if d < 0 {
			d = -d
		}
		if d <= delta {
			return true
		}
	}
	return false
}

// buildRound aggregates stake totals, derives outcome, and computes
// odds, per §4.4's Round construction formula.
func (v *Validator) buildRound(events harvester.EpochEvents, targetEpoch domain.Epoch) (domain.Round, bool) {
	up := sumAmounts(filterByEpoch(events.StakeUp, uint64(targetEpoch)))
	down := sumAmounts(filterByEpoch(events.StakeDown, uint64(targetEpoch)))
	total := up.Add(down)
	poolAfterFee := total.Mul3PctFee()

	upOdds := poolAfterFee.DivToOdds(up)
	downOdds := poolAfterFee.DivToOdds(down)

	lockPrice, closePrice, priceWarning := resolvePrices(events, targetEpoch, v.epochDelta)

	outcome := domain.OutcomeUp
	if !priceWarning && closePrice.Cmp(lockPrice) <= 0 {
		outcome = domain.OutcomeDown
	}

	startTS, lockTS, closeTS := resolveTimes(events, targetEpoch, v.epochDelta)

	return domain.Round{
		Epoch:      targetEpoch,
		StartTS:    startTS,
		LockTS:     lockTS,
		CloseTS:    closeTS,
		LockPrice:  lockPrice,
		ClosePrice: closePrice,
		Outcome:    outcome,
		Total:      total,
		UpAmount:   up,
		DownAmount: down,
		UpOdds:     upOdds,
		DownOdds:   downOdds,
	}, priceWarning
}

// resolvePrices picks the lock/close price from the RoundLock/RoundEnd
// event nearest the target epoch within delta. Missing prices are
// never guessed: the validator reports a warning and defaults to UP,
// per §4.4's "must never guess" rule.
func resolvePrices(events harvester.EpochEvents, targetEpoch domain.Epoch, delta int64) (lock, close money.Amount, warning bool) {
	lockEv, lockOK := nearestWithinDelta(events.Lock, uint64(targetEpoch), delta)
	endEv, endOK := nearestWithinDelta(events.End, uint64(targetEpoch), delta)
	if !lockOK || !endOK {
		return money.Zero, money.Zero, true
	}
	return lockEv.LockPrice, endEv.ClosePrice, false
}

func resolveTimes(events harvester.EpochEvents, targetEpoch domain.Epoch, delta int64) (start, lock, close_ time.Time) {
	if ev, ok := nearestWithinDelta(events.Start, uint64(targetEpoch), delta); ok {
		start = ev.Timestamp
	}
	if ev, ok := nearestWithinDelta(events.Lock, uint64(targetEpoch), delta); ok {
		lock = ev.Timestamp
	}
	if ev, ok := nearestWithinDelta(events.End, uint64(targetEpoch), delta); ok {
		close_ = ev.Timestamp
	}
	return start, lock, close_
}

func nearestWithinDelta(events []harvester.Event, target uint64, delta int64) (harvester.Event, bool) {
	var best harvester.Event
	bestDist := int64(-1)
	found := false
	for _, ev := range events {
		d := int64(ev.Epoch) - int64(target)
		if d < 0 {
			d = -d
		}
		if d > delta {
			continue
		}
		if !found || d < bestDist {
			best = ev
			bestDist = d
			found = true
		}
	}
	return best, found
}

func sumAmounts(events []harvester.Event) money.Amount {
	sum := money.Zero
	for _, ev := range events {
		sum = sum.Add(ev.Amount)
	}
	return sum
}

func filterByEpoch(events []harvester.Event, epoch uint64) []harvester.Event {
	out := make([]harvester.Event, 0, len(events))
	for _, ev := range events {
		if ev.Epoch == epoch {
			out = append(out, ev)
		}
	}
	return out
}

// buildBets constructs a Bet per stake event, tagging direction by
// source stream and outcome = WIN iff direction equals the round's
// settled outcome.
func buildBets(stakeUp, stakeDown []harvester.Event, epoch domain.Epoch, outcome domain.Outcome) []domain.Bet {
	bets := make([]domain.Bet, 0, len(stakeUp)+len(stakeDown))
	bets = append(bets, betsFromStream(stakeUp, domain.DirectionUp, epoch, outcome)...)
	bets = append(bets, betsFromStream(stakeDown, domain.DirectionDown, epoch, outcome)...)
	return bets
}

func betsFromStream(events []harvester.Event, dir domain.Direction, epoch domain.Epoch, outcome domain.Outcome) []domain.Bet {
	bets := make([]domain.Bet, 0, len(events))
	for _, ev := range events {
		betOutcome := domain.BetOutcomeLoss
		if string(dir) == string(outcome) {
			betOutcome = domain.BetOutcomeWin
		}
		bets = append(bets, domain.Bet{
			Epoch:     epoch,
			TxHash:    ev.TxHash,
			LogIndex:  ev.LogIndex,
			BetTime:   ev.Timestamp,
			Wallet:    ev.Sender,
			Direction: dir,
			Amount:    ev.Amount,
			Outcome:   betOutcome,
			Block:     ev.BlockHeight,
		})
	}
	return bets
}

// buildClaims constructs a Claim per observed claim event. epoch and
// bet_epoch are explicitly distinct fields: epoch is the epoch the
// claim was observed in (the scan target), bet_epoch is the epoch
// whose winnings are withdrawn, per §4.4.
func buildClaims(events []harvester.Event, targetEpoch domain.Epoch) []domain.Claim {
	claims := make([]domain.Claim, 0, len(events))
	for _, ev := range filterByEpoch(events, uint64(targetEpoch)) {
		claims = append(claims, domain.Claim{
			Epoch:    targetEpoch,
			TxHash:   ev.TxHash,
			LogIndex: ev.LogIndex,
			BetEpoch: domain.Epoch(ev.BetEpoch),
			Wallet:   ev.Sender,
			Amount:   ev.Amount,
		})
	}
	return claims
}

// crossTableChecks enforces §4.4's four cross-table consistency rules,
// each a distinct error code.
func crossTableChecks(round domain.Round, bets []domain.Bet, stakeUp, stakeDown []harvester.Event) []errs.ValidationError {
	var reasons []errs.ValidationError

	if len(bets) == 0 {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeZeroBets, Message: "no bets for epoch"})
		return reasons
	}

	betTotal := money.Zero
	upTotal := money.Zero
	downTotal := money.Zero
	for _, b := range bets {
		betTotal = betTotal.Add(b.Amount)
		if b.Direction == domain.DirectionUp {
			upTotal = upTotal.Add(b.Amount)
		} else {
			downTotal = downTotal.Add(b.Amount)
		}
	}

	if !round.Total.Sub(betTotal).LessOrEqualTolerance(SumTolerance) {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeSumMismatch, Message: fmt.Sprintf("round total %s != bet sum %s", round.Total, betTotal)})
	}
	if !round.UpAmount.Sub(upTotal).LessOrEqualTolerance(SumTolerance) {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeSideSumMismatch, Message: fmt.Sprintf("round up %s != up bet sum %s", round.UpAmount, upTotal)})
	}
	if !round.DownAmount.Sub(downTotal).LessOrEqualTolerance(SumTolerance) {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeSideSumMismatch, Message: fmt.Sprintf("round down %s != down bet sum %s", round.DownAmount, downTotal)})
	}
	if round.UpAmount.IsPositive() && !round.UpOdds.IsPositive() {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeSidePositiveNoOdds, Message: "up side has positive stake but zero odds"})
	}
	if round.DownAmount.IsPositive() && !round.DownOdds.IsPositive() {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeSidePositiveNoOdds, Message: "down side has positive stake but zero odds"})
	}
	if len(bets) != len(stakeUp)+len(stakeDown) {
		reasons = append(reasons, errs.ValidationError{Code: errs.CodeBetCountMismatch, Message: fmt.Sprintf("bet count %d != up+down stream count %d", len(bets), len(stakeUp)+len(stakeDown))})
	}

	return reasons
}

// DeriveMultiClaims groups claims by (epoch, wallet) and emits a
// MultiClaim row wherever either independent threshold in P10 is met:
// count >= MultiClaimClaimThreshold or total >= MultiClaimAmountThreshold.
func DeriveMultiClaims(claims []domain.Claim) []domain.MultiClaim {
	type key struct {
		epoch  domain.Epoch
		wallet string
	}
	type agg struct {
		count int
		total money.Amount
	}

	groups := make(map[key]*agg)
	var order []key
	for _, c := range claims {
		k := key{epoch: c.Epoch, wallet: c.Wallet}
		a, ok := groups[k]
		if !ok {
			a = &agg{total: money.Zero}
			groups[k] = a
			order = append(order, k)
		}
		a.count++
		a.total = a.total.Add(c.Amount)
	}

	var out []domain.MultiClaim
	for _, k := range order {
		a := groups[k]
		if a.count >= domain.MultiClaimClaimThreshold || a.total.Cmp(domain.MultiClaimAmountThreshold) >= 0 {
			out = append(out, domain.MultiClaim{Epoch: k.epoch, Wallet: k.wallet, ClaimCount: a.count, Total: a.total})
		}
	}
	return out
}

// claimKeyChecks enforces P5: (tx_hash, log_index, bet_epoch) must be
// unique within one validation batch.
func claimKeyChecks(claims []domain.Claim) []errs.ValidationError {
	var reasons []errs.ValidationError
	seen := make(map[string]struct{})
	for _, c := range claims {
		key := fmt.Sprintf("%s:%d:%d", c.TxHash, c.LogIndex, c.BetEpoch)
		if _, ok := seen[key]; ok {
			reasons = append(reasons, errs.ValidationError{Code: errs.CodeDuplicateClaimKey, Message: fmt.Sprintf("duplicate claim key %s", key)})
			continue
		}
		seen[key] = struct{}{}
	}
	return reasons
}

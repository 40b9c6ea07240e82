// Package domain holds the canonical entities of the round history
// reconstructor: one settled epoch produces one Round, some Bets, some
// Claims, and optionally derived MultiClaim rows.
package domain

import (
	"time"

	"github.com/vietddude/roundkeeper/internal/core/money"
)

// Direction is the side a wallet staked on.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Outcome is the settled result of a round.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// BetOutcome is whether a single bet won or lost.
type BetOutcome string

const (
	BetOutcomeWin  BetOutcome = "WIN"
	BetOutcomeLoss BetOutcome = "LOSS"
)

// Epoch is the integer index of a settled prediction round.
type Epoch uint64

// Round is the canonical per-epoch aggregate record.
type Round struct {
	Epoch      Epoch
	StartTS    time.Time
	LockTS     time.Time
	CloseTS    time.Time
	LockPrice  money.Amount
	ClosePrice money.Amount
	Outcome    Outcome
	Total      money.Amount
	UpAmount   money.Amount
	DownAmount money.Amount
	UpOdds     money.Odds
	DownOdds   money.Odds
	// PriceWarning is set when lock or close price was unavailable and
	// Outcome defaulted to UP per the documented policy.
	PriceWarning bool
}

// Bet is a single directional stake by a wallet within an epoch.
type Bet struct {
	Epoch     Epoch
	TxHash    string
	LogIndex  uint32
	BetTime   time.Time
	Wallet    string
	Direction Direction
	Amount    money.Amount
	Outcome   BetOutcome
	Block     uint64
}

// Key identifies a Bet's composite primary key.
func (b Bet) Key() (Epoch, string, uint32) { return b.Epoch, b.TxHash, b.LogIndex }

// Claim is a single payout withdrawal observed in Epoch, potentially
// settling winnings from an earlier BetEpoch.
type Claim struct {
	Epoch    Epoch
	TxHash   string
	LogIndex uint32
	BetEpoch Epoch
	Wallet   string
	Amount   money.Amount
}

// Key identifies a Claim's composite primary key, including BetEpoch so
// that a single transaction settling multiple bet epochs for one wallet
// produces distinct rows.
func (c Claim) Key() (Epoch, string, uint32, Epoch) {
	return c.Epoch, c.TxHash, c.LogIndex, c.BetEpoch
}

// MultiClaim is a derived record marking a wallet's aggregate claim
// activity within one observation epoch exceeding a threshold.
type MultiClaim struct {
	Epoch      Epoch
	Wallet     string
	ClaimCount int
	Total      money.Amount
}

// MultiClaimClaimThreshold and MultiClaimAmountThreshold are the two
// independent conditions in spec §3: either one present qualifies.
const MultiClaimClaimThreshold = 5

var MultiClaimAmountThreshold = money.MustParse("1.00000000")

// EpochCompletion is a presence-only marker indicating the epoch has
// been fully persisted.
type EpochCompletion struct {
	Epoch Epoch
}

// EpochError records the last-observed failure for an epoch whose
// pipeline aborted. It is maintained out-of-band from the main
// transaction.
type EpochError struct {
	Epoch     Epoch
	Message   string
	UpdatedAt time.Time
}

// LiveBet is a row of the live-feed staging table written by a separate
// real-time system; the pipeline deletes all rows for an epoch at
// commit time.
type LiveBet struct {
	Epoch Epoch
}

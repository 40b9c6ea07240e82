// Package chain defines the typed, read-only view of the single
// contract this system reconstructs history for (§4.1/§6). It has no
// state of its own: no state change is ever made on the network side.
package chain

import (
	"context"
	"time"
)

// EventKind enumerates the six contract event signatures the Reader
// decodes. Decoding is uniform across kinds; EventKind only selects the
// filter topic, per §4.1's "must not split logic per signature beyond
// the signature-to-filter mapping."
type EventKind int

const (
	EventRoundStart EventKind = iota
	EventRoundLock
	EventRoundEnd
	EventStakeUp
	EventStakeDown
	EventClaim
)

func (k EventKind) String() string {
	switch k {
	case EventRoundStart:
		return "RoundStart"
	case EventRoundLock:
		return "RoundLock"
	case EventRoundEnd:
		return "RoundEnd"
	case EventStakeUp:
		return "StakeUp"
	case EventStakeDown:
		return "StakeDown"
	case EventClaim:
		return "Claim"
	default:
		return "Unknown"
	}
}

// AllEventKinds lists every event kind the harvester fetches per window.
var AllEventKinds = []EventKind{
	EventRoundStart, EventRoundLock, EventRoundEnd,
	EventStakeUp, EventStakeDown, EventClaim,
}

// LogRecord is one decoded contract event, carrying the raw 18-digit
// amount string and the embedded epoch taken straight from the event
// data; callers reduce and validate further up the stack.
type LogRecord struct {
	Kind        EventKind
	TxHash      string
	LogIndex    uint32
	BlockHeight uint64
	Epoch       uint64
	Sender      string // lowercased 20-byte hex, empty if not applicable
	AmountRaw18 string // "" if not applicable (RoundStart/Lock/End)
	LockPrice   string // RoundLock only, raw integer string
	ClosePrice  string // RoundEnd only, raw integer string
	BetEpoch    uint64 // Claim only: the epoch whose winnings are withdrawn
}

// Header is a block header reduced to the two fields the locator and
// harvester need.
type Header struct {
	Height    uint64
	Timestamp time.Time
}

// RoundMetadata is the result of calling rounds(epoch) on the contract.
type RoundMetadata struct {
	Epoch         uint64
	StartTS       time.Time
	LockTS        time.Time
	CloseTS       time.Time
	LockPrice     string
	ClosePrice    string
	OracleCalled  bool
	Exists        bool // false when rounds(epoch) reverted (§7 class 2)
}

// Reader is the typed, read-only interface to the contract (C1).
type Reader interface {
	// CurrentEpoch returns the contract's live epoch counter.
	CurrentEpoch(ctx context.Context) (uint64, error)

	// RoundMetadata returns boundary times and reference prices for an
	// epoch. A revert (e.g. rounds(e+1) not existing yet) is reported
	// via RoundMetadata.Exists == false, not an error; the pipeline then
	// substitutes "now" for the missing next-epoch start time.
	RoundMetadata(ctx context.Context, epoch uint64) (RoundMetadata, error)

	// LatestBlockHeight returns the chain tip.
	LatestBlockHeight(ctx context.Context) (uint64, error)

	// BlockHeader returns one block's height and timestamp.
	BlockHeader(ctx context.Context, height uint64) (Header, error)

	// BlockHeaders batches header lookups, coalescing duplicate
	// heights, per §4.3's batch size B.
	BlockHeaders(ctx context.Context, heights []uint64) (map[uint64]Header, error)

	// Logs fetches one event kind's raw logs over [from, to] inclusive.
	Logs(ctx context.Context, kind EventKind, from, to uint64) ([]LogRecord, error)
}

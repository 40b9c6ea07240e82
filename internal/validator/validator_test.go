package validator

import (
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/money"
	"github.com/vietddude/roundkeeper/internal/harvester"
)

func amt(s string) money.Amount { return money.MustParse(s) }

func TestValidateScenarioS1(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := harvester.EpochEvents{
		Start: []harvester.Event{{Kind: 0, Epoch: 426236, Timestamp: ts}},
		Lock:  []harvester.Event{{Kind: 1, Epoch: 426236, LockPrice: amt("500.00000000"), Timestamp: ts}},
		End:   []harvester.Event{{Kind: 2, Epoch: 426236, ClosePrice: amt("510.00000000"), Timestamp: ts}},
		StakeUp: []harvester.Event{
			{Epoch: 426236, Sender: "0xaaa", Amount: amt("3.00000000"), TxHash: "0x1", LogIndex: 0},
		},
		StakeDown: []harvester.Event{
			{Epoch: 426236, Sender: "0xbbb", Amount: amt("1.00000000"), TxHash: "0x2", LogIndex: 0},
		},
	}

	v := New(20)
	result := v.Validate(events, 426236)
	if !result.OK() {
		t.Fatalf("expected success, got reasons: %v", result.Reasons)
	}

	round := result.Records.Round
	if round.Outcome != domain.OutcomeUp {
		t.Fatalf("got outcome %s, want UP", round.Outcome)
	}
	if round.Total.String() != "4.00000000" {
		t.Fatalf("got total %s, want 4.00000000", round.Total)
	}
	if round.UpOdds.String() != "1.2933" {
		t.Fatalf("got up_odds %s, want 1.2933", round.UpOdds)
	}
	if round.DownOdds.String() != "3.8800" {
		t.Fatalf("got down_odds %s, want 3.8800", round.DownOdds)
	}

	for _, b := range result.Records.Bets {
		if b.Direction == domain.DirectionUp && b.Outcome != domain.BetOutcomeWin {
			t.Fatalf("up bet should win")
		}
		if b.Direction == domain.DirectionDown && b.Outcome != domain.BetOutcomeLoss {
			t.Fatalf("down bet should lose")
		}
	}
}

func TestValidateMissingPriceDefaultsToUpWithWarning(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := harvester.EpochEvents{
		Start:     []harvester.Event{{Epoch: 10, Timestamp: ts}},
		StakeUp:   []harvester.Event{{Epoch: 10, Sender: "0xaaa", Amount: amt("1.00000000"), TxHash: "0x1", LogIndex: 0}},
		StakeDown: []harvester.Event{{Epoch: 10, Sender: "0xbbb", Amount: amt("1.00000000"), TxHash: "0x2", LogIndex: 0}},
	}

	v := New(20)
	result := v.Validate(events, 10)
	if !result.OK() {
		t.Fatalf("expected success, got reasons: %v", result.Reasons)
	}
	if result.Records.Round.Outcome != domain.OutcomeUp {
		t.Fatalf("expected default UP outcome on missing prices")
	}
	if !result.Records.Round.PriceWarning {
		t.Fatalf("expected PriceWarning set on missing prices")
	}
}

func TestValidateNoRoundStartFails(t *testing.T) {
	events := harvester.EpochEvents{
		StakeUp: []harvester.Event{{Epoch: 10, Sender: "0xaaa", Amount: amt("1.00000000"), TxHash: "0x1", LogIndex: 0}},
	}
	v := New(20)
	result := v.Validate(events, 10)
	if result.OK() {
		t.Fatal("expected failure with no RoundStart event")
	}
	found := false
	for _, r := range result.Reasons {
		if r.Code == "NO_ROUND_START" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected NO_ROUND_START reason, got %v", result.Reasons)
	}
}

func TestValidateClaimEpochDisjointFromBetEpoch(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := harvester.EpochEvents{
		Start:     []harvester.Event{{Epoch: 426238, Timestamp: ts}},
		StakeUp:   []harvester.Event{{Epoch: 426238, Sender: "0xaaa", Amount: amt("1.00000000"), TxHash: "0x1", LogIndex: 0}},
		StakeDown: []harvester.Event{{Epoch: 426238, Sender: "0xbbb", Amount: amt("1.00000000"), TxHash: "0x2", LogIndex: 0}},
		Claim: []harvester.Event{
			{Epoch: 426238, BetEpoch: 426236, Sender: "0xw", Amount: amt("3.87600000"), TxHash: "0x9", LogIndex: 1},
		},
	}
	v := New(20)
	result := v.Validate(events, 426238)
	if !result.OK() {
		t.Fatalf("expected success, got reasons: %v", result.Reasons)
	}
	if len(result.Records.Claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(result.Records.Claims))
	}
	c := result.Records.Claims[0]
	if c.Epoch == c.BetEpoch {
		t.Fatal("epoch and bet_epoch must be distinct in this scenario")
	}
	if c.Epoch != 426238 || c.BetEpoch != 426236 {
		t.Fatalf("got epoch=%d bet_epoch=%d", c.Epoch, c.BetEpoch)
	}
}

func TestDeriveMultiClaimsByCount(t *testing.T) {
	var claims []domain.Claim
	for i := 0; i < 5; i++ {
		claims = append(claims, domain.Claim{Epoch: 426238, BetEpoch: 426236, Wallet: "0xw", Amount: amt("0.10000000")})
	}
	multi := DeriveMultiClaims(claims)
	if len(multi) != 1 {
		t.Fatalf("got %d multiclaim rows, want 1", len(multi))
	}
	if multi[0].ClaimCount != 5 {
		t.Fatalf("got count %d, want 5", multi[0].ClaimCount)
	}
}

func TestDeriveMultiClaimsByAmount(t *testing.T) {
	claims := []domain.Claim{
		{Epoch: 1, Wallet: "0xw", Amount: amt("1.00000000")},
	}
	multi := DeriveMultiClaims(claims)
	if len(multi) != 1 {
		t.Fatalf("got %d multiclaim rows, want 1 (amount threshold)", len(multi))
	}
}

func TestDeriveMultiClaimsBelowBothThresholds(t *testing.T) {
	claims := []domain.Claim{
		{Epoch: 1, Wallet: "0xw", Amount: amt("0.50000000")},
	}
	multi := DeriveMultiClaims(claims)
	if len(multi) != 0 {
		t.Fatalf("got %d multiclaim rows, want 0", len(multi))
	}
}

func TestValidateDuplicateClaimKeyFails(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := harvester.EpochEvents{
		Start:     []harvester.Event{{Epoch: 10, Timestamp: ts}},
		StakeUp:   []harvester.Event{{Epoch: 10, Sender: "0xaaa", Amount: amt("1.00000000"), TxHash: "0x1", LogIndex: 0}},
		StakeDown: []harvester.Event{{Epoch: 10, Sender: "0xbbb", Amount: amt("1.00000000"), TxHash: "0x2", LogIndex: 0}},
		Claim: []harvester.Event{
			{Epoch: 10, BetEpoch: 9, Sender: "0xw", Amount: amt("1.00000000"), TxHash: "0x9", LogIndex: 1},
			{Epoch: 10, BetEpoch: 9, Sender: "0xw", Amount: amt("1.00000000"), TxHash: "0x9", LogIndex: 1},
		},
	}
	v := New(20)
	result := v.Validate(events, 10)
	if result.OK() {
		t.Fatal("expected failure on duplicate claim key")
	}
}

package persistence

import (
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/money"
)

func TestRoundToRowPreservesAmounts(t *testing.T) {
	round := domain.Round{
		Epoch:      426236,
		StartTS:    time.Unix(1000, 0),
		LockTS:     time.Unix(2000, 0),
		CloseTS:    time.Unix(3000, 0),
		LockPrice:  money.MustParse("500.00000000"),
		ClosePrice: money.MustParse("510.00000000"),
		Outcome:    domain.OutcomeUp,
		Total:      money.MustParse("4.00000000"),
		UpAmount:   money.MustParse("3.00000000"),
		DownAmount: money.MustParse("1.00000000"),
		UpOdds:     money.MustParse("1.2933").DivToOdds(money.MustParse("1")),
		DownOdds:   money.MustParse("3.8800").DivToOdds(money.MustParse("1")),
	}
	row := roundToRow(round)
	if row.Epoch != 426236 {
		t.Fatalf("got epoch %d", row.Epoch)
	}
	if row.Total != "4.00000000" {
		t.Fatalf("got total %q", row.Total)
	}
	if row.Outcome != "UP" {
		t.Fatalf("got outcome %q", row.Outcome)
	}
}

func TestClaimToRowKeepsEpochBetEpochDistinct(t *testing.T) {
	claim := domain.Claim{
		Epoch:    426238,
		BetEpoch: 426236,
		TxHash:   "0x9",
		LogIndex: 1,
		Wallet:   "0xw",
		Amount:   money.MustParse("3.87600000"),
	}
	row := claimToRow(claim)
	if row.Epoch == row.BetEpoch {
		t.Fatal("epoch and bet_epoch must remain distinct in the row")
	}
	if row.Amount != "3.87600000" {
		t.Fatalf("got amount %q", row.Amount)
	}
}

func TestStructBindingsOrdersByDBTag(t *testing.T) {
	row := FinEpochRow{Epoch: 42}
	cols, placeholders, args := structBindings(row, 1)
	if len(cols) != 1 || cols[0] != "epoch" {
		t.Fatalf("got cols %v", cols)
	}
	if placeholders[0] != "$1" {
		t.Fatalf("got placeholder %v", placeholders)
	}
	if args[0] != int64(42) {
		t.Fatalf("got args %v", args)
	}
}

package persistence

import (
	"context"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// RoundRow is the on-disk shape of one domain.Round.
type RoundRow struct {
	Epoch        int64     `db:"epoch"`
	StartTS      time.Time `db:"start_ts"`
	LockTS       time.Time `db:"lock_ts"`
	CloseTS      time.Time `db:"close_ts"`
	LockPrice    string    `db:"lock_price"`
	ClosePrice   string    `db:"close_price"`
	Outcome      string    `db:"outcome"`
	Total        string    `db:"total"`
	UpAmount     string    `db:"up_amount"`
	DownAmount   string    `db:"down_amount"`
	UpOdds       string    `db:"up_odds"`
	DownOdds     string    `db:"down_odds"`
	PriceWarning bool      `db:"price_warning"`
}

func roundToRow(r domain.Round) RoundRow {
	return RoundRow{
		Epoch:        int64(r.Epoch),
		StartTS:      r.StartTS,
		LockTS:       r.LockTS,
		CloseTS:      r.CloseTS,
		LockPrice:    r.LockPrice.String(),
		ClosePrice:   r.ClosePrice.String(),
		Outcome:      string(r.Outcome),
		Total:        r.Total.String(),
		UpAmount:     r.UpAmount.String(),
		DownAmount:   r.DownAmount.String(),
		UpOdds:       r.UpOdds.String(),
		DownOdds:     r.DownOdds.String(),
		PriceWarning: r.PriceWarning,
	}
}

// BetRow is the on-disk shape of one domain.Bet, stored in hisbet.
type BetRow struct {
	Epoch     int64     `db:"epoch"`
	TxHash    string    `db:"tx_hash"`
	LogIndex  int32     `db:"log_index"`
	BetTime   time.Time `db:"bet_time"`
	Wallet    string    `db:"sender"`
	Direction string    `db:"direction"`
	Amount    string    `db:"amount"`
	Outcome   string    `db:"outcome"`
	Block     int64     `db:"block_number"`
}

func betToRow(b domain.Bet) BetRow {
	return BetRow{
		Epoch:     int64(b.Epoch),
		TxHash:    b.TxHash,
		LogIndex:  int32(b.LogIndex),
		BetTime:   b.BetTime,
		Wallet:    b.Wallet,
		Direction: string(b.Direction),
		Amount:    b.Amount.String(),
		Outcome:   string(b.Outcome),
		Block:     int64(b.Block),
	}
}

// ClaimRow is the on-disk shape of one domain.Claim, stored in hisclaim.
type ClaimRow struct {
	Epoch    int64  `db:"epoch"`
	TxHash   string `db:"tx_hash"`
	LogIndex int32  `db:"log_index"`
	BetEpoch int64  `db:"bet_epoch"`
	Wallet   string `db:"sender"`
	Amount   string `db:"amount"`
}

func claimToRow(c domain.Claim) ClaimRow {
	return ClaimRow{
		Epoch:    int64(c.Epoch),
		TxHash:   c.TxHash,
		LogIndex: int32(c.LogIndex),
		BetEpoch: int64(c.BetEpoch),
		Wallet:   c.Wallet,
		Amount:   c.Amount.String(),
	}
}

// MultiClaimRow is the on-disk shape of one domain.MultiClaim.
type MultiClaimRow struct {
	Epoch      int64  `db:"epoch"`
	Wallet     string `db:"sender"`
	ClaimCount int    `db:"claim_count"`
	Total      string `db:"total_amount"`
}

func multiClaimToRow(m domain.MultiClaim) MultiClaimRow {
	return MultiClaimRow{
		Epoch:      int64(m.Epoch),
		Wallet:     m.Wallet,
		ClaimCount: m.ClaimCount,
		Total:      m.Total.String(),
	}
}

// FinEpochRow marks one epoch as fully persisted.
type FinEpochRow struct {
	Epoch int64 `db:"epoch"`
}

// ErrEpochRow records the last-observed failure for an epoch.
type ErrEpochRow struct {
	Epoch     int64     `db:"epoch"`
	Message   string    `db:"message"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CommitEpoch atomically writes one epoch's Round, Bets, Claims,
// derived MultiClaims, and completion marker, and clears any live-feed
// staging rows for the epoch (domain.LiveBet), all within a single
// transaction per §4.5's two-level interface.
func (db *DB) CommitEpoch(ctx context.Context, round domain.Round, bets []domain.Bet, claims []domain.Claim, multiClaims []domain.MultiClaim) error {
	return db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.Insert(ctx, roundToRow(round), TableRound); err != nil {
			return err
		}

		if len(bets) > 0 {
			rows := make([]any, len(bets))
			for i, b := range bets {
				rows[i] = betToRow(b)
			}
			if err := tx.BatchInsert(ctx, rows, TableHisBet); err != nil {
				return err
			}
		}

		if len(claims) > 0 {
			rows := make([]any, len(claims))
			for i, c := range claims {
				rows[i] = claimToRow(c)
			}
			if err := tx.BatchInsert(ctx, rows, TableClaim); err != nil {
				return err
			}
		}

		if len(multiClaims) > 0 {
			rows := make([]any, len(multiClaims))
			for i, m := range multiClaims {
				rows[i] = multiClaimToRow(m)
			}
			if err := tx.BatchInsert(ctx, rows, TableMultiClaim); err != nil {
				return err
			}
		}

		if err := tx.Delete(ctx, TableRealBet, map[string]any{"epoch": int64(round.Epoch)}); err != nil {
			return err
		}

		return tx.Insert(ctx, FinEpochRow{Epoch: int64(round.Epoch)}, TableFinEpoch)
	})
}

// IsComplete reports whether an epoch already has a completion marker,
// per P1/P7 (idempotence: a completed epoch's pipeline run is a no-op).
func (db *DB) IsComplete(ctx context.Context, epoch domain.Epoch) (bool, error) {
	var complete bool
	err := db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		complete, err = tx.Exists(ctx, TableFinEpoch, map[string]any{"epoch": int64(epoch)})
		return err
	})
	return complete, err
}

// RecordError writes an EpochError row on its own connection, never
// the failed pipeline's rolled-back transaction, so diagnostics survive
// the rollback, per §4.5.
func (db *DB) RecordError(ctx context.Context, epoch domain.Epoch, message string, at time.Time) error {
	conn, err := db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	query := `
		INSERT INTO errepoch (epoch, message, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (epoch) DO UPDATE SET message = EXCLUDED.message, updated_at = EXCLUDED.updated_at
	`
	_, err = conn.ExecContext(ctx, query, int64(epoch), message, at)
	return err
}

// ClearError removes an epoch's EpochError row once it has been
// reprocessed successfully.
func (db *DB) ClearError(ctx context.Context, epoch domain.Epoch) error {
	_, err := db.ExecContext(ctx, `DELETE FROM errepoch WHERE epoch = $1`, int64(epoch))
	return err
}

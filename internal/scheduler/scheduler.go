// Package scheduler implements the Scheduler (C8): two independent,
// cooperatively-cancelled drivers over the Epoch Pipeline, grounded on
// the ticker/select driver loops of the teacher's
// internal/indexing/rescan.Worker and internal/indexing/backfill.Processor,
// generalized from block ranges to epoch numbers, per spec §4.8.
package scheduler

import (
	"context"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/pipeline"
)

// EpochSource reports the contract's live epoch counter.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// Runner drives one epoch through the pipeline. Satisfied by
// *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, epoch domain.Epoch) (pipeline.Outcome, error)
}

package jobs

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

const SweepJobKind = "bulk_pending_sweep"

// SweepArgs carries no payload: a sweep always covers every active operation.
type SweepArgs struct{}

func (SweepArgs) Kind() string {
	return SweepJobKind
}

func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: MaxJobRetries,
	}
}

// Sweeper retries pending relationships and finish checks. Implemented by the
// operation service.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper Sweeper
}

func NewSweepWorker(sweeper Sweeper) *SweepWorker {
	return &SweepWorker{sweeper: sweeper}
}

func (w *SweepWorker) Timeout(job *river.Job[SweepArgs]) time.Duration {
	return JobTimeout
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	return w.sweeper.Sweep(ctx)
}

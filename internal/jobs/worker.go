// Package jobs runs row work asynchronously on a river queue. The worker
// body lives in the operation service; this package only carries the queue
// plumbing so the service stays ignorant of the driver.
package jobs

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

const JobTimeout = 10 * time.Minute

// Processor is the surface the worker calls back into. Implemented by the
// operation service.
type Processor interface {
	ProcessRow(ctx context.Context, proxyID uint) error
}

type WorkWorker struct {
	river.WorkerDefaults[WorkArgs]
	processor Processor
}

func NewWorkWorker(processor Processor) *WorkWorker {
	return &WorkWorker{processor: processor}
}

func (w *WorkWorker) Timeout(job *river.Job[WorkArgs]) time.Duration {
	return JobTimeout
}

func (w *WorkWorker) Work(ctx context.Context, job *river.Job[WorkArgs]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.processor.ProcessRow(ctx, job.Args.ProxyID)
}

package jobs

import (
	"context"

	"github.com/google/uuid"
)

// Scheduler hands a row proxy off for asynchronous processing. The operation
// service only marks the proxy queued; everything after that happens in the
// worker.
type Scheduler interface {
	SubmitRow(ctx context.Context, operationID uuid.UUID, proxyID uint) error
}

type RiverScheduler struct {
	client *Client
}

func NewRiverScheduler(client *Client) *RiverScheduler {
	return &RiverScheduler{client: client}
}

func (s *RiverScheduler) SubmitRow(ctx context.Context, operationID uuid.UUID, proxyID uint) error {
	_, err := s.client.InsertJob(ctx, WorkArgs{
		ProxyID:     proxyID,
		OperationID: operationID.String(),
	})
	return err
}

// SyncScheduler processes rows inline. Used in tests and with the sqlite
// store, where no river queue is available.
type SyncScheduler struct {
	Processor Processor
}

func (s *SyncScheduler) SubmitRow(ctx context.Context, _ uuid.UUID, proxyID uint) error {
	return s.Processor.ProcessRow(ctx, proxyID)
}

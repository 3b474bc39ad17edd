package jobs

import (
	"github.com/riverqueue/river"
)

const (
	DefaultQueue  = "bulkops"
	WorkJobKind   = "bulk_row_work"
	MaxJobRetries = 1
)

// WorkArgs identifies one row proxy to create or update an object for.
// This is stored in river_job.args as JSON.
type WorkArgs struct {
	ProxyID     uint   `json:"proxy_id"`
	OperationID string `json:"operation_id"`
}

func (WorkArgs) Kind() string {
	return WorkJobKind
}

func (WorkArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: DefaultQueue,
		// retries are handled at the row-proxy level, a failed job marks the
		// proxy instead of re-running blindly
		MaxAttempts: MaxJobRetries,
	}
}

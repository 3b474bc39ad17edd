package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/notify"
	"github.com/digitalcollections/bulkops/pkg/metrics"
)

// Writer renders accumulated errors and files them under the operation
// branch, notifying subscribers of each new report.
type Writer struct {
	files    filestore.Store
	notifier notify.Notifier
	renderer *Renderer
	now      func() time.Time
}

func NewWriter(files filestore.Store, notifier notify.Notifier) *Writer {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Writer{
		files:    files,
		notifier: notifier,
		renderer: NewRenderer(),
		now:      time.Now,
	}
}

// Write files one dated report. Empty error sets are a no-op so callers can
// pass whatever they accumulated without checking first. It returns the
// stored report name, empty when nothing was written.
func (w *Writer) Write(ctx context.Context, branch, operationName string, recipients []string, errs []Error) (string, error) {
	if len(errs) == 0 {
		return "", nil
	}

	name := fmt.Sprintf("%s_errors_%s.log", operationName, w.now().UTC().Format("20060102_150405"))
	stored, err := w.files.WriteErrorReport(ctx, branch, name, w.renderer.Render(errs))
	if err != nil {
		return "", fmt.Errorf("writing error report: %w", err)
	}

	metrics.IncreaseErrorReportsWrittenMetric()

	event := notify.OperationEvent{
		Name:       operationName,
		ReportURL:  stored,
		Recipients: recipients,
		Message:    fmt.Sprintf("%d errors reported", len(errs)),
	}
	if err := w.notifier.ReportWritten(ctx, event); err != nil {
		zap.S().Named("report").Warnw("report notification failed", "operation", operationName, "error", err)
	}

	return stored, nil
}

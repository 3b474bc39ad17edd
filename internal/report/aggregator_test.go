package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/notify"
)

type recordingNotifier struct {
	notify.NopNotifier
	reports []notify.OperationEvent
}

func (n *recordingNotifier) ReportWritten(_ context.Context, event notify.OperationEvent) error {
	n.reports = append(n.reports, event)
	return nil
}

func TestWriterFilesDatedReports(t *testing.T) {
	ctx := context.TODO()
	root := t.TempDir()
	files, err := filestore.NewLocalStore(root)
	require.NoError(t, err)
	require.NoError(t, files.CreateBranch(ctx, "batch-1"))

	notifier := &recordingNotifier{}
	w := NewWriter(files, notifier)
	w.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	name, err := w.Write(ctx, "batch-1", "batch-1", []string{"curator@example.edu"}, []Error{
		{Kind: KindJobFailure, RowNumber: 2, Message: "boom"},
	})
	require.NoError(t, err)
	require.Equal(t, "batch-1_errors_20260314_092653.log", name)

	content, err := os.ReadFile(filepath.Join(root, "batch-1", "errors", name))
	require.NoError(t, err)
	require.Contains(t, string(content), "-- Jobs failed --")

	require.Len(t, notifier.reports, 1)
	require.Equal(t, name, notifier.reports[0].ReportURL)
	require.Equal(t, []string{"curator@example.edu"}, notifier.reports[0].Recipients)
}

func TestWriterSkipsEmptyErrorSets(t *testing.T) {
	ctx := context.TODO()
	files, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	w := NewWriter(files, notifier)

	name, err := w.Write(ctx, "batch-1", "batch-1", nil, nil)
	require.NoError(t, err)
	require.Empty(t, name)
	require.Empty(t, notifier.reports)
}

// Package operation drives the bulk operation lifecycle: draft creation on a
// working branch, approval and merge, row fan-out to the job queue, and the
// finishing pass that settles relationships and reports errors.
package operation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/jobs"
	"github.com/digitalcollections/bulkops/internal/notify"
	"github.com/digitalcollections/bulkops/internal/parser"
	"github.com/digitalcollections/bulkops/internal/report"
	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/resolver"
	"github.com/digitalcollections/bulkops/internal/schema"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/digitalcollections/bulkops/internal/vocab"
)

// Collaborators bundles the external boundaries the service talks to.
type Collaborators struct {
	Store     store.Store
	Files     filestore.Store
	Repo      repository.Repository
	Vocab     vocab.Service
	Schema    schema.Registry
	Uploader  parser.Uploader
	Resolver  *resolver.Resolver
	Notifier  notify.Notifier
	Reporter  *report.Writer
	WorkTypes []string
	MediaRoot string
}

type Service struct {
	store     store.Store
	files     filestore.Store
	repo      repository.Repository
	vocab     vocab.Service
	schema    schema.Registry
	uploader  parser.Uploader
	resolver  *resolver.Resolver
	notifier  notify.Notifier
	reporter  *report.Writer
	scheduler jobs.Scheduler
	workTypes []string
	mediaRoot string
	log       *zap.SugaredLogger
}

func NewService(c Collaborators) *Service {
	s := &Service{
		store:     c.Store,
		files:     c.Files,
		repo:      c.Repo,
		vocab:     c.Vocab,
		schema:    c.Schema,
		uploader:  c.Uploader,
		resolver:  c.Resolver,
		notifier:  c.Notifier,
		reporter:  c.Reporter,
		workTypes: c.WorkTypes,
		mediaRoot: c.MediaRoot,
		log:       zap.S().Named("operation"),
	}
	if s.notifier == nil {
		s.notifier = notify.NopNotifier{}
	}
	// without a queue rows are processed inline
	s.scheduler = &jobs.SyncScheduler{Processor: s}
	return s
}

// SetScheduler swaps in the queue-backed scheduler. The worker needs the
// service and the service needs the scheduler, so wiring happens in two
// steps.
func (s *Service) SetScheduler(sched jobs.Scheduler) {
	s.scheduler = sched
}

// CreateParams describes a new draft operation.
type CreateParams struct {
	Name     string
	Type     string
	WorkType string
	Username string
	// ObjectIDs prefills the draft spreadsheet for update operations.
	ObjectIDs []string
}

// Create opens a new draft: a fresh branch carrying a template spreadsheet
// and the operation's configuration, plus the tracking record.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Operation, error) {
	if params.Type == "" {
		params.Type = model.OperationTypeIngest
	}

	name, err := s.UniqueName(ctx, params.Name)
	if err != nil {
		return nil, err
	}

	if err := s.files.CreateBranch(ctx, name); err != nil {
		return nil, fmt.Errorf("creating branch %q: %w", name, err)
	}

	opts := filestore.Options{
		Name:     name,
		Type:     params.Type,
		WorkType: params.WorkType,
	}
	if err := s.files.UpdateOptions(ctx, name, opts, "initial configuration"); err != nil {
		return nil, err
	}

	var fields []string
	for _, f := range s.schema.AllFields() {
		fields = append(fields, f.Name)
	}
	sheet := filestore.NewTemplate(fields, params.ObjectIDs)
	content, err := filestore.MarshalCSV(sheet)
	if err != nil {
		return nil, err
	}
	if err := s.files.UpdateSpreadsheet(ctx, name, content, "initial spreadsheet"); err != nil {
		return nil, err
	}

	op, err := s.store.Operation().Create(ctx, model.Operation{
		Name:     name,
		Type:     params.Type,
		Stage:    model.StageDraft,
		Status:   "OK",
		Username: params.Username,
		Branch:   name,
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("operation created", "id", op.ID, "name", op.Name, "type", op.Type)
	return op, nil
}

// Get looks an operation up by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Operation, error) {
	op, err := s.store.Operation().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrOperationNotFound(id)
		}
		return nil, err
	}
	return op, nil
}

// List returns all operations, oldest first.
func (s *Service) List(ctx context.Context) (model.OperationList, error) {
	return s.store.Operation().List(ctx)
}

var nameCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// UniqueName slugs the requested name and appends a numeric suffix until it
// collides with neither an existing operation nor a live branch.
func (s *Service) UniqueName(ctx context.Context, requested string) (string, error) {
	base := strings.Trim(nameCleaner.ReplaceAllString(strings.ToLower(requested), "-"), "-")
	if base == "" {
		base = "operation"
	}

	branches, err := s.files.ListBranchNames(ctx)
	if err != nil {
		return "", err
	}
	taken := map[string]bool{}
	for _, b := range branches {
		taken[b] = true
	}

	name := base
	for i := 1; ; i++ {
		if !taken[name] {
			_, err := s.store.Operation().GetByName(ctx, name)
			if errors.Is(err, store.ErrRecordNotFound) {
				return name, nil
			}
			if err != nil {
				return "", err
			}
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func (s *Service) setStage(ctx context.Context, id uuid.UUID, stage string, message string) (*model.Operation, error) {
	op, err := s.store.Operation().Update(ctx, id, &stage, nil, &message, nil)
	if err != nil {
		return nil, err
	}
	event := notify.OperationEvent{
		OperationID: id.String(),
		Name:        op.Name,
		Stage:       stage,
		Message:     message,
	}
	if err := s.notifier.OperationChanged(ctx, event); err != nil {
		s.log.Warnw("notification failed", "operation", id, "error", err)
	}
	return op, nil
}

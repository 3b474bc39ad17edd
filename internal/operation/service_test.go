package operation_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/digitalcollections/bulkops/internal/config"
	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/notify"
	"github.com/digitalcollections/bulkops/internal/operation"
	"github.com/digitalcollections/bulkops/internal/report"
	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/resolver"
	"github.com/digitalcollections/bulkops/internal/schema"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/digitalcollections/bulkops/internal/vocab"
)

type noFileUploader struct{}

func (noFileUploader) Upload(_ context.Context, path string) (string, error) {
	return "file:" + filepath.Base(path), nil
}

var _ = Describe("operation service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		files  *filestore.LocalStore
		repo   *repository.MemoryRepository
		svc    *operation.Service
		root   string
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "bulkops-service-*")
		Expect(err).To(BeNil())
		DeferCleanup(os.RemoveAll, root)

		files, err = filestore.NewLocalStore(root)
		Expect(err).To(BeNil())
		repo = repository.NewMemoryRepository()

		svc = operation.NewService(operation.Collaborators{
			Store:     s,
			Files:     files,
			Repo:      repo,
			Vocab:     vocab.NewLocalAuthority("https://dams.example.edu"),
			Schema:    schema.DefaultRegistry(),
			Uploader:  noFileUploader{},
			Resolver:  resolver.New(s, repo, 0),
			Notifier:  notify.NopNotifier{},
			Reporter:  report.NewWriter(files, notify.NopNotifier{}),
			WorkTypes: []string{"Work", "Collection", "AudioWork"},
			MediaRoot: filepath.Join(root, "media"),
		})
	})

	AfterEach(func() {
		gormdb.Exec("DELETE from relationships;")
		gormdb.Exec("DELETE from row_proxies;")
		gormdb.Exec("DELETE from operations;")
	})

	forceStage := func(id uuid.UUID, stage string) {
		_, err := s.Operation().Update(context.TODO(), id, &stage, nil, nil, nil)
		Expect(err).To(BeNil())
	}

	setSheet := func(op *model.Operation, csv string) {
		Expect(svc.UpdateDraftSpreadsheet(context.TODO(), op.ID, []byte(csv), "edit")).To(BeNil())
	}

	errorReports := func(branch string) []string {
		matches, err := filepath.Glob(filepath.Join(root, branch, filestore.ErrorsDir, "*.log"))
		Expect(err).To(BeNil())
		return matches
	}

	Context("drafting", func() {
		It("creates a draft with a branch, template, and slugged name", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "My Ops!", Username: "archivist"})
			Expect(err).To(BeNil())
			Expect(op.Name).To(Equal("my-ops"))
			Expect(op.Stage).To(Equal(model.StageDraft))
			Expect(op.Branch).To(Equal("my-ops"))

			branches, err := files.ListBranchNames(context.TODO())
			Expect(err).To(BeNil())
			Expect(branches).To(ContainElement("my-ops"))

			sheet, err := files.LoadSpreadsheet(context.TODO(), op.Branch)
			Expect(err).To(BeNil())
			Expect(sheet.Headers[0]).To(Equal("id"))
			Expect(sheet.Headers).To(ContainElement("title"))
		})

		It("suffixes the name when the requested one is taken", func() {
			first, err := svc.Create(context.TODO(), operation.CreateParams{Name: "My Ops"})
			Expect(err).To(BeNil())
			Expect(first.Name).To(Equal("my-ops"))

			second, err := svc.Create(context.TODO(), operation.CreateParams{Name: "My Ops"})
			Expect(err).To(BeNil())
			Expect(second.Name).To(Equal("my-ops_1"))
		})

		It("refuses spreadsheet edits outside editable stages", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "locked"})
			Expect(err).To(BeNil())
			forceStage(op.ID, model.StageRunning)

			err = svc.UpdateDraftSpreadsheet(context.TODO(), op.ID, []byte("id,title\n,New Work\n"), "edit")
			var conflict *operation.ErrStageConflict
			Expect(errors.As(err, &conflict)).To(BeTrue())
		})

		It("rejects a spreadsheet that does not parse", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "garbled"})
			Expect(err).To(BeNil())

			err = svc.UpdateDraftSpreadsheet(context.TODO(), op.ID, []byte(""), "edit")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("invalid spreadsheet"))
		})

		It("duplicates an operation's spreadsheet and configuration", func() {
			src, err := svc.Create(context.TODO(), operation.CreateParams{Name: "originals"})
			Expect(err).To(BeNil())
			setSheet(src, "id,title\n,Carried Over\n")
			Expect(svc.UpdateDraftOptions(context.TODO(), src.ID, filestore.Options{
				Name:     src.Name,
				WorkType: "AudioWork",
			}, "configure")).To(BeNil())

			dup, err := svc.Duplicate(context.TODO(), src.ID, "", "archivist")
			Expect(err).To(BeNil())
			Expect(dup.Name).To(Equal("originals_1"))
			Expect(dup.Stage).To(Equal(model.StageDraft))

			sheet, err := files.LoadSpreadsheet(context.TODO(), dup.Branch)
			Expect(err).To(BeNil())
			title, _ := sheet.Rows[0].Get("title")
			Expect(title).To(Equal("Carried Over"))

			opts, err := files.LoadOptions(context.TODO(), dup.Branch)
			Expect(err).To(BeNil())
			Expect(opts.WorkType).To(Equal("AudioWork"))
			Expect(opts.Name).To(Equal(dup.Name))
		})
	})

	Context("approval", func() {
		It("moves a finalized draft to pending with an approval request", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "approvals"})
			Expect(err).To(BeNil())

			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StagePending))
			Expect(op.ApprovalID).ToNot(BeNil())

			_, err = svc.Finalize(context.TODO(), op.ID)
			var conflict *operation.ErrStageConflict
			Expect(errors.As(err, &conflict)).To(BeTrue())
		})

		It("leaves a policy-rejected merge pending", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "rejected"})
			Expect(err).To(BeNil())
			setSheet(op, "id,title\n,New Work\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			// policy refuses branches without a spreadsheet
			Expect(os.Remove(filepath.Join(root, op.Branch, filestore.SpreadsheetFilename))).To(BeNil())

			_, err = svc.Merge(context.TODO(), op.ID, "approving")
			var rejected *operation.ErrMergeRejected
			Expect(errors.As(err, &rejected)).To(BeTrue())

			op, err = svc.Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StagePending))
		})

		It("refuses to apply from a non-approved stage", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "premature"})
			Expect(err).To(BeNil())

			_, err = svc.Apply(context.TODO(), op.ID)
			var conflict *operation.ErrStageConflict
			Expect(errors.As(err, &conflict)).To(BeTrue())
		})

		It("applies the operation tied to an externally merged approval", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "webhook"})
			Expect(err).To(BeNil())
			setSheet(op, "id,title\n,Webhook Work\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			applied, err := svc.HandleApprovalMerged(context.TODO(), *op.ApprovalID)
			Expect(err).To(BeNil())
			Expect(applied.Stage).To(Equal(model.StageComplete))
		})
	})

	Context("verification", func() {
		It("bounces an unrecognized header back to waiting with a report", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "misheaded"})
			Expect(err).To(BeNil())
			setSheet(op, "title,frobnicate\nSome Work,whatever\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			_, err = svc.Merge(context.TODO(), op.ID, "approving")
			var failed *operation.ErrVerificationFailed
			Expect(errors.As(err, &failed)).To(BeTrue())

			op, err = svc.Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageWaiting))

			reports := errorReports(op.Branch)
			Expect(reports).To(HaveLen(1))
			content, err := os.ReadFile(reports[0])
			Expect(err).To(BeNil())
			Expect(string(content)).To(ContainSubstring("frobnicate"))
		})

		It("lets a corrected operation apply from waiting", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "corrected"})
			Expect(err).To(BeNil())
			setSheet(op, "title,frobnicate\nSome Work,whatever\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			_, err = svc.Apply(context.TODO(), op.ID)
			Expect(err).ToNot(BeNil())

			setSheet(op, "id,title\n,Some Work\n")
			applied, err := svc.Apply(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(applied.Stage).To(Equal(model.StageComplete))
		})

		It("flags invalid configuration values", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "misconfigured"})
			Expect(err).To(BeNil())
			setSheet(op, "id,title\n,Some Work\n")
			Expect(svc.UpdateDraftOptions(context.TODO(), op.ID, filestore.Options{
				Name:       op.Name,
				Visibility: "sideways",
				WorkType:   "Sculpture",
			}, "configure")).To(BeNil())

			problems, err := svc.Verify(context.TODO(), op)
			Expect(err).To(BeNil())

			var fields []string
			for _, p := range problems {
				fields = append(fields, p.OptionName)
			}
			Expect(fields).To(ConsistOf("visibility", "work_type"))
		})
	})

	Context("running an ingest", func() {
		It("creates every object and reconstructs sibling order", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "ingest"})
			Expect(err).To(BeNil())
			setSheet(op, strings.Join([]string{
				"id,title,parent",
				",Parent Work,",
				",Child One,row:-1",
				",Child Two,row:-2",
			}, "\n")+"\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			op, err = svc.Merge(context.TODO(), op.ID, "approving")
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageComplete))

			parentProxy, err := s.RowProxy().GetByRowNumber(context.TODO(), op.ID, 0)
			Expect(err).To(BeNil())
			Expect(parentProxy.Status).To(Equal(model.ProxyStatusComplete))
			Expect(parentProxy.Held).To(BeFalse())

			childOne, err := s.RowProxy().GetByRowNumber(context.TODO(), op.ID, 1)
			Expect(err).To(BeNil())
			childTwo, err := s.RowProxy().GetByRowNumber(context.TODO(), op.ID, 2)
			Expect(err).To(BeNil())

			parent, err := repo.FindByID(context.TODO(), *parentProxy.ObjectID)
			Expect(err).To(BeNil())
			Expect(parent.Title).To(Equal("Parent Work"))
			Expect(parent.OrderedMemberIDs).To(Equal([]string{*childOne.ObjectID, *childTwo.ObjectID}))
		})

		It("finishes immediately on a spreadsheet of blank rows", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "empty"})
			Expect(err).To(BeNil())
			setSheet(op, "id,title\n,\n,\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			op, err = svc.Apply(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageComplete))
		})
	})

	Context("running an update", func() {
		It("updates the works the id column names", func() {
			one, err := repo.Create(context.TODO(), &repository.Object{Type: "Work", Title: "Old One"})
			Expect(err).To(BeNil())
			two, err := repo.Create(context.TODO(), &repository.Object{Type: "Work", Title: "Old Two"})
			Expect(err).To(BeNil())

			op, err := svc.Create(context.TODO(), operation.CreateParams{
				Name: "retitle",
				Type: model.OperationTypeUpdate,
			})
			Expect(err).To(BeNil())
			Expect(svc.UpdateDraftOptions(context.TODO(), op.ID, filestore.Options{
				Name:             op.Name,
				Type:             model.OperationTypeUpdate,
				UpdateIdentifier: "id",
			}, "configure")).To(BeNil())
			setSheet(op, fmt.Sprintf("id,title\n%s,New One\n%s,New Two\n", one.ID, two.ID))

			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			op, err = svc.Apply(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageComplete))

			got, err := repo.FindByID(context.TODO(), one.ID)
			Expect(err).To(BeNil())
			Expect(got.Title).To(Equal("New One"))

			got, err = repo.FindByID(context.TODO(), two.ID)
			Expect(err).To(BeNil())
			Expect(got.Title).To(Equal("New Two"))
		})

		It("requires an update identifier", func() {
			obj, err := repo.Create(context.TODO(), &repository.Object{Type: "Work", Title: "Unidentified"})
			Expect(err).To(BeNil())

			op, err := svc.Create(context.TODO(), operation.CreateParams{
				Name: "unidentified",
				Type: model.OperationTypeUpdate,
			})
			Expect(err).To(BeNil())
			setSheet(op, fmt.Sprintf("id,title\n%s,Renamed\n", obj.ID))
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())

			_, err = svc.Apply(context.TODO(), op.ID)
			var failed *operation.ErrVerificationFailed
			Expect(errors.As(err, &failed)).To(BeTrue())
		})

		It("drops proxies for objects removed from the draft", func() {
			kept, err := repo.Create(context.TODO(), &repository.Object{Type: "Work", Title: "Kept"})
			Expect(err).To(BeNil())
			dropped, err := repo.Create(context.TODO(), &repository.Object{Type: "Work", Title: "Dropped"})
			Expect(err).To(BeNil())

			op, err := svc.Create(context.TODO(), operation.CreateParams{
				Name: "pruned",
				Type: model.OperationTypeUpdate,
			})
			Expect(err).To(BeNil())
			Expect(svc.UpdateDraftOptions(context.TODO(), op.ID, filestore.Options{
				Name:             op.Name,
				Type:             model.OperationTypeUpdate,
				UpdateIdentifier: "id",
			}, "configure")).To(BeNil())
			setSheet(op, fmt.Sprintf("id,title\n%s,Kept Anew\n", kept.ID))

			// a proxy from a previous draft round still points at the
			// object the spreadsheet no longer mentions
			_, err = s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				ObjectID:    &dropped.ID,
				Status:      model.ProxyStatusComplete,
				Held:        true,
			})
			Expect(err).To(BeNil())

			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			op, err = svc.Apply(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageComplete))

			_, err = s.RowProxy().GetByObjectID(context.TODO(), op.ID, dropped.ID)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

			keptProxy, err := s.RowProxy().GetByObjectID(context.TODO(), op.ID, kept.ID)
			Expect(err).To(BeNil())
			Expect(keptProxy.Status).To(Equal(model.ProxyStatusComplete))
		})
	})

	Context("finishing", func() {
		It("lands on errors when any row failed", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "troubled"})
			Expect(err).To(BeNil())
			forceStage(op.ID, model.StageRunning)

			rowNumber := 0
			proxy, err := s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusError,
				Message:     "boom",
				Held:        true,
			})
			Expect(err).To(BeNil())
			_, err = s.Relationship().Create(context.TODO(), model.Relationship{
				RowProxyID:       proxy.ID,
				RelationshipType: model.RelationshipParent,
				IdentifierType:   model.IdentifierTypeTitle,
				ObjectIdentifier: "Nowhere",
				Status:           model.RelationshipStatusFailed,
			})
			Expect(err).To(BeNil())

			Expect(svc.CheckIfFinished(context.TODO(), op.ID)).To(BeNil())

			op, err = svc.Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageErrors))
			Expect(op.Message).To(Equal("completed with 2 errors"))

			got, err := s.RowProxy().Get(context.TODO(), proxy.ID)
			Expect(err).To(BeNil())
			Expect(got.Held).To(BeFalse())

			reports := errorReports(op.Branch)
			Expect(reports).To(HaveLen(1))
			content, err := os.ReadFile(reports[0])
			Expect(err).To(BeNil())
			Expect(string(content)).To(ContainSubstring("boom"))
			Expect(string(content)).To(ContainSubstring("could not resolve parent relationship"))
		})

		It("does nothing while rows are still in flight", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "inflight"})
			Expect(err).To(BeNil())
			forceStage(op.ID, model.StageRunning)

			rowNumber := 0
			_, err = s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusQueued,
			})
			Expect(err).To(BeNil())

			Expect(svc.CheckIfFinished(context.TODO(), op.ID)).To(BeNil())

			op, err = svc.Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageRunning))
		})
	})

	Context("destroying", func() {
		It("refuses while rows are in flight", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "busy"})
			Expect(err).To(BeNil())

			rowNumber := 0
			_, err = s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusQueued,
			})
			Expect(err).To(BeNil())

			err = svc.Destroy(context.TODO(), op.ID)
			var busy *operation.ErrOperationBusy
			Expect(errors.As(err, &busy)).To(BeTrue())
		})

		It("removes the record, proxies, and branch", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "doomed"})
			Expect(err).To(BeNil())

			rowNumber := 0
			_, err = s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusComplete,
				Held:        true,
			})
			Expect(err).To(BeNil())

			Expect(svc.Destroy(context.TODO(), op.ID)).To(BeNil())

			_, err = svc.Get(context.TODO(), op.ID)
			var notFound *operation.ErrOperationNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())

			branches, err := files.ListBranchNames(context.TODO())
			Expect(err).To(BeNil())
			Expect(branches).ToNot(ContainElement("doomed"))
		})
	})

	Context("reverting", func() {
		It("destroys the created objects and parks the operation in waiting", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "undone"})
			Expect(err).To(BeNil())
			setSheet(op, "id,title\n,Mistake\n")
			op, err = svc.Finalize(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			op, err = svc.Apply(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageComplete))

			proxy, err := s.RowProxy().GetByRowNumber(context.TODO(), op.ID, 0)
			Expect(err).To(BeNil())
			objectID := *proxy.ObjectID

			Expect(svc.Revert(context.TODO(), op.ID)).To(BeNil())

			_, err = repo.FindByID(context.TODO(), objectID)
			Expect(errors.Is(err, repository.ErrGone)).To(BeTrue())

			proxies, err := s.RowProxy().ListByOperation(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(proxies).To(BeEmpty())

			op, err = svc.Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(op.Stage).To(Equal(model.StageWaiting))
		})

		It("refuses while rows are in flight", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "unrevertable"})
			Expect(err).To(BeNil())

			rowNumber := 0
			_, err = s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusRunning,
			})
			Expect(err).To(BeNil())

			err = svc.Revert(context.TODO(), op.ID)
			var busy *operation.ErrOperationBusy
			Expect(errors.As(err, &busy)).To(BeTrue())
		})
	})

	Context("holds", func() {
		It("releases every held proxy", func() {
			op, err := svc.Create(context.TODO(), operation.CreateParams{Name: "held"})
			Expect(err).To(BeNil())

			for i := 0; i < 3; i++ {
				rowNumber := i
				_, err = s.RowProxy().Create(context.TODO(), model.RowProxy{
					OperationID: op.ID,
					RowNumber:   &rowNumber,
					Status:      model.ProxyStatusComplete,
					Held:        true,
				})
				Expect(err).To(BeNil())
			}

			Expect(svc.LiftHolds(context.TODO(), op.ID)).To(BeNil())

			proxies, err := s.RowProxy().ListByOperation(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			for _, p := range proxies {
				Expect(p.Held).To(BeFalse())
			}
		})
	})
})

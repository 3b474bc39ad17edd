package store_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/digitalcollections/bulkops/internal/config"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
)

var _ = Describe("operation store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	createOperation := func(name, stage string) *model.Operation {
		op, err := s.Operation().Create(context.TODO(), model.Operation{
			Name:   name,
			Type:   model.OperationTypeIngest,
			Stage:  stage,
			Status: "OK",
			Branch: name,
		})
		Expect(err).To(BeNil())
		return op
	}

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

	AfterEach(func() {
		gormdb.Exec("DELETE from relationships;")
		gormdb.Exec("DELETE from row_proxies;")
		gormdb.Exec("DELETE from operations;")
	})

	Context("create and get", func() {
		It("assigns an id when none is given", func() {
			op := createOperation("batch-1", model.StageDraft)
			Expect(op.ID).ToNot(Equal(uuid.Nil))

			got, err := s.Operation().Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(got.Name).To(Equal("batch-1"))
			Expect(got.Stage).To(Equal(model.StageDraft))
		})

		It("reports a missing operation", func() {
			_, err := s.Operation().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("rejects duplicate names", func() {
			createOperation("batch-1", model.StageDraft)
			_, err := s.Operation().Create(context.TODO(), model.Operation{
				Name:  "batch-1",
				Type:  model.OperationTypeIngest,
				Stage: model.StageDraft,
			})
			Expect(err).To(MatchError(store.ErrDuplicateKey))
		})

		It("finds an operation by name", func() {
			op := createOperation("batch-1", model.StageDraft)
			got, err := s.Operation().GetByName(context.TODO(), "batch-1")
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(op.ID))

			_, err = s.Operation().GetByName(context.TODO(), "no-such")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("finds an operation by approval request", func() {
			op := createOperation("batch-1", model.StagePending)
			approvalID := 7
			_, err := s.Operation().Update(context.TODO(), op.ID, nil, nil, nil, &approvalID)
			Expect(err).To(BeNil())

			got, err := s.Operation().GetByApprovalID(context.TODO(), 7)
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(op.ID))
		})
	})

	Context("update", func() {
		It("updates only the requested fields", func() {
			op := createOperation("batch-1", model.StageDraft)

			stage := model.StageRunning
			message := "processing rows"
			updated, err := s.Operation().Update(context.TODO(), op.ID, &stage, nil, &message, nil)
			Expect(err).To(BeNil())
			Expect(updated.Stage).To(Equal(model.StageRunning))

			got, err := s.Operation().Get(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(got.Stage).To(Equal(model.StageRunning))
			Expect(got.Message).To(Equal("processing rows"))
			// untouched fields keep their values
			Expect(got.Status).To(Equal("OK"))
			Expect(got.Name).To(Equal("batch-1"))
		})
	})

	Context("listing", func() {
		It("lists operations oldest first", func() {
			createOperation("batch-1", model.StageDraft)
			createOperation("batch-2", model.StageRunning)

			ops, err := s.Operation().List(context.TODO())
			Expect(err).To(BeNil())
			Expect(ops).To(HaveLen(2))
		})

		It("lists only active operations", func() {
			createOperation("batch-1", model.StageComplete)
			createOperation("batch-2", model.StageRunning)
			createOperation("batch-3", model.StageDiscarded)

			active, err := s.Operation().ListActive(context.TODO())
			Expect(err).To(BeNil())
			Expect(active).To(HaveLen(1))
			Expect(active[0].Name).To(Equal("batch-2"))
		})

		It("counts operations by stage", func() {
			createOperation("batch-1", model.StageRunning)
			createOperation("batch-2", model.StageRunning)
			createOperation("batch-3", model.StageComplete)

			counts, err := s.Operation().CountByStage(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.StageRunning]).To(Equal(int64(2)))
			Expect(counts[model.StageComplete]).To(Equal(int64(1)))
		})
	})

	Context("delete", func() {
		It("removes the operation and its rows", func() {
			op := createOperation("batch-1", model.StageComplete)
			rowNumber := 0
			_, err := s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: op.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusComplete,
			})
			Expect(err).To(BeNil())

			Expect(s.Operation().Delete(context.TODO(), op.ID)).To(BeNil())

			_, err = s.Operation().Get(context.TODO(), op.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))

			proxies, err := s.RowProxy().ListByOperation(context.TODO(), op.ID)
			Expect(err).To(BeNil())
			Expect(proxies).To(BeEmpty())
		})

		It("tolerates deleting a missing operation", func() {
			Expect(s.Operation().Delete(context.TODO(), uuid.New())).To(BeNil())
		})
	})
})

package store_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/digitalcollections/bulkops/internal/config"
	st "github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
)

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store).ToNot(BeNil())
		Expect(store.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		store.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from relationships;")
		gormDB.Exec("DELETE from row_proxies;")
		gormDB.Exec("DELETE from operations;")
	})

	Context("transaction", func() {
		It("commits an operation successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			op, err := store.Operation().Create(ctx, model.Operation{
				Name:  "batch-1",
				Type:  model.OperationTypeIngest,
				Stage: model.StageDraft,
			})
			Expect(err).To(BeNil())
			Expect(op).ToNot(BeNil())

			_, cerr := st.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from operations;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls an operation back successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			op, err := store.Operation().Create(ctx, model.Operation{
				ID:    uuid.New(),
				Name:  "batch-2",
				Type:  model.OperationTypeIngest,
				Stage: model.StageDraft,
			})
			Expect(err).To(BeNil())
			Expect(op).ToNot(BeNil())

			// visible inside the same transaction
			got, err := store.Operation().Get(ctx, op.ID)
			Expect(err).To(BeNil())
			Expect(got.Name).To(Equal("batch-2"))

			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from operations;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})
	})
})

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

var _ = Describe("row proxy store", Ordered, func() {
	var (
		s           store.Store
		gormdb      *gorm.DB
		operationID uuid.UUID
	)

	createProxy := func(rowNumber int, status string) *model.RowProxy {
		proxy, err := s.RowProxy().Create(context.TODO(), model.RowProxy{
			OperationID: operationID,
			RowNumber:   &rowNumber,
			Status:      status,
		})
		Expect(err).To(BeNil())
		return proxy
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

	BeforeEach(func() {
		op, err := s.Operation().Create(context.TODO(), model.Operation{
			Name:  "batch-1",
			Type:  model.OperationTypeIngest,
			Stage: model.StageRunning,
		})
		Expect(err).To(BeNil())
		operationID = op.ID
	})

	AfterEach(func() {
		gormdb.Exec("DELETE from relationships;")
		gormdb.Exec("DELETE from row_proxies;")
		gormdb.Exec("DELETE from operations;")
	})

	Context("lookups", func() {
		It("finds a proxy by row number", func() {
			createProxy(0, model.ProxyStatusQueued)
			proxy := createProxy(3, model.ProxyStatusQueued)

			got, err := s.RowProxy().GetByRowNumber(context.TODO(), operationID, 3)
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(proxy.ID))

			_, err = s.RowProxy().GetByRowNumber(context.TODO(), operationID, 9)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("finds a proxy by object id", func() {
			proxy := createProxy(0, model.ProxyStatusComplete)
			objectID := "work-1"
			proxy.ObjectID = &objectID
			Expect(s.RowProxy().Save(context.TODO(), proxy)).To(BeNil())

			got, err := s.RowProxy().GetByObjectID(context.TODO(), operationID, "work-1")
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(proxy.ID))
		})

		It("lists proxies in row order", func() {
			createProxy(2, model.ProxyStatusQueued)
			createProxy(0, model.ProxyStatusQueued)
			createProxy(1, model.ProxyStatusQueued)

			proxies, err := s.RowProxy().ListByOperation(context.TODO(), operationID)
			Expect(err).To(BeNil())
			Expect(proxies).To(HaveLen(3))
			Expect(*proxies[0].RowNumber).To(Equal(0))
			Expect(*proxies[2].RowNumber).To(Equal(2))
		})

		It("filters proxies by status", func() {
			createProxy(0, model.ProxyStatusComplete)
			createProxy(1, model.ProxyStatusError)
			createProxy(2, model.ProxyStatusQueued)

			proxies, err := s.RowProxy().ListByStatus(context.TODO(), operationID,
				model.ProxyStatusError, model.ProxyStatusQueued)
			Expect(err).To(BeNil())
			Expect(proxies).To(HaveLen(2))
		})

		It("preloads relationships on Get", func() {
			proxy := createProxy(0, model.ProxyStatusComplete)
			_, err := s.Relationship().Create(context.TODO(), model.Relationship{
				RowProxyID:       proxy.ID,
				IdentifierType:   model.IdentifierTypeID,
				RelationshipType: model.RelationshipParent,
				ObjectIdentifier: "work-1",
				Status:           model.RelationshipStatusNew,
			})
			Expect(err).To(BeNil())

			got, err := s.RowProxy().Get(context.TODO(), proxy.ID)
			Expect(err).To(BeNil())
			Expect(got.Relationships).To(HaveLen(1))
		})
	})

	Context("busy check", func() {
		It("counts only unfinished proxies", func() {
			createProxy(0, model.ProxyStatusQueued)
			createProxy(1, model.ProxyStatusStarting)
			createProxy(2, model.ProxyStatusRunning)
			createProxy(3, model.ProxyStatusComplete)
			createProxy(4, model.ProxyStatusError)

			count, err := s.RowProxy().CountUnfinished(context.TODO(), operationID)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})

		It("reports zero for an operation without rows", func() {
			count, err := s.RowProxy().CountUnfinished(context.TODO(), uuid.New())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(0)))
		})
	})

	Context("counters", func() {
		It("counts proxies by status across operations", func() {
			createProxy(0, model.ProxyStatusComplete)
			createProxy(1, model.ProxyStatusComplete)
			createProxy(2, model.ProxyStatusError)

			counts, err := s.RowProxy().CountAllByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.ProxyStatusComplete]).To(Equal(int64(2)))
			Expect(counts[model.ProxyStatusError]).To(Equal(int64(1)))
		})
	})

	Context("deletion", func() {
		It("deletes every proxy of an operation", func() {
			createProxy(0, model.ProxyStatusQueued)
			createProxy(1, model.ProxyStatusQueued)

			Expect(s.RowProxy().DeleteByOperation(context.TODO(), operationID)).To(BeNil())

			proxies, err := s.RowProxy().ListByOperation(context.TODO(), operationID)
			Expect(err).To(BeNil())
			Expect(proxies).To(BeEmpty())
		})
	})
})

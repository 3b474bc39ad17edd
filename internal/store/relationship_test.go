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

var _ = Describe("relationship store", Ordered, func() {
	var (
		s           store.Store
		gormdb      *gorm.DB
		operationID uuid.UUID
		proxyID     uint
	)

	createRelationship := func(rowProxyID uint, status string) *model.Relationship {
		rel, err := s.Relationship().Create(context.TODO(), model.Relationship{
			RowProxyID:       rowProxyID,
			IdentifierType:   model.IdentifierTypeID,
			RelationshipType: model.RelationshipParent,
			ObjectIdentifier: "work-1",
			Status:           status,
		})
		Expect(err).To(BeNil())
		return rel
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

		rowNumber := 0
		proxy, err := s.RowProxy().Create(context.TODO(), model.RowProxy{
			OperationID: op.ID,
			RowNumber:   &rowNumber,
			Status:      model.ProxyStatusRunning,
		})
		Expect(err).To(BeNil())
		proxyID = proxy.ID
	})

	AfterEach(func() {
		gormdb.Exec("DELETE from relationships;")
		gormdb.Exec("DELETE from row_proxies;")
		gormdb.Exec("DELETE from operations;")
	})

	Context("per proxy", func() {
		It("lists a proxy's relationships in declaration order", func() {
			first := createRelationship(proxyID, model.RelationshipStatusNew)
			second := createRelationship(proxyID, model.RelationshipStatusNew)

			rels, err := s.Relationship().ListByProxy(context.TODO(), proxyID)
			Expect(err).To(BeNil())
			Expect(rels).To(HaveLen(2))
			Expect(rels[0].ID).To(Equal(first.ID))
			Expect(rels[1].ID).To(Equal(second.ID))
		})
	})

	Context("per operation", func() {
		It("lists only unresolved relationships of the operation's rows", func() {
			createRelationship(proxyID, model.RelationshipStatusNew)
			createRelationship(proxyID, model.RelationshipStatusPending)
			createRelationship(proxyID, model.RelationshipStatusComplete)
			createRelationship(proxyID, model.RelationshipStatusFailed)

			// a relationship under a different operation must not leak in
			other, err := s.Operation().Create(context.TODO(), model.Operation{
				Name:  "batch-2",
				Type:  model.OperationTypeIngest,
				Stage: model.StageRunning,
			})
			Expect(err).To(BeNil())
			rowNumber := 0
			otherProxy, err := s.RowProxy().Create(context.TODO(), model.RowProxy{
				OperationID: other.ID,
				RowNumber:   &rowNumber,
				Status:      model.ProxyStatusRunning,
			})
			Expect(err).To(BeNil())
			createRelationship(otherProxy.ID, model.RelationshipStatusNew)

			pending, err := s.Relationship().ListPendingByOperation(context.TODO(), operationID)
			Expect(err).To(BeNil())
			Expect(pending).To(HaveLen(2))
		})
	})

	Context("updates", func() {
		It("persists retries and status changes", func() {
			rel := createRelationship(proxyID, model.RelationshipStatusNew)
			rel.Status = model.RelationshipStatusPending
			rel.Retries = 3
			Expect(s.Relationship().Save(context.TODO(), rel)).To(BeNil())

			got, err := s.Relationship().Get(context.TODO(), rel.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.RelationshipStatusPending))
			Expect(got.Retries).To(Equal(3))
		})
	})

	Context("counters", func() {
		It("counts relationships by status", func() {
			createRelationship(proxyID, model.RelationshipStatusComplete)
			createRelationship(proxyID, model.RelationshipStatusComplete)
			createRelationship(proxyID, model.RelationshipStatusFailed)

			counts, err := s.Relationship().CountAllByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.RelationshipStatusComplete]).To(Equal(int64(2)))
			Expect(counts[model.RelationshipStatusFailed]).To(Equal(int64(1)))
		})
	})
})

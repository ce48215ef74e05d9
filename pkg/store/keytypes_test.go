package store

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Artem468/executor-balancer/pkg/typeregistry"
)

var _ = Describe("KeyDataTypeRepository", func() {
	var (
		s      *Store
		mock   sqlmock.Sqlmock
		mockDB *sql.DB
		ctx    context.Context
	)

	BeforeEach(func() {
		s, mock, mockDB = newMockStore()
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Snapshot", func() {
		It("builds a name -> declared type map", func() {
			mock.ExpectQuery(`SELECT name, type_of FROM key_data_types`).
				WillReturnRows(sqlmock.NewRows([]string{"name", "type_of"}).
					AddRow("region", "string").
					AddRow("retries", "integer"))

			snapshot, err := s.Snapshot(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot).To(Equal(typeregistry.Snapshot{"region": "string", "retries": "integer"}))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("UpsertKeyDataType", func() {
		It("upserts on conflict", func() {
			mock.ExpectExec(`INSERT INTO key_data_types`).
				WithArgs("region", "string").
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(s.UpsertKeyDataType(ctx, "region", "string")).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Artem468/executor-balancer/pkg/types"
)

var _ = Describe("RequestRepository", func() {
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

	Describe("GetRequest", func() {
		It("decodes the params condition map", func() {
			mock.ExpectQuery(`SELECT id, parent_id, user_id, params, status, created_at, updated_at`).
				WithArgs("req-1").
				WillReturnRows(sqlmock.NewRows(
					[]string{"id", "parent_id", "user_id", "params", "status", "created_at", "updated_at"}).
					AddRow("req-1", nil, nil,
						[]byte(`{"region":{"value":{"kind":"string","value":"eu-west"},"operator":"EQ","height":2}}`),
						"await", time.Now(), time.Now()))

			req, err := s.GetRequest(ctx, "req-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(req.Status).To(Equal(types.StatusAwait))
			Expect(req.Params).To(HaveKey("region"))
			Expect(req.Params["region"].Operator).To(Equal(types.OpEQ))
			Expect(req.Params["region"].Height).To(Equal(2.0))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns not found when the request doesn't exist", func() {
			mock.ExpectQuery(`SELECT id, parent_id, user_id, params, status, created_at, updated_at`).
				WithArgs("ghost").
				WillReturnError(sql.ErrNoRows)

			_, err := s.GetRequest(ctx, "ghost")

			Expect(err).To(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("CreateRequest", func() {
		It("inserts in status await and populates timestamps", func() {
			now := time.Now()
			req := &types.Request{
				ID:     "req-2",
				Params: map[string]types.Condition{},
			}

			mock.ExpectQuery(`INSERT INTO requests`).
				WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

			err := s.CreateRequest(ctx, req)

			Expect(err).NotTo(HaveOccurred())
			Expect(req.Status).To(Equal(types.StatusAwait))
			Expect(req.CreatedAt).To(Equal(now))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("CommitAssignment", func() {
		It("reports true when the compare-and-set wins", func() {
			mock.ExpectExec(`UPDATE requests SET user_id`).
				WithArgs("u1", types.StatusAccept, "req-1", types.StatusAwait).
				WillReturnResult(sqlmock.NewResult(0, 1))

			ok, err := s.CommitAssignment(ctx, "req-1", "u1")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("reports false when another commit already won (idempotent guard)", func() {
			mock.ExpectExec(`UPDATE requests SET user_id`).
				WithArgs("u1", types.StatusAccept, "req-1", types.StatusAwait).
				WillReturnResult(sqlmock.NewResult(0, 0))

			ok, err := s.CommitAssignment(ctx, "req-1", "u1")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("CountAcceptedToday", func() {
		It("groups accepted requests by user", func() {
			since := time.Now()

			mock.ExpectQuery(`SELECT user_id, count\(\*\) AS total FROM requests`).
				WithArgs(types.StatusAccept, since).
				WillReturnRows(sqlmock.NewRows([]string{"user_id", "total"}).
					AddRow("u1", 3).
					AddRow("u2", 1))

			counts, err := s.CountAcceptedToday(ctx, since)

			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal(map[string]int{"u1": 3, "u2": 1}))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

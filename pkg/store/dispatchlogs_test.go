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

var _ = Describe("DispatchLogRepository", func() {
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

	Describe("InsertDispatchLog", func() {
		It("appends the audit record", func() {
			log := &types.DispatchLog{
				RequestID:        "req-1",
				TaskID:           "task-1",
				RequestCreatedAt: time.Now(),
				RequestUpdatedAt: time.Now(),
			}

			mock.ExpectExec(`INSERT INTO dispatch_logs`).
				WithArgs(log.RequestID, log.ParentID, log.TaskID, log.RequestCreatedAt, log.RequestUpdatedAt).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(s.InsertDispatchLog(ctx, log)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("SummaryForRange", func() {
		It("returns logs ordered by request creation time", func() {
			from := time.Now().Add(-24 * time.Hour)
			to := time.Now()

			mock.ExpectQuery(`SELECT request_id, parent_id, task_id, request_created_at, request_updated_at`).
				WithArgs(from, to).
				WillReturnRows(sqlmock.NewRows(
					[]string{"request_id", "parent_id", "task_id", "request_created_at", "request_updated_at"}).
					AddRow("req-1", nil, "task-1", from, to))

			logs, err := s.SummaryForRange(ctx, from, to)

			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].TaskID).To(Equal("task-1"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

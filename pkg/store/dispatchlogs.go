package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Artem468/executor-balancer/pkg/types"
)

type dispatchLogRow struct {
	RequestID        string         `db:"request_id"`
	ParentID         sql.NullString `db:"parent_id"`
	TaskID           string         `db:"task_id"`
	RequestCreatedAt time.Time      `db:"request_created_at"`
	RequestUpdatedAt time.Time      `db:"request_updated_at"`
}

func (r dispatchLogRow) toDomain() types.DispatchLog {
	log := types.DispatchLog{
		RequestID:        r.RequestID,
		TaskID:           r.TaskID,
		RequestCreatedAt: r.RequestCreatedAt,
		RequestUpdatedAt: r.RequestUpdatedAt,
	}
	if r.ParentID.Valid {
		log.ParentID = &r.ParentID.String
	}
	return log
}

// InsertDispatchLog appends the audit record written on every
// successful commit (spec.md §3, C6 step 8). The table has no primary
// key beyond request_id + task_id: a retried commit that reaches here
// twice for the same pair is a bug upstream, not something this layer
// silently tolerates.
func (s *Store) InsertDispatchLog(ctx context.Context, log *types.DispatchLog) error {
	const q = `INSERT INTO dispatch_logs
		(request_id, parent_id, task_id, request_created_at, request_updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, q, log.RequestID, log.ParentID, log.TaskID,
		log.RequestCreatedAt, log.RequestUpdatedAt); err != nil {
		return wrapDBErr("insert dispatch log", err)
	}
	return nil
}

// SummaryForRange returns every dispatch log whose request was created
// in [from, to), the backing data for GET /dispatch-logs/summary.
func (s *Store) SummaryForRange(ctx context.Context, from, to time.Time) ([]types.DispatchLog, error) {
	const q = `SELECT request_id, parent_id, task_id, request_created_at, request_updated_at
		FROM dispatch_logs
		WHERE request_created_at >= $1 AND request_created_at < $2
		ORDER BY request_created_at`

	var rows []dispatchLogRow
	if err := s.db.SelectContext(ctx, &rows, q, from, to); err != nil {
		return nil, wrapDBErr("summarize dispatch logs", err)
	}

	logs := make([]types.DispatchLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, r.toDomain())
	}
	return logs, nil
}

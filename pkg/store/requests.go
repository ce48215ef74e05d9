package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/pkg/types"
)

type requestRow struct {
	ID         string         `db:"id"`
	ParentID   sql.NullString `db:"parent_id"`
	UserID     sql.NullString `db:"user_id"`
	ParamsJSON []byte         `db:"params"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r requestRow) toDomain() (types.Request, error) {
	params := map[string]types.Condition{}
	if len(r.ParamsJSON) > 0 {
		if err := json.Unmarshal(r.ParamsJSON, &params); err != nil {
			return types.Request{}, wrapDBErr("decode request params", err)
		}
	}
	req := types.Request{
		ID:        r.ID,
		Params:    params,
		Status:    types.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ParentID.Valid {
		req.ParentID = &r.ParentID.String
	}
	if r.UserID.Valid {
		req.UserID = &r.UserID.String
	}
	return req, nil
}

// GetRequest loads a Request by id, C6 step 1.
func (s *Store) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	const q = `SELECT id, parent_id, user_id, params, status, created_at, updated_at
		FROM requests WHERE id = $1`

	var row requestRow
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, wrapDBErr("get request", err)
	}

	req, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateRequest persists a newly submitted Request in status "await"
// (spec.md §3 lifecycle, POST /requests).
func (s *Store) CreateRequest(ctx context.Context, req *types.Request) error {
	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return apperrors.NewValidationError("invalid request params").WithDetails(err.Error())
	}

	const q = `INSERT INTO requests (id, parent_id, user_id, params, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at`

	status := req.Status
	if status == "" {
		status = types.StatusAwait
	}

	row := s.db.QueryRowxContext(ctx, q, req.ID, req.ParentID, req.UserID, paramsJSON, status)
	if err := row.Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
		return wrapDBErr("create request", err)
	}
	req.Status = status
	return nil
}

// CommitAssignment performs C6's idempotent compare-and-set: it only
// assigns userID to requestID when the request is still unassigned and
// awaiting dispatch, so a retried dispatch task can never double-commit
// (spec.md §4.6 step 7). ok is false when another commit already won.
func (s *Store) CommitAssignment(ctx context.Context, requestID, userID string) (ok bool, err error) {
	const q = `UPDATE requests SET user_id = $1, status = $2, updated_at = now()
		WHERE id = $3 AND user_id IS NULL AND status = $4`

	result, execErr := s.db.ExecContext(ctx, q, userID, types.StatusAccept, requestID, types.StatusAwait)
	if execErr != nil {
		return false, wrapDBErr("commit assignment", execErr)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, wrapDBErr("commit assignment", rowsErr)
	}
	return affected == 1, nil
}

// MarkProcessed transitions a Request whose candidates were all
// rejected or exhausted into its terminal state without an assignment.
func (s *Store) MarkProcessed(ctx context.Context, requestID string, status types.Status) error {
	const q = `UPDATE requests SET status = $1, updated_at = now() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, q, status, requestID); err != nil {
		return wrapDBErr("mark request processed", err)
	}
	return nil
}

// CountAcceptedToday implements dailycounter.Source: per-user counts
// of requests accepted on or after since (spec.md §4.5).
func (s *Store) CountAcceptedToday(ctx context.Context, since time.Time) (map[string]int, error) {
	const q = `SELECT user_id, count(*) AS total FROM requests
		WHERE status = $1 AND user_id IS NOT NULL AND created_at >= $2
		GROUP BY user_id`

	rows, err := s.db.QueryxContext(ctx, q, types.StatusAccept, since)
	if err != nil {
		return nil, wrapDBErr("count accepted today", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var userID string
		var total int
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, wrapDBErr("scan accepted count", err)
		}
		counts[userID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("count accepted today", err)
	}
	return counts, nil
}

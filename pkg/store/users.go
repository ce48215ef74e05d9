package store

import (
	"context"
	"encoding/json"

	"github.com/Artem468/executor-balancer/pkg/types"
)

type userRow struct {
	ID               string  `db:"id"`
	Username         string  `db:"username"`
	ParamsJSON       []byte  `db:"params"`
	MaxDailyRequests *int    `db:"max_daily_requests"`
}

func (r userRow) toDomain() (types.User, error) {
	params := map[string]types.Value{}
	if len(r.ParamsJSON) > 0 {
		if err := json.Unmarshal(r.ParamsJSON, &params); err != nil {
			return types.User{}, wrapDBErr("decode user params", err)
		}
	}
	return types.User{
		ID:               r.ID,
		Username:         r.Username,
		Params:           params,
		MaxDailyRequests: r.MaxDailyRequests,
	}, nil
}

// ListUsers returns every executor eligible for assignment (spec.md
// §4.4 step 3: "enumerate users"). Disabled/archived executors never
// reach this table in the first place; there is no soft-delete column
// to filter on.
func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	const q = `SELECT id, username, params, max_daily_requests FROM users ORDER BY id`

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, wrapDBErr("list users", err)
	}

	users := make([]types.User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// GetUser fetches a single executor by id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	const q = `SELECT id, username, params, max_daily_requests FROM users WHERE id = $1`

	var row userRow
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, wrapDBErr("get user", err)
	}

	u, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Package store is the Postgres repository layer behind users,
// requests, key_data_types and dispatch_logs (spec.md §3, §6),
// grounded on the teacher's pkg/datastorage/repository package: plain
// sqlx queries, pq/pgconn error inspection, structured logging on
// every failure path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
)

// Store wraps a pooled *sqlx.DB with the repository methods the
// dispatcher, the HTTP API and the background workers need.
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// New constructs a Store over an already-opened pool (see
// internal/database.Open).
func New(db *sqlx.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

// HealthCheck pings the pool, used by GET /healthz.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseError("ping", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), recognized via both pq.Error (lib/pq,
// kept for drivers that still surface it) and pgconn-flavored errors
// the pgx stdlib driver returns.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if ok := asPQError(err, &pqErr); ok {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func asPQError(err error, target **pq.Error) bool {
	for err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			*target = pqErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(op)
	}
	if isUniqueViolation(err) {
		return apperrors.New(apperrors.ErrorTypeConflict, fmt.Sprintf("%s: already exists", op)).WithDetails(err.Error())
	}
	return apperrors.NewDatabaseError(op, err)
}

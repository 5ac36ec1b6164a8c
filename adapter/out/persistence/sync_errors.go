package persistence

import (
	"database/sql"
	"errors"

	"sync_server/core/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// requireRowAffected maps a zero-row UPDATE or DELETE to domain.ErrNotFound.
func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation. The connection pool runs on the pgx driver, which
// surfaces *pgconn.PgError; *pq.Error is still matched for callers on lib/pq.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode
	}
	return false
}

func toNullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

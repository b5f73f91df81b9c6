// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

// postgres error codes
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

type roleRow struct {
	ID        int64     `db:"id"`
	StaffID   int64     `db:"staff_id"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// pgError returns the postgres error behind err, if any.
func pgError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// violates reports whether err is a postgres error of the given code.
// A non-empty constraint also has to match.
func violates(err error, code, constraint string) bool {
	pqErr, ok := pgError(err)
	if !ok || string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func isNoRows(err error) bool {
	return errors.Cause(err) == sql.ErrNoRows
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "getting affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

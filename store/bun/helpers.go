package bunstore

import (
	"database/sql"
	"errors"

	"github.com/uptrace/bun/driver/pgdriver"
)

const uniqueViolation = "23505"

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

// affected drops the error pgdriver never returns from RowsAffected.
func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected() //nolint:errcheck // always nil
	return n
}

package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUndefinedTable = "42P01"

// IsUndefinedTable reports a Postgres "relation does not exist" error.
func IsUndefinedTable(err error) bool {
	return hasPgCode(err, pgUndefinedTable)
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"go-session-service/internal/model"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	pgUniqueViolation = "23505"
	pgInvalidText     = "22P02"
)

// classify maps driver errors onto the store error kinds. It returns nil when
// err carries no known Postgres code.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		return model.ErrDuplicateKey
	case pgInvalidText:
		// A malformed UUID can never match a row.
		return model.ErrNotFound
	default:
		return nil
	}
}

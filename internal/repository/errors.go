package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict reports that a guarded update lost a race: the row changed since it was read.
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate reports a unique key violation.
	ErrDuplicate = errors.New("duplicate key")
)

const uniqueViolation = "23505"

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

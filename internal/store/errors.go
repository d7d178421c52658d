package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict marks writes rejected by a uniqueness or referential
// constraint, or aborted by a serialization failure or deadlock.
var ErrConflict = errors.New("conflict")

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505", "23503", "40001", "40P01":
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// ConstraintName returns the violated constraint when err came from PostgreSQL.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

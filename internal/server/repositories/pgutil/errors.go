// Package pgutil classifies PostgreSQL errors returned through pgx.
package pgutil

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidTextRepr     = "22P02"
)

func code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a duplicate key.
func IsUniqueViolation(err error) bool { return code(err) == codeUniqueViolation }

// IsForeignKeyViolation reports a reference to a missing row.
func IsForeignKeyViolation(err error) bool { return code(err) == codeForeignKeyViolation }

// IsInvalidID reports a value that could not be parsed, typically a
// malformed uuid coming from a URL.
func IsInvalidID(err error) bool { return code(err) == codeInvalidTextRepr }

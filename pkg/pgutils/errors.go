package pgutils

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23 — Integrity Constraint Violation
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"

	// Class 42 — Syntax Error or Access Rule Violation
	CodeUndefinedColumn = "42703"
	CodeUndefinedObject = "42704"
)

// IsUniqueViolation checks if the error is a PostgreSQL unique constraint violation (23505).
func IsUniqueViolation(err error) bool {
	return hasErrorCode(err, CodeUniqueViolation)
}

// IsForeignKeyViolation checks if the error is a PostgreSQL foreign key violation (23503).
func IsForeignKeyViolation(err error) bool {
	return hasErrorCode(err, CodeForeignKeyViolation)
}

// IsUndefinedColumn checks if the error refers to a missing column (42703).
// Used to detect an absent vector column when pgvector is not installed.
func IsUndefinedColumn(err error) bool {
	return hasErrorCode(err, CodeUndefinedColumn)
}

// IsUndefinedObject checks if the error refers to a missing type or extension (42704).
func IsUndefinedObject(err error) bool {
	return hasErrorCode(err, CodeUndefinedObject)
}

func hasErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	// Wrapped driver errors that lost their type still carry the SQLSTATE.
	return strings.Contains(err.Error(), "SQLSTATE "+code)
}

package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "extraction_jobs_active_source_uq"}

	assert.True(t, IsUniqueViolation(unique))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert extraction job: %w", unique)))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: CodeForeignKeyViolation}))
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))

	// Flattened driver errors still expose the SQLSTATE in their message.
	assert.True(t, IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "extraction_jobs_active_source_uq" (SQLSTATE 23505)`)))
}

func TestIsUndefinedColumnAndObject(t *testing.T) {
	assert.True(t, IsUndefinedColumn(&pgconn.PgError{Code: CodeUndefinedColumn}))
	assert.True(t, IsUndefinedObject(&pgconn.PgError{Code: CodeUndefinedObject}))
	assert.False(t, IsUndefinedColumn(&pgconn.PgError{Code: CodeUndefinedObject}))
	assert.False(t, IsUndefinedObject(errors.New("relation does not exist")))
}

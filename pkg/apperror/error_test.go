package apperror

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorChaining(t *testing.T) {
	inner := errors.New("connection refused")
	err := ErrDatabase.WithInternal(inner).WithMessage("claim batch failed")

	assert.Equal(t, "database_error", err.Code)
	assert.Equal(t, "claim batch failed", err.Message)
	assert.ErrorIs(t, err, ErrDatabase)
	assert.Equal(t, inner, errors.Unwrap(err))
}

func TestErrorIsDoesNotCrossMatch(t *testing.T) {
	assert.NotErrorIs(t, ErrValidation.WithMessage("bad schema"), ErrDatabase)
}

func TestToHTTPError(t *testing.T) {
	status, body := ToHTTPError(NewNotFound("object", "abc"))
	assert.Equal(t, http.StatusNotFound, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errBody["code"])

	status, _ = ToHTTPError(errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", ErrRateLimited.WithMessage("llm quota"), true},
		{"timeout", ErrTimeout, true},
		{"unavailable", ErrUnavailable, true},
		{"database", ErrDatabase.WithInternal(errors.New("deadlock")), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"validation", ErrValidation.WithMessage("missing required field"), false},
		{"bad request", ErrBadRequest, false},
		{"not found", NewNotFound("document", "d1"), false},
		{"unknown defaults retriable", errors.New("socket reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}

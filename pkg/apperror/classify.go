package apperror

import (
	"context"
	"errors"
	"net"
)

// IsRetriable reports whether an error is transient and worth retrying with
// backoff. Rate limits, timeouts, and infrastructure hiccups are retriable;
// validation and missing-resource errors are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrRateLimited.Code, ErrTimeout.Code, ErrUnavailable.Code, ErrDatabase.Code:
			return true
		}
		return false
	}

	// Unknown errors default to retriable so transient failures are not
	// promoted to permanent ones.
	return true
}

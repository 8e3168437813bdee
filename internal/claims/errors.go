package claims

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups of servers or users that do not exist.
var ErrNotFound = errors.New("not found")

// RejectionError is a domain/validation failure: an expected outcome carrying
// the user-facing explanation (method unavailable, claim settled, rate limit
// hit, and so on). The HTTP layer maps it to a 400-class response.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string { return e.Message }

func reject(format string, args ...any) error {
	return &RejectionError{Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a domain rejection and returns it.
func IsRejection(err error) (*RejectionError, bool) {
	var r *RejectionError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

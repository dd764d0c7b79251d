package admin

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest is returned when a request body is not valid JSON for
// the endpoint.
var ErrMalformedRequest = NewBadRequestErrorf("malformed request body")

// BadRequestError rejects an admin request without touching the run. Field
// is set when a single request field failed validation.
type BadRequestError struct {
	Field string
	Err   error
}

func NewBadRequestErrorf(msg string, args ...any) BadRequestError {
	return BadRequestError{Err: fmt.Errorf(msg, args...)}
}

// NewInvalidFieldError reports the offending field together with the value
// that was sent.
func NewInvalidFieldError(field string, reason string, value any) BadRequestError {
	return BadRequestError{
		Field: field,
		Err:   fmt.Errorf("invalid %s %v: %s", field, value, reason),
	}
}

func IsBadRequestError(err error) bool {
	var target BadRequestError
	return errors.As(err, &target)
}

func (e BadRequestError) Error() string {
	return e.Err.Error()
}

func (e BadRequestError) Unwrap() error {
	return e.Err
}

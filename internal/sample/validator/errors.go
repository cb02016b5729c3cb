package validator

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports the first offending field of a sample.
// Index is the position in the batch, or -1 for batch-level failures.
type ValidationError struct {
	Index int
	Field string
	Code  string
	Err   error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Index >= 0 {
		fmt.Fprintf(&b, "sample %d: ", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Code)
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newError(field, code string, err error) *ValidationError {
	return &ValidationError{Index: -1, Field: field, Code: code, Err: err}
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

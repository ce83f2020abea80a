package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFilter marks a FilterSpec that cannot be evaluated
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrMalformedResult marks a result set the engine refuses to return
	ErrMalformedResult = errors.New("malformed result set")
)

// QueryError is the terminal failure of one query; no partial result accompanies it
type QueryError struct {
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("threshold query failed: %v", e.Cause)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

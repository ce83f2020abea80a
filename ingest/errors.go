package ingest

import (
	"fmt"

	"go.uber.org/multierr"
)

// EntryFailure is one entry the store rejected
type EntryFailure struct {
	EntryID string `json:"entry_id"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

func (f EntryFailure) Error() string {
	return fmt.Sprintf("entry %s (%s) rejected: %s", f.EntryID, f.Address, f.Reason)
}

// PartialWriteError reports rejected entries of a cycle in which at least one entry
// was accepted. The cycle still counts as successful.
type PartialWriteError struct {
	Timestamp int64
	Total     int
	Failures  []EntryFailure
}

func (e *PartialWriteError) Error() string {
	var combined error
	for _, f := range e.Failures {
		combined = multierr.Append(combined, f)
	}
	return fmt.Sprintf("cycle %d: %d of %d entries rejected: %v", e.Timestamp, len(e.Failures), e.Total, combined)
}

// Unwrap exposes each rejected entry to errors.As
func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// FullWriteError reports a cycle in which no entry was persisted, either because the
// store call failed as a whole or because every entry was rejected.
type FullWriteError struct {
	Timestamp int64
	Total     int
	Cause     error
}

func (e *FullWriteError) Error() string {
	return fmt.Sprintf("cycle %d: batch write of %d entries failed: %v", e.Timestamp, e.Total, e.Cause)
}

func (e *FullWriteError) Unwrap() error {
	return e.Cause
}

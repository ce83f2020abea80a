package generator

import (
	"errors"
	"fmt"
)

var (
	// ErrClock is returned when the clock yields an unusable cycle timestamp
	ErrClock = errors.New("clock returned an invalid timestamp")
	// ErrRandom is returned when the random source yields a value outside [0, 1)
	ErrRandom = errors.New("random source returned an invalid value")
)

// GenerationError aborts the current cycle only
type GenerationError struct {
	Address string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("measurement generation failed: %v", e.Cause)
	}
	return fmt.Sprintf("measurement generation failed at %s: %v", e.Address, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxIterationsExceeded indicates the reviewer kept rejecting until
	// the iteration cap ran out. The task terminates with the last
	// artifact attached for inspection.
	ErrMaxIterationsExceeded = errors.New("maximum iterations exceeded")

	// ErrValidationRejected is the internal signal that the reviewer
	// rejected the artifact; the stage loop turns it into another
	// iteration rather than a failure.
	ErrValidationRejected = errors.New("validation rejected")

	// ErrContextOverflow indicates a conversation could not be brought
	// under budget even after compression and truncation.
	ErrContextOverflow = errors.New("context overflow")
)

// RejectionError carries reviewer feedback with ErrValidationRejected.
type RejectionError struct {
	Feedback string
}

// Error returns formatted error message
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrValidationRejected, e.Feedback)
}

// Unwrap allows errors.Is(err, ErrValidationRejected).
func (e *RejectionError) Unwrap() error {
	return ErrValidationRejected
}

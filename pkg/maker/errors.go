package maker

import (
	"errors"
	"fmt"
	"strings"

	"maestro/pkg/models"
)

// ErrCandidateExhaustion indicates no candidate survived filtering: every
// generation failed, came back empty, or was too short to be an artifact.
var ErrCandidateExhaustion = errors.New("candidate pool exhausted")

// ExhaustionError carries the per-candidate filter reasons for diagnosis.
type ExhaustionError struct {
	Reasons map[string]string // label → reason
}

// NewExhaustionError builds an ExhaustionError from a filtered pool.
func NewExhaustionError(candidates []models.Candidate) *ExhaustionError {
	reasons := make(map[string]string, len(candidates))
	for _, c := range candidates {
		reason := c.FilterReason
		if reason == "" {
			reason = c.Error
		}
		reasons[c.Label] = reason
	}
	return &ExhaustionError{Reasons: reasons}
}

// Error returns formatted error message
func (e *ExhaustionError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for label, reason := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %s", label, reason))
	}
	return fmt.Sprintf("%v (%s)", ErrCandidateExhaustion, strings.Join(parts, ", "))
}

// Unwrap allows errors.Is(err, ErrCandidateExhaustion).
func (e *ExhaustionError) Unwrap() error {
	return ErrCandidateExhaustion
}

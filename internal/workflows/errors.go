package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
)

// Application error types carried across the activity boundary.
const (
	ErrTypeViolation    = "StructuralViolation"
	ErrTypeInvalidInput = "InvalidInput"
)

// classifyPhaseError marks errors that a retry cannot fix as non-retryable.
// A gate violation is a property of the feed and the plan; retrying the
// same phase produces the same violation.
func classifyPhaseError(phase string, err error) error {
	var violation *orchestrator.ViolationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &violation):
		return temporal.NewNonRetryableApplicationError(violation.Error(), ErrTypeViolation, err, violation.Violations)
	case errors.Is(err, orchestrator.ErrEmptyPhase):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	return fmt.Errorf("phase %s: %w", phase, err)
}

// IsViolation reports whether a workflow or activity error came from a
// structural gate.
func IsViolation(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == ErrTypeViolation
}

// formatErrorForResult formats an error for RunResult.Errors.
func formatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

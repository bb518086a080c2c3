package types

import "fmt"

// ValidationError reports an input that fails a structural or range check.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NumericalError reports a computation that produced non-finite values or
// hit a numerically degenerate case (singular matrix, failed bracket).
type NumericalError struct {
	Op     string
	Reason string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("numerical failure in %s: %s", e.Op, e.Reason)
}

// NewNumericalError creates a NumericalError for the given operation.
func NewNumericalError(op, format string, args ...interface{}) *NumericalError {
	return &NumericalError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports an observation count below the statistical
// minimum a computation requires.
type InsufficientDataError struct {
	Op       string
	Required int
	Got      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s requires at least %d observations, got %d", e.Op, e.Required, e.Got)
}

// NewInsufficientDataError creates an InsufficientDataError.
func NewInsufficientDataError(op string, required, got int) *InsufficientDataError {
	return &InsufficientDataError{Op: op, Required: required, Got: got}
}

// OptimizationError reports solver non-convergence or infeasible
// constraints. The partial result, when one exists, travels alongside the
// error so callers can inspect it without mistaking it for a solution.
type OptimizationError struct {
	Objective string
	Status    string
	Reason    string
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("optimization %s (%s): %s", e.Objective, e.Status, e.Reason)
}

// NewOptimizationError creates an OptimizationError.
func NewOptimizationError(objective, status, format string, args ...interface{}) *OptimizationError {
	return &OptimizationError{Objective: objective, Status: status, Reason: fmt.Sprintf(format, args...)}
}

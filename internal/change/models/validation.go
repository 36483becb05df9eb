package models

import (
	"strings"

	platformstrings "changegate/pkg/platform/strings"
)

// ValidationErrors is returned by Propose when the payload is rejected.
type ValidationErrors struct {
	Errors []string
}

// NewValidationErrors normalizes messages; it returns nil when none remain.
func NewValidationErrors(errs []string) *ValidationErrors {
	cleaned := platformstrings.DedupeAndTrim(errs)
	if len(cleaned) == 0 {
		return nil
	}
	return &ValidationErrors{Errors: cleaned}
}

func (e *ValidationErrors) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// Outcome converts the error into its Outcome variant.
func (e *ValidationErrors) Outcome() Outcome {
	return ValidationFailed(e.Errors)
}

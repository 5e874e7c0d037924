package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes per failure category, used by the CLI front-end.
const (
	ExitOK              = 0
	ExitGeneric         = 1
	ExitValidation      = 2
	ExitCycle           = 3
	ExitProvider        = 4
	ExitPartialRollback = 5
)

// ValidationError reports invalid input. It is raised before any side
// effect, so the caller can fix the definitions and retry safely.
type ValidationError struct {
	ResourceID string
	Field      string
	Message    string
}

func NewValidationError(resourceID, field, message string) error {
	return &ValidationError{ResourceID: resourceID, Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.ResourceID != "" {
		fmt.Fprintf(&b, " for resource %q", e.ResourceID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// CycleError reports that the dependency graph has no valid ordering.
// Members holds the identifiers participating in the cycle.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving: %s", strings.Join(e.Members, ", "))
}

// ProviderError wraps a failure reported by the cloud provisioning API.
// Transient errors may be retried; permanent ones are surfaced immediately.
type ProviderError struct {
	ResourceID string
	Op         string // "create", "update", "delete", "status"
	Transient  bool
	Err        error
}

func NewProviderError(resourceID, op string, transient bool, err error) error {
	return &ProviderError{ResourceID: resourceID, Op: op, Transient: transient, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed for resource %q: %v", e.Op, e.ResourceID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError reports that a resource did not reach a stable status within
// its deadline. It is treated as a provider failure for rollback purposes.
type TimeoutError struct {
	ResourceID string
	Timeout    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resource %q did not stabilize within %s", e.ResourceID, e.Timeout)
}

// PartialRollbackError is terminal: one or more compensating actions failed
// and the deployment requires operator intervention. It is never retried.
type PartialRollbackError struct {
	FailedResources []string
}

func (e *PartialRollbackError) Error() string {
	return fmt.Sprintf("rollback incomplete, manual intervention required for: %s",
		strings.Join(e.FailedResources, ", "))
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}

// ExitCode maps an error to its CLI exit code category.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		verr *ValidationError
		cerr *CycleError
		perr *ProviderError
		terr *TimeoutError
		rerr *PartialRollbackError
	)
	switch {
	case errors.As(err, &rerr):
		return ExitPartialRollback
	case errors.As(err, &verr):
		return ExitValidation
	case errors.As(err, &cerr):
		return ExitCycle
	case errors.As(err, &perr), errors.As(err, &terr):
		return ExitProvider
	default:
		return ExitGeneric
	}
}

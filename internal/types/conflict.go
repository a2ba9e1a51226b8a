package types

import "fmt"

// ConflictReason classifies command failures.
type ConflictReason string

// Conflict reason constants. Every command failure maps to exactly one of
// these; handlers translate them to HTTP statuses.
const (
	ReasonNotFound         ConflictReason = "not_found"
	ReasonLocked           ConflictReason = "locked"
	ReasonRevisionMismatch ConflictReason = "revision_mismatch"
	ReasonValidationFailed ConflictReason = "validation_failed"
)

// IsValid reports whether the reason is one of the known constants.
func (r ConflictReason) IsValid() bool {
	switch r {
	case ReasonNotFound, ReasonLocked, ReasonRevisionMismatch, ReasonValidationFailed:
		return true
	}
	return false
}

// Conflict is the structured failure a command returns instead of mutating
// partial state. Expected describes the refs the caller supplied; Actual is
// a diagnostic block (current revision, blocking lock metadata, offending
// field, observed value) that lets an agent repair and retry.
type Conflict struct {
	Reason   ConflictReason `json:"reason"`
	Message  string         `json:"message,omitempty"`
	Expected map[string]any `json:"expected,omitempty"`
	Actual   map[string]any `json:"actual,omitempty"`
}

// Error satisfies the error interface so conflicts can flow through error
// returns; callers unwrap with AsConflict.
func (c *Conflict) Error() string {
	if c.Message != "" {
		return fmt.Sprintf("%s: %s", c.Reason, c.Message)
	}
	return string(c.Reason)
}

// AsConflict extracts a *Conflict from an error chain, or wraps a plain
// error as a validation_failed conflict so the command path always reports
// structured failures.
func AsConflict(err error) *Conflict {
	if err == nil {
		return nil
	}
	if c, ok := err.(*Conflict); ok {
		return c
	}
	return &Conflict{Reason: ReasonValidationFailed, Message: err.Error()}
}

// NewNotFound builds a not_found conflict for an unresolvable ref.
func NewNotFound(message string, expected map[string]any) *Conflict {
	return &Conflict{Reason: ReasonNotFound, Message: message, Expected: expected}
}

// NewValidationFailed builds a validation_failed conflict.
func NewValidationFailed(message string, expected, actual map[string]any) *Conflict {
	return &Conflict{Reason: ReasonValidationFailed, Message: message, Expected: expected, Actual: actual}
}

// NewRevisionMismatch builds a revision_mismatch conflict carrying both the
// supplied base revision and the current one.
func NewRevisionMismatch(base, current uint64) *Conflict {
	return &Conflict{
		Reason:   ReasonRevisionMismatch,
		Message:  fmt.Sprintf("base revision %d does not match current revision %d", base, current),
		Expected: map[string]any{"baseRevision": base},
		Actual:   map[string]any{"currentRevision": current},
	}
}

// NewLocked builds a locked conflict carrying the blocking lock's metadata.
func NewLocked(path string, owner string, expiresAt string, requested []string) *Conflict {
	return &Conflict{
		Reason:  ReasonLocked,
		Message: fmt.Sprintf("path %q is locked by %s", path, owner),
		Expected: map[string]any{
			"paths": requested,
		},
		Actual: map[string]any{
			"blockingPath":  path,
			"blockingOwner": owner,
			"expiresAt":     expiresAt,
		},
	}
}

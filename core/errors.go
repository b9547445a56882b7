package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an unknown
	// policy, quarantine, or provenance record.
	ErrNotFound = errors.New("not found")

	// ErrPolicyNotFound is returned when a policy ID is unknown.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrQuarantineNotFound is returned when a quarantine ID is unknown.
	ErrQuarantineNotFound = errors.New("quarantine record not found")

	// ErrAlreadyReleased is returned when releasing a quarantine record
	// that already has an end time.
	ErrAlreadyReleased = errors.New("quarantine record already released")

	// ErrProvenanceNotFound is returned when no attestation exists for
	// a sandbox.
	ErrProvenanceNotFound = errors.New("provenance record not found")

	// ErrAlreadyAnchored is returned when anchoring a record that
	// already carries a chain anchor. A record is anchored on at most
	// one chain.
	ErrAlreadyAnchored = errors.New("provenance record already anchored")
)

// ValidationError reports malformed input at a capture or registry
// boundary. The offending state is rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SignatureError reports structurally malformed provenance input
// during sign or verify. A well-formed record whose signature simply
// does not match is a normal false verification result, never a
// SignatureError.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature: %s", e.Reason)
}

// ChainAnchorError reports a failed ledger submission after retries
// were exhausted or the failure was classified terminal.
type ChainAnchorError struct {
	ChainID  string
	Attempts int
	Err      error
}

func (e *ChainAnchorError) Error() string {
	return fmt.Sprintf("chain anchor: chain %q failed after %d attempt(s): %v", e.ChainID, e.Attempts, e.Err)
}

func (e *ChainAnchorError) Unwrap() error {
	return e.Err
}

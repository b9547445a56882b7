package core

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateEvent checks that an event carries every field required for
// capture. A nil or invalid event yields a ValidationError naming the
// first offending field; valid events return nil.
func ValidateEvent(e *SecurityEvent) error {
	if e == nil {
		return NewValidationError("", "event is nil")
	}
	return translate(validate.Struct(e))
}

// ValidatePolicy checks a policy and all of its rules before the
// policy is admitted to the registry.
func ValidatePolicy(p *SecurityPolicy) error {
	if p == nil {
		return NewValidationError("", "policy is nil")
	}
	return translate(validate.Struct(p))
}

// ValidateResult checks a sandbox result before provenance creation.
func ValidateResult(r *SandboxResult) error {
	if r == nil {
		return NewValidationError("", "result is nil")
	}
	return translate(validate.Struct(r))
}

// translate converts validator errors into the package's
// ValidationError type so callers never see library internals.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		reason := "failed rule " + first.Tag()
		if first.Tag() == "required" {
			reason = "is required"
		}
		return NewValidationError(fieldName(first.Namespace()), reason)
	}
	return NewValidationError("", err.Error())
}

// fieldName strips the root struct name from a validator namespace,
// keeping nested paths like "Rules[0].Action".
func fieldName(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Package common defines shared constants, helpers and sentinel errors used
// across the idkeeper server. Callers should use errors.Is / errors.As to
// match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every error returned by a service wraps exactly one of
// them so the transport layer can map it without inspecting messages.
var (
	ErrValidation      = errors.New("validation error")
	ErrAuthentication  = errors.New("authentication error")
	ErrStore           = errors.New("store error")
	ErrPolicyViolation = errors.New("policy violation")
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")

	// ErrUserNotFound is reported to administrators acting on an account
	// id. Self-service calls see ErrInvalidCredentials instead.
	ErrUserNotFound = fmt.Errorf("user %w", ErrorNotFound)

	// Generic/internal flow control.
	ErrorInternal = errors.New("internal error")

	// Token errors. At the public boundary every token problem is reported
	// as ErrInvalidToken.
	ErrInvalidToken = errors.New("invalid token")

	// Authentication outcomes.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	ErrAccountLocked      = fmt.Errorf("%w: account locked", ErrAuthentication)
	ErrInvalidMFACode     = fmt.Errorf("%w: invalid mfa code", ErrAuthentication)

	// Validation outcomes that are not password rules.
	ErrEmailTaken             = fmt.Errorf("%w: email already registered", ErrValidation)
	ErrUnknownConsentCategory = fmt.Errorf("%w: unknown consent category", ErrValidation)

	// Policy outcomes.
	ErrMFANotConfigured  = fmt.Errorf("%w: mfa is not configured", ErrPolicyViolation)
	ErrMFAAlreadyEnabled = fmt.Errorf("%w: mfa is already enabled", ErrPolicyViolation)
	ErrForbidden         = fmt.Errorf("%w: insufficient permissions", ErrPolicyViolation)
)

// ValidationError reports every failed input rule at once.
type ValidationError struct {
	Violations []string
}

// NewValidationError builds a ValidationError from the given violations.
func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StoreError wraps a failure of the credential store so callers can tell
// infrastructure problems apart from rejected credentials.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps err as a StoreError for operation op.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStore, e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

package errors

import (
	"errors"
	"fmt"
)

// Common error types for the storefront client
var (
	// Transport errors
	ErrNetwork = errors.New("no response from server")

	// Session errors
	ErrAuthExpired      = errors.New("authentication expired")
	ErrRefreshFailed    = errors.New("session refresh failed")
	ErrMalformedRefresh = errors.New("malformed refresh response")
	ErrNotLoggedIn      = errors.New("login required")
	ErrMalformedStatus  = errors.New("malformed login status response")

	// Payment errors
	ErrValidation       = errors.New("invalid request")
	ErrPaymentPrepare   = errors.New("payment preparation failed")
	ErrPaymentApprove   = errors.New("payment approval failed")
	ErrPaymentFailed    = errors.New("payment failed")
	ErrPaymentTimeout   = errors.New("payment timed out")
	ErrPopupBlocked     = errors.New("popup blocked")
	ErrAttemptActive    = errors.New("a payment attempt is already in progress")
	ErrNoRedirectURL    = errors.New("payment redirect URL missing")
	ErrNoPaymentID      = errors.New("payment id missing")
	ErrNoPendingAttempt = errors.New("no pending payment")

	// Backend errors passed through to collaborators
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}

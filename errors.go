package subledger

import (
	"errors"
	"fmt"

	"github.com/xraph/subledger/subscription"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("subledger: not found")
	ErrAlreadyExists = errors.New("subledger: already exists")
	ErrInvalidInput  = errors.New("subledger: invalid input")
	ErrInvalidState  = errors.New("subledger: invalid state")

	// User errors
	ErrUserNotFound = errors.New("subledger: user not found")
	ErrUserExists   = errors.New("subledger: user already exists")

	// Plan errors
	ErrPlanNotFound = errors.New("subledger: plan not found")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("subledger: subscription not found")
	ErrSubscriptionExists   = errors.New("subledger: subscription already exists")
	ErrNoOpenPeriod         = subscription.ErrNoOpenPeriod

	// Store errors
	ErrStoreNotReady   = errors.New("subledger: store not ready")
	ErrStoreClosed     = errors.New("subledger: store is closed")
	ErrMigrationFailed = errors.New("subledger: migration failed")
	ErrSeedFailed      = errors.New("subledger: catalog seed failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("subledger: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match any validation error.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// StoreError wraps a backend failure that has no domain meaning.
// Callers see it as opaque; the cause stays reachable through Unwrap.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("subledger: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsAlreadyExists returns true if the error reports a uniqueness conflict.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrUserExists) ||
		errors.Is(err, ErrSubscriptionExists)
}

// IsInvalidState returns true if an operation did not match the current
// period state, for example pausing a subscription that is not active.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNoOpenPeriod)
}

// IsValidation returns true for rejected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsStoreFailure returns true for errors that carry no domain meaning.
func IsStoreFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StoreError
	if errors.As(err, &se) {
		return true
	}
	return !IsNotFound(err) && !IsAlreadyExists(err) && !IsInvalidState(err) && !IsValidation(err)
}

// wrapStore leaves domain errors untouched and wraps everything else once.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsAlreadyExists(err) || IsInvalidState(err) || IsValidation(err) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

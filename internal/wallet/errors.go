package wallet

import (
	"context"
	"errors"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfSettlement    = errors.New("payer and payee must be different users")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidReference  = errors.New("invalid gateway or reference")
	ErrReferenceConflict = errors.New("gateway reference already used by another wallet")

	// ErrStorageConflict covers serialization failures, deadlocks and
	// unique-index races. The operation can be retried as a whole.
	ErrStorageConflict = errors.New("storage conflict")
	// ErrStorageTimeout covers lock waits and statements that exceeded their
	// deadline. The operation can be retried as a whole.
	ErrStorageTimeout = errors.New("storage timeout")

	errNotFound = errors.New("not found")
)

// IsRetryable reports whether err is a transient storage failure after which
// the same request can be sent again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrStorageTimeout)
}

// IsValidation reports whether err was caused by the request itself.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrInsufficientFunds,
		ErrSelfSettlement,
		ErrUserNotFound,
		ErrInvalidReference,
		ErrReferenceConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageError is a classified storage failure that keeps the driver error.
type storageError struct {
	kind  error
	cause error
}

func (e *storageError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *storageError) Is(target error) bool {
	return target == e.kind
}

func (e *storageError) Unwrap() error {
	return e.cause
}

func conflict(cause error) error {
	return &storageError{kind: ErrStorageConflict, cause: cause}
}

func timeout(cause error) error {
	return &storageError{kind: ErrStorageTimeout, cause: cause}
}

// classifyContext maps context deadline errors, which every driver surfaces the
// same way.
func classifyContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeout(err)
	}
	return err
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrCapacity          = errors.New("insufficient spots")
	ErrSlotClosed        = errors.New("slot is closed")
	ErrAuthorization     = errors.New("not permitted")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("conflict")
	ErrPaymentProvider   = errors.New("payment provider error")
	ErrSignature         = errors.New("signature verification failed")
)

// InvalidTransitionError reports a state-machine violation on an entity.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an error wrapping ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ProviderError wraps a transport or provider failure as retryable.
func ProviderError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPaymentProvider, op, err)
}

// IsRetryable reports whether the caller may retry the operation later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range []error{ErrValidation, ErrNotFound, ErrCapacity, ErrSlotClosed, ErrAuthorization,
		ErrUnauthenticated, ErrInvalidTransition, ErrConflict, ErrSignature} {
		if errors.Is(err, e) {
			return false
		}
	}
	return true
}

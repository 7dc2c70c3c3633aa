package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the settlement core. Callers match them with errors.Is;
// the web layer maps them to HTTP statuses.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyPaid       = errors.New("already paid")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrProvider          = errors.New("payment provider error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRateLimited       = errors.New("rate limited")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ProviderError wraps a failure returned by an external payment gateway.
//
// Definitive is true when the gateway answered and rejected the request, so no
// transaction exists on its side. A transport failure or timeout is not
// definitive: the gateway may or may not have recorded the reference.
type ProviderError struct {
	Provider   Provider
	Op         string
	Definitive bool
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProvider) match any *ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

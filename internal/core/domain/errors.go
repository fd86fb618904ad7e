package domain

import (
	"errors"
	"fmt"
)

var (
	ErrGameIdMismatch          = errors.New("game id mismatch")
	ErrUnknownEventType        = errors.New("unknown event type")
	ErrInvalidStage            = errors.New("not in a valid stage")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrMissingConditionWitness = errors.New("missing condition witness")
	ErrInvalidSecretLength     = errors.New("invalid secret length")
	ErrSecretMismatch          = errors.New("secret does not match commitment")
	ErrGameNotFinalized        = errors.New("game is not finalized")
)

// ValidationError reports malformed or missing protocol data. It is never
// worth retrying the operation that returned it.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func invalidf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// InsufficientFundsError tells which party under-funded its stake.
type InsufficientFundsError struct {
	Party   Role
	Funded  uint64
	Missing uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"%s: %s funded %d sats, missing %d", ErrInsufficientFunds, e.Party, e.Funded, e.Missing,
	)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

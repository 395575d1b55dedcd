package errors

import (
	"errors"
	"fmt"
)

// Domain error taxonomy for the agent cash ledger
var (
	ErrAgentNotFound        = errors.New("agent not found")
	ErrAgentAlreadyExists   = errors.New("agent already exists")
	ErrAgentInactive        = errors.New("agent is deactivated")
	ErrMovementNotFound     = errors.New("movement not found")
	ErrEntryNotFound        = errors.New("queue entry not found")
	ErrBatchNotFound        = errors.New("settlement batch not found")
	ErrRequestNotFound      = errors.New("withdrawal request not found")
	ErrInsufficientFloat    = errors.New("insufficient float")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrOtpExpired           = errors.New("otp expired")
	ErrOtpMismatch          = errors.New("otp mismatch")
	ErrOtpNotPending        = errors.New("movement is not awaiting otp")
	ErrBatchAlreadyExists   = errors.New("settlement batch already exists for agent and date")
	ErrAlreadyProcessed     = errors.New("already processed")
	ErrDenialReasonRequired = errors.New("denial requires an enumerated reason")
	ErrDuplicateKey         = errors.New("duplicate idempotency key")
	ErrInvalidState         = errors.New("invalid state for operation")
	ErrNoPolicy             = errors.New("no fee policy effective at given time")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// OtpAttemptError wraps ErrOtpMismatch with the number of attempts left
// before the movement fails. Surfaced to agents verbatim.
type OtpAttemptError struct {
	Remaining int
}

func (e *OtpAttemptError) Error() string {
	return fmt.Sprintf("otp mismatch: %d attempts remaining", e.Remaining)
}

func (e *OtpAttemptError) Unwrap() error {
	return ErrOtpMismatch
}

func NewOtpAttemptError(remaining int) error {
	return &OtpAttemptError{Remaining: remaining}
}

// StoreError wraps a failure from a persistence operation with context.
type StoreError struct {
	Operation string
	Cause     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during '%s': %v", e.Operation, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func NewStoreError(operation string, cause error) error {
	return &StoreError{
		Operation: operation,
		Cause:     cause,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}

func IsInsufficientFloat(err error) bool {
	return errors.Is(err, ErrInsufficientFloat)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

func IsBatchAlreadyExists(err error) bool {
	return errors.Is(err, ErrBatchAlreadyExists)
}

func IsOtpMismatch(err error) bool {
	return errors.Is(err, ErrOtpMismatch)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrBatchAlreadyExists) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrAgentAlreadyExists)
}

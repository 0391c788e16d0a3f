package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Catalog errors
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrTransaction = errors.New("transaction failed")

	// External source errors
	ErrConnection    = errors.New("connection failed")
	ErrNotConnected  = errors.New("external database not connected")
	ErrSourceMissing = errors.New("external database file not found")
	ErrInvalidKey    = errors.New("invalid encryption key: expected 64 hex characters")
	ErrNoTracks      = errors.New("no tracks found in external database")
	ErrNoTiers       = errors.New("no extraction tier returned rows")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ValidationError reports a required or malformed field on a catalog write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConnectionError is terminal for one adapter instance: every access strategy failed.
type ConnectionError struct {
	Path string
	Err  error // joined failures, one per attempted strategy
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConnection, e.Path, e.Err)
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TierFailure records one extraction query variant that raised.
//
// It is kept on the extraction report and never returned; the next tier runs instead.
type TierFailure struct {
	Tier string
	Err  error
}

func (e *TierFailure) Error() string {
	return fmt.Sprintf("tier %s: %v", e.Tier, e.Err)
}

func (e *TierFailure) Unwrap() error {
	return e.Err
}

// TransactionError wraps the cause of a rolled back batch.
//
// Attempted is the batch size and Applied the number of records written before the failure;
// none of them survive the rollback.
type TransactionError struct {
	Op        string
	Attempted int
	Applied   int
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %s rolled back after %d of %d records: %v", ErrTransaction, e.Op, e.Applied, e.Attempted, e.Err)
}

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransaction
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

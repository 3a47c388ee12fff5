package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrInvalidTransition is returned when a checkpoint mutation does not match the current status.
var ErrInvalidTransition = errors.New("invalid checkpoint transition")

// ErrNotFound signals that the requested checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// TransientIOError wraps network, timeout and stale-reference failures.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// PaginationTimeoutError indicates the table did not settle within its wait budget.
type PaginationTimeoutError struct {
	Loaded  int
	Reveals int
	Err     error
}

func (e *PaginationTimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pagination timeout after %d reveals (%d rows loaded)", e.Reveals, e.Loaded)
	}
	return fmt.Sprintf("pagination timeout after %d reveals (%d rows loaded): %v", e.Reveals, e.Loaded, e.Err)
}

func (e *PaginationTimeoutError) Unwrap() error {
	return e.Err
}

// PaginationExhaustionError indicates growth stopped below the total the page reports.
type PaginationExhaustionError struct {
	Loaded   int
	Reported int
}

func (e *PaginationExhaustionError) Error() string {
	return fmt.Sprintf("pagination exhausted at %d rows, page reports %d", e.Loaded, e.Reported)
}

// ParseValidationError reports a row that cannot become a PartRecord.
type ParseValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ParseValidationError) Error() string {
	return fmt.Sprintf("row %d: %s %s", e.Row, e.Field, e.Reason)
}

// StorageError wraps a Sink Writer failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CheckpointError wraps a checkpoint store failure. It is fatal to the run.
type CheckpointError struct {
	Op  string
	Key UnitKey
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// DiscoveryError wraps a catalogue enumeration failure. It is fatal to the run.
type DiscoveryError struct {
	Stage string
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery %s: %v", e.Stage, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// UnitTimeoutError indicates a unit exceeded its wall-clock ceiling.
type UnitTimeoutError struct {
	Key UnitKey
	Err error
}

func (e *UnitTimeoutError) Error() string {
	return fmt.Sprintf("unit %s exceeded its time budget: %v", e.Key, e.Err)
}

func (e *UnitTimeoutError) Unwrap() error {
	return e.Err
}

// IsRunFatal reports whether err must abort the whole run.
func IsRunFatal(err error) bool {
	var ckErr *CheckpointError
	var discErr *DiscoveryError
	return errors.As(err, &ckErr) || errors.As(err, &discErr)
}

// Classify maps an error onto the retry policy's error kinds.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	var (
		parseErr   *ParseValidationError
		storageErr *StorageError
		ckErr      *CheckpointError
		unitErr    *UnitTimeoutError
		timeoutErr *PaginationTimeoutError
		exhausted  *PaginationExhaustionError
		ioErr      *TransientIOError
		netErr     net.Error
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &storageErr), errors.As(err, &ckErr):
		return KindFatal
	case errors.As(err, &unitErr):
		return KindUnitTimeout
	case errors.As(err, &timeoutErr), errors.As(err, &exhausted), errors.As(err, &ioErr):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindFatal
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return KindTransient
		}
		return KindFatal
	}
	// Browser automation errors (detached nodes, closed targets) surface untyped.
	return KindTransient
}

// ErrorLabel returns a low-cardinality label for metrics.
func ErrorLabel(err error) string {
	var (
		parseErr   *ParseValidationError
		storageErr *StorageError
		unitErr    *UnitTimeoutError
		timeoutErr *PaginationTimeoutError
		exhausted  *PaginationExhaustionError
		ioErr      *TransientIOError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &parseErr):
		return "parse_validation"
	case errors.As(err, &storageErr):
		return "storage"
	case errors.As(err, &unitErr):
		return "unit_timeout"
	case errors.As(err, &timeoutErr):
		return "pagination_timeout"
	case errors.As(err, &exhausted):
		return "pagination_exhausted"
	case errors.As(err, &ioErr):
		return "transient_io"
	default:
		return "other"
	}
}

package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by calls made after the engine shut down.
var ErrStopped = errors.New("engine stopped")

// RuntimeError is a failure of one loop task. The loop logs it and moves on;
// calls that wait on the task receive it.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Task names the failed task.
	Task string

	// Seq is the loop sequence number of the task.
	Seq int64

	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeFetchFailed indicates the full refetch for reconciliation failed.
	ErrCodeFetchFailed RuntimeErrorCode = "FETCH_FAILED"

	// ErrCodeReconcileFailed indicates refetched state could not be applied.
	ErrCodeReconcileFailed RuntimeErrorCode = "RECONCILE_FAILED"

	// ErrCodeResolveFailed indicates a completion named no pending mutation.
	ErrCodeResolveFailed RuntimeErrorCode = "RESOLVE_FAILED"

	// ErrCodeMergeRejected indicates a stream event was dropped as malformed.
	ErrCodeMergeRejected RuntimeErrorCode = "MERGE_REJECTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("%s: %s (seq=%d): %v", e.Code, e.Task, e.Seq, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsReconcileError reports whether err is a failed fetch or reconcile.
func IsReconcileError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeFetchFailed || re.Code == ErrCodeReconcileFailed
	}
	return false
}

// IsMergeRejected reports whether err is a dropped stream event.
func IsMergeRejected(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMergeRejected
	}
	return false
}

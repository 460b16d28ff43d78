package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrStaleRow is returned when the authoritative record disappeared
	// between the time it was displayed and the time it was written.
	ErrStaleRow = errors.New("record no longer exists")
	// ErrPersistence wraps a failed store write.
	ErrPersistence = errors.New("persistence failed")
	// ErrValidation marks input that could not be interpreted.
	ErrValidation = errors.New("validation failed")
	// ErrNotEditable is returned when an edit targets a locked cell.
	ErrNotEditable = errors.New("cell is not editable")
	// ErrFlowBusy is returned when a confirmation is already pending.
	ErrFlowBusy = errors.New("confirmation already in progress")
	// ErrNoPendingEdit is returned when there is nothing to confirm.
	ErrNoPendingEdit = errors.New("no pending edit")
	// ErrCommitInFlight rejects input while the commit is being written.
	ErrCommitInFlight = errors.New("commit in flight")
	// ErrForbidden is returned when the current tier lacks a permission.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

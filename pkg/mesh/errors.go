package mesh

import "errors"

// Shared error taxonomy. Transient errors are retried with backoff by
// callers; ErrNoBufs is a capacity rejection that leaves state
// unchanged; ErrInvalidArgs and ErrInvalidState reject the call that
// introduced them without partial mutation.
var (
	// ErrFailed indicates an unspecified operational failure.
	ErrFailed = errors.New("operation failed")

	// ErrDrop indicates a message was dropped.
	ErrDrop = errors.New("message dropped")

	// ErrNoBufs indicates insufficient buffer or table space.
	ErrNoBufs = errors.New("insufficient buffer space")

	// ErrNoRoute indicates no route to the destination.
	ErrNoRoute = errors.New("no route to destination")

	// ErrBusy indicates a conflicting operation is already in progress.
	ErrBusy = errors.New("operation in progress")

	// ErrParse indicates a malformed message or value.
	ErrParse = errors.New("parse error")

	// ErrInvalidArgs indicates invalid arguments or configuration.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrSecurity indicates a security check failed.
	ErrSecurity = errors.New("security check failed")

	// ErrAbort indicates the operation was cancelled.
	ErrAbort = errors.New("operation aborted")

	// ErrInvalidState indicates the operation is not valid in the
	// current role or state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNoAck indicates no acknowledgment was received after the
	// maximum number of retries.
	ErrNoAck = errors.New("no acknowledgment received")

	// ErrChannelAccessFailure indicates CSMA-CA failed due to channel
	// activity.
	ErrChannelAccessFailure = errors.New("channel access failure")

	// ErrDetached indicates the node is not attached to a partition.
	ErrDetached = errors.New("not attached to a partition")

	// ErrNotFound indicates the requested item does not exist.
	ErrNotFound = errors.New("not found")
)

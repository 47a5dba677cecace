package domain

import (
	"errors"
	"fmt"
)

// FailureCode classifies everything that can go wrong during a call
// attempt. Every code has a defined return-to-idle path; none is fatal
// to the hosting process.
type FailureCode string

const (
	// FailurePermissionDenied means local media access was refused.
	FailurePermissionDenied FailureCode = "permission_denied"
	// FailureSignalingWrite means the invitation could not be published.
	FailureSignalingWrite FailureCode = "signaling_write_failed"
	// FailureCredentialUnavailable means both the token path and the
	// credential-less fallback failed.
	FailureCredentialUnavailable FailureCode = "credential_unavailable"
	// FailureJoin means the media session rejected the join.
	FailureJoin FailureCode = "join_failed"
	// FailureRemoteDisconnected means the media session was lost mid-call.
	FailureRemoteDisconnected FailureCode = "remote_disconnected"
)

// CallError pairs a failure code with its cause.
type CallError struct {
	Code FailureCode
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewCallError(code FailureCode, err error) *CallError {
	return &CallError{Code: code, Err: err}
}

// CodeOf extracts the failure code from err, or "" if err carries none.
func CodeOf(err error) FailureCode {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ErrBusy is returned when an intent is refused because a call is
// already in progress.
var ErrBusy = errors.New("call already in progress")

// ErrNoPendingInvitation is returned by accept when there is nothing to
// accept, typically because the caller cancelled first.
var ErrNoPendingInvitation = errors.New("no pending invitation")

// ErrSessionClosed is returned once the session actor has stopped.
var ErrSessionClosed = errors.New("call session closed")

package peer

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

var (
	// ErrSignalApply: a malformed or out-of-order negotiation payload.
	ErrSignalApply       = errors.New("signal apply failure")
	ErrTransportFailed   = errors.New("transport failed")
	ErrTransportClosed   = errors.New("transport closed")
	ErrInvalidTransition = errors.New("invalid transition")
)

// LinkError scopes a failure to one remote member.
type LinkError struct {
	Op     string
	Remote domain.MemberID
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func linkErr(op string, remote domain.MemberID, kind, cause error) *LinkError {
	if cause == nil {
		return &LinkError{Op: op, Remote: remote, Err: kind}
	}
	return &LinkError{Op: op, Remote: remote, Err: fmt.Errorf("%w: %v", kind, cause)}
}

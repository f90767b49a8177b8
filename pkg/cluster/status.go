package cluster

import (
	"errors"
	"fmt"
)

// Status is the result code of a command.
type Status uint8

const (
	StatusSuccess            Status = 0
	StatusFailure            Status = 1
	StatusInvalidCommand     Status = 2
	StatusUnsupportedCommand Status = 3
	StatusConstraintError    Status = 4
	StatusBusyWithOtherAdmin Status = 5
	StatusFailSafeRequired   Status = 6
	StatusInvalidNOC         Status = 7
	StatusMissingRoot        Status = 8
	StatusNetworkNotFound    Status = 9
	StatusAuthFailure        Status = 10
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusInvalidCommand:
		return "INVALID_COMMAND"
	case StatusUnsupportedCommand:
		return "UNSUPPORTED_COMMAND"
	case StatusConstraintError:
		return "CONSTRAINT_ERROR"
	case StatusBusyWithOtherAdmin:
		return "BUSY_WITH_OTHER_ADMIN"
	case StatusFailSafeRequired:
		return "FAILSAFE_REQUIRED"
	case StatusInvalidNOC:
		return "INVALID_NOC"
	case StatusMissingRoot:
		return "MISSING_ROOT"
	case StatusNetworkNotFound:
		return "NETWORK_NOT_FOUND"
	case StatusAuthFailure:
		return "AUTH_FAILURE"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// IsSuccess reports whether s is StatusSuccess.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// StatusError is a non-success response.
type StatusError struct {
	Command Command
	Status  Status
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Command, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Status)
}

// NewStatusError creates a StatusError without a command, for Handler
// implementations.
func NewStatusError(status Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf returns the status carried by err, if any.
func StatusOf(err error) (Status, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}

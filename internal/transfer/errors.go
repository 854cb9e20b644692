package transfer

import (
	"github.com/ftserve/ftserve/internal/core/client"
)

// Status lines sent to the client on the control connection. Each one ends
// the session.
const (
	StatusInvalidCommand    = "INVALID COMMAND"
	StatusAccessDenied      = "ACCESS DENIED"
	StatusDirNotFound       = "DIRECTORY NOT FOUND"
	StatusFileNotFound      = "FILE NOT FOUND"
	StatusNotADirectory     = "NOT A DIRECTORY"
	StatusCannotTransferDir = "CANNOT TRANSFER DIRECTORY"
	StatusFileReadError     = "FILE READ ERROR"
	StatusErrorOccurred     = "ERROR OCCURRED"
	StatusInvalidResponse   = "INVALID RESPONSE"
)

// StatusError is a rejected command. Status is sent to the client verbatim
// and the connection is closed afterwards.
type StatusError struct {
	Status string
	// Err is the underlying cause, if any.
	Err error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Status + ": " + e.Err.Error()
	}
	return e.Status
}

func (e *StatusError) Unwrap() error { return e.Err }

// Is reports that a StatusError always closes the session.
func (e *StatusError) Is(target error) bool { return target == client.ErrSessionClosed }

func statusError(status string, err error) *StatusError {
	return &StatusError{Status: status, Err: err}
}

package transport

import (
	"net"

	"github.com/pkg/errors"
)

// ErrClosed connection closed locally
var ErrClosed = errors.New("transport: connection closed")

// IOError network level failure
// connection is closed when reported and will be reopened on next use
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

// Cause ...
func (e *IOError) Cause() error {
	return e.Err
}

// Unwrap ...
func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError check if err or any of its causes is IOError
func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// IsTimeout network timeout
func IsTimeout(err error) bool {
	var e net.Error
	if errors.As(err, &e) {
		return e.Timeout()
	}

	return false
}

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(*IOError); ok {
		return err
	}

	return &IOError{Op: op, Err: err}
}

package api

import (
	"errors"
	"fmt"
)

// TransportError means the backend could not be reached or did not answer
// before the request deadline.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError means the backend answered but reported failure, either with a
// non-2xx status or with a body that could not be decoded.
type RemoteError struct {
	Op         string
	URL        string
	StatusCode int
	Detail     string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsTransport reports whether err (or anything it wraps) is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsRemote reports whether err (or anything it wraps) is a RemoteError.
func IsRemote(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}

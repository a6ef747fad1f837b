package host

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned by port queries before the backend was spawned.
var ErrNotStarted = errors.New("backend not started")

// BridgeError reports a failed host operation, such as a port query against
// a backend that never spawned.
type BridgeError struct {
	Op  string
	Err error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Op, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

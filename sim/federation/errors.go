package federation

import (
	"errors"
	"fmt"
)

// ErrWaitTimeout is returned when an expected callback does not arrive within
// Config.WaitTimeout.
var ErrWaitTimeout = errors.New("federation: timed out waiting for callback")

// ProtocolError reports federates disagreeing on the synchronization
// contract, such as an announced label this federate does not know. It is
// fatal to the run.
type ProtocolError struct {
	Callback string
	Label    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol fault: unexpected label %q in %s", e.Label, e.Callback)
}

// StateError is returned when an operation is called in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.State)
}

package agent

import (
	"errors"
	"fmt"
)

// ErrorKind classifies runner failures.
type ErrorKind string

const (
	// KindValidation marks malformed params, caught before any model call.
	KindValidation ErrorKind = "validation"
	// KindModel marks a backend call that failed or timed out.
	KindModel ErrorKind = "model"
	// KindTool marks an unknown tool, schema failure, or tool body error.
	KindTool ErrorKind = "tool"
	// KindSession marks a referenced session that does not exist.
	KindSession ErrorKind = "session"
)

// RunError is the typed failure returned by Run and RunStream. It carries
// enough context to correlate with the emitted error event.
type RunError struct {
	Kind      ErrorKind
	SessionID string
	Iteration int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s error (session=%s iteration=%d): %v", e.Kind, e.SessionID, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a RunError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var runErr *RunError
	return errors.As(err, &runErr) && runErr.Kind == kind
}

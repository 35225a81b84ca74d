package pipeline

import (
	"errors"
	"fmt"
)

// StageExecutionError reports the failure of one stage instance. How it is
// resolved (abort, tolerate, retry) is decided by the owning template's error
// policy, not by the error itself.
type StageExecutionError struct {
	Stage  string
	Key    string
	Reason string
	// Diagnostics holds the tail of the captured command output, when any.
	Diagnostics string
	Err         error
}

func (e *StageExecutionError) Error() string {
	if e.Key != "" && e.Key != e.Stage {
		return fmt.Sprintf("stage %s[%s]: %s", e.Stage, e.Key, e.Reason)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

func asStageError(err error, target **StageExecutionError) bool {
	return errors.As(err, target)
}

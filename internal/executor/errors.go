package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskFailed reports that the task reached the failed status. The
	// task is terminal, so re-running it cannot help.
	ErrTaskFailed = errors.New("task failed")
	// ErrWorkspaceDenied reports a workspace outside the policy's roots.
	ErrWorkspaceDenied = errors.New("workspace not allowed by policy")
)

// RetryableError is returned by a non-final attempt that left the task
// running for another try.
type RetryableError struct {
	TaskID string
	Err    error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("task %s: retryable: %v", e.TaskID, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err asks for another attempt.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

package scheduler

import (
	"errors"

	"github.com/basket/clawboard/internal/executor"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/persistence"
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job goes straight to the
// dead letter state.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether a handler error should skip the retry.
func IsPermanent(err error) bool {
	var pe permanentError
	switch {
	case errors.As(err, &pe):
		return true
	case executor.IsRetryable(err):
		return false
	case errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, persistence.ErrTaskTerminal),
		errors.Is(err, invoke.ErrRuntimeMissing),
		errors.Is(err, executor.ErrTaskFailed):
		return true
	}
	return false
}

package supervisor

import (
	"errors"
	"fmt"
)

// Fatal marks an error that must not be restarted away. GoRestart stops,
// records the error as the supervisor error and cancels the supervisor.
//
// Example:
//
//	return supervisor.Fatal(fmt.Errorf("ledger: %w", err))
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err is wrapped with Fatal.
func IsFatal(err error) bool {
	var e fatalError
	return errors.As(err, &e)
}

type fatalError struct{ err error }

func (e fatalError) Error() string { return fmt.Sprintf("fatal: %v", e.err) }
func (e fatalError) Unwrap() error { return e.err }

package main

import (
	"errors"

	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitUnavailable = 3
)

// usageError marks errors caused by bad flags or configuration.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func withUsage(err error) error {
	if err == nil {
		return nil
	}
	return usageError{err: err}
}

// exitCodeForError maps err to a process exit code. Configuration problems
// exit with exitUsage and an unreachable backend with exitUnavailable.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	switch taskerrors.GetCode(err) {
	case taskerrors.ErrCodeConfigLoad, taskerrors.ErrCodeConfigParse, taskerrors.ErrCodeConfigInvalid:
		return exitUsage
	case taskerrors.ErrCodeNetwork:
		return exitUnavailable
	}
	return exitFailure
}

package executor

import (
	"errors"
	"strings"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSessionBusy   = errors.New("session busy")
	ErrNoModule      = errors.New("module has no loader")
)

// PythonError is an exception raised inside the interpreter. Traceback is
// the formatted traceback exactly as the interpreter printed it.
type PythonError struct {
	Traceback string
}

// Error returns the last line of the traceback, which names the exception.
func (e *PythonError) Error() string {
	lines := strings.Split(strings.TrimRight(e.Traceback, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "python exception"
}

// Package python is the Python language adapter for pyhost. It runs a WASI
// build of CPython with the prelude that installs display, pyfetch and
// localStorage and serves the session command loop.
package python

import (
	_ "embed"
)

//go:embed prelude.py
var prelude string

// Python implements the executor.Language interface for Python execution.
type Python struct{}

// New returns a Python language adapter.
func New() *Python {
	return &Python{}
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// Bootstrap returns the prelude. It ends by entering the command loop, so
// it never returns while the session is open.
func (p *Python) Bootstrap() string {
	return prelude
}

// Args returns the command-line arguments for the Python interpreter.
func (p *Python) Args(bootstrap string) []string {
	return []string{"python", "-c", bootstrap}
}

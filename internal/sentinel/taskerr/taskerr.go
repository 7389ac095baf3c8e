// Package taskerr defines the fatal error kinds a HealthProbe or Elector
// task can exit with, and maps them onto the process exit codes the
// Supervisor's caller reports, following the four-kind error taxonomy.
package taskerr

import (
	"errors"
	"strconv"
)

// Code is a process exit code.
type Code int

// String renders the numeric exit code, e.g. for use as a metrics label.
func (c Code) String() string {
	return strconv.Itoa(int(c))
}

const (
	// CodeOK is a clean shutdown after +NEWMASTER.
	CodeOK Code = 0
	// CodeConfig is a configuration error or unrecoverable setup failure.
	CodeConfig Code = 1
	// CodeChildExited is reported by the Supervisor when any task exits
	// prematurely; no task returns this code itself.
	CodeChildExited Code = 3
	// CodeNoBaselineWAL is SDOWN attempted without any observed WAL
	// position.
	CodeNoBaselineWAL Code = 4
	// CodeMalformedStandbyWAL is a malformed WAL position read during the
	// standby-viability check.
	CodeMalformedStandbyWAL Code = 5
)

// Fatal wraps an error with the exit code it should produce.
type Fatal struct {
	Code Code
	Err  error
}

func (f *Fatal) Error() string {
	return f.Err.Error()
}

func (f *Fatal) Unwrap() error {
	return f.Err
}

// New wraps err as a Fatal with the given code. Wrapping a nil err panics:
// Fatal always represents a genuine failure.
func New(code Code, err error) error {
	if err == nil {
		panic("taskerr: New called with nil error")
	}
	return &Fatal{Code: code, Err: err}
}

// ExitCode extracts the Code from err, defaulting to CodeChildExited for any
// error that isn't a *Fatal (an ordinary error or panic recovered by
// internal/dontpanic still counts as an unplanned task exit).
func ExitCode(err error) Code {
	if err == nil {
		return CodeOK
	}
	var f *Fatal
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeChildExited
}

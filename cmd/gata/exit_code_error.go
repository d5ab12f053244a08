package main

import "errors"

// ExitCodeError wraps an error with a specific process exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// exitCode maps err to a process status; plain errors exit with 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *ExitCodeError
	if errors.As(err, &coded) && coded.Code != 0 {
		return coded.Code
	}
	return 1
}

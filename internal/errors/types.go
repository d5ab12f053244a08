package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// DegradedError represents an error where service can continue with reduced functionality
type DegradedError struct {
	Err     error
	Message string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

// BootstrapError reports a failure before the task loop starts: a missing key
// file or a failed authentication handshake. It is fatal.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("bootstrap failed: %v", e.Err)
	}
	return fmt.Sprintf("bootstrap failed at %s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed task or rewards retrieval.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SubmitError reports a failed score submission.
type SubmitError struct {
	TaskID string
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit score for task %s: %v", e.TaskID, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// IsBootstrap reports whether err is a BootstrapError.
func IsBootstrap(err error) bool {
	var target *BootstrapError
	return errors.As(err, &target)
}

// IsUnauthorized reports whether err carries a 401 or 403 status, meaning the
// session tokens were rejected.
func IsUnauthorized(err error) bool {
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// StatusCode extracts an HTTP status from err, or 0 when none is attached.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return 0
}

// IsTransient reports whether err is worth retrying: a 429 or 5xx status, or
// a network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if status := StatusCode(err); status > 0 {
		return isTransientHTTPStatus(status)
	}

	if isNetworkError(err) {
		return true
	}

	return isSyscallError(err)
}

// IsDegraded checks if an error allows degraded service
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
		"no such host",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewDegradedError creates a new degraded error
func NewDegradedError(err error, message string) *DegradedError {
	return &DegradedError{Err: err, Message: message}
}

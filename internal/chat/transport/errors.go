package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// TransientError wraps failures that are likely caused by temporary transport issues.
type TransientError struct {
	Err error
}

// Error implements error.
func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode classifies the failure for retry policies.
func (e *TransientError) ErrorCode() string {
	return "network_error"
}

// IsTransientError reports whether the provided error (or any wrapped error) is transient.
func IsTransientError(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}

// HTTPError is returned when the chat server answers with a non-success status
// or an explicit {"success": false} body.
type HTTPError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.StatusCode >= 200 && e.StatusCode < 300 {
		return fmt.Sprintf("%s %s: server reported failure: %s", e.Method, e.Endpoint, e.Body)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ErrorCode classifies the failure for retry policies.
func (e *HTTPError) ErrorCode() string {
	if e.StatusCode >= 200 && e.StatusCode < 300 {
		return "rejected"
	}
	return fmt.Sprintf("http_%d", e.StatusCode)
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func wrapIfTransient(err error) error {
	if err == nil {
		return nil
	}
	if IsTransientError(err) {
		return err
	}
	if isLikelyTransient(err) {
		return &TransientError{Err: err}
	}
	return err
}

func isLikelyTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		return isLikelyTransient(urlErr.Err)
	}
	return false
}

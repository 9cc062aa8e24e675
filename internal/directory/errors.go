package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrDeltaExpired means the stored delta cursor is no longer accepted and a
// full enumeration is required.
var ErrDeltaExpired = errors.New("directory delta cursor expired")

// DirectoryError classifies directory call failures as transient/permanent.
type DirectoryError struct {
	Operation  string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DirectoryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if e.Operation != "" {
		parts = append(parts, "directory "+e.Operation)
	} else {
		parts = append(parts, "directory error")
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DirectoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		return dirErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// IsNotFound reports whether the directory answered 404 for the target.
func IsNotFound(err error) bool {
	var dirErr *DirectoryError
	return errors.As(err, &dirErr) && dirErr.StatusCode == http.StatusNotFound
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrTableMissing  = errors.New("table does not exist")
	ErrBucketMissing = errors.New("storage bucket not found")
	ErrUnavailable   = errors.New("backend unavailable")
	ErrNotConfigured = errors.New("backend not configured")
	ErrUnauthorized  = errors.New("not authorized")
	ErrRejected      = errors.New("request rejected")
	ErrInvalidQuery  = errors.New("invalid query")
)

// Error carries what the backend said next to the category it falls in.
type Error struct {
	Op      string
	Table   string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Table != "" {
		msg += " " + e.Table
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Message == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsTableMissing(err error) bool {
	return errors.Is(err, ErrTableMissing)
}

func IsBucketMissing(err error) bool {
	return errors.Is(err, ErrBucketMissing)
}

// IsUnavailable reports failures of reaching the backend at all: network
// errors, timeouts and server-side outages.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsPermanent reports failures a retry cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrTableMissing) ||
		errors.Is(err, ErrBucketMissing) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, context.Canceled)
}

func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}

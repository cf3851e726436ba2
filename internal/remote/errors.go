package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	ErrNotFound        = errors.New("remote: object not found")
	ErrEmptyContent    = errors.New("remote: zero-byte content rejected")
	ErrInvalidArgument = errors.New("remote: invalid argument")
	ErrNotAFolder      = errors.New("remote: parent is not a folder")
)

// Error carries the backend response that caused a failure.
type Error struct {
	Op        string
	Status    int
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: %d %s: %s", e.Op, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets a 404 response match ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Transient
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, context.DeadlineExceeded)
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

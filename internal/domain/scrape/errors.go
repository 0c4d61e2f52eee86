package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error ties a failure to its class.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(class ErrorClass, err error) *Error {
	return &Error{Class: class, Err: err}
}

// ClassOf maps err to an error class. Unclassified errors count as INTERNAL,
// except timeouts and transport failures which are NETWORK.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}
	return ClassInternal
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

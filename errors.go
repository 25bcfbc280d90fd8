package mediafs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedIdentifier is returned when an identifier fails to decode
	ErrMalformedIdentifier = errors.New("malformed identifier")
	// ErrNoSuchItem is returned when an identifier does not resolve to an item
	ErrNoSuchItem = errors.New("no such item")
	// ErrUnsupported is returned for operations not valid on the target, i.e.
	// enumerating a file
	ErrUnsupported = errors.New("unsupported operation")
	// ErrSyncAnchorExpired is returned when a change enumeration gets an anchor it
	// cannot interpret. Callers should re-enumerate from scratch.
	ErrSyncAnchorExpired = errors.New("sync anchor expired")
)

// TransportError means no HTTP response was received (connection, timeout, ...)
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is a status >= 400 whose body is not an {"error": ...} document
type ServerError struct {
	Code int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, http.StatusText(e.Code))
}

// ResponseError is a status >= 400 carrying a server supplied message
type ResponseError struct {
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d: %s", e.Code, http.StatusText(e.Code))
	}
	return e.Message
}

// DecodeError is a successful status whose payload does not have the expected shape
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from a [ServerError] or [ResponseError].
// Returns 0 for any other error.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}

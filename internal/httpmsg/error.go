package httpmsg

import (
	"fmt"
	"net/http"
)

// Error is a protocol error carrying the HTTP status to answer with.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// NewError builds a protocol error for the given status.
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// AsError extracts an *Error from err, wrapping anything else as a 500.
func AsError(err error) *Error {
	if he, ok := err.(*Error); ok {
		return he
	}
	return &Error{Status: http.StatusInternalServerError, Message: err.Error()}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusTransport marks failures that never produced a usable HTTP response.
const StatusTransport = 0

const (
	messageNoConnection    = "No connection to the server. Check the network and the API address."
	messageMalformedBody   = "The server returned a response that could not be read."
	messageBadRequest      = "Invalid data. Check the form and the point range."
	messageUnauthorized    = "Invalid login details or token."
	messageLoginDisabled   = "Juror login through the web is disabled."
	messageNotFound        = "Required data was not found (participant, criterion or juror)."
	messageTooManyRequests = "Too many failed login attempts. Wait 60 seconds."
	messageServerErrorFmt  = "Server error (%d)."
)

// Error is the failure shape of every remote operation.
// Status is the HTTP status code, or StatusTransport when no response was usable.
type Error struct {
	Status  int
	Message string
	cause   error
}

// NewError builds an Error with an optional cause.
func NewError(status int, message string, cause error) *Error {
	return &Error{Status: status, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api status %d: %s: %v", e.Status, e.Message, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// StatusOf extracts the status of an *Error, returning -1 for nil and
// StatusTransport for foreign errors.
func StatusOf(err error) int {
	if err == nil {
		return -1
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return StatusTransport
}

// MessageOf returns the user-facing text of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return err.Error()
}

// IsUnauthorized reports whether err carries a 401 status.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// IsTransport reports whether err is a connectivity or malformed-response failure.
func IsTransport(err error) bool {
	return err != nil && StatusOf(err) == StatusTransport
}

// ErrorBody is the optional error payload returned by the backend.
type ErrorBody struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Path      string `json:"path,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// FallbackMessage maps a status code to the fixed user-facing text.
func FallbackMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return messageBadRequest
	case http.StatusUnauthorized:
		return messageUnauthorized
	case http.StatusForbidden:
		return messageLoginDisabled
	case http.StatusNotFound:
		return messageNotFound
	case http.StatusTooManyRequests:
		return messageTooManyRequests
	default:
		return fmt.Sprintf(messageServerErrorFmt, status)
	}
}

func errorFromResponse(status int, body []byte) *Error {
	var parsed ErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if message := strings.TrimSpace(parsed.Message); message != "" {
			return NewError(status, message, nil)
		}
	}
	return NewError(status, FallbackMessage(status), nil)
}

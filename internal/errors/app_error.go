// Package errors defines the error values the proxy turns into HTTP responses.
// Every failure that reaches a handler boundary is expressed as an *AppError so the
// status code, the public message and the logged cause travel together.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

const (
	// CodeInternal marks unexpected failures such as an unparseable caller body.
	CodeInternal = "internal_error"
	// CodeProviderUnavailable marks connectivity failures on the chat-completion path.
	CodeProviderUnavailable = "provider_unavailable"
	// CodeProxyFailure marks connectivity failures on the generic passthrough path.
	CodeProxyFailure = "proxy_error"
	// CodeUpstream marks a non-2xx answer relayed from the provider.
	CodeUpstream = "upstream_error"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Body is a verbatim payload written instead of the JSON envelope (upstream errors).
	Body []byte `json:"-"`
	// ContentType accompanies Body; empty means application/json.
	ContentType string `json:"-"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the OpenAI-style error envelope for the error.
func (e *AppError) ToJSON() []byte {
	errType := "invalid_request_error"
	if e.HTTPStatusCode >= http.StatusInternalServerError || e.HTTPStatusCode == 0 {
		errType = "server_error"
	}
	b, err := json.Marshal(errorEnvelope{Error: errorDetail{Message: e.Message, Type: errType, Code: e.Code}})
	if err != nil {
		return []byte(`{"error":{"message":"unknown error","type":"server_error"}}`)
	}
	return b
}

// Payload returns the bytes to write to the caller and their content type.
func (e *AppError) Payload() ([]byte, string) {
	if e.Body != nil {
		contentType := e.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		return e.Body, contentType
	}
	return e.ToJSON(), "application/json"
}

// Status returns the HTTP status, defaulting to 500.
func (e *AppError) Status() int {
	if e == nil || e.HTTPStatusCode <= 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatusCode
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// Internal hides err behind a fixed 500 message.
func Internal(err error) *AppError {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error", err)
}

// ProviderUnavailable reports that the provider could not be reached.
func ProviderUnavailable(err error) *AppError {
	return New(http.StatusBadGateway, CodeProviderUnavailable, "Failed to connect to LLM provider", err)
}

// ProxyFailure reports a passthrough failure; the cause is part of the public message.
func ProxyFailure(err error) *AppError {
	msg := "Proxy error"
	if err != nil {
		msg = "Proxy error: " + err.Error()
	}
	return New(http.StatusBadGateway, CodeProxyFailure, msg, err)
}

// Upstream relays a provider error status and its raw body.
func Upstream(statusCode int, body []byte, contentType string) *AppError {
	if body == nil {
		body = []byte{}
	}
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           CodeUpstream,
		Message:        fmt.Sprintf("LLM provider returned status %d", statusCode),
		Body:           body,
		ContentType:    contentType,
	}
}

// From extracts an *AppError from err, wrapping anything else as Internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

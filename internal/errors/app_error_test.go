package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name    string
		appErr  *AppError
		wantMsg string
	}{
		{
			name:    "message only",
			appErr:  &AppError{Message: "something went wrong"},
			wantMsg: "something went wrong",
		},
		{
			name: "message with wrapped error",
			appErr: &AppError{
				Message: "request failed",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "request failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("root cause")
	appErr := Internal(underlying)

	if got := appErr.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should see the wrapped cause")
	}
}

func TestAppError_ToJSON(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		wantType string
		wantMsg  string
	}{
		{"internal hides cause", Internal(errors.New("unexpected EOF")), "server_error", "Internal server error"},
		{"provider unavailable", ProviderUnavailable(errors.New("dial tcp")), "server_error", "Failed to connect to LLM provider"},
		{"proxy failure leaks cause", ProxyFailure(errors.New("no such host")), "server_error", "Proxy error: no such host"},
		{"client error type", New(http.StatusBadRequest, "bad", "bad input", nil), "invalid_request_error", "bad input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parsed struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				} `json:"error"`
			}
			if err := json.Unmarshal(tt.appErr.ToJSON(), &parsed); err != nil {
				t.Fatalf("ToJSON() produced invalid JSON: %v", err)
			}
			if parsed.Error.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", parsed.Error.Message, tt.wantMsg)
			}
			if parsed.Error.Type != tt.wantType {
				t.Errorf("type = %q, want %q", parsed.Error.Type, tt.wantType)
			}
		})
	}
}

func TestUpstream_PayloadIsVerbatim(t *testing.T) {
	body := []byte(`{"error":{"message":"rate limited"}}`)
	appErr := Upstream(http.StatusTooManyRequests, body, "application/json; charset=utf-8")

	if appErr.Status() != http.StatusTooManyRequests {
		t.Errorf("Status() = %d, want 429", appErr.Status())
	}
	got, contentType := appErr.Payload()
	if string(got) != string(body) {
		t.Errorf("Payload() = %s, want %s", got, body)
	}
	if contentType != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", contentType)
	}
}

func TestUpstream_EmptyBodyStaysEmpty(t *testing.T) {
	got, contentType := Upstream(http.StatusServiceUnavailable, nil, "").Payload()
	if len(got) != 0 {
		t.Errorf("Payload() = %q, want empty", got)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %q, want application/json", contentType)
	}
}

func TestFrom(t *testing.T) {
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}

	wrapped := fmt.Errorf("handler: %w", ProviderUnavailable(errors.New("refused")))
	if got := From(wrapped); got.Code != CodeProviderUnavailable {
		t.Errorf("From() code = %s, want %s", got.Code, CodeProviderUnavailable)
	}

	if got := From(errors.New("boom")); got.Status() != http.StatusInternalServerError {
		t.Errorf("From(plain) status = %d, want 500", got.Status())
	}
}

func TestNew(t *testing.T) {
	underlying := errors.New("cause")
	appErr := New(500, "INTERNAL", "server error", underlying)

	if appErr.HTTPStatusCode != 500 {
		t.Errorf("HTTPStatusCode = %d, want 500", appErr.HTTPStatusCode)
	}
	if appErr.Code != "INTERNAL" {
		t.Errorf("Code = %s, want INTERNAL", appErr.Code)
	}
	if appErr.Err != underlying {
		t.Errorf("Err = %v, want %v", appErr.Err, underlying)
	}
}

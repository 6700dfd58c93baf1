package automation

import (
	"errors"
	"fmt"
	"testing"
)

func TestBackendError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *BackendError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &BackendError{
				Class:   ErrorClassUnavailable,
				Message: "request failed",
				Err:     errors.New("connection refused"),
			},
			expected: "automation unavailable error (status 0): request failed: connection refused",
		},
		{
			name: "reported error",
			err: &BackendError{
				StatusCode: 200,
				Class:      ErrorClassReported,
				Message:    "captcha wall",
			},
			expected: "automation reported error (status 200): captcha wall",
		},
		{
			name: "no result",
			err: &BackendError{
				StatusCode: 200,
				Class:      ErrorClassNoResult,
				Message:    "stream ended without a result",
				Err:        ErrNoResult,
			},
			expected: "automation no_result error (status 200): stream ended without a result: no result from automation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBackendError_Unwrap(t *testing.T) {
	err := fmt.Errorf("discovery: %w", &BackendError{
		Class: ErrorClassNoResult,
		Err:   ErrNoResult,
	})

	if !errors.Is(err, ErrNoResult) {
		t.Error("errors.Is should find ErrNoResult through the chain")
	}

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatal("errors.As should find BackendError")
	}
	if be.Class != ErrorClassNoResult {
		t.Errorf("Class = %s, want %s", be.Class, ErrorClassNoResult)
	}
}

func TestIsClass(t *testing.T) {
	reported := &BackendError{Class: ErrorClassReported, Message: "boom"}

	if !IsClass(reported, ErrorClassReported) {
		t.Error("IsClass(reported, reported) = false")
	}
	if IsClass(reported, ErrorClassUnavailable) {
		t.Error("IsClass(reported, unavailable) = true")
	}
	if IsClass(errors.New("plain"), ErrorClassReported) {
		t.Error("IsClass(plain error) = true")
	}
	if IsClass(nil, ErrorClassReported) {
		t.Error("IsClass(nil) = true")
	}
}

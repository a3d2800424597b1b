package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyError_Nil(t *testing.T) {
	result := ClassifyError(nil, "test-stage")
	if result != nil {
		t.Errorf("Expected nil for nil error, got %v", result)
	}
}

func TestClassifyError_DeadlineExceeded(t *testing.T) {
	err := context.DeadlineExceeded
	result := ClassifyError(err, "test-stage")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %s", result.Code)
	}
	if result.Stage != "test-stage" {
		t.Errorf("Expected stage 'test-stage', got %s", result.Stage)
	}
	if result.Message != "operation timed out" {
		t.Errorf("Expected 'operation timed out', got %s", result.Message)
	}
	if result.Cause != err {
		t.Errorf("Expected cause to be original error")
	}
}

func TestClassifyError_Canceled(t *testing.T) {
	err := context.Canceled
	result := ClassifyError(err, "test-stage")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrContextCancelled {
		t.Errorf("Expected ErrContextCancelled, got %s", result.Code)
	}
	if result.Message != "operation cancelled" {
		t.Errorf("Expected 'operation cancelled', got %s", result.Message)
	}
}

func TestClassifyError_RateLimit(t *testing.T) {
	tests := []struct {
		name     string
		errorMsg string
	}{
		{"rate limit exact", "rate limit exceeded"},
		{"429 status", "HTTP 429 error"},
		{"too many requests", "too many requests"},
		{"quota exceeded", "quota exceeded for this resource"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.errorMsg)
			result := ClassifyError(err, "test-stage")

			if result == nil {
				t.Fatal("Expected non-nil PipelineError")
			}
			if result.Code != ErrRateLimit {
				t.Errorf("Expected ErrRateLimit for '%s', got %s", tt.errorMsg, result.Code)
			}
			if result.Message != tt.errorMsg {
				t.Errorf("Expected message '%s', got %s", tt.errorMsg, result.Message)
			}
		})
	}
}

func TestClassifyError_NetworkUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		errorMsg string
	}{
		{"connection refused", "connection refused"},
		{"no such host", "dial tcp: lookup example.com: no such host"},
		{"network unreachable", "network is unreachable"},
		{"i/o timeout", "read tcp: i/o timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.errorMsg)
			result := ClassifyError(err, "test-stage")

			if result == nil {
				t.Fatal("Expected non-nil PipelineError")
			}
			if result.Code != ErrNetworkUnavailable {
				t.Errorf("Expected ErrNetworkUnavailable for '%s', got %s", tt.errorMsg, result.Code)
			}
		})
	}
}

func TestClassifyError_ArchiveKinds(t *testing.T) {
	tests := []struct {
		name     string
		errorMsg string
		want     ErrorCode
	}{
		{"unknown format", "unrecognized archive signature", ErrUnknownFormat},
		{"corrupt", "archive is corrupt: bad crc for entry scan.pcd", ErrCorrupt},
		{"password required", "archive is password protected, password required", ErrPasswordRequired},
		{"oversized before", "archive size before extraction exceeds maximum allowed", ErrOversizedBefore},
		{"oversized after", "extracted size exceeds maximum allowed after extraction", ErrOversizedAfter},
		{"duration too short", "recording duration too short for validation", ErrDurationTooShort},
		{"duration too long", "recording duration too long for validation", ErrDurationTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.errorMsg)
			result := ClassifyError(err, "test-stage")

			if result == nil {
				t.Fatal("Expected non-nil PipelineError")
			}
			if result.Code != tt.want {
				t.Errorf("Expected %s for '%s', got %s", tt.want, tt.errorMsg, result.Code)
			}
		})
	}
}

func TestClassifyError_Unknown(t *testing.T) {
	err := errors.New("some random error")
	result := ClassifyError(err, "test-stage")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrProcessingError {
		t.Errorf("Expected ErrProcessingError for unrecognized error, got %s", result.Code)
	}
	if result.Message != "some random error" {
		t.Errorf("Expected message 'some random error', got %s", result.Message)
	}
}

func TestPipelineError_Error_WithTimeout(t *testing.T) {
	pe := &PipelineError{
		Code:     ErrTimeout,
		Stage:    "download",
		Duration: 120 * time.Second,
		Timeout:  120 * time.Second,
	}

	expected := "timeout: download timed out after 2m0s (limit: 2m0s)"
	if pe.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, pe.Error())
	}
}

func TestPipelineError_Error_WithStage(t *testing.T) {
	pe := &PipelineError{
		Code:    ErrRateLimit,
		Stage:   "sheets_write",
		Message: "quota exceeded",
	}

	expected := "rate_limit: sheets_write: quota exceeded"
	if pe.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, pe.Error())
	}
}

func TestPipelineError_Error_NoStage(t *testing.T) {
	pe := &PipelineError{
		Code:    ErrProcessingError,
		Message: "something went wrong",
	}

	expected := "processing_error: something went wrong"
	if pe.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, pe.Error())
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	pe := &PipelineError{
		Code:  ErrProcessingError,
		Cause: originalErr,
	}

	unwrapped := pe.Unwrap()
	if unwrapped != originalErr {
		t.Errorf("Expected unwrapped error to be original error")
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"timeout error", &PipelineError{Code: ErrTimeout}, true},
		{"subprocess timeout error", &PipelineError{Code: ErrSubprocessTimeout}, true},
		{"rate limit error", &PipelineError{Code: ErrRateLimit}, false},
		{"processing error", &PipelineError{Code: ErrProcessingError}, false},
		{"regular error", errors.New("some error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTimeout(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsErrorRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"timeout error", &PipelineError{Code: ErrTimeout}, true},
		{"rate limit error", &PipelineError{Code: ErrRateLimit}, true},
		{"model unavailable error", &PipelineError{Code: ErrModelUnavailable}, true},
		{"subprocess nonzero exit", &PipelineError{Code: ErrSubprocessNonZeroExit}, true},
		{"processing error", &PipelineError{Code: ErrProcessingError}, false},
		{"unknown format", &PipelineError{Code: ErrUnknownFormat}, false},
		{"password required", &PipelineError{Code: ErrPasswordRequired}, false},
		{"context cancelled error", &PipelineError{Code: ErrContextCancelled}, false},
		{"regular error", errors.New("some error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsErrorRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestPipelineError_Error_WithDurationAndTimeout(t *testing.T) {
	pe := &PipelineError{
		Code:     ErrSubprocessTimeout,
		Stage:    "scene_reconstruction",
		Message:  "operation timed out",
		Duration: 45 * time.Second,
		Timeout:  30 * time.Second,
	}

	expected := "subprocess_timeout: scene_reconstruction timed out after 45s (limit: 30s)"
	if pe.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, pe.Error())
	}

	// When only Duration is set (no Timeout), should fall through to stage+message format
	peNoTimeout := &PipelineError{
		Code:     ErrSubprocessTimeout,
		Stage:    "scene_reconstruction",
		Message:  "operation timed out",
		Duration: 45 * time.Second,
	}

	expectedNoTimeout := "subprocess_timeout: scene_reconstruction: operation timed out"
	if peNoTimeout.Error() != expectedNoTimeout {
		t.Errorf("Expected '%s', got '%s'", expectedNoTimeout, peNoTimeout.Error())
	}

	// When only Timeout is set (no Duration), should fall through to stage+message format
	peNoDuration := &PipelineError{
		Code:    ErrSubprocessTimeout,
		Stage:   "scene_reconstruction",
		Message: "operation timed out",
		Timeout: 30 * time.Second,
	}

	expectedNoDuration := "subprocess_timeout: scene_reconstruction: operation timed out"
	if peNoDuration.Error() != expectedNoDuration {
		t.Errorf("Expected '%s', got '%s'", expectedNoDuration, peNoDuration.Error())
	}
}

func TestClassifyError_WrappedErrors(t *testing.T) {
	// Test that context.DeadlineExceeded works even when wrapped
	wrappedErr := fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
	result := ClassifyError(wrappedErr, "test-stage")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrTimeout {
		t.Errorf("Expected ErrTimeout for wrapped DeadlineExceeded, got %s", result.Code)
	}
}

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSplitMergeError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidInput, "limit must be positive")
	expected := "[VALIDATION:INVALID_INPUT] limit must be positive"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSplitMergeError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("exit status 1")
	err := Wrap(ErrCategoryMerge, CodeMergeFailed, "hadd failed for out_0.root", cause)
	expected := "[MERGE:MERGE_FAILED] hadd failed for out_0.root: exit status 1"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSplitMergeError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryStorage, CodeDownloadFailed, "download", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestSplitMergeError_Is(t *testing.T) {
	err1 := New(ErrCategoryValidation, CodeInvalidInput, "first")
	err2 := New(ErrCategoryValidation, CodeInvalidInput, "second")
	err3 := New(ErrCategoryValidation, CodeInvalidConfig, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	if !errors.Is(fmt.Errorf("partition: %w", err1), ErrInvalidInput) {
		t.Error("wrapped error should match the sentinel")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryManifest, CodeLedgerWriteFailed, true},
		{ErrCategoryManifest, CodeRunNotFound, false},
		{ErrCategoryMerge, CodeMergeFailed, false},
		{ErrCategoryMerge, CodeToolNotFound, false},
		{ErrCategoryValidation, CodeInvalidInput, false},
		{ErrCategoryInput, CodeNoInputs, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryMerge, CodeOutputInvalid, "empty output")
	if GetCategory(err) != ErrCategoryMerge {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryMerge)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-SplitMergeError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := fmt.Errorf("resolve: %w", New(ErrCategoryInput, CodeNoInputs, "nothing found"))
	if GetCode(err) != CodeNoInputs {
		t.Errorf("got %q, want %q", GetCode(err), CodeNoInputs)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-SplitMergeError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeOutputCollision, "output equals input")
	detailed := err.WithDetails(map[string]interface{}{"output": "a.root"})

	if detailed.Details["output"] != "a.root" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(CodeInvalidConfig, "bad unit")
	if v.Category != ErrCategoryValidation || v.Code != CodeInvalidConfig {
		t.Error("NewValidationError mismatch")
	}

	in := NewInputError(CodeInputUnreadable, "stat failed", cause)
	if in.Category != ErrCategoryInput || !errors.Is(in, cause) {
		t.Error("NewInputError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	m := NewMergeError(CodeMergeFailed, "exit 1", cause)
	if m.Category != ErrCategoryMerge || !errors.Is(m, ErrMergeFailed) {
		t.Error("NewMergeError mismatch")
	}

	l := NewManifestError(CodeLedgerWriteFailed, "locked", cause)
	if l.Category != ErrCategoryManifest {
		t.Error("NewManifestError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}

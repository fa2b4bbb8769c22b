package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	testCode          = MustNewCode("test.code")
	tableNotFoundCode = MustNewCode("query.table_not_found")
)

func TestNew(t *testing.T) {
	err := New(CommonInternal, "test error", nil)

	assert.Equal(t, "test error", err.Message)
	assert.Equal(t, "common.internal", err.Code.String())
	assert.False(t, err.Timestamp.IsZero())
	assert.NotEmpty(t, err.Stack)
	assert.Nil(t, err.Cause)
}

func TestNewf(t *testing.T) {
	err := Newf(CommonInternal, "test error with %s", "formatting")
	assert.Equal(t, "test error with formatting", err.Message)
	assert.Equal(t, "common.internal", err.Code.String())
}

func TestWrap(t *testing.T) {
	original := errors.New("original error")
	err := Wrap(testCode, original, "wrapped error")

	assert.Equal(t, "wrapped error", err.Message)
	assert.Equal(t, "test.code", err.Code.String())
	assert.Equal(t, original, err.Cause)
}

func TestWrapf(t *testing.T) {
	original := errors.New("original error")
	err := Wrapf(testCode, original, "wrapped error with %s", "formatting")

	assert.Equal(t, "wrapped error with formatting", err.Message)
	assert.Equal(t, original, err.Cause)
}

func TestAddContext(t *testing.T) {
	err := New(testCode, "test error", nil).
		AddContext("key1", "value1").
		AddContext("key2", "value2")

	assert.Equal(t, "value1", err.GetContext("key1"))
	assert.Equal(t, "value2", err.GetContext("key2"))
	assert.True(t, err.HasContext("key1"))
	assert.False(t, err.HasContext("missing"))
	assert.ElementsMatch(t, []string{"key1", "key2"}, err.GetContextKeys())
}

func TestExternalAddContext(t *testing.T) {
	wrapped := AddContext(errors.New("standard error"), "request_id", "abc123")
	assert.Equal(t, "common.internal", wrapped.Code.String())
	assert.Equal(t, "abc123", wrapped.GetContext("request_id"))

	original := New(tableNotFoundCode, "table not found", nil)
	enriched := AddContext(original, "table", "users")
	assert.Same(t, original, enriched)
	assert.Equal(t, "users", enriched.GetContext("table"))
}

func TestWithCause(t *testing.T) {
	original := errors.New("original error")
	err := New(testCode, "test error", nil).WithCause(original)
	assert.Equal(t, original, err.Cause)
}

func TestErrorString(t *testing.T) {
	err := New(testCode, "test error", nil)
	assert.Equal(t, "test error", err.Error())

	original := errors.New("original error")
	err = Wrap(testCode, original, "wrapped error")
	assert.Equal(t, "wrapped error: original error", err.Error())
}

func TestUnwrap(t *testing.T) {
	original := errors.New("original error")
	err := Wrap(testCode, original, "wrapped error")
	assert.Equal(t, original, err.Unwrap())
	assert.True(t, errors.Is(err, original))
}

func TestCaptureStackTrace(t *testing.T) {
	err := New(testCode, "test error", nil)
	assert.NotEmpty(t, err.Stack)

	var hasValidFrame bool
	for _, frame := range err.Stack {
		if frame.Function != "" && frame.File != "" && frame.Line > 0 {
			hasValidFrame = true
			break
		}
	}
	assert.True(t, hasValidFrame)
}

func TestMethodChaining(t *testing.T) {
	err := New(testCode, "test error", nil).
		AddContext("key", "value").
		WithCause(errors.New("cause"))

	assert.Equal(t, "test error", err.Message)
	assert.Equal(t, "test.code", err.Code.String())
	assert.Equal(t, "value", err.GetContext("key"))
	assert.NotNil(t, err.Cause)
}

func TestCommonErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func(string) *Error
		expectedCode string
	}{
		{"Internal", Internal, "common.internal"},
		{"NotFound", NotFound, "common.not_found"},
		{"Validation", Validation, "common.validation"},
		{"Timeout", Timeout, "common.timeout"},
		{"Unauthorized", Unauthorized, "common.unauthorized"},
		{"Forbidden", Forbidden, "common.forbidden"},
		{"Conflict", Conflict, "common.conflict"},
		{"Unsupported", Unsupported, "common.unsupported"},
		{"InvalidInput", InvalidInput, "common.invalid_input"},
		{"AlreadyExists", AlreadyExists, "common.already_exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor("test message")
			assert.Equal(t, tt.expectedCode, err.Code.String())
			assert.Equal(t, "test message", err.Message)
		})
	}
}

func TestIsError(t *testing.T) {
	assert.True(t, IsError(New(testCode, "test error", nil)))
	assert.False(t, IsError(errors.New("standard error")))
}

func TestIs(t *testing.T) {
	inner := New(tableNotFoundCode, "table not found", nil)
	outer := New(CommonInternal, "sync failed", inner)

	assert.True(t, Is(outer, tableNotFoundCode))
	assert.True(t, Is(outer, CommonInternal))
	assert.False(t, Is(outer, CommonConflict))
	assert.False(t, Is(errors.New("standard error"), CommonInternal))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, "test.code", GetCode(New(testCode, "test error", nil)))
	assert.Equal(t, "", GetCode(errors.New("standard error")))
}

func TestFormatForLog(t *testing.T) {
	err := New(testCode, "test error", errors.New("cause error")).
		AddContext("key1", "value1")

	logStr := FormatForLog(err)
	assert.Contains(t, logStr, "code=test.code")
	assert.Contains(t, logStr, "message=test error")
	assert.Contains(t, logStr, "context=[key1=value1]")
	assert.Contains(t, logStr, "cause=cause error")

	assert.Equal(t, "standard error", FormatForLog(errors.New("standard error")))
}

func TestSuggestionsAndRecovery(t *testing.T) {
	err := New(testCode, "connection failed", nil).
		AddSuggestion("check network connectivity").
		AddRecoveryAction(RecoveryAction{Type: "retry", Automatic: true})

	assert.Len(t, err.Suggestions, 1)
	assert.True(t, err.IsRecoverable())
	assert.Len(t, err.GetAutomaticRecoveryActions(), 1)
}

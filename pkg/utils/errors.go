package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an AppError with the same code, so callers can
// match against the sentinel values below with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// ErrorCode returns the AppError code carried by err, or ErrCodeInternal.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Common error codes
const (
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeExternal           = "EXTERNAL_ERROR"
	ErrCodeInvalidPattern     = "INVALID_PATTERN"
	ErrCodeDuplicateSource    = "DUPLICATE_SOURCE"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeExportTimeout      = "EXPORT_TIMEOUT"
)

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = &AppError{Code: ErrCodeNotFound}
	ErrValidation         = &AppError{Code: ErrCodeValidation}
	ErrInvalidPattern     = &AppError{Code: ErrCodeInvalidPattern}
	ErrDuplicateSource    = &AppError{Code: ErrCodeDuplicateSource}
	ErrStorageUnavailable = &AppError{Code: ErrCodeStorageUnavailable}
	ErrExportTimeout      = &AppError{Code: ErrCodeExportTimeout}
)

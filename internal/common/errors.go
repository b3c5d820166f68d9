package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. Fatal errors abort the current stage and surface
// as an error-status result; the rest are recovered with fallbacks.
var (
	ErrInputNotFound      = errors.New("input file not found")
	ErrEngineFailure      = errors.New("engine failure")
	ErrAllProvidersFailed = errors.New("all ocr providers failed")
	ErrEmptyExtractedText = errors.New("no text extracted")
	ErrAssessmentFailed   = errors.New("quality assessment backend failed")
	ErrAllBackendsFailed  = errors.New("all extraction backends failed")
	ErrJudgeFailed        = errors.New("arbitration judge failed")
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
)

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

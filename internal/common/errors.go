package common

import (
	"errors"
	"fmt"
)

// Codes carried by AppError.
const (
	CodeConfig       = "CONFIG_ERROR"
	CodeDatabase     = "DB_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
)

// AppError tags a failure with a stable code that commands map to exit
// statuses and logs carry as error_code.
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

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
)

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// StoreError reports a run store failure; the result matches ErrDatabase
// as well as err.
func StoreError(message string, err error) *AppError {
	return NewAppError(CodeDatabase, message, errors.Join(ErrDatabase, err))
}

// ErrorCode returns the code of the outermost AppError in err's chain.
func ErrorCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// ExitCode maps err to a process exit status: 0 for nil, 2 for bad
// configuration or input, 1 otherwise.
func ExitCode(err error) int {
	switch ErrorCode(err) {
	case "":
		if err == nil {
			return 0
		}
		return 1
	case CodeConfig, CodeInvalidInput:
		return 2
	default:
		return 1
	}
}

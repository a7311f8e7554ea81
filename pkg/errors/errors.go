package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// CodeError is a failure that carries an HTTP-style status code. Backend
// responses outside 2xx are reported as CodeError.
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

func NewCodeError(code int, message string) *CodeError {
	return &CodeError{Code: code, Message: message}
}

func IsCodeError(err error) bool {
	var codeErr *CodeError
	return errors.As(err, &codeErr)
}

// FromError unwraps a CodeError from err, or wraps err as a 500.
func FromError(err error) *CodeError {
	if err == nil {
		return nil
	}
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr
	}
	return NewCodeError(http.StatusInternalServerError, err.Error())
}

// IsNotFound reports whether err is a 404 CodeError.
func IsNotFound(err error) bool {
	var codeErr *CodeError
	return errors.As(err, &codeErr) && codeErr.Code == http.StatusNotFound
}

var (
	ErrNotFound           = NewCodeError(http.StatusNotFound, "resource not found")
	ErrValidationFailed   = NewCodeError(http.StatusBadRequest, "validation failed")
	ErrBackendUnavailable = errors.New("detection backend unavailable")
	ErrClosed             = errors.New("sync coordinator closed")
	ErrNotStarted         = errors.New("sync coordinator not started")
)

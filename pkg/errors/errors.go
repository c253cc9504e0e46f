package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrUnauthorized       = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrConflict           = NewError("CONFLICT", "resource already exists", http.StatusConflict)

	// ErrConfiguration marks malformed rules or targets. Always fatal for the call.
	ErrConfiguration = NewError("CONFIGURATION_ERROR", "invalid rule configuration", http.StatusInternalServerError)
	// ErrLookupMiss marks an unknown firmware channel or version.
	ErrLookupMiss = NewError("LOOKUP_MISS", "firmware not found", http.StatusNotFound)
	// ErrCacheCorruption marks a cached artifact entry that is not usable.
	ErrCacheCorruption = NewError("CACHE_CORRUPTION", "invalid firmware cache entry", http.StatusInternalServerError)
	// ErrCollaborator marks a network or auth failure talking to the fleet service.
	ErrCollaborator = NewError("COLLABORATOR_FAILURE", "fleet service request failed", http.StatusBadGateway)
)

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	fatal   *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Reason is the human readable part of the error without the code prefix.
func (e *Error) Reason() string {
	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		return detailMsg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that copies produced by WithCause/WithDetail
// still satisfy errors.Is against the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrConfiguration.Code || e.Code == ErrValidation.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

// WithMessage replaces the user visible message, keeping the code.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return e.WithDetail("message", fmt.Sprintf(format, args...))
}

func (e *Error) AsFatal() *Error {
	err := *e
	fatal := true
	err.fatal = &fatal
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsConfiguration(err error) bool {
	return hasCode(err, ErrConfiguration.Code)
}

func IsCollaborator(err error) bool {
	return hasCode(err, ErrCollaborator.Code)
}

// IsLookup reports whether err is a recoverable firmware lookup failure:
// a missing channel or version, or a corrupt cache entry.
func IsLookup(err error) bool {
	return hasCode(err, ErrLookupMiss.Code) || hasCode(err, ErrCacheCorruption.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the shape of ToErrorResponse, for API docs.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Reason(),
		"error_code": appErr.Code,
	}

	details := make(map[string]interface{}, len(appErr.Details))
	for k, v := range appErr.Details {
		if k == "message" || k == "stack_trace" {
			continue
		}
		details[k] = v
	}
	if len(details) > 0 {
		response["details"] = details
	}

	return response
}

// Package errors defines the service error taxonomy shared across the gateway.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error category in API responses and logs.
type Code string

const (
	CodeTransportNotReady        Code = "TRANSPORT_NOT_READY"
	CodeInvalidPhoneFormat       Code = "INVALID_PHONE_FORMAT"
	CodeRateLimited              Code = "RATE_LIMITED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeNotAGroup                Code = "NOT_A_GROUP"
	CodeTransportOperationFailed Code = "TRANSPORT_OPERATION_FAILED"
	CodeCredentialUnavailable    Code = "CREDENTIAL_UNAVAILABLE"
	CodeEncodingError            Code = "ENCODING_ERROR"
	CodeInvalidRequest           Code = "INVALID_REQUEST"
	CodeUnauthorized             Code = "UNAUTHORIZED"
	CodeInvalidToken             Code = "INVALID_TOKEN"
	CodeInternal                 Code = "INTERNAL"
)

// ServiceError carries an error category, a user-facing message, the HTTP
// status it maps to, and optional structured details.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair to the error and returns it.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New constructs a ServiceError with an explicit status.
func New(code Code, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// GetServiceError returns the ServiceError wrapped anywhere in err, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// TransportNotReady indicates the messaging session is not connected yet.
// Retryable once pairing completes.
func TransportNotReady() *ServiceError {
	return New(CodeTransportNotReady,
		"WhatsApp client is not connected. Please scan QR code first.",
		http.StatusBadRequest)
}

// InvalidPhoneFormat reports the raw inputs that failed normalization.
func InvalidPhoneFormat(invalid []string) *ServiceError {
	e := New(CodeInvalidPhoneFormat, "Invalid phone numbers found", http.StatusBadRequest)
	return e.WithDetails("invalidNumbers", invalid)
}

// RateLimited is returned when an admission window is exhausted.
func RateLimited(message string, retryAfter time.Duration) *ServiceError {
	e := New(CodeRateLimited, message, http.StatusTooManyRequests)
	return e.WithDetails("retryAfterSeconds", int(retryAfter.Seconds()))
}

// NotFound indicates the addressed entity does not exist.
func NotFound(entity string) *ServiceError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// NotAGroup indicates the chat exists but is not a group chat.
func NotAGroup(id string) *ServiceError {
	e := New(CodeNotAGroup, "The provided ID is not a group", http.StatusBadRequest)
	return e.WithDetails("id", id)
}

// TransportOperationFailed wraps a transport-level error verbatim.
func TransportOperationFailed(operation string, err error) *ServiceError {
	e := New(CodeTransportOperationFailed,
		fmt.Sprintf("Failed to %s", operation), http.StatusInternalServerError)
	e.Err = err
	return e
}

// CredentialUnavailable signals the pairing code has not been issued yet.
// Transient; the caller should retry shortly.
func CredentialUnavailable() *ServiceError {
	return New(CodeCredentialUnavailable,
		"QR code not available yet. Please try again.",
		http.StatusServiceUnavailable)
}

// EncodingError indicates the pairing credential could not be rendered.
func EncodingError(err error) *ServiceError {
	e := New(CodeEncodingError, "Failed to generate QR code", http.StatusInternalServerError)
	e.Err = err
	return e
}

// InvalidRequest reports a malformed or incomplete request body.
func InvalidRequest(message string) *ServiceError {
	return New(CodeInvalidRequest, message, http.StatusBadRequest)
}

// Unauthorized indicates a missing or unacceptable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

// InvalidToken indicates a token that failed validation.
func InvalidToken(err error) *ServiceError {
	e := New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
	e.Err = err
	return e
}

// Internal wraps an unexpected server-side failure.
func Internal(message string, err error) *ServiceError {
	e := New(CodeInternal, message, http.StatusInternalServerError)
	e.Err = err
	return e
}

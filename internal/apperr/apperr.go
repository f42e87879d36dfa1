package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used across the API.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeUnauthorized          = "unauthorized"
	CodeForbidden             = "forbidden"
	CodeNotFound              = "not_found"
	CodeConflict              = "conflict"
	CodeInsufficientInventory = "insufficient_inventory"
	CodeSignatureInvalid      = "webhook_signature_invalid"
	CodeProviderError         = "provider_error"
	CodeInternal              = "internal"
)

// Error is the error kind carried through the engine. Handlers translate it
// to an HTTP status; services only ever deal in codes.
type Error struct {
	Code    string
	Status  int
	Message string
	SKU     string
}

func (e *Error) Error() string {
	if e.SKU != "" {
		return fmt.Sprintf("%s: %s (sku=%s)", e.Code, e.Message, e.SKU)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidRequest reports malformed input. Never retried automatically.
func InvalidRequest(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidRequest, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Status: http.StatusForbidden, Message: message}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a state-machine violation (cart not open, order already refunded).
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

// InsufficientInventory carries the offending SKU so the caller can retry
// with a reduced quantity or wait for restock.
func InsufficientInventory(sku string) *Error {
	return &Error{
		Code:    CodeInsufficientInventory,
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("insufficient inventory for SKU: %s", sku),
		SKU:     sku,
	}
}

func SignatureInvalid(message string) *Error {
	return &Error{Code: CodeSignatureInvalid, Status: http.StatusBadRequest, Message: message}
}

// ProviderError maps any payment-provider failure to a gateway-style error.
// The engine never retries these; the caller decides.
func ProviderError(message string) *Error {
	return &Error{Code: CodeProviderError, Status: http.StatusBadGateway, Message: message}
}

// FromError unwraps err to an *Error, or wraps it as an internal error.
func FromError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal server error"}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeUpstreamUnavailable   Code = "UPSTREAM_UNAVAILABLE"
	CodeBelowMinimumValue     Code = "BELOW_MINIMUM_VALUE"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeInvalidOrderStatus    Code = "INVALID_ORDER_STATUS"
	CodeRetryExhausted        Code = "RETRY_EXHAUSTED"
	CodeOrderExpired          Code = "ORDER_EXPIRED"
	CodeOrderNotFound         Code = "ORDER_NOT_FOUND"
	CodeDuplicateReference    Code = "DUPLICATE_REFERENCE"
	CodeWebhookDeliveryFailed Code = "WEBHOOK_DELIVERY_FAILED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error carries a stable machine-readable code next to a human message.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrOrderNotFound      = &Error{Code: CodeOrderNotFound, Message: "order not found"}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition, Message: "event is not applicable to the order status"}
	ErrInvalidOrderStatus = &Error{Code: CodeInvalidOrderStatus, Message: "operation not allowed in the current order status"}
	ErrRetryExhausted     = &Error{Code: CodeRetryExhausted, Message: "maximum retry attempts reached"}
	ErrOrderExpired       = &Error{Code: CodeOrderExpired, Message: "order has expired"}
	ErrDuplicateReference = &Error{Code: CodeDuplicateReference, Message: "business order reference already exists"}
	ErrBelowMinimumValue  = &Error{Code: CodeBelowMinimumValue, Message: "order value is below the minimum"}
)

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func Validation(msg string) *Error {
	return New(CodeValidation, msg)
}

func Upstream(msg string, err error) *Error {
	return Wrap(CodeUpstreamUnavailable, msg, err)
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the human message of the outermost *Error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBelowMinimumValue:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeOrderNotFound:
		return http.StatusNotFound
	case CodeDuplicateReference, CodeInvalidTransition, CodeInvalidOrderStatus, CodeRetryExhausted, CodeOrderExpired:
		return http.StatusConflict
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

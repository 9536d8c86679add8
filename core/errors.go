package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorBadInput         = "RELAY_BAD_INPUT"
	RelayErrorUnauthorized     = "RELAY_UNAUTHORIZED"
	RelayErrorForbidden        = "RELAY_FORBIDDEN"
	RelayErrorNotFound         = "RELAY_NOT_FOUND"
	RelayErrorDuplicateEvent   = "RELAY_DUPLICATE_EVENT"
	RelayErrorStaleEvent       = "RELAY_STALE_EVENT"
	RelayErrorProcessingFailed = "RELAY_PROCESSING_FAILED"
	RelayErrorRateLimited      = "RELAY_RATE_LIMITED"
	RelayErrorTerminalFailure  = "RELAY_TERMINAL_FAILURE"
	RelayErrorInternal         = "RELAY_INTERNAL_ERROR"
)

// NewRelayError builds an envelope with the HTTP status derived from the
// text code when known, falling back to the category.
func NewRelayError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	err := goerrors.New(message, category).WithTextCode(textCode)
	if status := textCodeHTTPStatus(textCode); status != 0 {
		err = err.WithCode(status)
	}
	return EnsureErrorEnvelope(err)
}

func WrapRelayError(source error, category goerrors.Category, textCode string, message string) *goerrors.Error {
	if source == nil {
		return nil
	}
	err := goerrors.Wrap(source, category, message).WithTextCode(textCode)
	if status := textCodeHTTPStatus(textCode); status != 0 {
		err = err.WithCode(status)
	}
	return EnsureErrorEnvelope(err)
}

func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return EnsureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrDuplicateEvent):
		return NewRelayError(err.Error(), goerrors.CategoryConflict, RelayErrorDuplicateEvent)
	case errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrDeliveryLogNotFound),
		errors.Is(err, ErrSubscriberNotFound),
		errors.Is(err, ErrInboundEventNotFound):
		return NewRelayError(err.Error(), goerrors.CategoryNotFound, RelayErrorNotFound)
	case errors.Is(err, ErrInvalidEnqueueRequest), errors.Is(err, ErrInvalidMetricType):
		return NewRelayError(err.Error(), goerrors.CategoryBadInput, RelayErrorBadInput)
	case errors.Is(err, ErrJobNotClaimable), errors.Is(err, ErrInvalidJobTransition):
		return NewRelayError(err.Error(), goerrors.CategoryConflict, RelayErrorProcessingFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return NewRelayError(err.Error(), goerrors.CategoryAuth, RelayErrorUnauthorized)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewRelayError(err.Error(), goerrors.CategoryBadInput, RelayErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return EnsureErrorEnvelope(mapped)
}

func EnsureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

// HasTextCode reports whether err carries the given relay text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := MapError(err)
	if mapped == nil || mapped.Code == 0 {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RelayErrorBadInput
	case goerrors.CategoryNotFound:
		return RelayErrorNotFound
	case goerrors.CategoryAuth:
		return RelayErrorUnauthorized
	case goerrors.CategoryAuthz:
		return RelayErrorForbidden
	case goerrors.CategoryConflict:
		return RelayErrorDuplicateEvent
	case goerrors.CategoryRateLimit:
		return RelayErrorRateLimited
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return RelayErrorProcessingFailed
	default:
		return RelayErrorInternal
	}
}

func textCodeHTTPStatus(textCode string) int {
	switch textCode {
	case RelayErrorBadInput:
		return http.StatusBadRequest
	case RelayErrorUnauthorized:
		return http.StatusUnauthorized
	case RelayErrorForbidden:
		return http.StatusForbidden
	case RelayErrorNotFound:
		return http.StatusNotFound
	case RelayErrorDuplicateEvent:
		return http.StatusConflict
	case RelayErrorStaleEvent:
		return http.StatusUnprocessableEntity
	case RelayErrorProcessingFailed:
		return http.StatusBadGateway
	case RelayErrorRateLimited:
		return http.StatusTooManyRequests
	case RelayErrorTerminalFailure, RelayErrorInternal:
		return http.StatusInternalServerError
	default:
		return 0
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package zitadel

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind categorises provider errors.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindTransport       Kind = "transport"
	KindUnauthenticated Kind = "unauthenticated"
	KindConflict        Kind = "conflict"
	KindUnknown         Kind = "unknown"
)

// Status codes reported in provider error bodies. They follow the gRPC
// status code numbering.
const (
	CodeUnknown            = 2
	CodeInvalidArgument    = 3
	CodeNotFound           = 5
	CodeAlreadyExists      = 6
	CodePermissionDenied   = 7
	CodeFailedPrecondition = 9
	CodeUnavailable        = 14
	CodeUnauthenticated    = 16
)

// Error is an error reported by, or while talking to, the provider.
type Error struct {
	Kind       Kind
	Code       int
	HTTPStatus int
	Message    string
	Operation  string
	cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, "%s (status %d, code %d): %s", e.Kind, e.HTTPStatus, e.Code, e.Message)
	} else {
		fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	var zerr *Error
	return errors.As(err, &zerr) && zerr.Kind == KindNotFound
}

// IsInvalidArgument reports whether err is a validation error with the
// InvalidArgument status code.
func IsInvalidArgument(err error) bool {
	var zerr *Error
	return errors.As(err, &zerr) && zerr.Code == CodeInvalidArgument
}

// transportError wraps a failure to get any response from the provider.
func transportError(operation string, err error) *Error {
	return &Error{
		Kind:      KindTransport,
		Code:      CodeUnavailable,
		Message:   err.Error(),
		Operation: operation,
		cause:     err,
	}
}

// responseError builds an Error from a non-2xx response body. Bodies that are
// not JSON keep the HTTP status as the only classification input.
func responseError(operation string, status int, body []byte) *Error {
	e := &Error{
		HTTPStatus: status,
		Operation:  operation,
		Message:    strings.TrimSpace(string(body)),
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if code := parsed.Get("code"); code.Exists() {
			e.Code = int(code.Int())
		}
		if msg := parsed.Get("message"); msg.Exists() {
			e.Message = msg.String()
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	e.Kind = classify(e.Code, status)
	return e
}

func classify(code, status int) Kind {
	switch code {
	case CodeInvalidArgument, CodeFailedPrecondition:
		return KindValidation
	case CodeNotFound:
		return KindNotFound
	case CodeAlreadyExists:
		return KindConflict
	case CodeUnauthenticated, CodePermissionDenied:
		return KindUnauthenticated
	}

	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthenticated
	case status >= 500:
		return KindTransport
	default:
		return KindUnknown
	}
}

package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies a ServerError for status mapping and logging policy.
type Kind int

const (
	KindOther Kind = iota
	KindConfig
	KindPlugin
	KindAuth
	KindSession
	KindHandler
	KindTemplate
	KindNotFound
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindInternal
	KindServiceUnavailable
	KindTimeout
	KindSerialization
	KindTransport
	KindDatabase
)

var kindNames = map[Kind]string{
	KindOther:              "other",
	KindConfig:             "config",
	KindPlugin:             "plugin",
	KindAuth:               "auth",
	KindSession:            "session",
	KindHandler:            "handler",
	KindTemplate:           "template",
	KindNotFound:           "not_found",
	KindBadRequest:         "bad_request",
	KindUnauthorized:       "unauthorized",
	KindForbidden:          "forbidden",
	KindInternal:           "internal",
	KindServiceUnavailable: "service_unavailable",
	KindTimeout:            "timeout",
	KindSerialization:      "serialization",
	KindTransport:          "transport",
	KindDatabase:           "database",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "other"
}

// ServerError is the error type flowing through the request pipeline.
type ServerError struct {
	Kind       Kind
	Message    string
	underlying error
}

func (e *ServerError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *ServerError) Unwrap() error {
	return e.underlying
}

// StatusCode maps the error kind to an HTTP status code.
func (e *ServerError) StatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized, KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the error is an expected, client-caused
// failure that should not be logged at error level.
func (e *ServerError) IsClientError() bool {
	switch e.Kind {
	case KindNotFound, KindBadRequest, KindUnauthorized, KindForbidden:
		return true
	}
	return false
}

// errorBody is the wire shape of a rendered error.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// WriteJSON renders the error as the fixed JSON error body.
func (e *ServerError) WriteJSON(w http.ResponseWriter) {
	status := e.StatusCode()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message: e.Error(),
		Status:  status,
	}})
}

// MarshalBody returns the JSON error body without writing it.
func (e *ServerError) MarshalBody() []byte {
	status := e.StatusCode()
	b, err := json.Marshal(errorBody{Error: errorDetail{
		Message: e.Error(),
		Status:  status,
	}})
	if err != nil {
		return []byte(`{"error":{"message":"internal server error","status":500}}`)
	}
	return b
}

// New creates a ServerError with the given kind.
func New(kind Kind, message string) *ServerError {
	return &ServerError{Kind: kind, Message: message}
}

// Newf creates a ServerError with a formatted message.
func Newf(kind Kind, format string, args ...any) *ServerError {
	return &ServerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a kind and context message.
func Wrap(err error, kind Kind, message string) *ServerError {
	return &ServerError{Kind: kind, Message: message, underlying: err}
}

// FromError coerces any error into a ServerError. A nil error returns nil;
// an existing ServerError is returned as-is.
func FromError(err error) *ServerError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*ServerError); ok {
		return se
	}
	return &ServerError{Kind: KindOther, Message: err.Error(), underlying: err}
}

// Convenience constructors for the common kinds.

func Config(message string) *ServerError   { return New(KindConfig, message) }
func Plugin(message string) *ServerError   { return New(KindPlugin, message) }
func Auth(message string) *ServerError     { return New(KindAuth, message) }
func Session(message string) *ServerError  { return New(KindSession, message) }
func Handler(message string) *ServerError  { return New(KindHandler, message) }
func Template(message string) *ServerError { return New(KindTemplate, message) }
func NotFound(message string) *ServerError { return New(KindNotFound, message) }

func BadRequest(message string) *ServerError {
	return New(KindBadRequest, message)
}

func Unauthorized(message string) *ServerError {
	return New(KindUnauthorized, message)
}

func Forbidden(message string) *ServerError { return New(KindForbidden, message) }
func Internal(message string) *ServerError  { return New(KindInternal, message) }

func ServiceUnavailable(message string) *ServerError {
	return New(KindServiceUnavailable, message)
}

func Timeout() *ServerError { return New(KindTimeout, "timeout") }

func Other(message string) *ServerError { return New(KindOther, message) }

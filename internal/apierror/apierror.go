// Package apierror renders the wire error envelope. Every non-2xx response
// body has the shape {"error": {code, message, request_id, timestamp, ...}}.
package apierror

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Stable machine-readable error codes.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
)

// ContextKeyRequestID is the gin context key under which the request ID
// middleware stores the current request's ID.
const ContextKeyRequestID = "requestID"

// Body is the envelope payload.
type Body struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Hint      string                 `json:"hint,omitempty"`
}

// Envelope wraps Body under the "error" key.
type Envelope struct {
	Error Body `json:"error"`
}

// Option mutates the body before rendering.
type Option func(*Body)

// WithDetails attaches structured details to the error.
func WithDetails(details map[string]interface{}) Option {
	return func(b *Body) { b.Details = details }
}

// WithHint attaches a human-readable remediation hint.
func WithHint(hint string) Option {
	return func(b *Body) { b.Hint = hint }
}

// Abort writes the envelope with the given status and stops the handler chain.
func Abort(c *gin.Context, status int, code, message string, opts ...Option) {
	body := Body{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(ContextKeyRequestID),
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&body)
	}
	c.AbortWithStatusJSON(status, Envelope{Error: body})
}

// Validation writes a 400 VALIDATION_ERROR.
func Validation(c *gin.Context, message string, opts ...Option) {
	Abort(c, http.StatusBadRequest, CodeValidation, message, opts...)
}

// Authentication writes a 401 AUTHENTICATION_ERROR.
func Authentication(c *gin.Context, message string, opts ...Option) {
	Abort(c, http.StatusUnauthorized, CodeAuthentication, message, opts...)
}

// Authorization writes a 403 AUTHORIZATION_ERROR.
func Authorization(c *gin.Context, message string, opts ...Option) {
	Abort(c, http.StatusForbidden, CodeAuthorization, message, opts...)
}

// NotFound writes a 404 NOT_FOUND.
func NotFound(c *gin.Context, message string, opts ...Option) {
	Abort(c, http.StatusNotFound, CodeNotFound, message, opts...)
}

// Internal writes a 500 INTERNAL_SERVER_ERROR with a generic message.
func Internal(c *gin.Context) {
	Abort(c, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// Package errmap maps domain errors onto each surface this client speaks:
// the local HTTP endpoints, the host relay WebSocket and the cross-frame
// status message.
package errmap

import (
	"errors"
	"net/http"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is), so specific sentinels come
// before their category.
var httpMappings = []httpMapping{
	// Auth errors
	{domain.ErrNoSession, http.StatusUnauthorized, "NO_SESSION"},
	{domain.ErrRefreshFailed, http.StatusUnauthorized, "REFRESH_FAILED"},
	{domain.ErrRefreshIneffective, http.StatusUnauthorized, "REFRESH_INEFFECTIVE"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED"},

	// Network errors: the remote API, not this process, is at fault
	{domain.ErrTimeout, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
	{domain.ErrNetwork, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},

	// Validation errors
	{domain.ErrResponseTooLarge, http.StatusBadGateway, "UPSTREAM_RESPONSE_TOO_LARGE"},
	{domain.ErrValidation, http.StatusBadGateway, "UPSTREAM_INVALID_RESPONSE"},

	// Host message errors
	{domain.ErrOriginRejected, http.StatusForbidden, "ORIGIN_REJECTED"},
	{domain.ErrMessageSchema, http.StatusBadRequest, "INVALID_MESSAGE"},

	// Availability
	{domain.ErrNotReady, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: err.Error()}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

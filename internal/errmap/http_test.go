package errmap_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/errmap"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatusCode int
		wantCode       string
	}{
		// Nil error
		{"nil error", nil, http.StatusOK, ""},

		// Auth errors
		{"ErrNoSession", domain.ErrNoSession, http.StatusUnauthorized, "NO_SESSION"},
		{"ErrRefreshFailed", domain.ErrRefreshFailed, http.StatusUnauthorized, "REFRESH_FAILED"},
		{"ErrRefreshIneffective", domain.ErrRefreshIneffective, http.StatusUnauthorized, "REFRESH_INEFFECTIVE"},
		{"ErrUnauthorized", domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED"},

		// Network errors
		{"ErrTimeout", domain.ErrTimeout, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
		{"ErrNetwork", domain.ErrNetwork, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},

		// Validation errors
		{"ErrInvalidEnvelope", domain.ErrInvalidEnvelope, http.StatusBadGateway, "UPSTREAM_INVALID_RESPONSE"},
		{"ErrResponseTooLarge", domain.ErrResponseTooLarge, http.StatusBadGateway, "UPSTREAM_RESPONSE_TOO_LARGE"},

		// Host message errors
		{"ErrOriginRejected", domain.ErrOriginRejected, http.StatusForbidden, "ORIGIN_REJECTED"},
		{"ErrNotAnObject", domain.ErrNotAnObject, http.StatusBadRequest, "INVALID_MESSAGE"},

		// Availability
		{"ErrNotReady", domain.ErrNotReady, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"wrapped ErrNotReady", fmt.Errorf("session store: %w", domain.ErrNotReady), http.StatusServiceUnavailable, "UNAVAILABLE"},

		// Wrapped errors
		{"wrapped ErrRefreshFailed", fmt.Errorf("GET /cart: %w", domain.ErrRefreshFailed), http.StatusUnauthorized, "REFRESH_FAILED"},

		// Unknown errors map to Internal
		{"unknown error", fmt.Errorf("unexpected"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errmap.ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatusCode, got.StatusCode, "expected status %d, got %d", tt.wantStatusCode, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.Code, "expected code %q, got %q", tt.wantCode, got.Code)
		})
	}
}

func TestHTTPErrorDoesNotLeakInternals(t *testing.T) {
	got := errmap.ToHTTPError(fmt.Errorf("dial tcp 10.0.0.7:6379: connection refused"))
	assert.Equal(t, "internal error", got.Message)

	var err error = errmap.ToHTTPError(domain.ErrNotReady)
	assert.NotEmpty(t, err.Error())
}

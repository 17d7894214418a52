package errmap

import (
	"errors"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// WebSocket close codes per RFC 6455.
// Standard codes: https://datatracker.ietf.org/doc/html/rfc6455#section-7.4
// Application-specific codes use the 4000-4999 range.
const (
	// Standard codes (RFC 6455)
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseTryAgainLater   = 1013

	// Application-specific codes (4000-4999)
	CloseInvalidMessage  = 4000
	CloseUnauthorized    = 4001
	CloseMessageTooLarge = 4013
)

// WebSocketClose represents a close code and reason for WebSocket termination.
type WebSocketClose struct {
	Code   int
	Reason string
}

// ToWebSocketClose converts a domain error to the close code the host bridge
// sends to the relay.
func ToWebSocketClose(err error) WebSocketClose {
	if err == nil {
		return WebSocketClose{Code: CloseNormalClosure, Reason: "normal_closure"}
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return WebSocketClose{Code: CloseUnauthorized, Reason: "unauthorized"}

	case errors.Is(err, domain.ErrOriginRejected):
		return WebSocketClose{Code: ClosePolicyViolation, Reason: "origin_rejected"}

	case errors.Is(err, domain.ErrResponseTooLarge):
		return WebSocketClose{Code: CloseMessageTooLarge, Reason: "message_too_large"}

	case errors.Is(err, domain.ErrMessageSchema):
		return WebSocketClose{Code: CloseInvalidMessage, Reason: "invalid_message"}

	case errors.Is(err, domain.ErrNetwork):
		return WebSocketClose{Code: CloseTryAgainLater, Reason: "network_error"}

	default:
		return WebSocketClose{Code: CloseInternalError, Reason: "internal_error"}
	}
}

// Common close reasons for special cases not directly mapped to domain errors.
var (
	CloseClientShutdown    = WebSocketClose{Code: CloseGoingAway, Reason: "client_shutdown"}
	CloseProtocolViolation = WebSocketClose{Code: CloseProtocolError, Reason: "protocol_error"}
)

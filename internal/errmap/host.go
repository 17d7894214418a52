package errmap

import (
	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

// Reason codes carried in the error field of an outbound host message.
const (
	ReasonUserCancelled   = "user_cancelled"
	ReasonSessionExpired  = "session_expired"
	ReasonNetwork         = "network_error"
	ReasonInvalidResponse = "invalid_response"
	ReasonInternal        = "internal_error"
)

// ToHostStatus converts an error into the status message sent to the host
// surface. A nil error reports SUCCESS.
func ToHostStatus(err error) protocol.OutboundMessage {
	if err == nil {
		return protocol.OutboundMessage{Status: protocol.StatusSuccess}
	}

	reason := ReasonInternal
	switch {
	case domain.IsAuthError(err):
		reason = ReasonSessionExpired
	case domain.IsNetworkError(err):
		reason = ReasonNetwork
	case domain.IsValidationError(err):
		reason = ReasonInvalidResponse
	}
	return protocol.OutboundMessage{Status: protocol.StatusFailed, Error: reason}
}

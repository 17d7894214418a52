package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// RelayFrame is one WebSocket frame exchanged with the host relay. Inbound
// frames carry the origin the relay observed for the posting window; outbound
// frames carry the target origin the relay must deliver to.
type RelayFrame struct {
	Origin       string          `json:"origin,omitempty"`
	TargetOrigin string          `json:"targetOrigin,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// DecodeRelayFrame parses a relay frame. Malformed frames wrap
// domain.ErrMessageSchema.
func DecodeRelayFrame(b []byte) (RelayFrame, error) {
	var f RelayFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return RelayFrame{}, fmt.Errorf("%w: relay frame: %w", domain.ErrMessageSchema, err)
	}
	if len(f.Data) == 0 {
		return RelayFrame{}, fmt.Errorf("%w: relay frame has no data", domain.ErrMessageSchema)
	}
	return f, nil
}

// EncodeRelayFrame wraps an outbound message for the relay.
func EncodeRelayFrame(msg OutboundMessage, targetOrigin string) ([]byte, error) {
	data, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	return json.Marshal(RelayFrame{TargetOrigin: targetOrigin, Data: data})
}

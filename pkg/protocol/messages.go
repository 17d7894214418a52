// Package protocol defines the wire types exchanged with the host surface and
// the remote checkout API. These types are shared by the messenger, the host
// bridge and the API client.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// Status is the outcome reported to the host surface.
type Status string

const (
	StatusFailed    Status = "FAILED"
	StatusSuccess   Status = "SUCCESS"
	StatusPending   Status = "PENDING"
	StatusCancelled Status = "CANCELLED"
)

// Recognized inbound keys.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyCheckoutID   = "checkoutId"
)

// InboundMessage is a message posted by the host. Any subset of the fields may
// be present; unknown fields are ignored.
type InboundMessage struct {
	AccessToken  *string `json:"accessToken,omitempty"`
	RefreshToken *string `json:"refreshToken,omitempty"`
	CheckoutID   *string `json:"checkoutId,omitempty"`
}

// Empty reports whether none of the recognized keys were present.
func (m InboundMessage) Empty() bool {
	return m.AccessToken == nil && m.RefreshToken == nil && m.CheckoutID == nil
}

// OutboundMessage is a status notification posted to the host.
type OutboundMessage struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ParseInbound decodes a host message. It returns an error wrapping
// domain.ErrMessageSchema when data is not a JSON object, when a recognized key
// does not hold a string, or when no recognized key is present.
func ParseInbound(data []byte) (InboundMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return InboundMessage{}, domain.ErrNotAnObject
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %w", domain.ErrNotAnObject, err)
	}

	var msg InboundMessage
	var err error
	if msg.AccessToken, err = stringField(raw, KeyAccessToken); err != nil {
		return InboundMessage{}, err
	}
	if msg.RefreshToken, err = stringField(raw, KeyRefreshToken); err != nil {
		return InboundMessage{}, err
	}
	if msg.CheckoutID, err = stringField(raw, KeyCheckoutID); err != nil {
		return InboundMessage{}, err
	}

	if msg.Empty() {
		return InboundMessage{}, domain.ErrNoRecognizedKeys
	}
	return msg, nil
}

// stringField extracts key from raw. A missing key or a JSON null yields nil.
func stringField(raw map[string]json.RawMessage, key string) (*string, error) {
	v, ok := raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("%w: %s is not a string", domain.ErrMessageSchema, key)
	}
	return &s, nil
}

// Marshal encodes an outbound message.
func (m OutboundMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

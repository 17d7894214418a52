package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// Envelope is the response shape of every checkout API call.
type Envelope[T any] struct {
	Success bool    `json:"success"`
	Data    *T      `json:"data"`
	Error   *string `json:"error"`
}

// ErrorMessage returns the remote error text, or "" when none was sent.
func (e Envelope[T]) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// DecodeEnvelope parses body into an Envelope. Bodies that are not JSON
// objects or lack the success field yield domain.ErrInvalidEnvelope.
func DecodeEnvelope[T any](body []byte) (Envelope[T], error) {
	var head struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Envelope[T]{}, fmt.Errorf("%w: %w", domain.ErrInvalidEnvelope, err)
	}
	if head.Success == nil {
		return Envelope[T]{}, fmt.Errorf("%w: missing success field", domain.ErrInvalidEnvelope)
	}

	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope[T]{}, fmt.Errorf("%w: %w", domain.ErrInvalidEnvelope, err)
	}
	return env, nil
}

// RefreshData is the payload of a successful refresh call.
type RefreshData struct {
	AccessToken string `json:"accessToken"`
}

// VerificationData is the payload of a successful verification call. InApp is
// a pointer so an omitted flag is distinguishable from false.
type VerificationData struct {
	AccessToken string `json:"accessToken"`
	InApp       *bool  `json:"inApp"`
}

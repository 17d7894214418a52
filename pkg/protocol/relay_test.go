package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

func TestDecodeRelayFrame(t *testing.T) {
	f, err := protocol.DecodeRelayFrame([]byte(`{"origin":"https://shop.example","data":{"accessToken":"tok"}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example", f.Origin)
	assert.JSONEq(t, `{"accessToken":"tok"}`, string(f.Data))

	tests := []struct {
		name string
		in   string
	}{
		{"not json", `nope`},
		{"no data", `{"origin":"https://shop.example"}`},
		{"array", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.DecodeRelayFrame([]byte(tt.in))
			assert.ErrorIs(t, err, domain.ErrMessageSchema)
		})
	}
}

func TestEncodeRelayFrame(t *testing.T) {
	b, err := protocol.EncodeRelayFrame(protocol.OutboundMessage{Status: protocol.StatusFailed, Error: "user_cancelled"}, "https://shop.example")

	require.NoError(t, err)
	assert.JSONEq(t, `{"targetOrigin":"https://shop.example","data":{"status":"FAILED","error":"user_cancelled"}}`, string(b))
}

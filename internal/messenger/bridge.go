package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/errmap"
	"github.com/aelexs/embedded-checkout/internal/observability"
	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

// InboundHandler consumes messages relayed from the host.
type InboundHandler interface {
	HandleMessage(ctx context.Context, origin string, data []byte)
}

// BridgeConfig holds the settings for Bridge.
type BridgeConfig struct {
	URL    string
	Origin string // sent as the Origin header of the handshake
	Logger *slog.Logger
}

// Bridge connects the client to a host relay over a WebSocket. The relay
// stands in for the browser's cross-window message channel: inbound frames
// are fed to an InboundHandler and outbound status messages are written back.
type Bridge struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

var _ Target = (*Bridge)(nil)

// Dial opens the relay connection.
func Dial(ctx context.Context, cfg BridgeConfig) (*Bridge, error) {
	ctx, span := tracer.Start(ctx, "bridge.dial")
	defer span.End()
	span.SetAttributes(attribute.String("bridge.url", cfg.URL))

	h := http.Header{}
	if cfg.Origin != "" {
		h.Set("Origin", cfg.Origin)
	}

	conn, resp, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		observability.FailSpan(span, err)
		return nil, fmt.Errorf("%w: dial host relay: %w", domain.ErrNetwork, err)
	}
	conn.SetReadLimit(domain.MaxHostMessageBytes)

	return &Bridge{
		conn:   conn,
		logger: observability.Component(cfg.Logger, "bridge"),
	}, nil
}

// Run reads relay frames and hands each one to h until ctx is cancelled or
// the relay goes away. Malformed frames are skipped. Run closes the
// connection before returning; a clean shutdown returns nil.
func (b *Bridge) Run(ctx context.Context, h InboundHandler) error {
	b.logger.InfoContext(ctx, "bridge.started")

	for {
		mt, data, err := b.conn.Read(ctx)
		if err != nil {
			return b.finish(ctx, err)
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		frame, err := protocol.DecodeRelayFrame(data)
		if err != nil {
			b.logger.DebugContext(ctx, "bridge.frame_dropped", observability.ErrAttr(err))
			continue
		}
		h.HandleMessage(ctx, frame.Origin, frame.Data)
	}
}

func (b *Bridge) finish(ctx context.Context, readErr error) error {
	switch {
	case ctx.Err() != nil:
		b.closeWith(errmap.CloseClientShutdown)
		b.logger.InfoContext(ctx, "bridge.stopped")
		return nil
	case websocket.CloseStatus(readErr) == websocket.StatusNormalClosure,
		websocket.CloseStatus(readErr) == websocket.StatusGoingAway:
		b.logger.InfoContext(ctx, "bridge.relay_closed")
		return nil
	}

	err := fmt.Errorf("%w: host relay read: %w", domain.ErrNetwork, readErr)
	b.closeWith(errmap.ToWebSocketClose(err))
	b.logger.WarnContext(ctx, "bridge.failed", observability.ErrAttr(readErr))
	return err
}

// PostMessage writes msg to the relay for delivery to targetOrigin.
func (b *Bridge) PostMessage(ctx context.Context, msg protocol.OutboundMessage, targetOrigin string) error {
	frame, err := protocol.EncodeRelayFrame(msg, targetOrigin)
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	if err := b.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("%w: write relay frame: %w", domain.ErrNetwork, err)
	}
	return nil
}

// Close closes the relay connection. It is safe to call after Run returned.
func (b *Bridge) Close() {
	b.closeWith(errmap.CloseClientShutdown)
}

func (b *Bridge) closeWith(c errmap.WebSocketClose) {
	_ = b.conn.Close(websocket.StatusCode(c.Code), c.Reason)
}

// Package messenger exchanges messages with the host surface that embeds the
// checkout client. Inbound messages inject credentials into the session;
// outbound messages report the checkout outcome to the host.
package messenger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/errmap"
	"github.com/aelexs/embedded-checkout/internal/observability"
	"github.com/aelexs/embedded-checkout/internal/session"
	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

var tracer = otel.Tracer("messenger")

var messagesTotal metric.Int64Counter

func init() {
	m := otel.Meter("messenger")

	messagesTotal = observability.Counter(m, "host_messages_total",
		"Total host messages by direction and result")
}

// SessionWriter is the part of session.Store the messenger needs.
type SessionWriter interface {
	Read() session.Snapshot
	SetAccessToken(ctx context.Context, token string) error
}

// HostState is display-only state injected by the host. The refresh token is
// never handed to the refresh coordinator.
type HostState struct {
	RefreshToken string
	CheckoutID   string
}

// Config holds the dependencies for Messenger.
type Config struct {
	Session SessionWriter
	Window  Window
	// AllowedOrigins is the inbound allow-list. Empty rejects every message.
	AllowedOrigins []string
	// TargetOrigin restricts who may receive outbound messages.
	TargetOrigin string
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Messenger handles both directions of the host channel. It never returns
// errors for malformed or untrusted inbound messages; those are dropped.
type Messenger struct {
	session      SessionWriter
	window       Window
	origins      OriginPolicy
	targetOrigin string
	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.RWMutex
	state HostState
}

// New creates a Messenger. A nil Window means there is no host to notify.
func New(cfg Config) *Messenger {
	m := &Messenger{
		session:      cfg.Session,
		window:       cfg.Window,
		origins:      NewOriginPolicy(cfg.AllowedOrigins),
		targetOrigin: cfg.TargetOrigin,
		writeTimeout: cfg.WriteTimeout,
		logger:       observability.Component(cfg.Logger, "messenger"),
	}
	if m.window == nil {
		m.window = StaticWindow{}
	}
	if m.targetOrigin == "" {
		m.targetOrigin = Wildcard
	}
	if m.writeTimeout <= 0 {
		m.writeTimeout = domain.HostWriteTimeout
	}
	if m.origins.Permissive() {
		m.logger.Warn("messenger.permissive_origins",
			slog.String("hint", "inbound messages from any origin can set the access token"))
	}
	return m
}

// HandleMessage processes one inbound message posted from origin. Unknown,
// malformed and untrusted messages are dropped without error. A repeated
// access token is not written again.
func (m *Messenger) HandleMessage(ctx context.Context, origin string, data []byte) {
	ctx, span := tracer.Start(ctx, "messenger.inbound")
	defer span.End()

	result := m.handle(ctx, origin, data)
	span.SetAttributes(attribute.String("host.result", result))
	messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", "inbound"),
		attribute.String("result", result),
	))
}

func (m *Messenger) handle(ctx context.Context, origin string, data []byte) string {
	if len(data) > domain.MaxHostMessageBytes {
		m.logger.DebugContext(ctx, "messenger.dropped", slog.String("reason", "too_large"), slog.Int("bytes", len(data)))
		return "too_large"
	}
	if !m.origins.Allows(origin) {
		m.logger.DebugContext(ctx, "messenger.dropped",
			slog.String("reason", "origin"),
			slog.String("origin", origin),
			observability.ErrAttr(domain.ErrOriginRejected),
		)
		return "origin_rejected"
	}

	msg, err := protocol.ParseInbound(data)
	if err != nil {
		m.logger.DebugContext(ctx, "messenger.dropped", slog.String("reason", "schema"), observability.ErrAttr(err))
		return "schema"
	}

	if msg.RefreshToken != nil || msg.CheckoutID != nil {
		m.mu.Lock()
		if msg.RefreshToken != nil {
			m.state.RefreshToken = *msg.RefreshToken
		}
		if msg.CheckoutID != nil {
			m.state.CheckoutID = *msg.CheckoutID
		}
		m.mu.Unlock()
	}

	if msg.AccessToken == nil || *msg.AccessToken == "" {
		return "applied"
	}
	if *msg.AccessToken == m.session.Read().AccessToken {
		return "duplicate"
	}
	if err := m.session.SetAccessToken(ctx, *msg.AccessToken); err != nil {
		m.logger.WarnContext(ctx, "messenger.token_write_failed", observability.ErrAttr(err))
		return "persist_failed"
	}
	m.logger.InfoContext(ctx, "messenger.token_received", slog.String("origin", origin))
	return "applied"
}

// HostState returns the display-only state last injected by the host.
func (m *Messenger) HostState() HostState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CancelOffered reports whether the cancel gesture should be shown. It is
// offered only when the client runs inside a host surface.
func (m *Messenger) CancelOffered() bool {
	return m.session.Read().InApp
}

// Cancel tells the host the user abandoned checkout. It does nothing unless
// the cancel gesture is offered.
func (m *Messenger) Cancel(ctx context.Context, reason string) bool {
	if !m.CancelOffered() {
		m.logger.DebugContext(ctx, "messenger.cancel_not_offered")
		return false
	}
	if reason == "" {
		reason = errmap.ReasonUserCancelled
	}
	return m.NotifyStatus(ctx, protocol.StatusFailed, reason)
}

// Complete tells the host checkout succeeded.
func (m *Messenger) Complete(ctx context.Context) bool {
	return m.NotifyStatus(ctx, protocol.StatusSuccess, "")
}

// NotifyError reports err to the host as a failure reason code.
func (m *Messenger) NotifyError(ctx context.Context, err error) bool {
	msg := errmap.ToHostStatus(err)
	return m.NotifyStatus(ctx, msg.Status, msg.Error)
}

// NotifyStatus posts {status, error} to the parent window when nested in
// one, otherwise to the opener, otherwise nowhere. It reports whether the
// message was handed to a transport. Delivery is fire-and-forget.
func (m *Messenger) NotifyStatus(ctx context.Context, status protocol.Status, reason string) bool {
	ctx, span := tracer.Start(ctx, "messenger.outbound")
	defer span.End()

	target, via := m.target()
	if target == nil {
		m.logger.DebugContext(ctx, "messenger.no_host", slog.String("status", string(status)))
		m.countOutbound(ctx, "no_host")
		return false
	}
	span.SetAttributes(attribute.String("host.target", via))

	wctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	msg := protocol.OutboundMessage{Status: status, Error: reason}
	if err := target.PostMessage(wctx, msg, m.targetOrigin); err != nil {
		observability.FailSpan(span, err)
		m.logger.WarnContext(ctx, "messenger.post_failed",
			slog.String("target", via),
			observability.ErrAttr(err),
		)
		m.countOutbound(ctx, "error")
		return false
	}

	m.logger.InfoContext(ctx, "messenger.status_sent",
		slog.String("target", via),
		slog.String("status", string(status)),
		slog.String("reason", reason),
	)
	m.countOutbound(ctx, "sent")
	return true
}

func (m *Messenger) target() (Target, string) {
	if t, ok := m.window.Parent(); ok {
		return t, "parent"
	}
	if t, ok := m.window.Opener(); ok {
		return t, "opener"
	}
	return nil, ""
}

func (m *Messenger) countOutbound(ctx context.Context, result string) {
	messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", "outbound"),
		attribute.String("result", result),
	))
}

// Package refresh wraps every authenticated call to the checkout API. It
// attaches the bearer token, and on a 401 it runs at most one token refresh
// for all concurrent callers before retrying each of them exactly once.
package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/singleflight"

	"github.com/aelexs/embedded-checkout/internal/auth"
	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/observability"
	"github.com/aelexs/embedded-checkout/internal/session"
	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

var tracer = otel.Tracer("refresh")

var (
	requestsTotal     metric.Int64Counter
	refreshTotal      metric.Int64Counter
	refreshWaitsTotal metric.Int64Counter
	authFailuresTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("refresh")

	requestsTotal = observability.Counter(m, "auth_requests_total",
		"Total authenticated requests by final status class")
	refreshTotal = observability.Counter(m, "auth_refresh_total",
		"Total refresh calls by outcome")
	refreshWaitsTotal = observability.Counter(m, "auth_refresh_waiters_total",
		"Total callers that joined an in-flight refresh cycle")
	authFailuresTotal = observability.Counter(m, "auth_failures_total",
		"Total auth errors returned to callers by reason")
}

// cycleKey is the single singleflight key: there is at most one refresh
// cycle in flight per Coordinator.
const cycleKey = "refresh"

// RequestIDHeader carries a per-attempt correlation id.
const RequestIDHeader = "X-Request-ID"

// TokenStore is the part of session.Store the coordinator needs.
type TokenStore interface {
	Read() session.Snapshot
	SetAccessToken(ctx context.Context, token string) error
	// Clear must log the session out in memory even when persistence fails.
	Clear(ctx context.Context) error
}

// RequestOptions describes one API call. Body is held as bytes so the call
// can be replayed after a refresh.
type RequestOptions struct {
	Method string // defaults to GET
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Response is a fully read API response. Non-2xx statuses other than 401 are
// returned as responses, not errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Config holds the dependencies for Coordinator.
type Config struct {
	Store TokenStore
	// HTTPClient carries the silent refresh credential in its cookie jar.
	// The coordinator never reads or writes that credential itself.
	HTTPClient       *http.Client
	BaseURL          string
	RefreshPath      string
	RequestTimeout   time.Duration
	RefreshTimeout   time.Duration
	MaxResponseBytes int64
	Clock            domain.Clock
	Logger           *slog.Logger
}

// Coordinator issues authenticated requests and owns the refresh cycle.
// It is safe for concurrent use.
type Coordinator struct {
	store            TokenStore
	client           *http.Client
	baseURL          string
	refreshPath      string
	requestTimeout   time.Duration
	refreshTimeout   time.Duration
	maxResponseBytes int64
	clock            domain.Clock
	logger           *slog.Logger
	propagator       propagation.TextMapPropagator

	cycle singleflight.Group
}

// NewCoordinator creates a Coordinator. Zero durations and limits fall back to
// the compiled defaults.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		store:            cfg.Store,
		client:           cfg.HTTPClient,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		refreshPath:      cfg.RefreshPath,
		requestTimeout:   cfg.RequestTimeout,
		refreshTimeout:   cfg.RefreshTimeout,
		maxResponseBytes: cfg.MaxResponseBytes,
		clock:            cfg.Clock,
		logger:           observability.Component(cfg.Logger, "refresh"),
		propagator:       otel.GetTextMapPropagator(),
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.refreshPath == "" {
		c.refreshPath = domain.DefaultRefreshPath
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = domain.RequestTimeout
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = domain.RefreshTimeout
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = domain.MaxResponseBytes
	}
	if c.clock == nil {
		c.clock = domain.RealClock{}
	}
	return c
}

// Do performs an authenticated request against path.
//
// Errors: domain.ErrNoSession when logged out; domain.ErrTimeout or
// domain.ErrNetwork on transport failure; domain.ErrRefreshFailed or
// domain.ErrRefreshIneffective when a 401 could not be recovered. Every
// auth error is returned after the session has been cleared.
func (c *Coordinator) Do(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	ctx, span := tracer.Start(ctx, "refresh.do")
	defer span.End()
	span.SetAttributes(attribute.String("http.route", path))

	logger := observability.WithTraceID(ctx, c.logger)

	token := c.store.Read().AccessToken
	if token == "" {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "no_session")))
		observability.FailSpan(span, domain.ErrNoSession)
		return nil, domain.ErrNoSession
	}

	resp, err := c.send(ctx, path, opts, token)
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusClass(resp.StatusCode))))
		return resp, nil
	}

	span.SetAttributes(attribute.Bool("token.expired", auth.Expired(c.clock, token)))
	logger.DebugContext(ctx, "auth.unauthorized", slog.String("path", path))

	newToken, err := c.refresh(ctx, token)
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}

	resp, err = c.send(ctx, path, opts, newToken)
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.clearSession(ctx, "retry_unauthorized")
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "refresh_ineffective")))
		logger.WarnContext(ctx, "auth.refresh_ineffective", slog.String("path", path))
		observability.FailSpan(span, domain.ErrRefreshIneffective)
		return nil, domain.ErrRefreshIneffective
	}

	requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusClass(resp.StatusCode))))
	return resp, nil
}

// DoPublic performs an unauthenticated request, such as verification. It
// never attaches the bearer token, never refreshes and never touches the
// session; a 401 is returned as a response.
func (c *Coordinator) DoPublic(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	ctx, span := tracer.Start(ctx, "refresh.do_public")
	defer span.End()
	span.SetAttributes(attribute.String("http.route", path))

	resp, err := c.send(ctx, path, opts, "")
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}
	return resp, nil
}

// refresh returns a token to retry with. stale is the token that just drew a
// 401. Concurrent callers share one cycle; the cycle itself runs detached
// from any single caller's cancellation so every waiter observes its outcome.
func (c *Coordinator) refresh(ctx context.Context, stale string) (string, error) {
	if current := c.store.Read().AccessToken; current != "" && current != stale {
		return current, nil
	}

	detached := context.WithoutCancel(ctx)

	ch := c.cycle.DoChan(cycleKey, func() (any, error) {
		return c.runCycle(detached, stale)
	})

	// A caller that gives up stops waiting; the cycle keeps running for the
	// others.
	select {
	case res := <-ch:
		if res.Shared {
			refreshWaitsTotal.Add(ctx, 1)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", transportError(ctx, ctx.Err())
	}
}

// runCycle is the body of one RefreshCycle.
func (c *Coordinator) runCycle(ctx context.Context, stale string) (string, error) {
	ctx, span := tracer.Start(ctx, "refresh.cycle")
	defer span.End()

	logger := observability.WithTraceID(ctx, c.logger)

	// A cycle that completed between this caller's 401 and now has already
	// rotated the token (or cleared the session). Reuse its outcome rather
	// than issuing a second refresh call.
	switch current := c.store.Read().AccessToken; {
	case current == "":
		span.SetAttributes(attribute.String("refresh.outcome", "already_cleared"))
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "refresh_failed")))
		return "", domain.ErrRefreshFailed
	case current != stale:
		span.SetAttributes(attribute.String("refresh.outcome", "already_rotated"))
		return current, nil
	}

	token, err := c.callRefresh(ctx)
	if err != nil {
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "refresh_failed")))
		observability.FailSpan(span, err)
		logger.WarnContext(ctx, "auth.refresh_failed", observability.ErrAttr(err))
		c.clearSession(ctx, "refresh_failed")
		return "", fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}

	// An unstored token clears the session; nobody retries with the stale one.
	if err := c.store.SetAccessToken(ctx, token); err != nil {
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "persist_failure")))
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "refresh_failed")))
		observability.FailSpan(span, err)
		logger.ErrorContext(ctx, "auth.refresh_persist_failed", observability.ErrAttr(err))
		c.clearSession(ctx, "refresh_persist_failed")
		return "", fmt.Errorf("%w: store refreshed token: %v", domain.ErrRefreshFailed, err)
	}

	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	logger.InfoContext(ctx, "auth.token_refreshed")
	return token, nil
}

// callRefresh performs the single refresh call of a cycle.
func (c *Coordinator) callRefresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.refreshPath, nil)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, c.maxResponseBytes)
	if err != nil {
		return "", bodyError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("refresh status %d", resp.StatusCode)
	}

	env, err := protocol.DecodeEnvelope[protocol.RefreshData](body)
	if err != nil {
		return "", err
	}
	if !env.Success || env.Data == nil || env.Data.AccessToken == "" {
		return "", fmt.Errorf("refresh rejected: %s", env.ErrorMessage())
	}
	return env.Data.AccessToken, nil
}

// send issues one attempt bounded by the request deadline.
func (c *Coordinator) send(ctx context.Context, path string, opts RequestOptions, token string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	target, err := c.resolve(path, opts.Query)
	if err != nil {
		return nil, err
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	b, err := readBody(resp.Body, c.maxResponseBytes)
	if err != nil {
		return nil, bodyError(ctx, err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func (c *Coordinator) resolve(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// clearSession logs the user out before an auth error propagates. The
// in-memory session is cleared even if the persisted key survives.
func (c *Coordinator) clearSession(ctx context.Context, reason string) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.ErrorContext(ctx, "auth.clear_session_failed",
			slog.String("reason", reason),
			observability.ErrAttr(err),
		)
	}
}

// transportError classifies a client.Do failure. A deadline on the attempt's
// own context is a timeout; everything else is a network error.
func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// bodyError classifies a failed body read. An oversized body is a malformed
// response; a torn one is a transport failure.
func bodyError(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrResponseTooLarge) {
		return err
	}
	return transportError(ctx, err)
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, domain.ErrResponseTooLarge
	}
	return b, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

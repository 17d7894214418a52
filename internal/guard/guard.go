// Package guard decides whether a route may render for the current session
// and sends unauthenticated users on protected routes to the login entry
// point.
package guard

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/embedded-checkout/internal/observability"
	"github.com/aelexs/embedded-checkout/internal/session"
)

var (
	redirectsTotal   metric.Int64Counter
	evaluationsTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("guard")

	redirectsTotal = observability.Counter(m, "guard_redirects_total",
		"Total redirects to the login entry point")
	evaluationsTotal = observability.Counter(m, "guard_evaluations_total",
		"Total guard evaluations by resulting state")
}

// State is the guard's decision state.
type State int

const (
	// Uninitialized: the session has not been hydrated; nothing renders.
	Uninitialized State = iota
	// Deciding: the session is hydrated but the current path has not been
	// evaluated yet.
	Deciding
	// Authorized: children render.
	Authorized
	// Redirecting: a login redirect has been issued; nothing renders until
	// navigation completes.
	Redirecting
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Deciding:
		return "deciding"
	case Authorized:
		return "authorized"
	case Redirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	State          State
	RenderChildren bool
	// Redirected is true only for the evaluation that issued the redirect.
	Redirected bool
}

// Navigator performs client-side navigation.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// SessionSource is the part of session.Store the guard reads.
type SessionSource interface {
	Read() session.Snapshot
	Subscribe(l session.Listener) (unsubscribe func())
}

// Config holds the dependencies for Guard.
type Config struct {
	Session   SessionSource
	Routes    Routes
	Navigator Navigator
	Logger    *slog.Logger
}

// Guard evaluates route access. It never returns errors; it only decides
// whether to render or redirect.
//
// The redirect latch is keyed on the unauthenticated path: once a redirect for
// a path has been issued, re-evaluating the same path while the session is
// still unauthenticated does not navigate again. The latch clears when a
// decision comes out Authorized or the path changes, so a later logout on
// the same path redirects again.
type Guard struct {
	session SessionSource
	routes  Routes
	nav     Navigator
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	latched string // path a redirect was issued for; "" when clear
}

// New creates a Guard in the Uninitialized state.
func New(cfg Config) *Guard {
	return &Guard{
		session: cfg.Session,
		routes:  cfg.Routes,
		nav:     cfg.Navigator,
		logger:  observability.Component(cfg.Logger, "guard"),
	}
}

// State returns the state of the latest evaluation. A session hydrated since
// the last evaluation reports Deciding until the next one runs.
func (g *Guard) State() State {
	g.mu.Lock()
	st := g.state
	g.mu.Unlock()

	if st == Uninitialized && g.session.Read().Initialized {
		return Deciding
	}
	return st
}

// Evaluate decides access for p against the current session snapshot.
func (g *Guard) Evaluate(ctx context.Context, p string) Decision {
	snap := g.session.Read()

	g.mu.Lock()
	if !snap.Initialized {
		g.state = Uninitialized
		g.mu.Unlock()
		evaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", Uninitialized.String())))
		return Decision{State: Uninitialized}
	}

	if g.routes.IsPublic(p) || snap.LoggedIn() {
		g.state = Authorized
		g.latched = ""
		g.mu.Unlock()
		evaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", Authorized.String())))
		return Decision{State: Authorized, RenderChildren: true}
	}

	g.state = Redirecting
	key := normalize(p)
	issue := g.latched != key
	g.latched = key
	g.mu.Unlock()

	evaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", Redirecting.String())))
	if !issue {
		return Decision{State: Redirecting}
	}

	// Navigation runs outside the lock: a navigator may re-enter Evaluate
	// for the login path.
	redirectsTotal.Add(ctx, 1)
	g.logger.InfoContext(ctx, "guard.redirect",
		slog.String("from", key),
		slog.String("to", g.routes.LoginPath()),
	)
	if g.nav != nil {
		g.nav.Navigate(ctx, g.routes.LoginPath())
	}
	return Decision{State: Redirecting, Redirected: true}
}

// Mount evaluates currentPath now and again after every session change until
// the returned unmount is called. Mounting clears the redirect latch.
func (g *Guard) Mount(ctx context.Context, currentPath func() string) (unmount func()) {
	g.mu.Lock()
	g.latched = ""
	g.mu.Unlock()

	unsubscribe := g.session.Subscribe(func(session.Snapshot) {
		g.Evaluate(ctx, currentPath())
	})
	g.Evaluate(ctx, currentPath())
	return unsubscribe
}

package guard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aelexs/embedded-checkout/internal/observability"
)

// Router tracks the client's current path. It is the Navigator used when the
// client runs headless; listeners play the role of the render loop.
type Router struct {
	logger *slog.Logger

	mu        sync.RWMutex
	current   string
	listeners []func(ctx context.Context, path string)
}

// NewRouter creates a Router positioned at start.
func NewRouter(start string, logger *slog.Logger) *Router {
	return &Router{
		current: normalize(start),
		logger:  observability.Component(logger, "router"),
	}
}

// Path returns the current path.
func (r *Router) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnChange registers fn to run after every navigation.
func (r *Router) OnChange(fn func(ctx context.Context, path string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Navigate moves to p and notifies listeners. Navigating to the current path
// is a no-op.
func (r *Router) Navigate(ctx context.Context, p string) {
	p = normalize(p)

	r.mu.Lock()
	if r.current == p {
		r.mu.Unlock()
		return
	}
	from := r.current
	r.current = p
	listeners := append(([]func(context.Context, string))(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "router.navigate", slog.String("from", from), slog.String("to", p))
	for _, fn := range listeners {
		fn(ctx, p)
	}
}

var _ Navigator = (*Router)(nil)

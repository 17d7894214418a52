// Package server provides the client's lifecycle runner: signal handling,
// config loading, observability init, health checks, the component's
// background loop and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aelexs/embedded-checkout/internal/config"
	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/errmap"
	"github.com/aelexs/embedded-checkout/internal/observability"
)

// SetupDeps is what the runner hands to a component's composition root.
type SetupDeps struct {
	Config *config.Config
	Logger *slog.Logger
}

// Component is the running application assembled by Setup. Every field is
// optional.
type Component struct {
	// Run blocks until ctx is cancelled. A non-nil error stops the process.
	Run func(ctx context.Context) error
	// Ready returns nil once the component can serve; /readyz reports it.
	Ready func() error
	// Shutdown releases resources once the process is stopping. It may run
	// while Run is still unwinding.
	Shutdown func(ctx context.Context) error
}

// Params configures the lifecycle runner.
type Params struct {
	// Name identifies the process in logs and telemetry.
	Name string

	// PortFromConfig extracts the HTTP port from config.
	PortFromConfig func(cfg *config.Config) int

	// Setup builds the component once config and observability are up.
	Setup func(ctx context.Context, deps SetupDeps) (Component, error)
}

// Run executes the full lifecycle. If ln is non-nil, it is used instead of
// creating a new listener from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Load configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logging with secret redaction
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: tracer -> metrics -> component -> HTTP server ---

	tracerProvider, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	flushOTEL := func() {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := metricsProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown metrics", observability.ErrAttr(shutdownErr))
		}
		if shutdownErr := tracerProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown tracer", observability.ErrAttr(shutdownErr))
		}
	}

	var comp Component
	if p.Setup != nil {
		comp, err = p.Setup(ctx, SetupDeps{Config: cfg, Logger: logger})
		if err != nil {
			flushOTEL()
			return fmt.Errorf("setup %s: %w", p.Name, err)
		}
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if shuttingDown.Load() {
			writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down", "service": p.Name})
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy", "service": p.Name})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		readyErr := error(nil)
		switch {
		case shuttingDown.Load():
			readyErr = fmt.Errorf("%w: shutting down", domain.ErrNotReady)
		case comp.Ready != nil:
			readyErr = comp.Ready()
		}
		if readyErr != nil {
			e := errmap.ToHTTPError(readyErr)
			writeStatus(w, e.StatusCode, e)
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready", "service": p.Name})
	})

	// Bind listener (use injected listener or create from config).
	if ln == nil {
		port := cfg.HTTPPort
		if p.PortFromConfig != nil {
			port = p.PortFromConfig(cfg)
		}
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			if comp.Shutdown != nil {
				_ = comp.Shutdown(context.Background())
			}
			flushOTEL()
			return fmt.Errorf("listen: %w", err)
		}
	}

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	// Goroutine 1: Serve HTTP
	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Goroutine 2: the component's background loop
	if comp.Run != nil {
		g.Go(func() error {
			if runErr := comp.Run(ctx); runErr != nil {
				return fmt.Errorf("%s: %w", p.Name, runErr)
			}
			return nil
		})
	}

	// Goroutine 3: Shutdown trigger: waits for context cancellation, then drains.
	// Shutdown order is explicit reverse of startup: HTTP server -> component -> metrics -> tracer.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down; health checks return 503
		shuttingDown.Store(true)

		// 2. Drain HTTP server
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", observability.ErrAttr(shutdownErr))
		}

		// 3. Release component resources
		if comp.Shutdown != nil {
			compCtx, compCancel := context.WithTimeout(context.Background(), domain.GracefulShutdownTimeout)
			defer compCancel()
			if shutdownErr := comp.Shutdown(compCtx); shutdownErr != nil {
				logger.Error("component shutdown error", observability.ErrAttr(shutdownErr))
			}
		}

		// 4. Flush OTEL (reverse: metrics first, then tracer)
		flushOTEL()

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

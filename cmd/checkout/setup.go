package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/aelexs/embedded-checkout/internal/api"
	"github.com/aelexs/embedded-checkout/internal/auth"
	"github.com/aelexs/embedded-checkout/internal/config"
	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/guard"
	"github.com/aelexs/embedded-checkout/internal/messenger"
	"github.com/aelexs/embedded-checkout/internal/observability"
	"github.com/aelexs/embedded-checkout/internal/redis"
	"github.com/aelexs/embedded-checkout/internal/refresh"
	"github.com/aelexs/embedded-checkout/internal/server"
	"github.com/aelexs/embedded-checkout/internal/session"
	"github.com/aelexs/embedded-checkout/internal/storage"
)

// app holds the wired client. One instance exists per process.
type app struct {
	logger *slog.Logger

	redis     *redis.Client // nil with the memory backend
	store     *session.Store
	coord     *refresh.Coordinator
	router    *guard.Router
	guard     *guard.Guard
	messenger *messenger.Messenger
	bridge    *messenger.Bridge // nil when no relay is configured

	verifyPath string
	launchCode string // exchanged once by run; empty when the host issued none

	unmount func()
}

// launchRequest is the verification payload for a host-issued launch code.
type launchRequest struct {
	Code string `json:"code"`
}

// setup is the checkout composition root.
func setup(ctx context.Context, deps server.SetupDeps) (server.Component, error) {
	a, err := newApp(ctx, deps.Config, deps.Logger)
	if err != nil {
		return server.Component{}, fmt.Errorf("checkout setup: %w", err)
	}
	return server.Component{
		Run:      a.run,
		Ready:    a.ready,
		Shutdown: a.shutdown,
	}, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		logger:     observability.Component(logger, "checkout"),
		verifyPath: cfg.API.VerifyPath,
		launchCode: cfg.Host.LaunchCode,
	}

	// 1. Session store over the configured backend.
	st, err := a.newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = session.NewStore(session.StoreConfig{Storage: st, Logger: logger})
	a.store.Subscribe(a.logSessionChange)

	// 2. Refresh coordinator. The cookie jar holds the silent refresh
	// credential; nothing else reads it.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	a.coord = refresh.NewCoordinator(refresh.Config{
		Store:            a.store,
		HTTPClient:       &http.Client{Jar: jar},
		BaseURL:          cfg.API.BaseURL,
		RefreshPath:      cfg.API.RefreshPath,
		RequestTimeout:   cfg.API.RequestTimeout,
		RefreshTimeout:   cfg.API.RefreshTimeout,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
		Logger:           logger,
	})

	// 3. Host channel. Without a relay there is no host to notify.
	window := messenger.StaticWindow{}
	if cfg.Host.BridgeURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Host.WriteTimeout)
		a.bridge, err = messenger.Dial(dialCtx, messenger.BridgeConfig{
			URL:    cfg.Host.BridgeURL,
			Origin: cfg.Host.Origin,
			Logger: logger,
		})
		cancel()
		if err != nil {
			a.closeStorage()
			return nil, err
		}
		window.ParentTarget = a.bridge
	}
	a.messenger = messenger.New(messenger.Config{
		Session:        a.store,
		Window:         window,
		AllowedOrigins: cfg.Host.AllowedOrigins,
		TargetOrigin:   cfg.Host.TargetOrigin,
		WriteTimeout:   cfg.Host.WriteTimeout,
		Logger:         logger,
	})

	// 4. Route guard driven by the router and by session changes.
	a.router = guard.NewRouter("/", logger)
	a.guard = guard.New(guard.Config{
		Session:   a.store,
		Routes:    guard.NewRoutes(cfg.Routes.LoginPath, cfg.Routes.Public),
		Navigator: a.router,
		Logger:    logger,
	})
	a.router.OnChange(func(ctx context.Context, p string) {
		a.guard.Evaluate(ctx, p)
	})
	a.unmount = a.guard.Mount(ctx, a.router.Path)

	// 5. Hydrate last so every subscriber observes it.
	a.store.Initialize(ctx)

	return a, nil
}

func (a *app) newStorage(ctx context.Context, cfg *config.Config) (session.Storage, error) {
	if cfg.Storage.Backend != config.StorageRedis {
		return storage.NewMemory(), nil
	}

	a.redis = redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
	defer cancel()
	if err := a.redis.Ping(pingCtx); err != nil {
		a.closeStorage()
		return nil, err
	}
	return storage.NewRedis(a.redis.RDB, cfg.Storage.KeyPrefix, cfg.Storage.TTL), nil
}

// run exchanges the launch code, then feeds relay frames to the messenger
// until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	a.verifyLaunch(ctx)

	if a.bridge == nil {
		<-ctx.Done()
		return nil
	}
	return a.bridge.Run(ctx, a.messenger)
}

// verifyLaunch exchanges the launch code for a session. A verification that
// marks the session inApp is what lets the cancel gesture reach the host. On
// failure the user stays logged out and the host is told why.
func (a *app) verifyLaunch(ctx context.Context) {
	code := a.launchCode
	a.launchCode = ""
	if code == "" {
		return
	}

	err := api.Verify(ctx, api.Public{Coordinator: a.coord}, a.store, a.verifyPath, launchRequest{Code: code})
	if err != nil {
		a.logger.WarnContext(ctx, "checkout.launch_verification_failed", observability.ErrAttr(err))
		a.messenger.NotifyError(ctx, err)
		return
	}
	a.logger.InfoContext(ctx, "checkout.launch_verified", slog.Bool("in_app", a.store.Read().InApp))
}

func (a *app) ready() error {
	if !a.store.Read().Initialized {
		return fmt.Errorf("session store: %w", domain.ErrNotReady)
	}
	return nil
}

func (a *app) shutdown(context.Context) error {
	if a.unmount != nil {
		a.unmount()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	return a.closeStorage()
}

func (a *app) closeStorage() error {
	if a.redis == nil {
		return nil
	}
	err := a.redis.Close()
	a.redis = nil
	if err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// logSessionChange records what is known about the current bearer token.
func (a *app) logSessionChange(s session.Snapshot) {
	attrs := []any{
		slog.Bool("logged_in", s.LoggedIn()),
		slog.Bool("in_app", s.InApp),
	}
	if info, err := auth.Inspect(s.AccessToken); err == nil {
		attrs = append(attrs,
			slog.String("subject", info.Subject),
			slog.String("session_id", info.SessionID),
		)
		if !info.ExpiresAt.IsZero() {
			attrs = append(attrs, slog.Duration("expires_in", time.Until(info.ExpiresAt).Round(time.Second)))
		}
	}
	a.logger.Debug("session.changed", attrs...)
}

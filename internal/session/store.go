// Package session holds the client's authenticated session: the bearer token,
// the embedded-in-host flag and the hydration latch. The Store is the only
// writer of the persisted session record.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/aelexs/embedded-checkout/internal/observability"
)

var tracer = otel.Tracer("session")

var (
	mutationsTotal     metric.Int64Counter
	hydrationsTotal    metric.Int64Counter
	persistFailedTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("session")

	mutationsTotal = observability.Counter(m, "session_mutations_total",
		"Total session mutations by field")
	hydrationsTotal = observability.Counter(m, "session_hydrations_total",
		"Total hydration attempts by result")
	persistFailedTotal = observability.Counter(m, "session_persist_failures_total",
		"Total persisted record writes that failed")
}

// Storage is the client-local key/value store that mirrors the session.
// Get returns ok=false when the key does not exist.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Snapshot is a point-in-time copy of the session. An empty AccessToken means
// logged out.
type Snapshot struct {
	AccessToken string
	InApp       bool
	Initialized bool
}

// LoggedIn reports whether a bearer token is present.
func (s Snapshot) LoggedIn() bool {
	return s.AccessToken != ""
}

// Listener is called synchronously after every mutation with the new snapshot.
type Listener func(Snapshot)

// Verification is the session-relevant part of a verification response.
// A nil InApp leaves the flag untouched.
type Verification struct {
	AccessToken string
	InApp       *bool
}

// StoreConfig holds the dependencies for Store.
type StoreConfig struct {
	Storage Storage
	Logger  *slog.Logger
}

// Store owns the session state. It is created once at application start and
// handed to the coordinator, guard and messenger.
//
// Mutations are serialized. Each one persists first, then updates memory, then
// notifies listeners, so no reader that runs after a mutation returns can see
// memory and storage disagree. Listeners must not mutate the Store
// synchronously.
type Store struct {
	storage Storage
	logger  *slog.Logger

	writeMu sync.Mutex // serializes mutations including notification

	mu        sync.RWMutex
	state     Snapshot
	listeners []*listenerEntry
}

type listenerEntry struct {
	fn Listener
}

// NewStore creates a Store backed by cfg.Storage. The store starts
// uninitialized; call Initialize to hydrate it.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		storage: cfg.Storage,
		logger:  observability.Component(cfg.Logger, "session"),
	}
}

// Initialize hydrates the session from storage. Only the first call reads
// storage; later calls are no-ops. Initialized becomes true even when the read
// fails. Persisted values override memory only when present, so a token set
// before hydration survives a missing record or a failed read.
func (s *Store) Initialize(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	done := s.state.Initialized
	s.mu.RUnlock()
	if done {
		return
	}

	ctx, span := tracer.Start(ctx, "session.initialize")
	defer span.End()

	token, inApp, err := s.hydrate(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		observability.FailSpan(span, err)
		s.logger.WarnContext(ctx, "session.hydrate_failed", observability.ErrAttr(err))
		token, inApp = "", nil
	}
	hydrationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	s.mu.Lock()
	if token != "" {
		s.state.AccessToken = token
	}
	if inApp != nil {
		s.state.InApp = *inApp
	}
	s.state.Initialized = true
	snap := s.state
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "session.initialized",
		slog.Bool("logged_in", snap.LoggedIn()),
		slog.Bool("in_app", snap.InApp),
	)
	s.notify(snap)
}

// hydrate reads the persisted record. An empty token and a nil inApp mean the
// key is absent.
func (s *Store) hydrate(ctx context.Context) (string, *bool, error) {
	if s.storage == nil {
		return "", nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, domain.StorageTimeout)
	defer cancel()

	token, _, err := s.storage.Get(ctx, domain.StorageKeyAccessToken)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", domain.StorageKeyAccessToken, err)
	}

	raw, ok, err := s.storage.Get(ctx, domain.StorageKeyInApp)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", domain.StorageKeyInApp, err)
	}
	if !ok {
		return token, nil, nil
	}
	// Anything but a well-formed boolean reads as false; inApp is never
	// defaulted to true.
	inApp, _ := strconv.ParseBool(raw)
	return token, &inApp, nil
}

// Read returns the current snapshot. It never blocks on storage.
func (s *Store) Read() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetAccessToken replaces the bearer token. An empty token logs the session
// out and removes the persisted key. On a persistence error nothing changes.
func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	return s.mutate(ctx, "access_token", false, func(st *Snapshot) { st.AccessToken = token }, func(ctx context.Context) error {
		if token == "" {
			return s.storage.Delete(ctx, domain.StorageKeyAccessToken)
		}
		return s.storage.Set(ctx, domain.StorageKeyAccessToken, token)
	})
}

// SetInApp records whether the client runs embedded in a host surface.
func (s *Store) SetInApp(ctx context.Context, inApp bool) error {
	return s.mutate(ctx, "in_app", false, func(st *Snapshot) { st.InApp = inApp }, func(ctx context.Context) error {
		return s.storage.Set(ctx, domain.StorageKeyInApp, strconv.FormatBool(inApp))
	})
}

// ApplyVerification stores the outcome of a successful verification call.
// The token is written first; InApp is written only when the response
// carried an explicit boolean.
func (s *Store) ApplyVerification(ctx context.Context, v Verification) error {
	if err := s.SetAccessToken(ctx, v.AccessToken); err != nil {
		return err
	}
	if v.InApp == nil {
		return nil
	}
	return s.SetInApp(ctx, *v.InApp)
}

// Clear logs the session out. Unlike SetAccessToken(ctx, ""), memory is
// cleared and listeners are notified even when the persisted key cannot be
// removed; the persistence error is still returned.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, "access_token", true, func(st *Snapshot) { st.AccessToken = "" }, func(ctx context.Context) error {
		return s.storage.Delete(ctx, domain.StorageKeyAccessToken)
	})
}

// mutate persists, then applies, then notifies. A persistence error aborts the
// mutation unless force is set, in which case memory still changes.
func (s *Store) mutate(ctx context.Context, field string, force bool, apply func(*Snapshot), persist func(context.Context) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, span := tracer.Start(ctx, "session.mutate")
	defer span.End()
	span.SetAttributes(attribute.String("session.field", field))

	var persistErr error
	if s.storage != nil {
		pctx, cancel := context.WithTimeout(ctx, domain.StorageTimeout)
		err := persist(pctx)
		cancel()
		if err != nil {
			persistFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
			observability.FailSpan(span, err)
			persistErr = fmt.Errorf("persist %s: %w", field, err)
			if !force {
				return persistErr
			}
		}
	}

	s.mu.Lock()
	apply(&s.state)
	snap := s.state
	s.mu.Unlock()

	mutationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
	s.notify(snap)
	return persistErr
}

// Subscribe registers l and returns a function that removes it. The returned
// function is safe to call more than once.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	entry := &listenerEntry{fn: l}

	s.mu.Lock()
	s.listeners = append(s.listeners, entry)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.listeners {
				if e == entry {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// notify runs listeners in registration order outside the state lock so they
// may call Read.
func (s *Store) notify(snap Snapshot) {
	s.mu.RLock()
	listeners := make([]*listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, e := range listeners {
		e.fn(snap)
	}
}

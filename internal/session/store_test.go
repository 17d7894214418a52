package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/embedded-checkout/internal/session"
	"github.com/aelexs/embedded-checkout/internal/storage"
)

// countingStorage wraps Memory and records calls. Function fields override
// individual operations.
type countingStorage struct {
	*storage.Memory

	mu     sync.Mutex
	gets   int
	sets   int
	dels   int
	getFn  func(key string) (string, bool, error)
	setErr error
	delErr error
}

func newCountingStorage() *countingStorage {
	return &countingStorage{Memory: storage.NewMemory()}
}

func (c *countingStorage) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	c.gets++
	fn := c.getFn
	c.mu.Unlock()
	if fn != nil {
		return fn(key)
	}
	return c.Memory.Get(ctx, key)
}

func (c *countingStorage) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.sets++
	err := c.setErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Memory.Set(ctx, key, value)
}

func (c *countingStorage) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.dels++
	err := c.delErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Memory.Delete(ctx, key)
}

func (c *countingStorage) value(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := c.Memory.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func newStore(t *testing.T, st session.Storage) *session.Store {
	t.Helper()
	return session.NewStore(session.StoreConfig{Storage: st})
}

func TestInitialize(t *testing.T) {
	t.Run("hydrates persisted record", func(t *testing.T) {
		st := newCountingStorage()
		require.NoError(t, st.Memory.Set(context.Background(), "accessToken", "persisted"))
		require.NoError(t, st.Memory.Set(context.Background(), "inApp", "true"))
		store := newStore(t, st)

		store.Initialize(context.Background())

		want := session.Snapshot{AccessToken: "persisted", InApp: true, Initialized: true}
		if diff := cmp.Diff(want, store.Read()); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no record still initializes", func(t *testing.T) {
		store := newStore(t, newCountingStorage())
		assert.False(t, store.Read().Initialized)

		store.Initialize(context.Background())

		snap := store.Read()
		assert.True(t, snap.Initialized)
		assert.False(t, snap.LoggedIn())
		assert.False(t, snap.InApp)
	})

	t.Run("read failure still initializes", func(t *testing.T) {
		st := newCountingStorage()
		st.getFn = func(string) (string, bool, error) { return "", false, errors.New("storage unavailable") }
		store := newStore(t, st)

		store.Initialize(context.Background())

		want := session.Snapshot{Initialized: true}
		if diff := cmp.Diff(want, store.Read()); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("failed read keeps a token set before hydration", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)
		require.NoError(t, store.SetAccessToken(context.Background(), "from-host"))
		st.getFn = func(string) (string, bool, error) { return "", false, errors.New("storage unavailable") }

		store.Initialize(context.Background())

		want := session.Snapshot{AccessToken: "from-host", Initialized: true}
		if diff := cmp.Diff(want, store.Read()); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no storage keeps a token set before hydration", func(t *testing.T) {
		store := session.NewStore(session.StoreConfig{})
		require.NoError(t, store.SetAccessToken(context.Background(), "from-host"))

		store.Initialize(context.Background())

		assert.Equal(t, "from-host", store.Read().AccessToken)
		assert.True(t, store.Read().Initialized)
	})

	t.Run("second call is a no-op and does not re-read storage", func(t *testing.T) {
		st := newCountingStorage()
		require.NoError(t, st.Memory.Set(context.Background(), "accessToken", "first"))
		store := newStore(t, st)

		store.Initialize(context.Background())
		afterFirst := store.Read()
		readsAfterFirst := st.gets

		require.NoError(t, st.Memory.Set(context.Background(), "accessToken", "changed-behind-our-back"))
		store.Initialize(context.Background())

		assert.Equal(t, readsAfterFirst, st.gets, "storage must not be read again")
		if diff := cmp.Diff(afterFirst, store.Read()); diff != "" {
			t.Errorf("state changed on second Initialize (-first +second):\n%s", diff)
		}
	})

	t.Run("malformed inApp reads as false", func(t *testing.T) {
		st := newCountingStorage()
		require.NoError(t, st.Memory.Set(context.Background(), "inApp", "yes please"))
		store := newStore(t, st)

		store.Initialize(context.Background())

		assert.False(t, store.Read().InApp)
	})

	t.Run("initialized never reverts", func(t *testing.T) {
		store := newStore(t, newCountingStorage())
		store.Initialize(context.Background())

		require.NoError(t, store.SetAccessToken(context.Background(), "tok"))
		require.NoError(t, store.Clear(context.Background()))

		assert.True(t, store.Read().Initialized)
	})
}

func TestSetAccessToken(t *testing.T) {
	t.Run("persists and updates memory", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)

		require.NoError(t, store.SetAccessToken(context.Background(), "tok123"))

		assert.Equal(t, "tok123", store.Read().AccessToken)
		v, ok := st.value(t, "accessToken")
		assert.True(t, ok)
		assert.Equal(t, "tok123", v)
	})

	t.Run("empty token removes the key", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)
		require.NoError(t, store.SetAccessToken(context.Background(), "tok123"))

		require.NoError(t, store.SetAccessToken(context.Background(), ""))

		assert.False(t, store.Read().LoggedIn())
		_, ok := st.value(t, "accessToken")
		assert.False(t, ok)
		assert.Equal(t, 1, st.dels)
	})

	t.Run("persistence failure leaves memory untouched", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)
		require.NoError(t, store.SetAccessToken(context.Background(), "old"))
		st.setErr = errors.New("quota exceeded")

		var notified int
		store.Subscribe(func(session.Snapshot) { notified++ })

		err := store.SetAccessToken(context.Background(), "new")

		require.Error(t, err)
		assert.Equal(t, "old", store.Read().AccessToken)
		assert.Zero(t, notified, "failed mutation must not notify")
	})
}

func TestClear(t *testing.T) {
	t.Run("removes the persisted key", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)
		require.NoError(t, store.SetAccessToken(context.Background(), "tok"))

		require.NoError(t, store.Clear(context.Background()))

		assert.False(t, store.Read().LoggedIn())
		_, ok := st.value(t, "accessToken")
		assert.False(t, ok)
	})

	t.Run("persistence failure still clears memory", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)
		require.NoError(t, store.SetAccessToken(context.Background(), "dead"))
		st.delErr = errors.New("storage unavailable")

		var seen []session.Snapshot
		store.Subscribe(func(s session.Snapshot) { seen = append(seen, s) })

		err := store.Clear(context.Background())

		require.Error(t, err)
		assert.False(t, store.Read().LoggedIn(), "logout must not depend on storage")
		require.Len(t, seen, 1)
		assert.Empty(t, seen[0].AccessToken)
	})
}

func TestSetInApp(t *testing.T) {
	st := newCountingStorage()
	store := newStore(t, st)

	require.NoError(t, store.SetInApp(context.Background(), true))
	v, _ := st.value(t, "inApp")
	assert.Equal(t, "true", v)
	assert.True(t, store.Read().InApp)

	require.NoError(t, store.SetInApp(context.Background(), false))
	v, _ = st.value(t, "inApp")
	assert.Equal(t, "false", v)
	assert.False(t, store.Read().InApp)
}

func TestApplyVerification(t *testing.T) {
	yes := true

	t.Run("explicit inApp is stored", func(t *testing.T) {
		store := newStore(t, newCountingStorage())

		require.NoError(t, store.ApplyVerification(context.Background(), session.Verification{AccessToken: "tok", InApp: &yes}))

		snap := store.Read()
		assert.Equal(t, "tok", snap.AccessToken)
		assert.True(t, snap.InApp)
	})

	t.Run("missing inApp is never defaulted to true", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)

		require.NoError(t, store.ApplyVerification(context.Background(), session.Verification{AccessToken: "tok"}))

		assert.False(t, store.Read().InApp)
		_, ok := st.value(t, "inApp")
		assert.False(t, ok, "inApp must not be written")
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("listeners see memory and storage in agreement", func(t *testing.T) {
		st := newCountingStorage()
		store := newStore(t, st)

		var seen []string
		store.Subscribe(func(s session.Snapshot) {
			persisted, _ := st.value(t, "accessToken")
			assert.Equal(t, s.AccessToken, persisted)
			assert.Equal(t, s, store.Read())
			seen = append(seen, s.AccessToken)
		})

		require.NoError(t, store.SetAccessToken(context.Background(), "a"))
		require.NoError(t, store.SetAccessToken(context.Background(), "b"))
		require.NoError(t, store.SetAccessToken(context.Background(), ""))

		assert.Equal(t, []string{"a", "b", ""}, seen)
	})

	t.Run("initialize notifies", func(t *testing.T) {
		store := newStore(t, newCountingStorage())
		var got []bool
		store.Subscribe(func(s session.Snapshot) { got = append(got, s.Initialized) })

		store.Initialize(context.Background())
		store.Initialize(context.Background())

		assert.Equal(t, []bool{true}, got)
	})

	t.Run("unsubscribe stops delivery and is idempotent", func(t *testing.T) {
		store := newStore(t, newCountingStorage())
		var a, b int
		unsubA := store.Subscribe(func(session.Snapshot) { a++ })
		store.Subscribe(func(session.Snapshot) { b++ })

		require.NoError(t, store.SetInApp(context.Background(), true))
		unsubA()
		unsubA()
		require.NoError(t, store.SetInApp(context.Background(), false))

		assert.Equal(t, 1, a)
		assert.Equal(t, 2, b)
	})
}

func TestConcurrentMutationsAreNotTorn(t *testing.T) {
	st := newCountingStorage()
	store := newStore(t, st)
	store.Initialize(context.Background())

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tok := "tok"
			if i%2 == 0 {
				tok = ""
			}
			assert.NoError(t, store.SetAccessToken(context.Background(), tok))
		}(i)
	}
	wg.Wait()

	persisted, _ := st.value(t, "accessToken")
	assert.Equal(t, persisted, store.Read().AccessToken)
}

package facade

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/metrics"
	"github.com/otiai10/mapsync/internal/presence"
	"github.com/otiai10/mapsync/internal/store"
)

// fakeSignIn implements auth.GoogleSignIn
type fakeSignIn struct {
	sessions map[string]*auth.Session
	err      error
}

func (f *fakeSignIn) SignInWithGoogle(ctx context.Context, googleIDToken string) (*auth.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[googleIDToken]
	if !ok {
		return nil, errors.New("INVALID_IDP_RESPONSE")
	}
	return s, nil
}

// failingStore rejects every operation
type failingStore struct {
	err error
}

func (s *failingStore) Set(ctx context.Context, uid string, rec presence.Record) error {
	return s.err
}

func (s *failingStore) Users(ctx context.Context) (presence.Users, error) {
	return nil, s.err
}

func (s *failingStore) Watch(ctx context.Context, fn store.Handler) (*store.Subscription, error) {
	return nil, s.err
}

func (s *failingStore) Close() error { return nil }

// collector gathers users snapshots delivered to a handler
type collector struct {
	mu  sync.Mutex
	got []presence.Users
	ch  chan presence.Users
}

func newCollector() *collector {
	return &collector{ch: make(chan presence.Users, 64)}
}

func (c *collector) handle(users presence.Users) {
	c.mu.Lock()
	c.got = append(c.got, users)
	c.mu.Unlock()
	c.ch <- users
}

func (c *collector) next(t *testing.T) presence.Users {
	t.Helper()
	select {
	case users := <-c.ch:
		return users
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for users snapshot")
		return nil
	}
}

func newTestFacade(t *testing.T, opts ...Option) (*Facade, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	provider := &fakeSignIn{sessions: map[string]*auth.Session{
		"alice-token": {UID: "alice", DisplayName: "Alice", ProviderID: auth.ProviderGoogle, IDToken: "fb-alice"},
		"bob-token":   {UID: "bob", DisplayName: "Bob", ProviderID: auth.ProviderGoogle, IDToken: "fb-bob"},
	}}
	return New(auth.NewClient(provider), st, opts...), st
}

func TestUpdateUserPos_ThenListenUsers(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t)

	require.NoError(t, f.UpdateUserPos(ctx, "u1", 10, 20, "driver", "Alice"))

	c := newCollector()
	sub, err := f.ListenUsers(ctx, c.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, presence.Users{
		"u1": {Lat: 10, Lng: 20, Tipo: "driver", DisplayName: "Alice"},
	}, c.next(t))
}

func TestListenUsers_EmptyThenChanges(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t)

	c := newCollector()
	sub, err := f.ListenUsers(ctx, c.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := c.next(t)
	assert.NotNil(t, first)
	assert.Empty(t, first)

	require.NoError(t, f.UpdateUserPos(ctx, "u1", 1, 2, "walker", "A"))
	assert.Len(t, c.next(t), 1)

	require.NoError(t, f.UpdateUserPos(ctx, "u2", 3, 4, "driver", "B"))
	assert.Len(t, c.next(t), 2)
}

func TestUpdateUserPos_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t)

	require.NoError(t, f.UpdateUserPos(ctx, "u1", 1, 1, "walker", "Old"))
	require.NoError(t, f.UpdateUserPos(ctx, "u1", 2, 2, "driver", ""))

	users, err := f.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, presence.Users{"u1": {Lat: 2, Lng: 2, Tipo: "driver"}}, users)
}

func TestListenUsers_SeesAllPriorWrites(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t)

	for i, uid := range []string{"a", "b", "c", "d"} {
		require.NoError(t, f.UpdateUserPos(ctx, uid, float64(i), float64(i), "t", uid))
	}

	c := newCollector()
	sub, err := f.ListenUsers(ctx, c.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Len(t, c.next(t), 4)
}

func TestUpdateUserPos_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		uid  string
		lat  float64
		lng  float64
	}{
		{name: "empty uid", uid: "", lat: 0, lng: 0},
		{name: "uid with slash", uid: "a/b", lat: 0, lng: 0},
		{name: "uid with dot", uid: "a.b", lat: 0, lng: 0},
		{name: "NaN lat", uid: "u1", lat: math.NaN(), lng: 0},
		{name: "infinite lng", uid: "u1", lat: 0, lng: math.Inf(1)},
		{name: "lat out of range", uid: "u1", lat: 91, lng: 0},
		{name: "lng out of range", uid: "u1", lat: 0, lng: -180.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f, st := newTestFacade(t)

			err := f.UpdateUserPos(ctx, tt.uid, tt.lat, tt.lng, "driver", "X")
			assert.ErrorIs(t, err, presence.ErrInvalidRecord)

			users, err := st.Users(ctx)
			require.NoError(t, err)
			assert.Empty(t, users, "nothing must be written")
		})
	}
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("permission denied")
	f := New(nil, &failingStore{err: cause})

	err := f.UpdateUserPos(ctx, "u1", 1, 2, "driver", "A")
	assert.ErrorIs(t, err, presence.ErrWrite)
	assert.ErrorIs(t, err, cause)

	_, err = f.Users(ctx)
	assert.ErrorIs(t, err, presence.ErrSubscription)
	assert.ErrorIs(t, err, cause)

	sub, err := f.ListenUsers(ctx, func(presence.Users) {})
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, presence.ErrSubscription)
	assert.ErrorIs(t, err, cause)
}

func TestListenUsers_StoreClosedEndsSubscription(t *testing.T) {
	ctx := context.Background()
	f, st := newTestFacade(t)

	c := newCollector()
	sub, err := f.ListenUsers(ctx, c.handle)
	require.NoError(t, err)
	c.next(t)

	require.NoError(t, st.Close())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.ErrorIs(t, sub.Err(), presence.ErrSubscription)
}

func TestListenUsers_CancelStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f, _ := newTestFacade(t)

	c := newCollector()
	sub, err := f.ListenUsers(ctx, c.handle)
	require.NoError(t, err)
	c.next(t)

	cancel()
	<-sub.Done()
	assert.NoError(t, sub.Err())

	require.NoError(t, f.UpdateUserPos(context.Background(), "u1", 1, 1, "t", "n"))
	select {
	case users := <-c.ch:
		t.Fatalf("unexpected snapshot after cancel: %v", users)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoginGoogle(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t)

	session, err := f.LoginGoogle(ctx, "alice-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", session.UID)
	assert.Equal(t, "alice", f.CurrentSession().UID)

	f.Logout()
	assert.Nil(t, f.CurrentSession())
}

func TestLoginGoogle_Failures(t *testing.T) {
	ctx := context.Background()

	f, _ := newTestFacade(t)
	_, err := f.LoginGoogle(ctx, "")
	assert.ErrorIs(t, err, presence.ErrAuth)

	_, err = f.LoginGoogle(ctx, "unknown-token")
	assert.ErrorIs(t, err, presence.ErrAuth)
	assert.Nil(t, f.CurrentSession(), "failed sign-in leaves the session unchanged")

	cause := errors.New("network unreachable")
	broken := New(auth.NewClient(&fakeSignIn{err: cause}), store.NewMemoryStore())
	_, err = broken.LoginGoogle(ctx, "alice-token")
	assert.ErrorIs(t, err, presence.ErrAuth)
	assert.ErrorIs(t, err, cause)

	unconfigured := New(nil, store.NewMemoryStore())
	_, err = unconfigured.LoginGoogle(ctx, "alice-token")
	assert.ErrorIs(t, err, presence.ErrAuth)
}

func TestListenAuth_OncePerTransition(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t)

	var got []string
	unsubscribe := f.ListenAuth(func(s *auth.Session) {
		if s == nil {
			got = append(got, "signed-out")
			return
		}
		got = append(got, s.UID)
	})

	_, err := f.LoginGoogle(ctx, "alice-token")
	require.NoError(t, err)
	_, err = f.LoginGoogle(ctx, "alice-token") // same user, no transition
	require.NoError(t, err)
	_, err = f.LoginGoogle(ctx, "bob-token")
	require.NoError(t, err)
	f.Logout()
	f.Logout() // already signed out

	assert.Equal(t, []string{"alice", "bob", "signed-out"}, got)

	unsubscribe()
	unsubscribe()
	_, err = f.LoginGoogle(ctx, "alice-token")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _ := newTestFacade(t, WithMetrics(m))

	require.NoError(t, f.UpdateUserPos(ctx, "u1", 1, 1, "t", "n"))
	assert.Error(t, f.UpdateUserPos(ctx, "", 1, 1, "t", "n"))
	_, _ = f.LoginGoogle(ctx, "alice-token")
	_, _ = f.LoginGoogle(ctx, "nope")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionWritesTotal.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionWritesTotal.WithLabelValues(metrics.ResultInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignInsTotal.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignInsTotal.WithLabelValues(metrics.ResultError)))

	c := newCollector()
	sub, err := f.ListenUsers(ctx, c.handle)
	require.NoError(t, err)
	c.next(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSubscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsDelivered))

	sub.Unsubscribe()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveSubscriptions) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SubscriptionFailures))
}

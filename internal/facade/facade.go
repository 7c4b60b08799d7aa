// Package facade exposes the presence operations applications use: Google
// sign-in, auth-state listening, position writes and the users watch.
// It holds no presence state of its own and is safe for concurrent use.
package facade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/metrics"
	"github.com/otiai10/mapsync/internal/presence"
	"github.com/otiai10/mapsync/internal/store"
)

// Facade translates application calls into auth and store calls
type Facade struct {
	auth    *auth.Client
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option is a functional option for configuring the Facade.
type Option func(*Facade)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records sign-ins, writes and subscriptions in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Facade) {
		f.metrics = m
	}
}

// New creates a Facade over the given auth client and store.
// A nil authClient yields a facade whose LoginGoogle always fails.
func New(authClient *auth.Client, st store.Store, opts ...Option) *Facade {
	if authClient == nil {
		authClient = auth.NewClient(nil)
	}
	f := &Facade{
		auth:   authClient,
		store:  st,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoginGoogle exchanges a Google ID token for a Firebase session and makes it
// the current session. Failures wrap presence.ErrAuth.
func (f *Facade) LoginGoogle(ctx context.Context, googleIDToken string) (*auth.Session, error) {
	if googleIDToken == "" {
		f.countSignIn(metrics.ResultInvalid)
		return nil, fmt.Errorf("%w: google id token is required", presence.ErrAuth)
	}

	session, err := f.auth.SignInWithGoogle(ctx, googleIDToken)
	if err != nil {
		f.countSignIn(metrics.ResultError)
		f.logger.Warn("google sign-in failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", presence.ErrAuth, err)
	}

	f.countSignIn(metrics.ResultOK)
	f.logger.Info("signed in", zap.String("uid", session.UID), zap.String("provider", session.ProviderID))
	return session, nil
}

// SignInEnabled reports whether LoginGoogle can succeed at all
func (f *Facade) SignInEnabled() bool {
	return f.auth.CanSignIn()
}

// Logout clears the current session
func (f *Facade) Logout() {
	f.auth.SignOut()
}

// CurrentSession returns the signed-in session or nil
func (f *Facade) CurrentSession() *auth.Session {
	return f.auth.CurrentSession()
}

// ListenAuth calls fn on every session transition, with nil after a
// sign-out. The returned function unregisters fn.
func (f *Facade) ListenAuth(fn func(*auth.Session)) (unsubscribe func()) {
	return f.auth.OnAuthStateChanged(fn)
}

// UpdateUserPos overwrites the record of uid. Invalid input wraps
// presence.ErrInvalidRecord and is not written; store failures wrap
// presence.ErrWrite.
func (f *Facade) UpdateUserPos(ctx context.Context, uid string, lat, lng float64, tipo, displayName string) error {
	rec := presence.Record{Lat: lat, Lng: lng, Tipo: tipo, DisplayName: displayName}
	if err := presence.ValidateUID(uid); err != nil {
		f.countWrite(metrics.ResultInvalid)
		return err
	}
	if err := rec.Validate(); err != nil {
		f.countWrite(metrics.ResultInvalid)
		return err
	}

	if err := f.store.Set(ctx, uid, rec); err != nil {
		f.countWrite(metrics.ResultError)
		f.logger.Error("position write failed", zap.String("uid", uid), zap.Error(err))
		return fmt.Errorf("%w: %w", presence.ErrWrite, err)
	}

	f.countWrite(metrics.ResultOK)
	f.logger.Debug("position written",
		zap.String("uid", uid),
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("tipo", tipo),
	)
	return nil
}

// Users returns the current users mapping once. Failures wrap
// presence.ErrSubscription.
func (f *Facade) Users(ctx context.Context) (presence.Users, error) {
	users, err := f.store.Users(ctx)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return users, nil
}

// ListenUsers calls fn with the full users mapping now and after every
// change, until ctx is cancelled or the subscription is stopped. Calls are
// serialized and arrive in store order. A watch that fails ends the
// subscription and Err reports an error wrapping presence.ErrSubscription.
func (f *Facade) ListenUsers(ctx context.Context, fn func(presence.Users)) (*store.Subscription, error) {
	handler := func(users presence.Users) {
		if f.metrics != nil {
			f.metrics.SnapshotsDelivered.Inc()
		}
		fn(users)
	}

	sub, err := f.store.Watch(ctx, handler)
	if err != nil {
		f.logger.Error("users watch failed to start", zap.Error(err))
		return nil, subscriptionError(err)
	}

	if f.metrics != nil {
		f.metrics.ActiveSubscriptions.Inc()
	}
	go f.track(sub)
	return sub, nil
}

// track waits for the subscription to end and records how it ended
func (f *Facade) track(sub *store.Subscription) {
	<-sub.Done()
	if f.metrics != nil {
		f.metrics.ActiveSubscriptions.Dec()
	}
	if err := sub.Err(); err != nil {
		if f.metrics != nil {
			f.metrics.SubscriptionFailures.Inc()
		}
		f.logger.Warn("users subscription ended", zap.Error(err))
	}
}

func (f *Facade) countSignIn(result string) {
	if f.metrics != nil {
		f.metrics.SignInsTotal.WithLabelValues(result).Inc()
	}
}

func (f *Facade) countWrite(result string) {
	if f.metrics != nil {
		f.metrics.PositionWritesTotal.WithLabelValues(result).Inc()
	}
}

func subscriptionError(err error) error {
	if errors.Is(err, presence.ErrSubscription) {
		return err
	}
	return fmt.Errorf("%w: %w", presence.ErrSubscription, err)
}

package api

import (
	"context"
	"errors"
	"testing"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/presence"
	"github.com/otiai10/mapsync/internal/store"
)

// mockTokenVerifier implements auth.TokenVerifier for testing
type mockTokenVerifier struct {
	claims map[string]*auth.Claims // token -> claims
}

func (m *mockTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Claims, error) {
	c, ok := m.claims[idToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// mockSignIn implements auth.GoogleSignIn for testing
type mockSignIn struct {
	sessions map[string]*auth.Session // google id token -> session
}

func (m *mockSignIn) SignInWithGoogle(ctx context.Context, googleIDToken string) (*auth.Session, error) {
	s, ok := m.sessions[googleIDToken]
	if !ok {
		return nil, errors.New("INVALID_IDP_RESPONSE")
	}
	return s, nil
}

// brokenStore fails every operation
type brokenStore struct{}

func (brokenStore) Set(ctx context.Context, uid string, rec presence.Record) error {
	return errors.New("permission denied")
}

func (brokenStore) Users(ctx context.Context) (presence.Users, error) {
	return nil, errors.New("permission denied")
}

func (brokenStore) Watch(ctx context.Context, fn store.Handler) (*store.Subscription, error) {
	return nil, errors.New("permission denied")
}

func (brokenStore) Close() error { return nil }

func newTestFacade(t *testing.T) (*facade.Facade, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return facade.New(nil, st), st
}

func testVerifier() *mockTokenVerifier {
	return &mockTokenVerifier{claims: map[string]*auth.Claims{
		"alice-token": {UID: "alice", Name: "Alice", Email: "alice@example.com", ProviderID: auth.ProviderGoogle},
		"bob-token":   {UID: "bob", Name: "Bob", ProviderID: auth.ProviderGoogle},
	}}
}

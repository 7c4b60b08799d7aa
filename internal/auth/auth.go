// Package auth provides Google sign-in, Firebase ID token verification and
// the auth-state listener used by the presence facade
package auth

import (
	"context"
	"time"
)

// Claims represents the decoded JWT claims from Firebase Auth
type Claims struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
}

// TokenVerifier verifies Firebase ID tokens
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Claims, error)
}

// Session is a signed-in Firebase user together with its tokens
type Session struct {
	UID          string    `json:"uid"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email,omitempty"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	ProviderID   string    `json:"providerId"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Copy returns a copy of the session so listeners cannot mutate shared state
func (s *Session) Copy() *Session {
	if s == nil {
		return nil
	}
	copied := *s
	return &copied
}

// GoogleSignIn exchanges a Google OAuth ID token for a Firebase session
type GoogleSignIn interface {
	SignInWithGoogle(ctx context.Context, googleIDToken string) (*Session, error)
}

// ProviderGoogle is the Firebase provider ID for Google sign-in
const ProviderGoogle = "google.com"

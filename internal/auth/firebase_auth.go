package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseAuth "firebase.google.com/go/v4/auth"
)

// idTokenVerifier is an interface for verifying ID tokens
// Both firebaseAuth.Client and firebaseAuth.TenantClient implement this
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseAuth.Token, error)
}

// FirebaseTokenVerifier implements TokenVerifier using Firebase Admin SDK
type FirebaseTokenVerifier struct {
	verifier idTokenVerifier
	tenantID string
}

// Ensure FirebaseTokenVerifier implements TokenVerifier interface
var _ TokenVerifier = (*FirebaseTokenVerifier)(nil)

// NewFirebaseTokenVerifier creates a verifier from an initialized Firebase app.
// A non-empty tenantID scopes verification to an Identity Platform tenant.
func NewFirebaseTokenVerifier(ctx context.Context, app *firebase.App, tenantID string) (*FirebaseTokenVerifier, error) {
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth client: %w", err)
	}

	if tenantID == "" {
		return &FirebaseTokenVerifier{verifier: authClient}, nil
	}

	tenantClient, err := authClient.TenantManager.AuthForTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant auth client for %s: %w", tenantID, err)
	}
	return &FirebaseTokenVerifier{verifier: tenantClient, tenantID: tenantID}, nil
}

// TenantID returns the tenant the verifier is scoped to, or ""
func (v *FirebaseTokenVerifier) TenantID() string {
	return v.tenantID
}

// VerifyIDToken verifies a Firebase ID token and returns the decoded claims
func (v *FirebaseTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Claims, error) {
	token, err := v.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	return claimsFromToken(token), nil
}

func claimsFromToken(token *firebaseAuth.Token) *Claims {
	return &Claims{
		UID:           token.UID,
		Email:         getStringClaim(token.Claims, "email"),
		EmailVerified: getBoolClaim(token.Claims, "email_verified"),
		Name:          getStringClaim(token.Claims, "name"),
		Picture:       getStringClaim(token.Claims, "picture"),
		ProviderID:    token.Firebase.SignInProvider,
	}
}

// getStringClaim safely extracts a string claim from the claims map
func getStringClaim(claims map[string]any, key string) string {
	str, _ := claims[key].(string)
	return str
}

// getBoolClaim safely extracts a boolean claim from the claims map
func getBoolClaim(claims map[string]any, key string) bool {
	b, _ := claims[key].(bool)
	return b
}

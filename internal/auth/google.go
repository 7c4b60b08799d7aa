package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// DefaultRequestURI is sent as the continue URI of the IdP assertion.
// Identity Toolkit only requires it to be a syntactically valid URL.
const DefaultRequestURI = "http://localhost"

type verifyAssertionFunc func(ctx context.Context, req *identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest) (*identitytoolkit.VerifyAssertionResponse, error)

// GoogleProviderConfig holds configuration for GoogleProvider
type GoogleProviderConfig struct {
	APIKey     string // Firebase web API key (required)
	RequestURI string // optional, defaults to DefaultRequestURI
	TenantID   string // optional Identity Platform tenant
}

// GoogleProvider signs users in with a Google ID token through the Identity
// Toolkit verifyAssertion endpoint, which is what the Firebase web SDK's
// popup flow calls once Google has returned the credential
type GoogleProvider struct {
	verify     verifyAssertionFunc
	requestURI string
	tenantID   string
	now        func() time.Time
}

// Ensure GoogleProvider implements GoogleSignIn interface
var _ GoogleSignIn = (*GoogleProvider)(nil)

// NewGoogleProvider creates an Identity Toolkit client authenticated with the API key
func NewGoogleProvider(ctx context.Context, cfg GoogleProviderConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create identity toolkit client: %w", err)
	}

	verify := func(ctx context.Context, req *identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest) (*identitytoolkit.VerifyAssertionResponse, error) {
		return svc.Relyingparty.VerifyAssertion(req).Context(ctx).Do()
	}
	return newGoogleProvider(verify, cfg), nil
}

func newGoogleProvider(verify verifyAssertionFunc, cfg GoogleProviderConfig) *GoogleProvider {
	requestURI := cfg.RequestURI
	if requestURI == "" {
		requestURI = DefaultRequestURI
	}
	return &GoogleProvider{
		verify:     verify,
		requestURI: requestURI,
		tenantID:   cfg.TenantID,
		now:        time.Now,
	}
}

// SignInWithGoogle exchanges googleIDToken for a Firebase session.
// New Google users are created by the endpoint on first sign-in.
func (p *GoogleProvider) SignInWithGoogle(ctx context.Context, googleIDToken string) (*Session, error) {
	if googleIDToken == "" {
		return nil, fmt.Errorf("google ID token is required")
	}

	postBody := url.Values{}
	postBody.Set("id_token", googleIDToken)
	postBody.Set("providerId", ProviderGoogle)

	resp, err := p.verify(ctx, &identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          postBody.Encode(),
		RequestUri:        p.requestURI,
		ReturnSecureToken: true,
		TenantId:          p.tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify google assertion: %w", err)
	}
	if resp.ErrorMessage != "" {
		return nil, fmt.Errorf("google sign-in rejected: %s", resp.ErrorMessage)
	}
	if resp.IdToken == "" || resp.LocalId == "" {
		return nil, fmt.Errorf("google sign-in returned no session")
	}

	return &Session{
		UID:          resp.LocalId,
		DisplayName:  resp.DisplayName,
		Email:        resp.Email,
		PhotoURL:     resp.PhotoUrl,
		ProviderID:   ProviderGoogle,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    p.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

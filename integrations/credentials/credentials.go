// Package credentials persists and retrieves per-integration credential
// material: static secrets and OAuth token pairs. The Manager layers expiry
// tracking and deduplicated refresh on top of any Store implementation.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumhq/agentrun/integrations"
)

type (
	// Type discriminates credential material.
	Type string

	// OAuthTokens is an OAuth credential pair with its expiry.
	OAuthTokens struct {
		// AccessToken is the bearer token presented to the provider.
		AccessToken string `json:"access_token"`
		// RefreshToken is exchanged for a new pair when the access token
		// expires. Providers commonly invalidate it after first use.
		RefreshToken string `json:"refresh_token"`
		// Expiry is the access token expiry.
		Expiry time.Time `json:"expiry"`
	}

	// Credential is either a static secret or an OAuth token pair.
	Credential struct {
		// Type discriminates the material.
		Type Type `json:"type"`
		// Secret holds the static secret when Type is TypeSecret.
		Secret string `json:"secret,omitempty"`
		// OAuth holds the token pair when Type is TypeOAuth.
		OAuth *OAuthTokens `json:"oauth,omitempty"`
	}

	// Store persists credential material per provider. Implementations must
	// treat Set as an upsert.
	Store interface {
		// Get returns the stored credential or a NotFoundError.
		Get(ctx context.Context, provider integrations.Provider) (Credential, error)
		// Set upserts the credential for the provider.
		Set(ctx context.Context, provider integrations.Provider, cred Credential) error
	}

	// Refresher exchanges an expired OAuth credential for a fresh one.
	// Provider integrations implement it against their token endpoints.
	Refresher interface {
		Refresh(ctx context.Context, provider integrations.Provider, cred Credential) (Credential, error)
	}
)

const (
	// TypeSecret marks a static secret such as an API key.
	TypeSecret Type = "secret"
	// TypeOAuth marks an OAuth access/refresh token pair.
	TypeOAuth Type = "oauth"
)

// Expired reports whether the credential is an OAuth pair whose access token
// expiry has passed. Static secrets never expire.
func (c Credential) Expired(now time.Time) bool {
	if c.Type != TypeOAuth || c.OAuth == nil {
		return false
	}
	return !c.OAuth.Expiry.IsZero() && !now.Before(c.OAuth.Expiry)
}

// Token returns the secret material to present to the provider.
func (c Credential) Token() string {
	if c.Type == TypeOAuth && c.OAuth != nil {
		return c.OAuth.AccessToken
	}
	return c.Secret
}

// NotFoundError reports a provider with no configured credential.
type NotFoundError struct {
	// Provider is the provider without credentials.
	Provider integrations.Provider
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no credential configured for provider %q", e.Provider)
}

// RefreshError reports a failed OAuth refresh. The stored credential is left
// untouched so callers may retry, or knowingly use the stale material.
type RefreshError struct {
	// Provider is the provider whose refresh failed.
	Provider integrations.Provider
	// Cause is the underlying failure.
	Cause error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	return fmt.Sprintf("credential refresh failed for provider %q: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *RefreshError) Unwrap() error { return e.Cause }

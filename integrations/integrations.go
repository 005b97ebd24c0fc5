// Package integrations defines the provider integration contract and the
// registry that maps provider identifiers to live integration instances.
// Concrete providers (GitHub, Google Calendar, Jira, ...) live in
// subpackages and satisfy the Integration interface; the core only depends on
// the shared contract.
package integrations

import (
	"context"
	"fmt"
	"time"
)

type (
	// Provider identifies an external service provider (e.g., "github").
	Provider string

	// Config configures an integration instance. It is supplied at
	// construction and immutable thereafter.
	Config struct {
		// Provider is the provider identifier.
		Provider Provider
		// CredentialRef names the credential entry used to authenticate.
		CredentialRef string
		// Settings carries provider-specific settings (endpoints, account
		// identifiers, webhook secrets references).
		Settings map[string]string
	}

	// Session is a credential-backed session established by Authenticate.
	Session struct {
		// Provider is the provider the session authenticates against.
		Provider Provider
		// Token is the bearer secret or OAuth access token.
		Token string
		// Expiry is the token expiry. Zero for static secrets.
		Expiry time.Time
	}

	// WebhookDelivery is an inbound provider-originated notification. It must
	// be verified before processing.
	WebhookDelivery struct {
		// Provider identifies the sending provider.
		Provider Provider
		// DeliveryID is the provider-assigned delivery identifier.
		DeliveryID string
		// Body is the raw request body.
		Body []byte
		// Signature is the provider signature header value.
		Signature string
		// Headers carries additional verification metadata.
		Headers map[string]string
		// ReceivedAt is the time the delivery was received.
		ReceivedAt time.Time
	}

	// Integration is the contract every provider implementation satisfies.
	// One instance exists per configured provider per workspace.
	Integration interface {
		// Provider returns the provider identifier.
		Provider() Provider
		// Authenticate establishes a credential-backed session.
		Authenticate(ctx context.Context) (Session, error)
		// VerifyWebhook checks delivery authenticity using the provider's
		// verification method. Unverified deliveries are never handled.
		VerifyWebhook(d WebhookDelivery) error
		// HandleWebhook processes a verified delivery. Idempotency is a
		// per-provider property, documented by each implementation.
		HandleWebhook(ctx context.Context, d WebhookDelivery) error
	}
)

// String returns the provider identifier as a plain string.
func (p Provider) String() string { return string(p) }

// NotConfiguredError reports a lookup for a provider with no registered
// integration.
type NotConfiguredError struct {
	// Provider is the unknown provider.
	Provider Provider
}

// Error implements the error interface.
func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("integration not configured for provider %q", e.Provider)
}

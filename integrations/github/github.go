// Package github implements the GitHub provider integration: webhook
// signature verification, credential-backed authentication, OAuth token
// refresh against the GitHub token endpoint and App installation JWTs.
package github

import (
	"context"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/credentials"
	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
)

// ProviderID is the provider identifier the integration registers under.
const ProviderID integrations.Provider = "github"

const (
	// signaturePrefix is the scheme prefix GitHub puts in front of the hex
	// HMAC digest in X-Hub-Signature-256.
	signaturePrefix = "sha256="

	// eventHeader names the webhook event type ("push", "issues", ...).
	eventHeader = "X-GitHub-Event"

	defaultTokenURL = "https://github.com/login/oauth/access_token"
)

type (
	// Doer issues HTTP requests. *http.Client satisfies it; tests substitute
	// a fake.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// EventHandler processes one verified webhook event type.
	EventHandler func(ctx context.Context, d integrations.WebhookDelivery) error

	// Integration is the GitHub provider integration. Webhook handling is
	// idempotent: redeliveries of an already-processed delivery ID are
	// acknowledged without re-running handlers.
	Integration struct {
		cfg           integrations.Config
		webhookSecret []byte
		creds         *credentials.Manager
		logger        telemetry.Logger

		mu       sync.Mutex
		handlers map[string]EventHandler
		seen     map[string]struct{}
	}

	// Option configures an Integration.
	Option func(*Integration)
)

// WithLogger configures the integration logger. When nil, a noop logger is
// used.
func WithLogger(logger telemetry.Logger) Option {
	return func(i *Integration) {
		i.logger = logger
	}
}

// New returns a GitHub integration. webhookSecret is the shared secret GitHub
// signs deliveries with; creds serves the credential named by
// cfg.CredentialRef.
func New(cfg integrations.Config, webhookSecret string, creds *credentials.Manager, opts ...Option) (*Integration, error) {
	if webhookSecret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if creds == nil {
		return nil, errors.New("credential manager is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderID
	}
	i := &Integration{
		cfg:           cfg,
		webhookSecret: []byte(webhookSecret),
		creds:         creds,
		logger:        telemetry.NewNoopLogger(),
		handlers:      make(map[string]EventHandler),
		seen:          make(map[string]struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(i)
		}
	}
	return i, nil
}

// Provider implements integrations.Integration.
func (i *Integration) Provider() integrations.Provider { return i.cfg.Provider }

// HandleEvent registers a handler for a webhook event type. The last
// registration for an event wins.
func (i *Integration) HandleEvent(event string, h EventHandler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[event] = h
}

// Authenticate implements integrations.Integration. Expired OAuth material is
// refreshed by the credential manager before the session is returned.
func (i *Integration) Authenticate(ctx context.Context) (integrations.Session, error) {
	cred, err := i.creds.Get(ctx, i.cfg.Provider)
	if err != nil {
		return integrations.Session{}, err
	}
	session := integrations.Session{
		Provider: i.cfg.Provider,
		Token:    cred.Token(),
	}
	if cred.OAuth != nil {
		session.Expiry = cred.OAuth.Expiry
	}
	return session, nil
}

// VerifyWebhook implements integrations.Integration. GitHub signs the raw
// request body with HMAC-SHA256 and sends the hex digest in
// X-Hub-Signature-256; comparison is constant time.
func (i *Integration) VerifyWebhook(d integrations.WebhookDelivery) error {
	sig := d.Signature
	if sig == "" {
		sig = d.Headers["X-Hub-Signature-256"]
	}
	if !strings.HasPrefix(sig, signaturePrefix) {
		return fmt.Errorf("missing or malformed signature header")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(sig, signaturePrefix))
	if err != nil {
		return fmt.Errorf("malformed signature digest: %w", err)
	}
	mac := hmac.New(sha256.New, i.webhookSecret)
	mac.Write(d.Body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// HandleWebhook implements integrations.Integration. The delivery must
// already be verified. Deliveries with an already-seen delivery ID are
// acknowledged without re-invoking the handler.
func (i *Integration) HandleWebhook(ctx context.Context, d integrations.WebhookDelivery) error {
	event := d.Headers[eventHeader]
	if event == "" {
		return errors.New("missing event type header")
	}

	i.mu.Lock()
	if _, dup := i.seen[d.DeliveryID]; dup {
		i.mu.Unlock()
		i.logger.Debug(ctx, "skipping redelivered webhook",
			"delivery_id", d.DeliveryID,
			"event", event,
		)
		return nil
	}
	i.seen[d.DeliveryID] = struct{}{}
	handler := i.handlers[event]
	i.mu.Unlock()

	if handler == nil {
		i.logger.Debug(ctx, "no handler for webhook event", "event", event)
		return nil
	}
	if err := handler(ctx, d); err != nil {
		// Allow a redelivery to retry after a handler fault.
		i.mu.Lock()
		delete(i.seen, d.DeliveryID)
		i.mu.Unlock()
		return fmt.Errorf("handle %s event: %w", event, err)
	}
	return nil
}

// TokenRefresher exchanges expired OAuth credentials at the GitHub token
// endpoint. It satisfies credentials.Refresher.
type TokenRefresher struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpc        Doer
	now          func() time.Time
}

// RefresherOption configures a TokenRefresher.
type RefresherOption func(*TokenRefresher)

// WithTokenURL overrides the token endpoint. Tests point it at a local
// server.
func WithTokenURL(u string) RefresherOption {
	return func(r *TokenRefresher) {
		r.tokenURL = u
	}
}

// WithHTTPClient overrides the HTTP client used for the exchange.
func WithHTTPClient(c Doer) RefresherOption {
	return func(r *TokenRefresher) {
		r.httpc = c
	}
}

// WithRefresherClock overrides the clock used to compute token expiry.
func WithRefresherClock(now func() time.Time) RefresherOption {
	return func(r *TokenRefresher) {
		r.now = now
	}
}

// NewTokenRefresher returns a refresher for the GitHub OAuth app identified
// by clientID/clientSecret.
func NewTokenRefresher(clientID, clientSecret string, opts ...RefresherOption) *TokenRefresher {
	r := &TokenRefresher{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     defaultTokenURL,
		httpc:        http.DefaultClient,
		now:          time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// tokenResponse is the GitHub token endpoint response shape.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresh implements credentials.Refresher.
func (r *TokenRefresher) Refresh(ctx context.Context, provider integrations.Provider, cred credentials.Credential) (credentials.Credential, error) {
	if cred.OAuth == nil || cred.OAuth.RefreshToken == "" {
		return credentials.Credential{}, errors.New("no refresh token available")
	}

	form := url.Values{
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.OAuth.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return credentials.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("token endpoint request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return credentials.Credential{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credentials.Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return credentials.Credential{}, fmt.Errorf("token endpoint error %q: %s", tr.Error, tr.ErrorDescription)
	}
	if tr.AccessToken == "" {
		return credentials.Credential{}, errors.New("token endpoint returned no access token")
	}

	fresh := credentials.Credential{
		Type: credentials.TypeOAuth,
		OAuth: &credentials.OAuthTokens{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
		},
	}
	// GitHub rotates the refresh token on some app configurations; keep the
	// old one when the response omits it.
	if fresh.OAuth.RefreshToken == "" {
		fresh.OAuth.RefreshToken = cred.OAuth.RefreshToken
	}
	if tr.ExpiresIn > 0 {
		fresh.OAuth.Expiry = r.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return fresh, nil
}

// AppTokenMinter mints short-lived RS256 JWTs used to authenticate as a
// GitHub App when requesting installation tokens.
type AppTokenMinter struct {
	appID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewAppTokenMinter returns a minter for the App identified by appID signing
// with key.
func NewAppTokenMinter(appID string, key *rsa.PrivateKey) (*AppTokenMinter, error) {
	if appID == "" {
		return nil, errors.New("app ID is required")
	}
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	return &AppTokenMinter{appID: appID, key: key, now: time.Now}, nil
}

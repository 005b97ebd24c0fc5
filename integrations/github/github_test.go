package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/credentials"
	"github.com/quorumhq/agentrun/integrations/credentials/inmem"
)

const testSecret = "wh-secret"

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func newIntegration(t *testing.T, store credentials.Store, refresher credentials.Refresher) *Integration {
	t.Helper()
	i, err := New(
		integrations.Config{Provider: ProviderID, CredentialRef: "github"},
		testSecret,
		credentials.NewManager(store, refresher),
	)
	require.NoError(t, err)
	return i
}

func TestVerifyWebhook(t *testing.T) {
	t.Parallel()

	i := newIntegration(t, inmem.New(), nil)
	body := []byte(`{"action":"opened"}`)

	cases := []struct {
		name      string
		signature string
		ok        bool
	}{
		{"valid", sign(testSecret, body), true},
		{"wrong secret", sign("other", body), false},
		{"missing prefix", "deadbeef", false},
		{"not hex", signaturePrefix + "zz", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := i.VerifyWebhook(integrations.WebhookDelivery{
				Provider:  ProviderID,
				Body:      body,
				Signature: tc.signature,
			})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestVerifyWebhookFallsBackToHeader(t *testing.T) {
	t.Parallel()

	i := newIntegration(t, inmem.New(), nil)
	body := []byte(`{}`)
	err := i.VerifyWebhook(integrations.WebhookDelivery{
		Provider: ProviderID,
		Body:     body,
		Headers:  map[string]string{"X-Hub-Signature-256": sign(testSecret, body)},
	})
	assert.NoError(t, err)
}

func TestHandleWebhookDispatchesByEvent(t *testing.T) {
	t.Parallel()

	i := newIntegration(t, inmem.New(), nil)
	var pushes int32
	i.HandleEvent("push", func(context.Context, integrations.WebhookDelivery) error {
		atomic.AddInt32(&pushes, 1)
		return nil
	})

	d := integrations.WebhookDelivery{
		Provider:   ProviderID,
		DeliveryID: "gh-1",
		Body:       []byte(`{}`),
		Headers:    map[string]string{eventHeader: "push"},
	}
	require.NoError(t, i.HandleWebhook(context.Background(), d))
	assert.EqualValues(t, 1, atomic.LoadInt32(&pushes))

	// Unhandled event types are acknowledged silently.
	d.DeliveryID = "gh-2"
	d.Headers[eventHeader] = "issues"
	require.NoError(t, i.HandleWebhook(context.Background(), d))
	assert.EqualValues(t, 1, atomic.LoadInt32(&pushes))
}

func TestHandleWebhookIsIdempotentPerDelivery(t *testing.T) {
	t.Parallel()

	i := newIntegration(t, inmem.New(), nil)
	var calls int32
	i.HandleEvent("push", func(context.Context, integrations.WebhookDelivery) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	d := integrations.WebhookDelivery{
		Provider:   ProviderID,
		DeliveryID: "gh-dup",
		Body:       []byte(`{}`),
		Headers:    map[string]string{eventHeader: "push"},
	}
	require.NoError(t, i.HandleWebhook(context.Background(), d))
	require.NoError(t, i.HandleWebhook(context.Background(), d))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestHandleWebhookRetriesAfterHandlerFault(t *testing.T) {
	t.Parallel()

	i := newIntegration(t, inmem.New(), nil)
	var calls int32
	i.HandleEvent("push", func(context.Context, integrations.WebhookDelivery) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	d := integrations.WebhookDelivery{
		Provider:   ProviderID,
		DeliveryID: "gh-retry",
		Body:       []byte(`{}`),
		Headers:    map[string]string{eventHeader: "push"},
	}
	require.Error(t, i.HandleWebhook(context.Background(), d))
	require.NoError(t, i.HandleWebhook(context.Background(), d))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestAuthenticateReturnsStoredSecret(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, ProviderID, credentials.Credential{
		Type:   credentials.TypeSecret,
		Secret: "ghp_static",
	}))

	i := newIntegration(t, store, nil)
	session, err := i.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProviderID, session.Provider)
	assert.Equal(t, "ghp_static", session.Token)
	assert.True(t, session.Expiry.IsZero())
}

// doerFunc adapts a function to the Doer interface.
type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestTokenRefresherExchangesRefreshToken(t *testing.T) {
	t.Parallel()

	var gotForm string
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		gotForm = string(b)
		return jsonResponse(http.StatusOK, `{
			"access_token": "gho_new",
			"refresh_token": "ghr_next",
			"expires_in": 28800
		}`), nil
	})
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r := NewTokenRefresher("cid", "csecret",
		WithHTTPClient(doer),
		WithTokenURL("https://example.test/token"),
		WithRefresherClock(func() time.Time { return base }),
	)

	fresh, err := r.Refresh(context.Background(), ProviderID, credentials.Credential{
		Type:  credentials.TypeOAuth,
		OAuth: &credentials.OAuthTokens{AccessToken: "gho_old", RefreshToken: "ghr_old"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gho_new", fresh.OAuth.AccessToken)
	assert.Equal(t, "ghr_next", fresh.OAuth.RefreshToken)
	assert.Equal(t, base.Add(28800*time.Second), fresh.OAuth.Expiry)
	assert.Contains(t, gotForm, "grant_type=refresh_token")
	assert.Contains(t, gotForm, "refresh_token=ghr_old")
}

func TestTokenRefresherKeepsRefreshTokenWhenOmitted(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"access_token":"gho_new"}`), nil
	})
	r := NewTokenRefresher("cid", "csecret", WithHTTPClient(doer), WithTokenURL("https://example.test/token"))

	fresh, err := r.Refresh(context.Background(), ProviderID, credentials.Credential{
		Type:  credentials.TypeOAuth,
		OAuth: &credentials.OAuthTokens{RefreshToken: "ghr_keep"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ghr_keep", fresh.OAuth.RefreshToken)
}

func TestTokenRefresherSurfacesEndpointErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doer doerFunc
	}{
		{"http error", func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}},
		{"non-200", func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusBadGateway, `{}`), nil
		}},
		{"oauth error body", func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"error":"bad_refresh_token","error_description":"expired"}`), nil
		}},
		{"empty token", func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{}`), nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewTokenRefresher("cid", "csecret", WithHTTPClient(tc.doer), WithTokenURL("https://example.test/token"))
			_, err := r.Refresh(context.Background(), ProviderID, credentials.Credential{
				Type:  credentials.TypeOAuth,
				OAuth: &credentials.OAuthTokens{RefreshToken: "ghr"},
			})
			require.Error(t, err)
		})
	}
}

func TestTokenRefresherRequiresRefreshToken(t *testing.T) {
	t.Parallel()

	r := NewTokenRefresher("cid", "csecret")
	_, err := r.Refresh(context.Background(), ProviderID, credentials.Credential{Type: credentials.TypeOAuth})
	require.Error(t, err)
}

func TestAppTokenMint(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	m, err := NewAppTokenMinter("12345", key)
	require.NoError(t, err)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	signed, err := m.Mint(5 * time.Minute)
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return base }))
	require.NoError(t, err)
	require.True(t, tok.Valid)
	assert.Equal(t, "12345", claims.Issuer)
	assert.Equal(t, base.Add(-30*time.Second).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, base.Add(5*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestAppTokenMintClampsTTL(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	m, err := NewAppTokenMinter("12345", key)
	require.NoError(t, err)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	signed, err := m.Mint(time.Hour)
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return base }))
	require.NoError(t, err)
	assert.Equal(t, base.Add(maxAppTokenTTL).Unix(), claims.ExpiresAt.Unix())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(integrations.Config{}, "", credentials.NewManager(inmem.New(), nil))
	require.Error(t, err)
	_, err = New(integrations.Config{}, "s", nil)
	require.Error(t, err)
	_, err = NewAppTokenMinter("", nil)
	require.Error(t, err)
}

package credentials_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/credentials"
	"github.com/quorumhq/agentrun/integrations/credentials/inmem"
)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int32
	block   chan struct{}
	entered chan struct{}
	err     error
	next    credentials.Credential
}

func (f *fakeRefresher) Refresh(ctx context.Context, _ integrations.Provider, _ credentials.Credential) (credentials.Credential, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return credentials.Credential{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next, nil
}

func expiredOAuth() credentials.Credential {
	return credentials.Credential{
		Type: credentials.TypeOAuth,
		OAuth: &credentials.OAuthTokens{
			AccessToken:  "stale",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(-time.Hour),
		},
	}
}

func freshOAuth() credentials.Credential {
	return credentials.Credential{
		Type: credentials.TypeOAuth,
		OAuth: &credentials.OAuthTokens{
			AccessToken:  "fresh",
			RefreshToken: "refresh-2",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

func TestGetReturnsStaticSecretAsIs(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "github", credentials.Credential{Type: credentials.TypeSecret, Secret: "ghp_x"}))

	m := credentials.NewManager(store, nil)
	cred, err := m.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", cred.Token())
}

func TestGetUnknownProviderFails(t *testing.T) {
	t.Parallel()

	m := credentials.NewManager(inmem.New(), nil)
	_, err := m.Get(context.Background(), "figma")
	var nf *credentials.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, integrations.Provider("figma"), nf.Provider)
}

func TestGetRefreshesExpiredOAuth(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "google", expiredOAuth()))

	ref := &fakeRefresher{next: freshOAuth()}
	m := credentials.NewManager(store, ref)

	cred, err := m.Get(ctx, "google")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.Token())
	assert.EqualValues(t, 1, atomic.LoadInt32(&ref.calls))

	// Refreshed material is persisted; the next Get does not refresh again.
	cred, err = m.Get(ctx, "google")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.Token())
	assert.EqualValues(t, 1, atomic.LoadInt32(&ref.calls))
}

func TestGetUnexpiredOAuthSkipsRefresh(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "jira", freshOAuth()))

	ref := &fakeRefresher{next: freshOAuth()}
	m := credentials.NewManager(store, ref)

	_, err := m.Get(ctx, "jira")
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&ref.calls))
}

func TestRefreshFailurePreservesStoredCredential(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	stale := expiredOAuth()
	require.NoError(t, store.Set(ctx, "hubspot", stale))

	ref := &fakeRefresher{err: errors.New("token endpoint 500")}
	m := credentials.NewManager(store, ref)

	_, err := m.Get(ctx, "hubspot")
	var rerr *credentials.RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, integrations.Provider("hubspot"), rerr.Provider)

	// The stale value is retained so a retry can still use it.
	stored, err := store.Get(ctx, "hubspot")
	require.NoError(t, err)
	assert.Equal(t, "stale", stored.Token())
	assert.Equal(t, stale.OAuth.RefreshToken, stored.OAuth.RefreshToken)
}

func TestConcurrentGetsCoalesceOntoOneRefresh(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "clickup", expiredOAuth()))

	ref := &fakeRefresher{
		next:    freshOAuth(),
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	m := credentials.NewManager(store, ref)

	const readers = 8
	results := make(chan credentials.Credential, readers)
	errs := make(chan error, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := m.Get(ctx, "clickup")
			if err != nil {
				errs <- err
				return
			}
			results <- cred
		}()
	}

	// Release the single in-flight refresh once it has started.
	<-ref.entered
	close(ref.block)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	count := 0
	for cred := range results {
		count++
		assert.Equal(t, "fresh", cred.Token())
	}
	assert.Equal(t, readers, count)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ref.calls), "readers must coalesce onto a single refresh")
}

func TestExpiredOAuthWithoutRefresherFails(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "argocd", expiredOAuth()))

	m := credentials.NewManager(store, nil)
	_, err := m.Get(ctx, "argocd")
	var rerr *credentials.RefreshError
	require.ErrorAs(t, err, &rerr)
}

package integrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/agentrun/integrations"
)

type stubIntegration struct {
	provider integrations.Provider
}

func (s *stubIntegration) Provider() integrations.Provider { return s.provider }

func (s *stubIntegration) Authenticate(context.Context) (integrations.Session, error) {
	return integrations.Session{Provider: s.provider}, nil
}

func (s *stubIntegration) VerifyWebhook(integrations.WebhookDelivery) error { return nil }

func (s *stubIntegration) HandleWebhook(context.Context, integrations.WebhookDelivery) error {
	return nil
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := integrations.NewRegistry()
	gh := &stubIntegration{provider: "github"}
	require.NoError(t, r.Register(gh))

	got, err := r.Get("github")
	require.NoError(t, err)
	assert.Same(t, gh, got)
}

func TestGetUnknownProvider(t *testing.T) {
	t.Parallel()

	r := integrations.NewRegistry()
	_, err := r.Get("jira")
	var nc *integrations.NotConfiguredError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, integrations.Provider("jira"), nc.Provider)
}

func TestRegisterDuplicateProviderFails(t *testing.T) {
	t.Parallel()

	r := integrations.NewRegistry()
	first := &stubIntegration{provider: "github"}
	require.NoError(t, r.Register(first))
	require.Error(t, r.Register(&stubIntegration{provider: "github"}))

	// The original binding is untouched.
	got, err := r.Get("github")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestIntegrationsIteratesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	r := integrations.NewRegistry()
	for _, p := range []integrations.Provider{"github", "google", "jira"} {
		require.NoError(t, r.Register(&stubIntegration{provider: p}))
	}

	var seen []integrations.Provider
	for i := range r.Integrations() {
		seen = append(seen, i.Provider())
	}
	assert.Equal(t, []integrations.Provider{"github", "google", "jira"}, seen)

	// The sequence restarts cleanly.
	count := 0
	for range r.Integrations() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

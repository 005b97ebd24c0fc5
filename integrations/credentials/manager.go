package credentials

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/runtime/agent/telemetry"
)

// Manager serves credentials with expiry-aware refresh. An OAuth credential
// is never returned past its expiry without an attempted refresh first, and
// at most one refresh is in flight per provider: concurrent readers wait for
// its result instead of triggering duplicate refreshes, because providers
// commonly invalidate a refresh token after first use.
type Manager struct {
	store     Store
	refresher Refresher
	logger    telemetry.Logger
	now       func() time.Time

	flights singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger configures the manager logger. When nil, the manager uses a noop
// logger.
func WithLogger(logger telemetry.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the expiry clock. Tests use it to force expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager layers refresh handling over store. The refresher may be nil
// when no configured provider uses OAuth; expired OAuth credentials then
// surface a RefreshError.
func NewManager(store Store, refresher Refresher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		logger:    telemetry.NewNoopLogger(),
		now:       time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m
}

// Get returns the current credential for the provider, refreshing expired
// OAuth material first. Readers arriving during an in-flight refresh coalesce
// onto its result. Refresh failure surfaces as a RefreshError and leaves the
// stored value untouched so a retry is possible.
func (m *Manager) Get(ctx context.Context, provider integrations.Provider) (Credential, error) {
	cred, err := m.store.Get(ctx, provider)
	if err != nil {
		return Credential{}, err
	}
	if !cred.Expired(m.now()) {
		return cred, nil
	}

	v, err, _ := m.flights.Do(provider.String(), func() (any, error) {
		// Re-read inside the flight: a refresh that completed between the
		// expiry check and this flight already stored fresh material.
		cur, err := m.store.Get(ctx, provider)
		if err != nil {
			return Credential{}, err
		}
		if !cur.Expired(m.now()) {
			return cur, nil
		}
		return m.refresh(ctx, provider, cur)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Set upserts the credential for the provider.
func (m *Manager) Set(ctx context.Context, provider integrations.Provider, cred Credential) error {
	return m.store.Set(ctx, provider, cred)
}

// refresh exchanges the expired credential and persists the result. The old
// value is only replaced after a successful exchange.
func (m *Manager) refresh(ctx context.Context, provider integrations.Provider, cur Credential) (Credential, error) {
	if m.refresher == nil {
		return Credential{}, &RefreshError{Provider: provider, Cause: errors.New("no refresher configured")}
	}
	fresh, err := m.refresher.Refresh(ctx, provider, cur)
	if err != nil {
		m.logger.Warn(ctx, "credential refresh failed",
			"provider", provider.String(),
			"err", err,
		)
		var rerr *RefreshError
		if errors.As(err, &rerr) {
			return Credential{}, err
		}
		return Credential{}, &RefreshError{Provider: provider, Cause: err}
	}
	if err := m.store.Set(ctx, provider, fresh); err != nil {
		return Credential{}, &RefreshError{Provider: provider, Cause: err}
	}
	m.logger.Info(ctx, "credential refreshed", "provider", provider.String())
	return fresh, nil
}

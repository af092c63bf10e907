package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/obs"
)

type fakeTokenConfig struct {
	accessToken string
	expiresAt   time.Time
	err         error
	calls       *int
}

func (f fakeTokenConfig) Token(ctx context.Context) (string, time.Time, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.accessToken, f.expiresAt, nil
}

func newTestManager(creds []TenantCredentials, now time.Time, configFor func(TenantCredentials) clientCredentialsConfig) *Manager {
	m := NewManager(creds)
	m.now = func() time.Time { return now }
	m.newConfig = configFor
	return m
}

func TestManager_GetToken_FetchesAndCaches(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0

	m := newTestManager(
		[]TenantCredentials{{TenantID: "t1", ClientID: "id", ClientSecret: "secret", TokenURL: "https://example.com/token"}},
		now,
		func(tc TenantCredentials) clientCredentialsConfig {
			return fakeTokenConfig{accessToken: "tok-" + tc.TenantID, expiresAt: now.Add(time.Hour), calls: &calls}
		},
	)

	tok, err := m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tok-t1", tok)

	tok, err = m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tok-t1", tok)
	assert.Equal(t, 1, calls, "second call well before the refresh buffer should hit the cache, not refetch")
}

func TestManager_GetToken_RefreshesWhenWithinBuffer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0

	m := newTestManager(
		[]TenantCredentials{{TenantID: "t1"}},
		now,
		func(tc TenantCredentials) clientCredentialsConfig {
			return fakeTokenConfig{accessToken: "fresh", expiresAt: now.Add(refreshBuffer - time.Second), calls: &calls}
		},
	)

	tok, err := m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	tok, err = m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 2, calls, "a token expiring within the refresh buffer must be refetched every call")
}

func TestManager_GetToken_EmptyTenantIDUsesDefault(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m := newTestManager(
		[]TenantCredentials{{TenantID: "first"}, {TenantID: "second"}},
		now,
		func(tc TenantCredentials) clientCredentialsConfig {
			return fakeTokenConfig{accessToken: "tok-" + tc.TenantID, expiresAt: now.Add(time.Hour)}
		},
	)

	assert.Equal(t, "first", m.DefaultTenantID)

	tok, err := m.GetToken(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "tok-first", tok)
}

func TestManager_GetToken_UnknownTenant(t *testing.T) {
	m := NewManager(nil)
	_, err := m.GetToken(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestManager_GetToken_ServesStaleTokenOnRefreshFailure(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	attempt := 0

	m := newTestManager(
		[]TenantCredentials{{TenantID: "t1"}},
		now,
		func(tc TenantCredentials) clientCredentialsConfig {
			attempt++
			if attempt == 1 {
				return fakeTokenConfig{accessToken: "first-token", expiresAt: now.Add(2 * time.Hour)}
			}
			return fakeTokenConfig{err: errors.New("provider unreachable")}
		},
	)

	tok, err := m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "first-token", tok)

	// Advance into the refresh buffer (within 300s of expiry) but still
	// inside the token's absolute expiry: the refetch attempt fails, so the
	// prior token is served.
	m.now = func() time.Time { return now.Add(2*time.Hour - 2*time.Minute) }
	tok, err = m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "first-token", tok, "refresh failure within absolute expiry must serve the prior token")
}

func TestManager_GetToken_SurfacesErrorPastAbsoluteExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m := newTestManager(
		[]TenantCredentials{{TenantID: "t1"}},
		now,
		func(tc TenantCredentials) clientCredentialsConfig {
			return fakeTokenConfig{err: errors.New("provider unreachable")}
		},
	)

	_, err := m.GetToken(context.Background(), "t1")
	assert.Error(t, err, "no prior token exists, so a refresh failure must surface")
}

func TestManager_GetToken_CountsRefreshOutcomes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	attempt := 0

	m := newTestManager(
		[]TenantCredentials{{TenantID: "t1"}},
		now,
		func(tc TenantCredentials) clientCredentialsConfig {
			attempt++
			if attempt == 1 {
				return fakeTokenConfig{accessToken: "tok", expiresAt: now.Add(2 * time.Hour)}
			}
			return fakeTokenConfig{err: errors.New("provider unreachable")}
		},
	)
	m.Metrics = obs.NewMetrics(prometheus.NewRegistry())

	_, err := m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics.TokenRefreshes.WithLabelValues("t1", "success")))

	// Inside the refresh buffer but before absolute expiry: the failed
	// refetch serves the stale token and is counted as such.
	m.now = func() time.Time { return now.Add(2*time.Hour - 2*time.Minute) }
	_, err = m.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics.TokenRefreshes.WithLabelValues("t1", "stale_served")))

	// Past absolute expiry: the failure surfaces and is counted.
	m.now = func() time.Time { return now.Add(3 * time.Hour) }
	_, err = m.GetToken(context.Background(), "t1")
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics.TokenRefreshes.WithLabelValues("t1", "failure")))
}

func TestManager_RegisterTenant_InvalidatesCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(nil, now, func(tc TenantCredentials) clientCredentialsConfig {
		return fakeTokenConfig{accessToken: "tok", expiresAt: now.Add(time.Hour)}
	})

	m.RegisterTenant(TenantCredentials{TenantID: "late"})
	tok, err := m.GetToken(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

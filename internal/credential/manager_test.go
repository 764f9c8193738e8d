package credential

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"antigravity2api-go/internal/config"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/oauth"
)

type stubRefresher struct {
	mu    sync.Mutex
	calls int
	token *oauth.TokenResponse
	err   error
}

func (r *stubRefresher) Refresh(context.Context, string) (*oauth.TokenResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

func (r *stubRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func setClock(t *testing.T, nowMS int64) {
	t.Helper()
	orig := NowMS
	NowMS = func() int64 { return nowMS }
	t.Cleanup(func() { NowMS = orig })
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func newTestManager(t *testing.T, records []map[string]any, refresher Refresher) (*Manager, *Store) {
	t.Helper()
	store := newTestStore(t)
	if records != nil {
		writeAccounts(t, store.Path(), records)
	}
	if refresher == nil {
		refresher = &stubRefresher{token: &oauth.TokenResponse{AccessToken: "fresh", ExpiresIn: 3600}}
	}
	mgr, err := NewManager(ManagerOptions{
		Store:     store,
		Refresher: refresher,
		Config:    testConfig(),
	})
	require.NoError(t, err)
	return mgr, store
}

// validRecord builds a record whose access token is well inside its
// lifetime at the test clock (nowMS=1_000_000).
func validRecord(token string) map[string]any {
	return map[string]any{
		"refresh_token": token,
		"access_token":  "at-" + token,
		"expires_in":    3600,
		"timestamp":     1_000_000,
		"project_id":    "calm-atlas-00000",
	}
}

func TestAcquirePicksLeastLoadedInFileOrder(t *testing.T) {
	setClock(t, 1_000_000)
	mgr, _ := newTestManager(t, []map[string]any{
		validRecord("rt-aaaa-0000"),
		validRecord("rt-bbbb-0000"),
	}, nil)

	// Both idle: file order wins.
	c1, release1, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "rt-aaaa-0000", c1.RefreshToken)

	// First now has one in flight; second is least loaded.
	c2, release2, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "rt-bbbb-0000", c2.RefreshToken)

	release1()
	release2()
}

func TestAcquireRespectsTriedSet(t *testing.T) {
	setClock(t, 1_000_000)
	mgr, _ := newTestManager(t, []map[string]any{
		validRecord("rt-aaaa-0000"),
		validRecord("rt-bbbb-0000"),
	}, nil)

	tried := map[string]struct{}{"rt-aaaa-0000": {}}
	c, release, err := mgr.Acquire(context.Background(), tried)
	require.NoError(t, err)
	require.Equal(t, "rt-bbbb-0000", c.RefreshToken)
	release()

	tried["rt-bbbb-0000"] = struct{}{}
	_, _, err = mgr.Acquire(context.Background(), tried)
	apiErr := apierrors.AsAPIError(err)
	require.Equal(t, apierrors.KindNoCredentials, apiErr.Kind)
}

func TestAcquireAllCoolingReturnsRateLimit(t *testing.T) {
	setClock(t, 1_000_000)
	mgr, _ := newTestManager(t, []map[string]any{
		validRecord("rt-aaaa-0000"),
		validRecord("rt-bbbb-0000"),
	}, nil)

	// Hold the first slot so the second acquire lands on the other
	// credential.
	c1, r1, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	c2, r2, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.NotEqual(t, c1.RefreshToken, c2.RefreshToken)
	r1()
	r2()

	mgr.RecordFailure(c1, apierrors.NewRateLimit("quota", 5000))
	mgr.RecordFailure(c2, apierrors.NewRateLimit("quota", 3000))

	_, _, err = mgr.Acquire(context.Background(), nil)
	apiErr := apierrors.AsAPIError(err)
	require.Equal(t, apierrors.KindRateLimit, apiErr.Kind)
	// Shortest remaining cooldown drives the hint.
	require.Equal(t, int64(3000), apiErr.RetryAfterMS)
	require.Equal(t, int64(3), apiErr.RetryAfterSeconds())
}

func TestAcquireAllBusyReturnsConcurrencyError(t *testing.T) {
	setClock(t, 1_000_000)
	mgr, _ := newTestManager(t, []map[string]any{
		validRecord("rt-aaaa-0000"),
	}, nil)

	// Per-token concurrency defaults to 2.
	_, r1, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	defer r1()
	_, r2, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	defer r2()

	_, _, err = mgr.Acquire(context.Background(), nil)
	apiErr := apierrors.AsAPIError(err)
	require.Equal(t, apierrors.KindServiceUnavailable, apiErr.Kind)
}

func TestAcquireDisabledCredentialsInvisible(t *testing.T) {
	setClock(t, 1_000_000)
	rec := validRecord("rt-aaaa-0000")
	rec["enable"] = false
	mgr, _ := newTestManager(t, []map[string]any{rec}, nil)

	_, _, err := mgr.Acquire(context.Background(), nil)
	apiErr := apierrors.AsAPIError(err)
	require.Equal(t, apierrors.KindNoCredentials, apiErr.Kind)
}

func TestAcquireRefreshesExpiredToken(t *testing.T) {
	setClock(t, 1_000_000)
	expired := map[string]any{
		"refresh_token": "rt-aaaa-0000",
		"access_token":  "stale",
		"expires_in":    60,
		// Inside the 5 minute expiry skew.
		"timestamp":  900_000,
		"project_id": "calm-atlas-00000",
	}
	refresher := &stubRefresher{token: &oauth.TokenResponse{AccessToken: "fresh", ExpiresIn: 3600}}
	mgr, store := newTestManager(t, []map[string]any{expired}, refresher)

	c, release, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	defer release()

	require.Equal(t, 1, refresher.callCount())
	require.Equal(t, "fresh", c.AccessToken)
	require.Equal(t, int64(1_000_000), c.Timestamp)

	// The refreshed token was persisted.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var onDisk []Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, "fresh", onDisk[0].AccessToken)
}

func TestAcquireRefreshAuthFailureDisables(t *testing.T) {
	setClock(t, 1_000_000)
	expired := map[string]any{
		"refresh_token": "rt-aaaa-0000",
		"project_id":    "calm-atlas-00000",
	}
	refresher := &stubRefresher{err: &oauth.RefreshError{StatusCode: 400, Body: "invalid_grant"}}
	mgr, store := newTestManager(t, []map[string]any{expired}, refresher)

	_, _, err := mgr.Acquire(context.Background(), nil)
	apiErr := apierrors.AsAPIError(err)
	require.Equal(t, apierrors.KindNoCredentials, apiErr.Kind)

	// The rejection was persisted as enable=false.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var onDisk []Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.NotNil(t, onDisk[0].Enable)
	require.False(t, *onDisk[0].Enable)
}

func TestReloadKeepsRuntimeStateForSurvivingTokens(t *testing.T) {
	setClock(t, 1_000_000)
	mgr, store := newTestManager(t, []map[string]any{
		validRecord("rt-aaaa-0000"),
	}, nil)

	c, release, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	mgr.RecordSuccess(c)
	sessionID := c.SessionID

	// Simulate an external edit that updates the remark and adds a
	// second account.
	updated := validRecord("rt-aaaa-0000")
	updated["remark"] = "edited externally"
	writeAccounts(t, store.Path(), []map[string]any{
		updated,
		validRecord("rt-bbbb-0000"),
	})
	require.NoError(t, mgr.Reload())
	require.Equal(t, 2, mgr.Count())

	stats := mgr.GetAllStats()
	first := stats.Credentials[0]
	require.Equal(t, "edited externally", first.Remark)
	require.Equal(t, int64(1), first.SuccessCount)
	require.Equal(t, 1, first.ActiveCount)

	// The in-flight release still lands on the surviving credential.
	release()
	require.Equal(t, 0, mgr.GetAllStats().Credentials[0].ActiveCount)

	// Session id survives a hot reload; the new account got its own.
	c2, release2, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	defer release2()
	require.Equal(t, "rt-aaaa-0000", c2.RefreshToken)
	require.Equal(t, sessionID, c2.SessionID)
}

func TestReleaseIsIdempotent(t *testing.T) {
	setClock(t, 1_000_000)
	mgr, _ := newTestManager(t, []map[string]any{validRecord("rt-aaaa-0000")}, nil)

	c, release, err := mgr.Acquire(context.Background(), nil)
	require.NoError(t, err)
	release()
	release()
	release()

	require.Equal(t, 0, c.ActiveCount)
}

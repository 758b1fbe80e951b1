// ABOUTME: Tests for the session orchestrator's login/logout/state lifecycle
// ABOUTME: Uses a real SQLite store with a scriptable authenticator

package deck

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atdeck/atdeck/internal/auth"
	"github.com/atdeck/atdeck/internal/session"
	"github.com/atdeck/atdeck/internal/store"
)

// fakeAuthn is a scriptable Authenticator. Unset hooks succeed with a
// result derived from the request.
type fakeAuthn struct {
	loginFn   func(ctx context.Context, req *auth.LoginRequest) (*auth.Result, error)
	refreshFn func(ctx context.Context, handle string) (*auth.Result, error)
	verifyFn  func(ctx context.Context, handle string) bool
	logoutFn  func(ctx context.Context, handle string) error
}

func (f *fakeAuthn) Login(ctx context.Context, req *auth.LoginRequest) (*auth.Result, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, req)
	}
	return resultFor(req.Identifier, "did:plc:"+req.Identifier), nil
}

func (f *fakeAuthn) Refresh(ctx context.Context, handle string) (*auth.Result, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, handle)
	}
	return resultFor(handle, "did:plc:"+handle), nil
}

func (f *fakeAuthn) Verify(ctx context.Context, handle string) bool {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, handle)
	}
	return true
}

func (f *fakeAuthn) Logout(ctx context.Context, handle string) error {
	if f.logoutFn != nil {
		return f.logoutFn(ctx, handle)
	}
	return nil
}

func resultFor(handle, did string) *auth.Result {
	refresh := "refresh-fp-" + handle
	expires := time.Now().Add(2 * time.Hour).UTC()
	return &auth.Result{
		Handle:             handle,
		DID:                did,
		ServiceURL:         "https://pds.test",
		AccessFingerprint:  "access-fp-" + handle,
		RefreshFingerprint: &refresh,
		ExpiresAt:          &expires,
	}
}

func newTestDeck(t *testing.T) (*Service, store.Store, *session.Registry, *fakeAuthn) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "deck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authn := &fakeAuthn{}
	registry := session.NewRegistry(slog.Default())
	svc := NewService(st, authn, registry, "https://pds.test")
	return svc, st, registry, authn
}

func TestLogin_CreatesAccountAndRegistersSession(t *testing.T) {
	svc, st, registry, _ := newTestDeck(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "app-pass"})
	require.NoError(t, err)

	assert.Equal(t, "alice.test", resp.Account.Handle)
	assert.Equal(t, "did:plc:alice.test", resp.Account.DID)
	assert.True(t, resp.Account.IsActive)
	assert.Equal(t, "access-fp-alice.test", resp.SessionToken)

	status, ok := registry.Get("alice.test")
	require.True(t, ok)
	assert.True(t, status.IsConnected)
	assert.Equal(t, resp.Account.ID, status.AccountID)

	sess, err := st.GetOAuthSession(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-fp-alice.test", sess.AccessTokenHash)
}

func TestLogin_SameDIDKeepsOneActiveRow(t *testing.T) {
	svc, st, _, authn := newTestDeck(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	// Same identity again under a migrated handle.
	authn.loginFn = func(ctx context.Context, req *auth.LoginRequest) (*auth.Result, error) {
		return resultFor("alice.social", "did:plc:alice.test"), nil
	}
	second, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.social", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, first.Account.ID, second.Account.ID, "re-login must reuse the row matched by DID")
	assert.Equal(t, "alice.social", second.Account.Handle)

	accounts, err := st.ListActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestLogin_ReactivatesSoftDeletedAccount(t *testing.T) {
	svc, st, _, _ := newTestDeck(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, "alice.test"))

	again, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, resp.Account.ID, again.Account.ID)
	assert.True(t, again.Account.IsActive)

	accounts, err := st.ListActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestLogin_ReplacesRegistryEntryOnRelogin(t *testing.T) {
	svc, _, registry, _ := newTestDeck(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)
	registry.RecordFailure("alice.test")
	registry.RecordFailure("alice.test")

	_, err = svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	require.Equal(t, 1, registry.Len())
	status, ok := registry.Get("alice.test")
	require.True(t, ok)
	assert.Equal(t, session.HealthHealthy, status.Health, "fresh login replaces the degraded entry")
}

func TestLogin_HandshakeFailureLeavesNothingBehind(t *testing.T) {
	svc, st, registry, authn := newTestDeck(t)
	ctx := context.Background()

	authn.loginFn = func(ctx context.Context, req *auth.LoginRequest) (*auth.Result, error) {
		return nil, errors.New("wrong password")
	}

	_, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "nope"})
	require.Error(t, err)

	accounts, err := st.ListActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	assert.Equal(t, 0, registry.Len())
}

// cancellingStore cancels the login context right after the session row is
// written, simulating a caller navigating away mid-login.
type cancellingStore struct {
	store.Store
	cancel context.CancelFunc
}

func (c *cancellingStore) UpsertOAuthSession(ctx context.Context, sess *store.OAuthSession) error {
	err := c.Store.UpsertOAuthSession(context.Background(), sess)
	c.cancel()
	return err
}

func TestLogin_CancellationRollsBackDurableState(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "deck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrapped := &cancellingStore{Store: st, cancel: cancel}
	registry := session.NewRegistry(slog.Default())
	svc := NewService(wrapped, &fakeAuthn{}, registry, "https://pds.test")

	_, err = svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.ErrorIs(t, err, context.Canceled)

	accounts, listErr := st.ListActiveAccounts(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, accounts, "cancelled login must not leave an active account")

	account, getErr := st.GetAccountByDID(context.Background(), "did:plc:alice.test")
	require.NoError(t, getErr)
	_, sessErr := st.GetOAuthSession(context.Background(), account.ID)
	assert.ErrorIs(t, sessErr, store.ErrNotFound, "cancelled login must not leave a session row")
	assert.Equal(t, 0, registry.Len())
}

func TestLogout_Idempotent(t *testing.T) {
	svc, st, registry, _ := newTestDeck(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "alice.test"))
	require.NoError(t, svc.Logout(ctx, "alice.test"), "second logout is a no-op")

	assert.Equal(t, 0, registry.Len())
	_, err = st.GetOAuthSession(ctx, resp.Account.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	account, err := st.GetAccount(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.False(t, account.IsActive, "logout soft-deletes, never hard-deletes")
}

func TestLogout_LocalCleanupSurvivesRemoteFailure(t *testing.T) {
	svc, st, registry, authn := newTestDeck(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	authn.logoutFn = func(ctx context.Context, handle string) error {
		return errors.New("pds unreachable")
	}

	err = svc.Logout(ctx, "alice.test")
	require.Error(t, err, "remote failure is still reported")

	assert.Equal(t, 0, registry.Len())
	account, getErr := st.GetAccount(ctx, resp.Account.ID)
	require.NoError(t, getErr)
	assert.False(t, account.IsActive)
}

func TestState_HealthAware(t *testing.T) {
	svc, _, registry, _ := newTestDeck(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.Login(ctx, &LoginRequest{Identifier: "bob.test", Password: "pw"})
	require.NoError(t, err)

	state, err := svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.TotalAccounts)
	assert.True(t, state.AllAccountsActive)

	// Two soft failures walk bob down to Error; the account row is still
	// active but the deck as a whole no longer is.
	registry.RecordFailure("bob.test")
	registry.RecordFailure("bob.test")

	state, err = svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.TotalAccounts)
	assert.False(t, state.AllAccountsActive)
}

func TestState_EmptyDeckIsNotAllActive(t *testing.T) {
	svc, _, _, _ := newTestDeck(t)

	state, err := svc.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, state.TotalAccounts)
	assert.False(t, state.AllAccountsActive)
}

func TestRefresh_MovesFingerprintForward(t *testing.T) {
	svc, st, registry, authn := newTestDeck(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	authn.refreshFn = func(ctx context.Context, handle string) (*auth.Result, error) {
		r := resultFor(handle, "did:plc:"+handle)
		r.AccessFingerprint = "rotated-fp"
		return r, nil
	}
	require.NoError(t, svc.Refresh(ctx, "alice.test"))

	sess, err := st.GetOAuthSession(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-fp", sess.AccessTokenHash)

	status, ok := registry.Get("alice.test")
	require.True(t, ok)
	assert.Equal(t, session.HealthHealthy, status.Health)
}

// flakyUpsertStore fails UpsertOAuthSession a set number of times.
type flakyUpsertStore struct {
	store.Store
	failures int
}

func (f *flakyUpsertStore) UpsertOAuthSession(ctx context.Context, sess *store.OAuthSession) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	return f.Store.UpsertOAuthSession(ctx, sess)
}

func TestRefresh_StaleFingerprintRecoversOnRetry(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "deck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authn := &fakeAuthn{}
	registry := session.NewRegistry(slog.Default())
	flaky := &flakyUpsertStore{Store: st}
	svc := NewService(flaky, authn, registry, "https://pds.test")
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	authn.refreshFn = func(ctx context.Context, handle string) (*auth.Result, error) {
		r := resultFor(handle, "did:plc:"+handle)
		r.AccessFingerprint = "rotated-fp"
		return r, nil
	}

	// Rotation succeeds remotely but the fingerprint write fails: the stored
	// fingerprint stays on the old value.
	flaky.failures = 1
	require.Error(t, svc.Refresh(ctx, "alice.test"))

	sess, err := st.GetOAuthSession(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-fp-alice.test", sess.AccessTokenHash)

	// The next refresh brings the durable fingerprint forward again.
	require.NoError(t, svc.Refresh(ctx, "alice.test"))

	sess, err = st.GetOAuthSession(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-fp", sess.AccessTokenHash)
}

func TestRefresh_FailureDegradesHealth(t *testing.T) {
	svc, _, registry, authn := newTestDeck(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	authn.refreshFn = func(ctx context.Context, handle string) (*auth.Result, error) {
		return nil, auth.ErrNoRefreshToken
	}
	err = svc.Refresh(ctx, "alice.test")
	require.ErrorIs(t, err, auth.ErrNoRefreshToken)

	status, ok := registry.Get("alice.test")
	require.True(t, ok)
	assert.Equal(t, session.HealthWarning, status.Health)
}

func TestVerifyToken_FeedsHealthBookkeeping(t *testing.T) {
	svc, _, registry, authn := newTestDeck(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	authn.verifyFn = func(ctx context.Context, handle string) bool { return false }
	assert.False(t, svc.VerifyToken(ctx, "alice.test"))

	status, _ := registry.Get("alice.test")
	assert.Equal(t, session.HealthWarning, status.Health)

	authn.verifyFn = nil
	assert.True(t, svc.VerifyToken(ctx, "alice.test"))

	status, _ = registry.Get("alice.test")
	assert.Equal(t, session.HealthHealthy, status.Health)
}

func TestPreferences_UnknownAccount(t *testing.T) {
	svc, _, _, _ := newTestDeck(t)

	_, err := svc.Preferences(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = svc.SavePreferences(context.Background(), &store.UserPreferences{AccountID: 999})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPreferences_RoundTrip(t *testing.T) {
	svc, _, _, _ := newTestDeck(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, &LoginRequest{Identifier: "alice.test", Password: "pw"})
	require.NoError(t, err)

	prefs, err := svc.Preferences(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ThemeSystem, prefs.Theme, "unset preferences come back as defaults")

	prefs.Theme = store.ThemeDark
	prefs.AutoRefreshInterval = 120
	require.NoError(t, svc.SavePreferences(ctx, prefs))

	got, err := svc.Preferences(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ThemeDark, got.Theme)
	assert.Equal(t, 120, got.AutoRefreshInterval)
}

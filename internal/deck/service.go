// ABOUTME: Session orchestrator composing authenticator, store and registry
// ABOUTME: Serves the login/logout/status/verify/refresh commands of the deck UI

package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atdeck/atdeck/internal/auth"
	"github.com/atdeck/atdeck/internal/session"
	"github.com/atdeck/atdeck/internal/store"
)

// Authenticator is the slice of the auth package the orchestrator consumes.
type Authenticator interface {
	Login(ctx context.Context, req *auth.LoginRequest) (*auth.Result, error)
	Refresh(ctx context.Context, handle string) (*auth.Result, error)
	Verify(ctx context.Context, handle string) bool
	Logout(ctx context.Context, handle string) error
}

// Conn is the opaque live-connection handle the registry holds for each
// logged-in account. Remote operations on that account go through it.
type Conn struct {
	Handle     string
	DID        string
	ServiceURL string
}

// LoginRequest is an orchestrator-level login command.
type LoginRequest struct {
	Identifier string
	Password   string
	ServiceURL string
}

// LoginResponse is the composed outcome handed back to the UI shell.
// SessionToken is the access-token fingerprint, a durable reference that
// never exposes the secret itself.
type LoginResponse struct {
	Account      *store.Account
	SessionToken string
}

// ConcurrentSessionState summarizes the whole deck for the UI.
//
// AllAccountsActive is deliberately health-aware: it is true only when at
// least one account is active AND every active account has a registered
// session whose health is Healthy or Warning. A mere row count says nothing
// about whether the deck columns can actually talk to their servers.
type ConcurrentSessionState struct {
	ActiveAccounts    []*store.Account
	TotalAccounts     int
	AllAccountsActive bool
}

// Service orchestrates the multi-account session lifecycle. It owns no
// long-lived state itself; durable truth lives in the store and live state
// in the registry.
type Service struct {
	store    store.Store
	authn    Authenticator
	registry *session.Registry
	locks    *handleLocks
	logger   *slog.Logger

	defaultService string
}

// NewService wires the orchestrator.
func NewService(st store.Store, authn Authenticator, registry *session.Registry, defaultService string) *Service {
	return &Service{
		store:          st,
		authn:          authn,
		registry:       registry,
		locks:          newHandleLocks(),
		logger:         slog.Default().With("component", "deck"),
		defaultService: defaultService,
	}
}

// Login authenticates an account and brings durable and live state in sync:
// the account row is reconciled by DID, the token fingerprint persisted, and
// the registry gains an entry. On failure or cancellation after partial
// progress everything done so far is rolled back, so no stray account row,
// orphaned session row or dangling registry entry survives.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	service := req.ServiceURL
	if service == "" {
		service = s.defaultService
	}

	// The remote handshake runs outside any lock.
	result, err := s.authn.Login(ctx, &auth.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		ServiceURL: service,
	})
	if err != nil {
		return nil, err
	}

	// Serialize the persistence phase against other commands on this handle.
	unlock := s.locks.lock(result.Handle)
	defer unlock()

	account, activated, err := s.reconcileAccount(ctx, result)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertOAuthSession(ctx, &store.OAuthSession{
		AccountID:        account.ID,
		AccessTokenHash:  result.AccessFingerprint,
		RefreshTokenHash: result.RefreshFingerprint,
		ExpiresAt:        result.ExpiresAt,
	}); err != nil {
		s.rollbackLogin(account.ID, activated, false)
		return nil, err
	}

	// A caller navigating away mid-login must not retain partial state.
	if err := ctx.Err(); err != nil {
		s.rollbackLogin(account.ID, activated, true)
		return nil, err
	}

	s.registry.Add(result.Handle, account.ID, &Conn{
		Handle:     result.Handle,
		DID:        result.DID,
		ServiceURL: service,
	})

	s.logger.Info("account logged in", "handle", result.Handle, "account_id", account.ID, "activated", activated)
	return &LoginResponse{
		Account:      account,
		SessionToken: result.AccessFingerprint,
	}, nil
}

// reconcileAccount matches the authenticated identity to an account row by
// DID, never by handle, since handles move. A missing row is created, a
// soft-deleted one reactivated, and mutable profile fields refreshed. The
// bool reports whether this call flipped the row to active, which is what a
// rollback has to undo.
func (s *Service) reconcileAccount(ctx context.Context, result *auth.Result) (*store.Account, bool, error) {
	existing, err := s.store.GetAccountByDID(ctx, result.DID)
	if errors.Is(err, store.ErrNotFound) {
		id, err := s.store.CreateAccount(ctx, &store.CreateAccountParams{
			Handle:      result.Handle,
			DID:         result.DID,
			ServiceURL:  result.ServiceURL,
			AuthType:    store.AuthTypeAppPassword,
			DisplayName: result.DisplayName,
			AvatarURL:   result.AvatarURL,
		})
		if err != nil {
			return nil, false, err
		}
		account, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return account, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	reactivated := false
	if !existing.IsActive {
		if err := s.store.ReactivateAccount(ctx, existing.ID); err != nil {
			return nil, false, err
		}
		reactivated = true
	}
	if err := s.store.UpdateAccountProfile(ctx, existing.ID, result.Handle, result.DisplayName, result.AvatarURL); err != nil {
		return nil, reactivated, err
	}

	account, err := s.store.GetAccount(ctx, existing.ID)
	if err != nil {
		return nil, reactivated, err
	}
	return account, reactivated, nil
}

// rollbackLogin undoes the durable side of a failed or cancelled login.
// Runs on a background context: the caller's context may already be dead.
func (s *Service) rollbackLogin(accountID int64, activated, sessionWritten bool) {
	ctx := context.Background()

	if sessionWritten {
		if err := s.store.DeleteOAuthSession(ctx, accountID); err != nil {
			s.logger.Error("login rollback: deleting session row failed", "account_id", accountID, "error", err)
		}
	}
	if activated {
		if err := s.store.DeactivateAccount(ctx, accountID); err != nil {
			s.logger.Error("login rollback: deactivating account failed", "account_id", accountID, "error", err)
		}
	}
}

// Logout tears down one account: remote revoke plus local secret cleanup,
// registry eviction, and durable deactivation. All three steps always run;
// their failures are collected and reported together. Calling it again for
// an already logged-out handle is a no-op.
func (s *Service) Logout(ctx context.Context, handle string) error {
	unlock := s.locks.lock(handle)
	defer unlock()

	var errs []error

	if err := s.authn.Logout(ctx, handle); err != nil {
		errs = append(errs, fmt.Errorf("auth cleanup: %w", err))
	}

	s.registry.Remove(handle)

	account, err := s.store.GetAccountByHandle(ctx, handle)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Never persisted; nothing durable to deactivate
	case err != nil:
		errs = append(errs, fmt.Errorf("looking up account: %w", err))
	default:
		if err := s.store.DeleteOAuthSession(ctx, account.ID); err != nil {
			errs = append(errs, fmt.Errorf("deleting session row: %w", err))
		}
		if account.IsActive {
			if err := s.store.DeactivateAccount(ctx, account.ID); err != nil {
				errs = append(errs, fmt.Errorf("deactivating account: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		s.logger.Warn("logout completed with failures", "handle", handle, "failures", len(errs))
	} else {
		s.logger.Info("account logged out", "handle", handle)
	}
	return errors.Join(errs...)
}

// Refresh exchanges the stored refresh token for a new pair and moves the
// persisted fingerprint forward. Serialized per handle so a concurrent login
// or second refresh cannot regress the stored fingerprint.
func (s *Service) Refresh(ctx context.Context, handle string) error {
	unlock := s.locks.lock(handle)
	defer unlock()

	result, err := s.authn.Refresh(ctx, handle)
	if err != nil {
		s.registry.RecordFailure(handle)
		return err
	}

	account, err := s.store.GetAccountByDID(ctx, result.DID)
	if err != nil {
		return fmt.Errorf("looking up account for refresh: %w", err)
	}

	if err := s.store.UpsertOAuthSession(ctx, &store.OAuthSession{
		AccountID:        account.ID,
		AccessTokenHash:  result.AccessFingerprint,
		RefreshTokenHash: result.RefreshFingerprint,
		ExpiresAt:        result.ExpiresAt,
	}); err != nil {
		// The remote rotation already happened and cannot be undone, so the
		// credential store keeps the new tokens while the durable fingerprint
		// stays stale until the next successful refresh or login. That is the
		// one place the login-style rollback cannot apply.
		s.logger.Error("refresh rotated tokens but persisting the fingerprint failed; stored fingerprint is stale",
			"handle", handle, "account_id", account.ID, "error", err)
		return fmt.Errorf("persisting rotated fingerprint: %w", err)
	}

	s.registry.MarkActivity(handle)
	return nil
}

// State reconciles durable truth with live registry health into one snapshot.
func (s *Service) State(ctx context.Context) (*ConcurrentSessionState, error) {
	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	allActive := len(accounts) > 0
	for _, account := range accounts {
		status, ok := s.registry.Get(account.Handle)
		if !ok || !status.IsConnected {
			allActive = false
			break
		}
	}

	return &ConcurrentSessionState{
		ActiveAccounts:    accounts,
		TotalAccounts:     len(accounts),
		AllAccountsActive: allActive,
	}, nil
}

// VerifyToken checks whether the handle holds a usable token. Absence and
// transient network trouble both report false without error. The outcome
// feeds the session health bookkeeping.
//
// The check runs against the service URL captured in the stored credentials,
// so callers do not pass one: a token is only ever valid against the server
// that minted it.
func (s *Service) VerifyToken(ctx context.Context, handle string) bool {
	ok := s.authn.Verify(ctx, handle)
	if ok {
		s.registry.MarkActivity(handle)
	} else {
		s.registry.RecordFailure(handle)
	}
	return ok
}

// SessionStatuses reports a snapshot of every registered session.
func (s *Service) SessionStatuses() []session.Status {
	return s.registry.Statuses()
}

// ActiveHandles lists the handles whose sessions are currently usable.
func (s *Service) ActiveHandles() []string {
	return s.registry.ActiveHandles()
}

// Preferences returns the stored preferences for an account, with defaults
// applied when nothing has been written yet.
func (s *Service) Preferences(ctx context.Context, accountID int64) (*store.UserPreferences, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.GetUserPreferences(ctx, accountID)
}

// SavePreferences upserts the preferences row for an account.
func (s *Service) SavePreferences(ctx context.Context, prefs *store.UserPreferences) error {
	if _, err := s.store.GetAccount(ctx, prefs.AccountID); err != nil {
		return err
	}
	return s.store.UpsertUserPreferences(ctx, prefs)
}

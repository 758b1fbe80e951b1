// ABOUTME: Authenticator turning credentials into a normalized identity plus token fingerprints
// ABOUTME: Handles the login handshake, token refresh, verification and logout cleanup

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atdeck/atdeck/internal/atproto"
)

// ErrMissingCredentials indicates an empty identifier or password.
var ErrMissingCredentials = errors.New("identifier and password are required")

// ErrNoRefreshToken indicates a refresh was requested for a handle that has
// no stored refresh token.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// LoginRequest carries what the user typed into the login form.
type LoginRequest struct {
	Identifier string // handle or email
	Password   string // app password
	ServiceURL string // PDS base URL
}

// Result is the normalized outcome of a successful login or refresh.
// It carries fingerprints and public identity only; the raw tokens went
// straight into the credential store.
type Result struct {
	Handle             string
	DID                string
	ServiceURL         string
	DisplayName        *string
	AvatarURL          *string
	AccessFingerprint  string
	RefreshFingerprint *string
	ExpiresAt          *time.Time
}

// Authenticator performs the authentication handshake against a PDS and owns
// the boundary between raw secrets and durable fingerprints.
type Authenticator struct {
	client     atproto.Client
	creds      CredentialStore
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewAuthenticator wires an authenticator. defaultTTL is the assumed access
// token lifetime when the token carries no readable expiry.
func NewAuthenticator(client atproto.Client, creds CredentialStore, defaultTTL time.Duration) *Authenticator {
	return &Authenticator{
		client:     client,
		creds:      creds,
		defaultTTL: defaultTTL,
		logger:     slog.Default().With("component", "auth"),
	}
}

// Login authenticates against the PDS and returns the normalized identity.
// The profile fetch is best-effort: a failure there degrades to absent
// display fields rather than failing the login.
func (a *Authenticator) Login(ctx context.Context, req *LoginRequest) (*Result, error) {
	if req.Identifier == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}

	session, err := a.client.CreateSession(ctx, req.ServiceURL, req.Identifier, req.Password)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	if err := a.creds.Put(session.Handle, &Credentials{
		DID:        session.DID,
		ServiceURL: req.ServiceURL,
		AccessJWT:  session.AccessJWT,
		RefreshJWT: session.RefreshJWT,
	}); err != nil {
		return nil, fmt.Errorf("storing credentials: %w", err)
	}

	result := a.resultFromSession(session, req.ServiceURL)

	profile, err := a.client.GetProfile(ctx, req.ServiceURL, session.AccessJWT, session.DID)
	if err != nil {
		a.logger.Warn("profile fetch failed, continuing without display fields",
			"handle", session.Handle, "error", err)
	} else {
		result.DisplayName = profile.DisplayName
		result.AvatarURL = profile.Avatar
	}

	a.logger.Info("login succeeded", "handle", session.Handle, "did", session.DID)
	return result, nil
}

// Refresh exchanges the stored refresh token for a fresh token pair.
// Returns ErrNoRefreshToken when the handle has no stored refresh token.
func (a *Authenticator) Refresh(ctx context.Context, handle string) (*Result, error) {
	stored, err := a.creds.Get(handle)
	if errors.Is(err, ErrNoCredentials) {
		return nil, ErrNoRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	if stored.RefreshJWT == "" {
		return nil, ErrNoRefreshToken
	}

	session, err := a.client.RefreshSession(ctx, stored.ServiceURL, stored.RefreshJWT)
	if err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}

	if err := a.creds.Put(session.Handle, &Credentials{
		DID:        session.DID,
		ServiceURL: stored.ServiceURL,
		AccessJWT:  session.AccessJWT,
		RefreshJWT: session.RefreshJWT,
	}); err != nil {
		return nil, fmt.Errorf("storing refreshed credentials: %w", err)
	}

	a.logger.Info("session refreshed", "handle", session.Handle)
	return a.resultFromSession(session, stored.ServiceURL), nil
}

// Verify reports whether a usable token is stored for the handle. Absence is
// false, never an error. The live check against the PDS is best-effort:
// transient network trouble also degrades to false.
func (a *Authenticator) Verify(ctx context.Context, handle string) bool {
	stored, err := a.creds.Get(handle)
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			a.logger.Warn("credential lookup failed during verify", "handle", handle, "error", err)
		}
		return false
	}

	if expiry, ok := TokenExpiry(stored.AccessJWT); ok && time.Now().After(expiry) {
		return false
	}

	if err := a.client.CheckSession(ctx, stored.ServiceURL, stored.AccessJWT); err != nil {
		a.logger.Debug("live session check failed", "handle", handle, "error", err)
		return false
	}
	return true
}

// Logout clears local secret material unconditionally, then attempts a
// best-effort remote revoke. The returned error only ever describes the
// remote step; local cleanup has already happened when it is non-nil.
func (a *Authenticator) Logout(ctx context.Context, handle string) error {
	stored, err := a.creds.Get(handle)
	if errors.Is(err, ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := a.creds.Delete(handle); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}

	if stored.RefreshJWT != "" {
		if err := a.client.DeleteSession(ctx, stored.ServiceURL, stored.RefreshJWT); err != nil {
			a.logger.Warn("remote session revoke failed", "handle", handle, "error", err)
			return fmt.Errorf("revoking remote session: %w", err)
		}
	}

	a.logger.Info("logged out", "handle", handle)
	return nil
}

func (a *Authenticator) resultFromSession(session *atproto.Session, serviceURL string) *Result {
	result := &Result{
		Handle:            session.Handle,
		DID:               session.DID,
		ServiceURL:        serviceURL,
		AccessFingerprint: Fingerprint(session.AccessJWT),
	}

	if session.RefreshJWT != "" {
		fp := Fingerprint(session.RefreshJWT)
		result.RefreshFingerprint = &fp
	}

	if expiry, ok := TokenExpiry(session.AccessJWT); ok {
		result.ExpiresAt = &expiry
	} else {
		fallback := time.Now().UTC().Add(a.defaultTTL)
		result.ExpiresAt = &fallback
	}

	return result
}

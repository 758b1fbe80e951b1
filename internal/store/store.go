// ABOUTME: Store interface and data types for atdeck persistence
// ABOUTME: Defines Account, OAuthSession, UserPreferences and the Store interface

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAccount is returned when creating an account would leave two
// active accounts for the same DID
var ErrDuplicateAccount = errors.New("active account already exists for did")

// ParseError indicates a stored enum value that is not part of the closed set.
// It surfaces at the persistence boundary instead of silently defaulting.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized %s value %q", e.Field, e.Value)
}

// AuthType identifies how an account authenticates against its PDS.
type AuthType string

const (
	AuthTypeOAuth       AuthType = "oauth"
	AuthTypeAppPassword AuthType = "app_password"
)

// ParseAuthType validates a stored auth type string.
func ParseAuthType(s string) (AuthType, error) {
	switch AuthType(s) {
	case AuthTypeOAuth, AuthTypeAppPassword:
		return AuthType(s), nil
	}
	return "", &ParseError{Field: "auth_type", Value: s}
}

// Theme is the UI theme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ParseTheme validates a stored theme string.
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case ThemeLight, ThemeDark, ThemeSystem:
		return Theme(s), nil
	}
	return "", &ParseError{Field: "theme", Value: s}
}

// Language is a supported UI locale tag.
type Language string

const (
	LanguageJapanese   Language = "ja"
	LanguageEnglish    Language = "en"
	LanguagePortuguese Language = "pt-BR"
	LanguageKorean     Language = "ko"
	LanguageGerman     Language = "de"
)

// ParseLanguage validates a stored language tag.
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case LanguageJapanese, LanguageEnglish, LanguagePortuguese, LanguageKorean, LanguageGerman:
		return Language(s), nil
	}
	return "", &ParseError{Field: "language", Value: s}
}

// Account represents one Bluesky/AT Protocol account known to the deck.
// The DID is the authoritative identity; the handle is a mutable lookup key.
// Accounts are soft-deleted: logout flips IsActive, rows are never removed.
type Account struct {
	ID          int64
	Handle      string
	DID         string
	ServiceURL  string
	AuthType    AuthType
	DisplayName *string
	AvatarURL   *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OAuthSession holds the durable view of an account's tokens. Only one-way
// fingerprints are stored, never the tokens themselves.
type OAuthSession struct {
	ID               int64
	AccountID        int64
	AccessTokenHash  string
	RefreshTokenHash *string
	ExpiresAt        *time.Time
	Scope            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserPreferences holds per-account UI settings, created lazily on first write.
type UserPreferences struct {
	AccountID            int64
	Theme                Theme
	Language             Language
	NotificationsEnabled bool
	AutoRefreshInterval  int // seconds
	PreferencesJSON      *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DefaultPreferences returns the preferences applied when an account has
// never written any.
func DefaultPreferences(accountID int64) *UserPreferences {
	return &UserPreferences{
		AccountID:            accountID,
		Theme:                ThemeSystem,
		Language:             LanguageJapanese,
		NotificationsEnabled: true,
		AutoRefreshInterval:  60,
	}
}

// CreateAccountParams carries the fields needed to insert a new account row.
type CreateAccountParams struct {
	Handle      string
	DID         string
	ServiceURL  string
	AuthType    AuthType
	DisplayName *string
	AvatarURL   *string
}

// Store defines the interface for durable account/session/preference state
type Store interface {
	// Accounts (soft-delete only)
	CreateAccount(ctx context.Context, params *CreateAccountParams) (int64, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*Account, error)
	GetAccountByDID(ctx context.Context, did string) (*Account, error)
	ListActiveAccounts(ctx context.Context) ([]*Account, error)
	UpdateAccountProfile(ctx context.Context, id int64, handle string, displayName, avatarURL *string) error
	ReactivateAccount(ctx context.Context, id int64) error
	DeactivateAccount(ctx context.Context, id int64) error

	// OAuth sessions (token fingerprints, keyed uniquely by account)
	UpsertOAuthSession(ctx context.Context, session *OAuthSession) error
	GetOAuthSession(ctx context.Context, accountID int64) (*OAuthSession, error)
	DeleteOAuthSession(ctx context.Context, accountID int64) error

	// Preferences (lazy 1:1 per account)
	UpsertUserPreferences(ctx context.Context, prefs *UserPreferences) error
	GetUserPreferences(ctx context.Context, accountID int64) (*UserPreferences, error)

	// Close releases any resources held by the store
	Close() error
}

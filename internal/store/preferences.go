// ABOUTME: User preferences persistence with lazy creation and upsert semantics
// ABOUTME: Applies documented defaults when an account has never written any

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUserPreferences inserts or replaces the preferences row for an account.
func (s *SQLiteStore) UpsertUserPreferences(ctx context.Context, prefs *UserPreferences) error {
	now := time.Now().UTC().Format(time.RFC3339)

	preferencesJSON := "{}"
	if prefs.PreferencesJSON != nil {
		preferencesJSON = *prefs.PreferencesJSON
	}

	query := `
		INSERT INTO user_preferences (account_id, theme, language, notifications_enabled, auto_refresh_interval, preferences_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			theme = excluded.theme,
			language = excluded.language,
			notifications_enabled = excluded.notifications_enabled,
			auto_refresh_interval = excluded.auto_refresh_interval,
			preferences_json = excluded.preferences_json,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		prefs.AccountID,
		string(prefs.Theme),
		string(prefs.Language),
		prefs.NotificationsEnabled,
		prefs.AutoRefreshInterval,
		preferencesJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting user preferences: %w", err)
	}

	s.logger.Debug("upserted user preferences", "account_id", prefs.AccountID)
	return nil
}

// GetUserPreferences retrieves preferences for an account, applying defaults
// (system theme, primary locale) when no row has been written yet.
func (s *SQLiteStore) GetUserPreferences(ctx context.Context, accountID int64) (*UserPreferences, error) {
	query := `
		SELECT account_id, theme, language, notifications_enabled, auto_refresh_interval, preferences_json, created_at, updated_at
		FROM user_preferences
		WHERE account_id = ?
	`

	var prefs UserPreferences
	var theme, language string
	var preferencesJSON sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&prefs.AccountID,
		&theme,
		&language,
		&prefs.NotificationsEnabled,
		&prefs.AutoRefreshInterval,
		&preferencesJSON,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(accountID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user preferences: %w", err)
	}

	prefs.Theme, err = ParseTheme(theme)
	if err != nil {
		return nil, err
	}
	prefs.Language, err = ParseLanguage(language)
	if err != nil {
		return nil, err
	}

	if preferencesJSON.Valid {
		prefs.PreferencesJSON = &preferencesJSON.String
	}
	prefs.CreatedAt = parseTimestamp(createdAt, "user_preferences.created_at")
	prefs.UpdatedAt = parseTimestamp(updatedAt, "user_preferences.updated_at")

	return &prefs, nil
}

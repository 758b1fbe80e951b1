// ABOUTME: Tests for user preference persistence
// ABOUTME: Covers defaults on missing rows and upsert overwrite behavior

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserPreferences_Defaults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	accountID, err := store.CreateAccount(ctx, testAccountParams())
	require.NoError(t, err)

	// No row written yet: defaults, not ErrNotFound
	prefs, err := store.GetUserPreferences(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, ThemeSystem, prefs.Theme)
	assert.Equal(t, LanguageJapanese, prefs.Language)
	assert.True(t, prefs.NotificationsEnabled)
	assert.Equal(t, 60, prefs.AutoRefreshInterval)
}

func TestUpsertUserPreferences(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	accountID, err := store.CreateAccount(ctx, testAccountParams())
	require.NoError(t, err)

	prefs := DefaultPreferences(accountID)
	prefs.Theme = ThemeDark
	require.NoError(t, store.UpsertUserPreferences(ctx, prefs))

	retrieved, err := store.GetUserPreferences(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, retrieved.Theme)
	assert.Equal(t, LanguageJapanese, retrieved.Language)
	require.NotNil(t, retrieved.PreferencesJSON)
	assert.Equal(t, "{}", *retrieved.PreferencesJSON)

	// Upsert replaces the existing row
	blob := `{"deck_columns":4}`
	prefs.Language = LanguageEnglish
	prefs.AutoRefreshInterval = 30
	prefs.PreferencesJSON = &blob
	require.NoError(t, store.UpsertUserPreferences(ctx, prefs))

	retrieved, err = store.GetUserPreferences(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, LanguageEnglish, retrieved.Language)
	assert.Equal(t, 30, retrieved.AutoRefreshInterval)
	require.NotNil(t, retrieved.PreferencesJSON)
	assert.Equal(t, blob, *retrieved.PreferencesJSON)
}

func TestGetUserPreferences_RejectsUnknownTheme(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	accountID, err := store.CreateAccount(ctx, testAccountParams())
	require.NoError(t, err)

	// Write a value outside the closed set directly; the language column has
	// no CHECK constraint so this simulates legacy or hand-edited data.
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO user_preferences (account_id, theme, language, notifications_enabled, auto_refresh_interval, created_at, updated_at)
		VALUES (?, 'dark', 'zz', 1, 60, '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`, accountID)
	require.NoError(t, err)

	_, err = store.GetUserPreferences(ctx, accountID)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "language", parseErr.Field)
	assert.Equal(t, "zz", parseErr.Value)
}

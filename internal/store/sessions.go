// ABOUTME: OAuth session persistence keyed uniquely by account
// ABOUTME: Stores token fingerprints only, never plaintext secrets

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertOAuthSession inserts or replaces the session row for an account.
// Fingerprints, expiry and scope are overwritten atomically.
func (s *SQLiteStore) UpsertOAuthSession(ctx context.Context, session *OAuthSession) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var expiresAt any
	if session.ExpiresAt != nil {
		expiresAt = session.ExpiresAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO oauth_sessions (account_id, access_token_hash, refresh_token_hash, expires_at, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			access_token_hash = excluded.access_token_hash,
			refresh_token_hash = excluded.refresh_token_hash,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		session.AccountID,
		session.AccessTokenHash,
		session.RefreshTokenHash,
		expiresAt,
		session.Scope,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting oauth session: %w", err)
	}

	s.logger.Debug("upserted oauth session", "account_id", session.AccountID)
	return nil
}

// GetOAuthSession retrieves the session row for an account.
// Returns ErrNotFound if the account has no stored session.
func (s *SQLiteStore) GetOAuthSession(ctx context.Context, accountID int64) (*OAuthSession, error) {
	query := `
		SELECT id, account_id, access_token_hash, refresh_token_hash, expires_at, scope, created_at, updated_at
		FROM oauth_sessions
		WHERE account_id = ?
	`

	var session OAuthSession
	var refreshHash, expiresAt, scope sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&session.ID,
		&session.AccountID,
		&session.AccessTokenHash,
		&refreshHash,
		&expiresAt,
		&scope,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying oauth session: %w", err)
	}

	if refreshHash.Valid {
		session.RefreshTokenHash = &refreshHash.String
	}
	if scope.Valid {
		session.Scope = &scope.String
	}
	if expiresAt.Valid {
		parsed := parseTimestamp(expiresAt.String, "oauth_sessions.expires_at")
		if !parsed.IsZero() {
			session.ExpiresAt = &parsed
		}
	}
	session.CreatedAt = parseTimestamp(createdAt, "oauth_sessions.created_at")
	session.UpdatedAt = parseTimestamp(updatedAt, "oauth_sessions.updated_at")

	return &session, nil
}

// DeleteOAuthSession removes the stored fingerprints for an account.
// Deleting a session that doesn't exist is not an error; logout is idempotent.
func (s *SQLiteStore) DeleteOAuthSession(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("deleting oauth session: %w", err)
	}
	return nil
}

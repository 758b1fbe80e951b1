// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides account persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			handle       TEXT NOT NULL,
			did          TEXT NOT NULL,
			service_url  TEXT NOT NULL,
			auth_type    TEXT NOT NULL,
			display_name TEXT,
			avatar_url   TEXT,
			is_active    INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (auth_type IN ('oauth', 'app_password'))
		);

		-- At most one active account per DID; inactive rows may pile up.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_active_did
			ON accounts(did) WHERE is_active = 1;

		CREATE INDEX IF NOT EXISTS idx_accounts_handle ON accounts(handle);

		CREATE TABLE IF NOT EXISTS oauth_sessions (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id         INTEGER NOT NULL UNIQUE REFERENCES accounts(id),
			access_token_hash  TEXT NOT NULL,
			refresh_token_hash TEXT,
			expires_at         TEXT,
			scope              TEXT,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_preferences (
			account_id            INTEGER PRIMARY KEY REFERENCES accounts(id),
			theme                 TEXT NOT NULL DEFAULT 'system',
			language              TEXT NOT NULL DEFAULT 'ja',
			notifications_enabled INTEGER NOT NULL DEFAULT 1,
			auto_refresh_interval INTEGER NOT NULL DEFAULT 60,
			preferences_json      TEXT,
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL,

			CHECK (theme IN ('light', 'dark', 'system'))
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateAccount inserts a new active account row and returns its id.
// Returns ErrDuplicateAccount if an active account with the same DID exists.
func (s *SQLiteStore) CreateAccount(ctx context.Context, params *CreateAccountParams) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO accounts (handle, did, service_url, auth_type, display_name, avatar_url, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		params.Handle,
		params.DID,
		params.ServiceURL,
		string(params.AuthType),
		params.DisplayName,
		params.AvatarURL,
		now,
		now,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, ErrDuplicateAccount
		}
		return 0, fmt.Errorf("inserting account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting account id: %w", err)
	}

	s.logger.Debug("created account", "id", id, "handle", params.Handle, "did", params.DID)
	return id, nil
}

const accountColumns = `id, handle, did, service_url, auth_type, display_name, avatar_url, is_active, created_at, updated_at`

// GetAccount retrieves an account by id.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountByHandle retrieves the most recently updated account for a handle.
// Handles can move between accounts over time, so the active row wins.
func (s *SQLiteStore) GetAccountByHandle(ctx context.Context, handle string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE handle = ? ORDER BY is_active DESC, updated_at DESC LIMIT 1`,
		handle)
	return scanAccount(row)
}

// GetAccountByDID retrieves the account for a DID, preferring the active row.
func (s *SQLiteStore) GetAccountByDID(ctx context.Context, did string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE did = ? ORDER BY is_active DESC, updated_at DESC LIMIT 1`,
		did)
	return scanAccount(row)
}

// ListActiveAccounts returns all accounts with is_active set, oldest first.
func (s *SQLiteStore) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE is_active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying active accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating account rows: %w", err)
	}
	return accounts, nil
}

// UpdateAccountProfile refreshes the mutable identity fields after a login.
// The DID never changes; handle, display name and avatar can.
func (s *SQLiteStore) UpdateAccountProfile(ctx context.Context, id int64, handle string, displayName, avatarURL *string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET handle = ?, display_name = ?, avatar_url = ?, updated_at = ?
		WHERE id = ?
	`, handle, displayName, avatarURL, now, id)
	if err != nil {
		return fmt.Errorf("updating account profile: %w", err)
	}
	return requireRow(result)
}

// ReactivateAccount flips is_active back on for a soft-deleted account.
// Returns ErrDuplicateAccount if another active account holds the same DID.
func (s *SQLiteStore) ReactivateAccount(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = 1, updated_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("reactivating account: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	s.logger.Debug("reactivated account", "id", id)
	return nil
}

// DeactivateAccount soft-deletes an account. The row is never removed.
func (s *SQLiteStore) DeactivateAccount(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = 0, updated_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("deactivating account: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	s.logger.Debug("deactivated account", "id", id)
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanAccount.
type scanner interface {
	Scan(dest ...any) error
}

// scanAccount reads one accounts row, validating the stored auth type.
func scanAccount(row scanner) (*Account, error) {
	var account Account
	var authType string
	var displayName, avatarURL sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&account.ID,
		&account.Handle,
		&account.DID,
		&account.ServiceURL,
		&authType,
		&displayName,
		&avatarURL,
		&account.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account row: %w", err)
	}

	account.AuthType, err = ParseAuthType(authType)
	if err != nil {
		return nil, err
	}

	if displayName.Valid {
		account.DisplayName = &displayName.String
	}
	if avatarURL.Valid {
		account.AvatarURL = &avatarURL.String
	}
	account.CreatedAt = parseTimestamp(createdAt, "accounts.created_at")
	account.UpdatedAt = parseTimestamp(updatedAt, "accounts.updated_at")

	return &account, nil
}

// parseTimestamp parses an RFC3339 column, logging instead of failing on
// malformed values since timestamps are advisory.
func parseTimestamp(value, column string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		slog.Warn("failed to parse stored timestamp", "column", column, "value", value, "error", err)
		return time.Time{}
	}
	return parsed
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint
// violation. CHECK and foreign-key failures must not match: those are bugs,
// not duplicate accounts.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

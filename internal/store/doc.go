// Package store provides persistent storage for atdeck using SQLite.
//
// # Architecture
//
// The Store interface covers three durable record kinds:
//
//   - Account: One row per known account. Identity is the DID; the handle is
//     a mutable lookup convenience. Accounts are only ever soft-deleted
//     (is_active = 0), and a partial unique index guarantees at most one
//     active account per DID.
//   - OAuthSession: At most one row per account, holding SHA-256 fingerprints
//     of the access and refresh tokens plus expiry and scope. Raw tokens are
//     never written here; they live in the secure credential store.
//   - UserPreferences: At most one row per account, created lazily on first
//     write. Reads of a missing row return documented defaults rather than
//     ErrNotFound.
//
// SQLiteStore implements the interface on modernc.org/sqlite with WAL mode
// enabled so the orchestrator's concurrent commands can query in parallel.
//
// # Error Handling
//
// Lookups of missing rows return ErrNotFound. Violating the one-active-
// account-per-DID invariant returns ErrDuplicateAccount. Enum columns
// (auth_type, theme, language) are validated on scan; an unrecognized stored
// value surfaces as *ParseError instead of being silently defaulted.
package store

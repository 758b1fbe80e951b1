// ABOUTME: Tests for the file-backed credential store
// ABOUTME: Covers round-trips, permissions and absence semantics

package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCredentialStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileCredentialStore(path)
	require.NoError(t, err)

	creds := &Credentials{
		DID:        "did:plc:abc",
		ServiceURL: "https://example.test",
		AccessJWT:  "access",
		RefreshJWT: "refresh",
	}
	require.NoError(t, store.Put("alice.test", creds))

	got, err := store.Get("alice.test")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// Survives a fresh store instance reading the same file
	reopened, err := NewFileCredentialStore(path)
	require.NoError(t, err)
	got, err = reopened.Get("alice.test")
	require.NoError(t, err)
	assert.Equal(t, "refresh", got.RefreshJWT)
}

func TestFileCredentialStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileCredentialStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("alice.test", &Credentials{AccessJWT: "access"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileCredentialStore_Absence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileCredentialStore(path)
	require.NoError(t, err)

	_, err = store.Get("nobody.test")
	assert.ErrorIs(t, err, ErrNoCredentials)

	// Deleting something absent is a no-op
	assert.NoError(t, store.Delete("nobody.test"))
}

func TestFileCredentialStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileCredentialStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Put("alice.test", &Credentials{AccessJWT: "a"}))
	require.NoError(t, store.Put("bob.test", &Credentials{AccessJWT: "b"}))

	require.NoError(t, store.Delete("alice.test"))

	_, err = store.Get("alice.test")
	assert.ErrorIs(t, err, ErrNoCredentials)

	// Unrelated entries survive
	got, err := store.Get("bob.test")
	require.NoError(t, err)
	assert.Equal(t, "b", got.AccessJWT)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("some-token")
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint("some-token"))
	assert.NotEqual(t, fp, Fingerprint("other-token"))
}

func TestTokenExpiry_NotAJWT(t *testing.T) {
	_, ok := TokenExpiry("definitely-not-a-jwt")
	assert.False(t, ok)
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEncryptionKey() []byte {
	key := make([]byte, KeySize)
	copy(key, "0123456789abcdef0123456789abcdef")
	return key
}

func newTestCredentialStore(t *testing.T) *CredentialStore {
	t.Helper()
	store, err := NewCredentialStore(newTestStorage(t), testEncryptionKey())
	require.NoError(t, err)
	return store
}

func TestNewCredentialStore_RejectsBadKey(t *testing.T) {
	_, err := NewCredentialStore(newTestStorage(t), []byte("too-short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestCredentialStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStore(t)

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	cred := &Credential{
		UserID:       "user1",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    expiresAt,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
	}
	require.NoError(t, store.Save(ctx, cred))

	got, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "access-token", got.AccessToken)
	assert.Equal(t, "refresh-token", got.RefreshToken)
	assert.Equal(t, cred.Scopes, got.Scopes)
	assert.True(t, got.ExpiresAt.Equal(expiresAt))
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCredentialStore_TokensAreEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	sqlite := newTestStorage(t)
	store, err := NewCredentialStore(sqlite, testEncryptionKey())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "super-secret-access-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	row, err := sqlite.GetCredential(ctx, "user1")
	require.NoError(t, err)
	assert.NotContains(t, string(row.Ciphertext), "super-secret-access-token")
}

func TestCredentialStore_SaveUpdatesThroughVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStore(t)

	require.NoError(t, store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "old-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	got, err := store.Get(ctx, "user1")
	require.NoError(t, err)

	got.AccessToken = "new-token"
	got.ExpiresAt = time.Now().Add(2 * time.Hour)
	require.NoError(t, store.Save(ctx, got))

	updated, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "new-token", updated.AccessToken)
	assert.Equal(t, int64(2), updated.Version)
}

func TestCredentialStore_StaleSaveConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStore(t)

	require.NoError(t, store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	// Two readers pick up version 1; the second write must lose.
	first, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "user1")
	require.NoError(t, err)

	first.AccessToken = "winner"
	require.NoError(t, store.Save(ctx, first))

	second.AccessToken = "loser"
	assert.ErrorIs(t, store.Save(ctx, second), ErrConflict)

	got, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "winner", got.AccessToken)
}

func TestCredentialStore_DuplicateInsertConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStore(t)
	expiresAt := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "token",
		ExpiresAt:   expiresAt,
	}))

	err := store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "other-token",
		ExpiresAt:   expiresAt,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCredentialStore_RejectsExpiredCredential(t *testing.T) {
	store := newTestCredentialStore(t)

	err := store.Save(context.Background(), &Credential{
		UserID:      "user1",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCredentialStore_SaveValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStore(t)

	assert.Error(t, store.Save(ctx, nil))
	assert.ErrorIs(t, store.Save(ctx, &Credential{
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}), ErrInvalidInput)
}

func TestCredentialStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestCredentialStore(t)

	require.NoError(t, store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.Delete(ctx, "user1"))

	_, err := store.Get(ctx, "user1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialStore_GetWithWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	sqlite := newTestStorage(t)

	store, err := NewCredentialStore(sqlite, testEncryptionKey())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &Credential{
		UserID:      "user1",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	wrongKey := make([]byte, KeySize)
	copy(wrongKey, "ffffffffffffffffffffffffffffffff")
	other, err := NewCredentialStore(sqlite, wrongKey)
	require.NoError(t, err)

	_, err = other.Get(ctx, "user1")
	assert.Error(t, err)
}

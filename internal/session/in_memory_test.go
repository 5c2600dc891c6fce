package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sessionID, err := store.Create(ctx, "user1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	userID, err := store.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "user1", userID)
}

func TestInMemoryStore_SessionIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first, err := store.Create(ctx, "user1", time.Hour)
	require.NoError(t, err)
	second, err := store.Create(ctx, "user1", time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestInMemoryStore_UnknownSession(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_ExpiredSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sessionID, err := store.Create(ctx, "user1", -time.Minute)
	require.NoError(t, err)

	_, err = store.Get(ctx, sessionID)
	assert.ErrorIs(t, err, ErrExpired)

	// Expired sessions are removed on access.
	_, err = store.Get(ctx, sessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sessionID, err := store.Create(ctx, "user1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, sessionID))

	_, err = store.Get(ctx, sessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing session is not an error.
	assert.NoError(t, store.Delete(ctx, sessionID))
}

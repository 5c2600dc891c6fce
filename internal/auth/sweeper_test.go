package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveadmin-go/internal/storage"
	"driveadmin-go/internal/worker"
)

type fakePool struct {
	mu       sync.Mutex
	tasks    []worker.Task
	rejected bool
}

func (p *fakePool) Submit(task worker.Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejected {
		return false
	}
	p.tasks = append(p.tasks, task)
	return true
}

func (p *fakePool) submitted() []worker.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]worker.Task(nil), p.tasks...)
}

func TestRefreshSweeper_SubmitsExpiringCredentials(t *testing.T) {
	store := newMockStore()
	store.put(&storage.Credential{
		UserID:       "expiring",
		AccessToken:  "token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Minute),
	})
	store.put(&storage.Credential{
		UserID:       "fresh",
		AccessToken:  "token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	pool := &fakePool{}
	coordinator := newTestCoordinator(store, &mockRefresher{})
	sweeper := NewRefreshSweeper(store, coordinator, pool, time.Minute, 10*time.Minute, testLogger())

	sweeper.sweep(context.Background())

	tasks := pool.submitted()
	require.Len(t, tasks, 1)
	task, ok := tasks[0].(*refreshTask)
	require.True(t, ok)
	assert.Equal(t, "expiring", task.userID)
}

func TestRefreshSweeper_FullQueueIsNotFatal(t *testing.T) {
	store := newMockStore()
	store.put(&storage.Credential{
		UserID:       "expiring",
		AccessToken:  "token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Minute),
	})

	pool := &fakePool{rejected: true}
	coordinator := newTestCoordinator(store, &mockRefresher{})
	sweeper := NewRefreshSweeper(store, coordinator, pool, time.Minute, 10*time.Minute, testLogger())

	sweeper.sweep(context.Background())
	assert.Empty(t, pool.submitted())
}

func TestRefreshTask_RefreshesThroughCoordinator(t *testing.T) {
	store := newMockStore()
	store.put(&storage.Credential{
		UserID:       "user1",
		AccessToken:  "expired-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &mockRefresher{
		cred: &storage.Credential{
			AccessToken: "new-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	coordinator := newTestCoordinator(store, refresher)

	task := &refreshTask{coordinator: coordinator, userID: "user1", horizon: 10 * time.Minute, logger: testLogger()}
	require.NoError(t, task.Process())

	stored, err := store.Get(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.AccessToken)
}

func TestRefreshSweeper_RefreshesBeyondInteractiveMargin(t *testing.T) {
	// Expires inside the sweep lookahead but well outside the 1 minute
	// interactive margin. The sweep must refresh it anyway.
	store := newMockStore()
	store.put(&storage.Credential{
		UserID:       "user1",
		AccessToken:  "aging-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(5 * time.Minute),
	})
	refresher := &mockRefresher{
		cred: &storage.Credential{
			AccessToken: "new-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	coordinator := newTestCoordinator(store, refresher)

	pool := &fakePool{}
	sweeper := NewRefreshSweeper(store, coordinator, pool, time.Minute, 10*time.Minute, testLogger())
	sweeper.sweep(context.Background())

	tasks := pool.submitted()
	require.Len(t, tasks, 1)
	require.NoError(t, tasks[0].Process())

	assert.Equal(t, 1, refresher.callCount())
	stored, err := store.Get(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.AccessToken)
}

func TestRefreshTask_NotAuthorizedIsTerminal(t *testing.T) {
	// Revoked grant: the task must not ask the pool to retry.
	store := newMockStore()
	store.put(&storage.Credential{
		UserID:       "user1",
		AccessToken:  "expired-token",
		RefreshToken: "revoked-token",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &mockRefresher{
		errs: []error{fmt.Errorf("%w: invalid_grant", ErrInvalidGrant)},
	}
	coordinator := newTestCoordinator(store, refresher)

	task := &refreshTask{coordinator: coordinator, userID: "user1", horizon: 10 * time.Minute, logger: testLogger()}
	assert.NoError(t, task.Process())
}

func TestRefreshTask_TransientFailureIsRetryable(t *testing.T) {
	store := newMockStore()
	store.put(&storage.Credential{
		UserID:       "user1",
		AccessToken:  "expired-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &mockRefresher{
		errs: []error{fmt.Errorf("%w: provider returned 503", ErrTransientProvider)},
	}
	coordinator := newTestCoordinator(store, refresher)

	task := &refreshTask{coordinator: coordinator, userID: "user1", horizon: 10 * time.Minute, logger: testLogger()}
	assert.Error(t, task.Process())
}

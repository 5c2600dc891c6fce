package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"driveadmin-go/internal/storage"
)

// Mock credential store with compare-and-swap semantics matching the real
// SQLite-backed store.
type mockStore struct {
	mu       sync.Mutex
	creds    map[string]*storage.Credential
	getErr   error
	saveHook func(m *mockStore, cred *storage.Credential) error
}

func newMockStore() *mockStore {
	return &mockStore{creds: make(map[string]*storage.Credential)}
}

func (m *mockStore) Get(ctx context.Context, userID string) (*storage.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	cred, ok := m.creds[userID]
	if !ok {
		return nil, fmt.Errorf("%w: credential not found for user %s", storage.ErrNotFound, userID)
	}
	clone := *cred
	return &clone, nil
}

func (m *mockStore) Save(ctx context.Context, cred *storage.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveHook != nil {
		if err := m.saveHook(m, cred); err != nil {
			return err
		}
	}

	existing, ok := m.creds[cred.UserID]
	if cred.Version == 0 {
		if ok {
			return fmt.Errorf("%w: credential already exists", storage.ErrConflict)
		}
		saved := *cred
		saved.Version = 1
		saved.UpdatedAt = time.Now()
		m.creds[cred.UserID] = &saved
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: credential not found for user %s", storage.ErrNotFound, cred.UserID)
	}
	if existing.Version != cred.Version {
		return fmt.Errorf("%w: credential changed concurrently", storage.ErrConflict)
	}
	saved := *cred
	saved.Version = cred.Version + 1
	saved.UpdatedAt = time.Now()
	m.creds[cred.UserID] = &saved
	return nil
}

func (m *mockStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	return nil
}

func (m *mockStore) ListExpiring(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var userIDs []string
	for userID, cred := range m.creds {
		if cred.ExpiresAt.Before(before) {
			userIDs = append(userIDs, userID)
		}
	}
	return userIDs, nil
}

// put installs a credential as if it had been persisted, returning its
// stored version.
func (m *mockStore) put(cred *storage.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *cred
	if saved.Version == 0 {
		saved.Version = 1
	}
	saved.UpdatedAt = time.Now()
	m.creds[cred.UserID] = &saved
}

func (m *mockStore) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.creds[userID]
	return ok
}

// Mock refresher with a per-call error queue and a call counter.
type mockRefresher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	errs  []error
	cred  *storage.Credential
}

func (m *mockRefresher) Refresh(ctx context.Context, refreshToken string) (*storage.Credential, error) {
	m.mu.Lock()
	m.calls++
	var err error
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	}
	delay := m.delay
	cred := m.cred
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("mock refresher has no credential configured")
	}
	clone := *cred
	return &clone, nil
}

func (m *mockRefresher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStateTTL bounds how long an issued state stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// StateStore manages the OAuth state parameter (CSRF protection). States
// are single-use and bound to the user they were issued for.
type StateStore interface {
	Issue(userID string) (string, error)
	Consume(state string) (userID string, ok bool)
}

// InMemoryStateStore provides an in-memory implementation of the StateStore
// interface.
type InMemoryStateStore struct {
	mu     sync.Mutex
	states map[string]stateEntry
	ttl    time.Duration
	now    func() time.Time
}

type stateEntry struct {
	userID  string
	expires time.Time
}

// NewInMemoryStateStore creates a new InMemoryStateStore.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{
		states: make(map[string]stateEntry),
		ttl:    DefaultStateTTL,
		now:    time.Now,
	}
}

// Issue generates a new random state bound to the given user ID.
func (s *InMemoryStateStore) Issue(userID string) (string, error) {
	state := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Purge expired entries while we hold the lock.
	for k, e := range s.states {
		if s.now().After(e.expires) {
			delete(s.states, k)
		}
	}

	s.states[state] = stateEntry{
		userID:  userID,
		expires: s.now().Add(s.ttl),
	}
	return state, nil
}

// Consume redeems a state, deleting it in the same step so it can never be
// replayed. Unknown or expired states return ok=false.
func (s *InMemoryStateStore) Consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return "", false
	}
	delete(s.states, state)

	if s.now().After(entry.expires) {
		return "", false
	}
	return entry.userID, true
}

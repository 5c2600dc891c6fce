package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"driveadmin-go/internal/worker"
)

const (
	defaultSweepInterval  = 5 * time.Minute
	defaultSweepLookahead = 10 * time.Minute
)

// taskPool is the subset of the worker pool the sweeper needs.
type taskPool interface {
	Submit(task worker.Task) bool
}

// RefreshSweeper proactively refreshes credentials that are about to expire
// so interactive requests rarely pay the refresh latency. Each expiring
// credential becomes a worker-pool task; the coordinator's single-flight
// group keeps a sweep from colliding with an interactive refresh.
type RefreshSweeper struct {
	store       CredentialStore
	coordinator *Coordinator
	pool        taskPool
	interval    time.Duration
	lookahead   time.Duration
	logger      *log.Logger
}

// NewRefreshSweeper creates a RefreshSweeper. Non-positive interval or
// lookahead fall back to the defaults.
func NewRefreshSweeper(store CredentialStore, coordinator *Coordinator, pool taskPool, interval, lookahead time.Duration, logger *log.Logger) *RefreshSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if lookahead <= 0 {
		lookahead = defaultSweepLookahead
	}
	return &RefreshSweeper{
		store:       store,
		coordinator: coordinator,
		pool:        pool,
		interval:    interval,
		lookahead:   lookahead,
		logger:      logger,
	}
}

// Run sweeps once per interval until the context is cancelled.
func (s *RefreshSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RefreshSweeper) sweep(ctx context.Context) {
	userIDs, err := s.store.ListExpiring(ctx, time.Now().Add(s.lookahead))
	if err != nil {
		s.logger.Printf("Sweep failed to list expiring credentials: %v", err)
		return
	}

	for _, userID := range userIDs {
		task := &refreshTask{coordinator: s.coordinator, userID: userID, horizon: s.lookahead, logger: s.logger}
		if !s.pool.Submit(task) {
			s.logger.Printf("Worker queue full, skipping sweep refresh for user %s", userID)
		}
	}
}

// refreshTask refreshes one user's credential on a pool worker. The horizon
// matches the sweep lookahead, so anything the sweep listed actually gets
// refreshed rather than being judged fresh by the interactive margin.
type refreshTask struct {
	coordinator *Coordinator
	userID      string
	horizon     time.Duration
	logger      *log.Logger
}

func (t *refreshTask) Process() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := t.coordinator.refreshIfExpiringWithin(ctx, t.userID, t.horizon)
	if errors.Is(err, ErrNotAuthorized) {
		// Terminal: retrying cannot help until the user re-consents.
		t.logger.Printf("User %s needs re-authorization", t.userID)
		return nil
	}
	if err != nil {
		t.logger.Printf("Sweep refresh failed for user %s: %v", t.userID, err)
		return err
	}
	return nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"driveadmin-go/internal/metrics"
	"driveadmin-go/internal/storage"
)

// DefaultExpiryMargin is how long before expiry a token is already treated
// as invalid.
const DefaultExpiryMargin = 60 * time.Second

// Refresher trades a refresh token for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*storage.Credential, error)
}

// Coordinator hands out valid access tokens, refreshing expired credentials
// at most once per expiry event no matter how many callers arrive at once.
// In-process callers join the same in-flight refresh through a single-flight
// group keyed by user ID; across instances, the credential store's
// compare-and-swap write is the safety net.
type Coordinator struct {
	store     CredentialStore
	refresher Refresher
	margin    time.Duration
	logger    *log.Logger
	group     singleflight.Group
	now       func() time.Time
}

// NewCoordinator creates a Coordinator. A non-positive margin falls back to
// DefaultExpiryMargin.
func NewCoordinator(store CredentialStore, refresher Refresher, margin time.Duration, logger *log.Logger) *Coordinator {
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		margin:    margin,
		logger:    logger,
		now:       time.Now,
	}
}

// GetValidAccessToken returns an access token that is valid for at least the
// expiry margin, refreshing transparently when needed. ErrNotAuthorized
// means the user has no usable credential and must (re-)authorize.
func (c *Coordinator) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := c.validCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (c *Coordinator) validCredential(ctx context.Context, userID string) (*storage.Credential, error) {
	return c.credentialWithin(ctx, userID, c.margin)
}

// refreshIfExpiringWithin refreshes the credential when it expires inside
// the horizon, joining any refresh already in flight for the user. The
// background sweeper passes its lookahead here so sweep refreshes land well
// before interactive requests would pay the refresh latency.
func (c *Coordinator) refreshIfExpiringWithin(ctx context.Context, userID string, horizon time.Duration) error {
	if horizon < c.margin {
		horizon = c.margin
	}
	_, err := c.credentialWithin(ctx, userID, horizon)
	return err
}

// credentialWithin returns a credential valid for at least the horizon,
// refreshing it when needed.
func (c *Coordinator) credentialWithin(ctx context.Context, userID string, horizon time.Duration) (*storage.Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}

	cred, err := c.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if c.freshFor(cred, horizon) {
		return cred, nil
	}

	v, err, shared := c.group.Do(userID, func() (interface{}, error) {
		return c.refresh(ctx, userID, horizon)
	})
	if shared {
		metrics.RefreshJoins.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*storage.Credential), nil
}

func (c *Coordinator) freshFor(cred *storage.Credential, horizon time.Duration) bool {
	return cred.ExpiresAt.After(c.now().Add(horizon))
}

// refresh runs inside the single-flight group: exactly one execution per
// user ID at a time, with every concurrent caller receiving its result.
func (c *Coordinator) refresh(ctx context.Context, userID string, horizon time.Duration) (*storage.Credential, error) {
	metrics.RefreshesInFlight.Inc()
	defer metrics.RefreshesInFlight.Dec()
	start := c.now()
	defer func() {
		metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	}()

	// A caller that queued behind a finished flight may find the
	// credential already refreshed.
	cred, err := c.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if c.freshFor(cred, horizon) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		// Nothing to refresh with; the user has to consent again.
		if err := c.store.Delete(ctx, userID); err != nil {
			c.logger.Printf("Failed to delete credential without refresh token for user %s: %v", userID, err)
		}
		metrics.Refreshes.WithLabelValues("no_refresh_token").Inc()
		return nil, fmt.Errorf("%w: credential has no refresh token", ErrNotAuthorized)
	}

	refreshed, err := c.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			if delErr := c.store.Delete(ctx, userID); delErr != nil {
				c.logger.Printf("Failed to delete revoked credential for user %s: %v", userID, delErr)
			}
			metrics.Refreshes.WithLabelValues("invalid_grant").Inc()
			return nil, fmt.Errorf("%w: refresh token revoked", ErrNotAuthorized)
		}
		metrics.Refreshes.WithLabelValues("transient_error").Inc()
		return nil, fmt.Errorf("failed to refresh token for user %s: %w", userID, err)
	}

	refreshed.UserID = userID
	refreshed.Version = cred.Version
	// Google commonly omits the refresh token on refresh responses; the
	// stored one stays authoritative.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if len(refreshed.Scopes) == 0 {
		refreshed.Scopes = cred.Scopes
	}

	if err := c.store.Save(ctx, refreshed); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Another instance refreshed first; its record wins.
			metrics.StoreConflicts.Inc()
			winner, getErr := c.store.Get(ctx, userID)
			if getErr != nil {
				if errors.Is(getErr, storage.ErrNotFound) {
					return nil, ErrNotAuthorized
				}
				return nil, fmt.Errorf("failed to re-read credential after conflict: %w", getErr)
			}
			metrics.Refreshes.WithLabelValues("lost_race").Inc()
			return winner, nil
		}
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	refreshed.Version++

	metrics.Refreshes.WithLabelValues("success").Inc()
	return refreshed, nil
}

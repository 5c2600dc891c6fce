package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"driveadmin-go/internal/metrics"
	"driveadmin-go/internal/storage"
)

// DefaultScopes is requested when the configuration does not name any.
var DefaultScopes = []string{"https://www.googleapis.com/auth/drive.file"}

// Config holds the provider settings for the OAuth2 flow.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint // zero value means Google
}

// CredentialStore is the persistence surface the auth package needs. The
// storage package's CredentialStore is the production implementation.
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*storage.Credential, error)
	Save(ctx context.Context, cred *storage.Credential) error
	Delete(ctx context.Context, userID string) error
	ListExpiring(ctx context.Context, before time.Time) ([]string, error)
}

// Manager drives the OAuth2 authorization flow with Google: building
// authorization URLs, validating callback state, and exchanging codes.
type Manager struct {
	config    *oauth2.Config
	store     CredentialStore
	states    StateStore
	exchanger *Exchanger
	logger    *log.Logger
}

// NewManager validates the provider configuration and creates a Manager.
// Missing client ID, client secret or redirect URL is ErrConfiguration.
func NewManager(cfg Config, store CredentialStore, states StateStore, logger *log.Logger) (*Manager, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID", ErrConfiguration)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client secret", ErrConfiguration)
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%w: redirect URL", ErrConfiguration)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}

	return &Manager{
		config:    oauthConfig,
		store:     store,
		states:    states,
		exchanger: NewExchanger(oauthConfig),
		logger:    logger,
	}, nil
}

// Exchanger returns the token exchanger bound to this manager's provider
// configuration.
func (m *Manager) Exchanger() *Exchanger {
	return m.exchanger
}

// BuildAuthorizationURL constructs the provider redirect URL for the given
// state. access_type=offline is always requested so a refresh token is
// issued; prompt=consent is added when re-consent is forced.
func (m *Manager) BuildAuthorizationURL(state string, forceConsent bool) (string, error) {
	if m.config == nil {
		return "", ErrConfiguration
	}
	if state == "" {
		return "", fmt.Errorf("state cannot be empty")
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if forceConsent {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return m.config.AuthCodeURL(state, opts...), nil
}

// StartAuthorization issues a single-use state bound to the user and returns
// the authorization URL to redirect them to. Users without a stored
// credential get prompt=consent so Google issues a refresh token instead of
// silently reusing a prior grant.
func (m *Manager) StartAuthorization(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}

	forceConsent := false
	if _, err := m.store.Get(ctx, userID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("failed to check stored credential: %w", err)
		}
		forceConsent = true
	}

	state, err := m.states.Issue(userID)
	if err != nil {
		return "", fmt.Errorf("failed to issue state: %w", err)
	}
	return m.BuildAuthorizationURL(state, forceConsent)
}

// HandleCallback verifies the callback state, exchanges the authorization
// code and persists the resulting credential. It returns the user the state
// was issued for.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("authorization code cannot be empty")
	}

	userID, ok := m.states.Consume(state)
	if !ok {
		return "", ErrInvalidState
	}

	cred, err := m.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		metrics.Exchanges.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("failed to exchange code for user %s: %w", userID, err)
	}
	cred.UserID = userID

	if err := m.saveExchanged(ctx, cred); err != nil {
		metrics.Exchanges.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.Exchanges.WithLabelValues("success").Inc()
	return userID, nil
}

// saveExchanged persists a freshly exchanged credential. A re-authorization
// overwrites the existing record through compare-and-swap, keeping the old
// refresh token when Google did not send a new one.
func (m *Manager) saveExchanged(ctx context.Context, cred *storage.Credential) error {
	for attempt := 0; attempt < 3; attempt++ {
		existing, err := m.store.Get(ctx, cred.UserID)
		switch {
		case err == nil:
			cred.Version = existing.Version
			if cred.RefreshToken == "" {
				cred.RefreshToken = existing.RefreshToken
			}
		case errors.Is(err, storage.ErrNotFound):
			cred.Version = 0
		default:
			return fmt.Errorf("failed to read existing credential: %w", err)
		}

		err = m.store.Save(ctx, cred)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("failed to store credential: %w", err)
		}
	}
	return fmt.Errorf("storing credential for user %s: %w", cred.UserID, storage.ErrConflict)
}

// Disconnect deletes the stored credential, forcing re-consent on the next
// authorization.
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	m.logger.Printf("Deleted credential for user %s", userID)
	return nil
}

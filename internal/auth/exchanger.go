package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"driveadmin-go/internal/storage"
)

const (
	defaultProviderTimeout = 10 * time.Second
	defaultMaxAttempts     = 3
	defaultBackoffBase     = 500 * time.Millisecond

	// Providers that omit expires_in issue long-lived tokens; an hour is a
	// safe lower bound to persist.
	defaultTokenTTL = time.Hour
)

// Exchanger talks to the provider's token endpoint. It is stateless: the
// caller persists whatever it returns.
type Exchanger struct {
	config      *oauth2.Config
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

// NewExchanger creates an Exchanger with the default timeout and retry
// policy.
func NewExchanger(config *oauth2.Config) *Exchanger {
	return &Exchanger{
		config:      config,
		timeout:     defaultProviderTimeout,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		now:         time.Now,
	}
}

// ExchangeCode trades an authorization code for a credential. Authorization
// codes are single-use, so the call is never retried; a consumed or bogus
// code surfaces as ErrInvalidGrant.
func (e *Exchanger) ExchangeCode(ctx context.Context, code string) (*storage.Credential, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return e.credentialFromToken(token), nil
}

// Refresh trades a refresh token for a new credential. Transient failures
// are retried with exponential backoff up to the attempt bound; a provider
// verdict of invalid_grant is terminal and returned immediately.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*storage.Credential, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token cannot be empty")
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := e.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		cred, err := e.refreshOnce(ctx, refreshToken)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrTransientProvider) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("refresh failed after %d attempts: %w", e.maxAttempts, lastErr)
}

func (e *Exchanger) refreshOnce(ctx context.Context, refreshToken string) (*storage.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tokenSource := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return e.credentialFromToken(token), nil
}

func (e *Exchanger) credentialFromToken(token *oauth2.Token) *storage.Credential {
	expiresAt := token.Expiry
	if expiresAt.IsZero() || !expiresAt.After(e.now()) {
		expiresAt = e.now().Add(defaultTokenTTL)
	}

	cred := &storage.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		cred.Scopes = strings.Fields(scope)
	}
	return cred
}

package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

var (
	// ErrConfiguration means a required provider setting is missing. It is
	// fatal at startup, never retried.
	ErrConfiguration = errors.New("missing required auth configuration")

	// ErrInvalidGrant means the provider rejected the authorization code or
	// refresh token. Terminal: the credential must be deleted and the user
	// sent through consent again.
	ErrInvalidGrant = errors.New("grant rejected by provider")

	// ErrTransientProvider covers network failures, timeouts and 5xx
	// responses from the token endpoint. Eligible for bounded retry.
	ErrTransientProvider = errors.New("transient provider failure")

	// ErrNotAuthorized means no credential exists for the user, or it was
	// just revoked. The user must (re-)authorize.
	ErrNotAuthorized = errors.New("user is not authorized")

	// ErrInvalidState means the callback state parameter was unknown,
	// already used, or expired.
	ErrInvalidState = errors.New("invalid state parameter")
)

// classifyProviderError maps a token-endpoint failure onto the retry policy:
// invalid_grant and invalid_token are terminal, 5xx and rate limiting are
// transient, and anything without a provider response is a network failure.
func classifyProviderError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_token":
			return fmt.Errorf("%w: %s", ErrInvalidGrant, retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil {
			code := retrieveErr.Response.StatusCode
			if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
				return fmt.Errorf("%w: provider returned %d", ErrTransientProvider, code)
			}
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransientProvider, err)
}

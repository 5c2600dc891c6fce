package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// Accessor is the single entry point feature code may use to obtain bearer
// tokens. Reading the credential store directly from feature code would
// bypass the refresh coordination, so everything goes through here.
type Accessor struct {
	coordinator *Coordinator
}

// NewAccessor creates an Accessor over the given coordinator.
func NewAccessor(coordinator *Coordinator) *Accessor {
	return &Accessor{coordinator: coordinator}
}

// GetValidAccessToken returns a currently valid access token for the user,
// refreshing transparently when expired.
func (a *Accessor) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	return a.coordinator.GetValidAccessToken(ctx, userID)
}

// TokenSource returns an oauth2.TokenSource bound to one user, suitable for
// oauth2.NewClient or the Google API client options.
func (a *Accessor) TokenSource(ctx context.Context, userID string) oauth2.TokenSource {
	return &userTokenSource{ctx: ctx, userID: userID, coordinator: a.coordinator}
}

type userTokenSource struct {
	ctx         context.Context
	userID      string
	coordinator *Coordinator
}

func (ts *userTokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.coordinator.validCredential(ts.ctx, ts.userID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt,
	}, nil
}

package drive

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// TokenSourceProvider supplies per-user token sources. The auth accessor is
// the only implementation; Drive code never reads the credential store.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string) oauth2.TokenSource
}

// Service provides methods for interacting with the Drive API on behalf of
// authenticated users.
type Service struct {
	tokens TokenSourceProvider
	logger *log.Logger
	opts   []option.ClientOption
}

// NewService creates a new Drive Service. Extra client options are appended
// after the per-user token source.
func NewService(tokens TokenSourceProvider, logger *log.Logger, opts ...option.ClientOption) *Service {
	return &Service{
		tokens: tokens,
		logger: logger,
		opts:   opts,
	}
}

// About summarizes the Drive account the credential grants access to.
type About struct {
	UserEmail    string `json:"user_email"`
	StorageUsed  int64  `json:"storage_used"`
	StorageLimit int64  `json:"storage_limit"`
}

// client builds a Drive API client authorized as the given user.
func (s *Service) client(ctx context.Context, userID string) (*drive.Service, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(s.tokens.TokenSource(ctx, userID))}, s.opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	return srv, nil
}

// About fetches the account summary for a user.
func (s *Service) About(ctx context.Context, userID string) (*About, error) {
	srv, err := s.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := srv.About.Get().Fields("user(emailAddress),storageQuota(limit,usage)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch drive account info: %w", err)
	}

	about := &About{}
	if resp.User != nil {
		about.UserEmail = resp.User.EmailAddress
	}
	if resp.StorageQuota != nil {
		about.StorageUsed = resp.StorageQuota.Usage
		about.StorageLimit = resp.StorageQuota.Limit
	}
	return about, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Credential is one user's OAuth2 credential record. AccessToken,
// RefreshToken and Scopes travel inside the encrypted payload; ExpiresAt,
// Version and UpdatedAt mirror the row columns.
//
// RefreshToken may be empty when the provider never issued one, in which
// case re-consent is required before the access token expires.
type Credential struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`

	// Version is the optimistic-concurrency token. Zero means the record
	// has never been persisted; any saved record carries the stored
	// version so a later save can detect concurrent writers.
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// credentialDB is the subset of SQLiteStorage the CredentialStore needs.
type credentialDB interface {
	GetCredential(ctx context.Context, userID string) (*credentialRow, error)
	InsertCredential(ctx context.Context, userID string, ciphertext, nonce []byte, expiresAt time.Time) error
	UpdateCredential(ctx context.Context, userID string, ciphertext, nonce []byte, expiresAt time.Time, expectVersion int64) error
	DeleteCredential(ctx context.Context, userID string) error
	ListExpiring(ctx context.Context, before time.Time) ([]string, error)
}

// CredentialStore persists Credential records, encrypting them at rest.
// All writes are conditional on the record version, so concurrent refreshes
// across process instances can never clobber a newer record with a stale one.
type CredentialStore struct {
	db            credentialDB
	encryptionKey []byte
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db *SQLiteStorage, key []byte) (*CredentialStore, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &CredentialStore{db: db, encryptionKey: key}, nil
}

// Get retrieves and decrypts the credential for a user.
func (cs *CredentialStore) Get(ctx context.Context, userID string) (*Credential, error) {
	row, err := cs.db.GetCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	plaintext, err := DecryptCredential(cs.encryptionKey, row.Ciphertext, row.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for user %s: %w", userID, err)
	}

	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	cred.UserID = row.UserID
	cred.ExpiresAt = row.ExpiresAt
	cred.Version = row.Version
	cred.UpdatedAt = row.UpdatedAt
	return &cred, nil
}

// Save persists a credential. A record with Version zero is inserted; any
// other version is a compare-and-swap against the stored row. Both paths
// surface ErrConflict when a concurrent writer got there first, leaving the
// stored record untouched.
func (cs *CredentialStore) Save(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return errors.New("credential cannot be nil")
	}
	if cred.UserID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	if !cred.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("%w: refusing to persist an already-expired credential", ErrInvalidInput)
	}

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	ciphertext, nonce, err := EncryptCredential(cs.encryptionKey, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if cred.Version == 0 {
		return cs.db.InsertCredential(ctx, cred.UserID, ciphertext, nonce, cred.ExpiresAt)
	}
	return cs.db.UpdateCredential(ctx, cred.UserID, ciphertext, nonce, cred.ExpiresAt, cred.Version)
}

// Delete removes the credential for a user, forcing re-consent.
func (cs *CredentialStore) Delete(ctx context.Context, userID string) error {
	return cs.db.DeleteCredential(ctx, userID)
}

// ListExpiring returns user IDs whose credentials expire before the given
// instant.
func (cs *CredentialStore) ListExpiring(ctx context.Context, before time.Time) ([]string, error) {
	return cs.db.ListExpiring(ctx, before)
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
)

// credentialRow is the raw persisted form of a credential: an encrypted
// payload plus the columns needed for expiry sweeps and optimistic locking.
type credentialRow struct {
	UserID     string
	Ciphertext []byte
	Nonce      []byte
	ExpiresAt  time.Time
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLiteStorage instance
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &SQLiteStorage{db: db, path: path}, nil
}

// NewSQLiteStorageFromDB wraps an already-open database handle. Used by the
// pool, which configures connection limits before handing the handle over.
func NewSQLiteStorageFromDB(db *sql.DB, path string) *SQLiteStorage {
	return &SQLiteStorage{db: db, path: path}
}

// Close closes the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// validateCredentialInput checks if the credential input parameters are valid
func validateCredentialInput(userID string, ciphertext, nonce []byte) error {
	if userID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	if len(ciphertext) == 0 {
		return fmt.Errorf("%w: ciphertext cannot be empty", ErrInvalidInput)
	}
	if len(nonce) == 0 {
		return fmt.Errorf("%w: nonce cannot be empty", ErrInvalidInput)
	}
	return nil
}

// GetCredential retrieves the encrypted credential row for a user.
func (s *SQLiteStorage) GetCredential(ctx context.Context, userID string) (*credentialRow, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}

	row := &credentialRow{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, ciphertext, nonce, expires_at, version, created_at, updated_at
		FROM credentials
		WHERE user_id = ?`,
		userID).Scan(
		&row.UserID,
		&row.Ciphertext,
		&row.Nonce,
		&row.ExpiresAt,
		&row.Version,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: credential not found for user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return row, nil
}

// InsertCredential creates the credential row for a user. A row that already
// exists means another writer won the race, surfaced as ErrConflict.
func (s *SQLiteStorage) InsertCredential(ctx context.Context, userID string, ciphertext, nonce []byte, expiresAt time.Time) error {
	if err := validateCredentialInput(userID, ciphertext, nonce); err != nil {
		return err
	}

	query := `
		INSERT INTO credentials (user_id, ciphertext, nonce, expires_at, version)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, userID, ciphertext, nonce, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: credential already exists for user %s", ErrConflict, userID)
	}
	return nil
}

// UpdateCredential replaces the credential row only if the stored version
// still matches expectVersion. A zero row count means a concurrent writer got
// there first, surfaced as ErrConflict so the caller can re-read.
func (s *SQLiteStorage) UpdateCredential(ctx context.Context, userID string, ciphertext, nonce []byte, expiresAt time.Time, expectVersion int64) error {
	if err := validateCredentialInput(userID, ciphertext, nonce); err != nil {
		return err
	}
	if expectVersion <= 0 {
		return fmt.Errorf("%w: expected version must be positive", ErrInvalidInput)
	}

	query := `
		UPDATE credentials
		SET ciphertext = ?, nonce = ?, expires_at = ?, version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND version = ?
	`
	result, err := s.db.ExecContext(ctx, query, ciphertext, nonce, expiresAt.UTC(), userID, expectVersion)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a lost race from a missing row.
		if _, getErr := s.GetCredential(ctx, userID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: credential for user %s changed concurrently", ErrConflict, userID)
	}
	return nil
}

// DeleteCredential removes the credential row for a user. Deleting a row
// that does not exist is not an error.
func (s *SQLiteStorage) DeleteCredential(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// ListExpiring returns the user IDs of credentials that expire before the
// given instant, for the background refresh sweep.
func (s *SQLiteStorage) ListExpiring(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM credentials
		WHERE expires_at < ?
		ORDER BY expires_at ASC`,
		before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user ID: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expiring credentials: %w", err)
	}
	return userIDs, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteCredentialStore keeps the credential in a single row so it survives
// restarts of the client.
type SQLiteCredentialStore struct {
	db *sql.DB
}

func NewSQLiteCredentialStore(db *sql.DB) *SQLiteCredentialStore {
	return &SQLiteCredentialStore{db: db}
}

// OpenSQLiteCredentialStore opens file, migrates it and returns the store
// together with the database so the caller can close it.
func OpenSQLiteCredentialStore(file string) (*SQLiteCredentialStore, *SQLiteDB, error) {
	db, err := NewSQLiteDB(file, &SQLiteDBOption{Mode: "rwc"})
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return NewSQLiteCredentialStore(db.DB), db, nil
}

// Load returns the stored token or "" when the slot is empty.
func (s *SQLiteCredentialStore) Load(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, "SELECT token FROM credentials WHERE slot = 1").Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select credential: %w", err)
	}
	return token, nil
}

func (s *SQLiteCredentialStore) Save(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (slot, token, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *SQLiteCredentialStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE slot = 1"); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

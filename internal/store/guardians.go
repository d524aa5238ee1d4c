package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// GuardianDirectory resolves guardian addresses to email addresses. A
// guardian with no registered email is skipped by the coordinator, never
// a failure.
type GuardianDirectory interface {
	GuardianEmail(ctx context.Context, guardian string) (string, error)
}

func (s *Store) SetGuardianEmail(ctx context.Context, guardian, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_emails (guardian, email) VALUES (?, ?)
		ON CONFLICT(guardian) DO UPDATE SET email = excluded.email`,
		strings.ToLower(guardian), email)
	return err
}

// GuardianEmail returns ErrNotFound when the guardian has no email on file.
func (s *Store) GuardianEmail(ctx context.Context, guardian string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx,
		`SELECT email FROM guardian_emails WHERE guardian = ?`,
		strings.ToLower(guardian)).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return email, err
}

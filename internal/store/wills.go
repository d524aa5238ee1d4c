package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/charon-estate/charond/internal/model"
)

// WillStore is the gateway the execution path reads wills through.
type WillStore interface {
	ListWills(ctx context.Context, subject string) ([]model.DigitalWill, error)
}

const willColumns = `id, subject, target_url, username, encrypted_secret, secret_hash, instruction, totp_secret, created_at`

func (s *Store) SaveWill(ctx context.Context, w model.DigitalWill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wills (`+willColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_url = excluded.target_url,
			username = excluded.username,
			encrypted_secret = excluded.encrypted_secret,
			secret_hash = excluded.secret_hash,
			instruction = excluded.instruction,
			totp_secret = excluded.totp_secret`,
		w.ID, strings.ToLower(w.Subject), w.TargetURL, w.Username,
		w.EncryptedSecret, w.SecretHash, w.Instruction, w.TOTPSecret, w.CreatedAt)
	return err
}

// ListWills returns every will stored for subject. No wills is an empty
// slice, not an error.
func (s *Store) ListWills(ctx context.Context, subject string) ([]model.DigitalWill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+willColumns+` FROM wills WHERE subject = ? ORDER BY created_at`,
		strings.ToLower(subject))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var wills []model.DigitalWill
	for rows.Next() {
		w, err := scanWill(rows)
		if err != nil {
			return nil, err
		}
		wills = append(wills, w)
	}
	return wills, rows.Err()
}

func (s *Store) GetWill(ctx context.Context, id string) (model.DigitalWill, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+willColumns+` FROM wills WHERE id = ?`, id)
	w, err := scanWill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DigitalWill{}, ErrNotFound
	}
	return w, err
}

func (s *Store) DeleteWill(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wills WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWill(r rowScanner) (model.DigitalWill, error) {
	var w model.DigitalWill
	err := r.Scan(&w.ID, &w.Subject, &w.TargetURL, &w.Username,
		&w.EncryptedSecret, &w.SecretHash, &w.Instruction, &w.TOTPSecret, &w.CreatedAt)
	return w, err
}

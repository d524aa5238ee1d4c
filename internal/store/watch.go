package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/charon-estate/charond/internal/model"
)

// Cursor returns the last block height the watcher fully processed.
// ErrNotFound means the watcher has never run against this database.
func (s *Store) Cursor(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT height FROM watcher_cursor WHERE id = 1`).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return height, err
}

func (s *Store) SetCursor(ctx context.Context, height uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watcher_cursor (id, height) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height`, height)
	return err
}

// MarkTransition records that (subject, newStatus) has been dispatched and
// reports whether this call was the first to do so. Keying on the pair
// rather than the block gives at-most-once dispatch per status transition
// even when the lookback window re-surfaces the same event.
func (s *Store) MarkTransition(ctx context.Context, ev model.StatusChangeEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_transitions (subject, new_status, block_height, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject, new_status) DO NOTHING`,
		strings.ToLower(ev.Subject), uint8(ev.NewStatus), ev.BlockHeight, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/charon-estate/charond/internal/model"
)

// ExecutionRecord is the persisted terminal state of one execution.
type ExecutionRecord struct {
	Outcome    model.ExecutionOutcome `json:"outcome"`
	WillID     string                 `json:"willId,omitempty"`
	Subject    string                 `json:"subject,omitempty"`
	RecordedAt time.Time              `json:"recordedAt"`
}

func (s *Store) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	artifacts, err := json.Marshal(rec.Outcome.Artifacts)
	if err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, will_id, subject, success, output, error, attempts, artifacts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			success = excluded.success,
			output = excluded.output,
			error = excluded.error,
			attempts = excluded.attempts,
			artifacts = excluded.artifacts,
			recorded_at = excluded.recorded_at`,
		rec.Outcome.ExecutionID, rec.WillID, rec.Subject, rec.Outcome.Success,
		rec.Outcome.Output, rec.Outcome.Error, rec.Outcome.Attempts,
		string(artifacts), rec.RecordedAt)
	return err
}

func (s *Store) GetExecution(ctx context.Context, executionID string) (ExecutionRecord, error) {
	var (
		rec       ExecutionRecord
		artifacts string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, will_id, subject, success, output, error, attempts, artifacts, recorded_at
		FROM executions WHERE execution_id = ?`, executionID).
		Scan(&rec.Outcome.ExecutionID, &rec.WillID, &rec.Subject, &rec.Outcome.Success,
			&rec.Outcome.Output, &rec.Outcome.Error, &rec.Outcome.Attempts,
			&artifacts, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if artifacts != "" {
		if err := json.Unmarshal([]byte(artifacts), &rec.Outcome.Artifacts); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

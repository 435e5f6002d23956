package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jak0707/dially/internal/database/models"
)

// callTurnRepo implements CallTurnRepository.
type callTurnRepo struct {
	db *DB
}

// NewCallTurnRepository creates a new CallTurnRepository.
func NewCallTurnRepository(db *DB) CallTurnRepository {
	return &callTurnRepo{db: db}
}

// Create inserts a turn record.
func (r *callTurnRepo) Create(ctx context.Context, t *models.CallTurn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`INSERT INTO call_turns (call_id, turn, recording_url, transcript, reply,
		 audio_file, outcome, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		t.CallID, t.Turn, t.RecordingURL, t.Transcript, t.Reply,
		t.AudioFile, t.Outcome, t.DurationMS, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("inserting call turn: %w", err)
	}
	return nil
}

// ListByCallID returns a call's turns in order.
func (r *callTurnRepo) ListByCallID(ctx context.Context, callID string) ([]models.CallTurn, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT id, call_id, turn, recording_url, transcript, reply, audio_file,
		 outcome, duration_ms, created_at
		 FROM call_turns WHERE call_id = ? ORDER BY turn`), callID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing call turns: %w", err)
	}
	defer rows.Close()

	var turns []models.CallTurn
	for rows.Next() {
		var t models.CallTurn
		if err := rows.Scan(&t.ID, &t.CallID, &t.Turn, &t.RecordingURL, &t.Transcript,
			&t.Reply, &t.AudioFile, &t.Outcome, &t.DurationMS, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call turn rows: %w", err)
	}
	return turns, nil
}

// CountByOutcome returns the number of turns per outcome.
func (r *callTurnRepo) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM call_turns GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("counting call turns: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning call turn count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call turn counts: %w", err)
	}
	return counts, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jak0707/dially/internal/database/models"
)

// callSessionRepo implements CallSessionRepository.
type callSessionRepo struct {
	db *DB
}

// NewCallSessionRepository creates a new CallSessionRepository.
func NewCallSessionRepository(db *DB) CallSessionRepository {
	return &callSessionRepo{db: db}
}

// Begin inserts a new session unless one already exists for the call.
func (r *callSessionRepo) Begin(ctx context.Context, s *models.CallSession) error {
	now := time.Now().UTC()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO call_sessions (call_id, provider, caller, state, turn, started_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (call_id) DO NOTHING`),
		s.CallID, s.Provider, s.Caller, s.State, s.StartedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call session: %w", err)
	}
	return nil
}

// GetByCallID returns the session for a call, or nil if none exists.
func (r *callSessionRepo) GetByCallID(ctx context.Context, callID string) (*models.CallSession, error) {
	var s models.CallSession
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT call_id, provider, caller, state, turn, last_transcript, last_reply,
		 last_audio, recording_status, started_at, updated_at, ended_at
		 FROM call_sessions WHERE call_id = ?`), callID,
	).Scan(&s.CallID, &s.Provider, &s.Caller, &s.State, &s.Turn, &s.LastTranscript,
		&s.LastReply, &s.LastAudio, &s.RecordingStatus, &s.StartedAt, &s.UpdatedAt, &s.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call session: %w", err)
	}
	return &s, nil
}

// NextTurn increments the turn counter in a single statement so concurrent
// webhooks for the same call never share a turn number.
func (r *callSessionRepo) NextTurn(ctx context.Context, callID, provider, state string) (int, error) {
	now := time.Now().UTC()
	var turn int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`INSERT INTO call_sessions (call_id, provider, state, turn, started_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT (call_id) DO UPDATE SET
		   turn = call_sessions.turn + 1,
		   state = excluded.state,
		   updated_at = excluded.updated_at
		 RETURNING turn`),
		callID, provider, state, now, now,
	).Scan(&turn)
	if err != nil {
		return 0, fmt.Errorf("advancing call turn: %w", err)
	}
	return turn, nil
}

// SetState updates the session state.
func (r *callSessionRepo) SetState(ctx context.Context, callID, state string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE call_sessions SET state = ?, updated_at = ? WHERE call_id = ?`),
		state, time.Now().UTC(), callID,
	)
	if err != nil {
		return fmt.Errorf("updating call session state: %w", err)
	}
	return nil
}

// SaveReply stores the most recent transcript, reply and artifact.
func (r *callSessionRepo) SaveReply(ctx context.Context, callID, transcript, reply, audio string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE call_sessions SET last_transcript = ?, last_reply = ?, last_audio = ?, updated_at = ?
		 WHERE call_id = ?`),
		transcript, reply, audio, time.Now().UTC(), callID,
	)
	if err != nil {
		return fmt.Errorf("saving call reply: %w", err)
	}
	return nil
}

// SetRecordingStatus stores the last recording status callback value.
func (r *callSessionRepo) SetRecordingStatus(ctx context.Context, callID, status string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE call_sessions SET recording_status = ?, updated_at = ? WHERE call_id = ?`),
		status, time.Now().UTC(), callID,
	)
	if err != nil {
		return fmt.Errorf("updating recording status: %w", err)
	}
	return nil
}

// End marks the session finished. Ending an unknown or already ended call is
// a no-op.
func (r *callSessionRepo) End(ctx context.Context, callID, state string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE call_sessions SET state = ?, ended_at = ?, updated_at = ?
		 WHERE call_id = ? AND ended_at IS NULL`),
		state, now, now, callID,
	)
	if err != nil {
		return fmt.Errorf("ending call session: %w", err)
	}
	return nil
}

// CountByState returns the number of sessions in each state.
func (r *callSessionRepo) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM call_sessions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting call sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning call session count: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call session counts: %w", err)
	}
	return counts, nil
}

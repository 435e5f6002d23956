package database

import (
	"context"

	"github.com/jak0707/dially/internal/database/models"
)

// CallSessionRepository manages per-call state.
type CallSessionRepository interface {
	// Begin creates the session if it does not exist. An existing session is
	// left untouched so a repeated inbound webhook does not reset its turn.
	Begin(ctx context.Context, s *models.CallSession) error
	GetByCallID(ctx context.Context, callID string) (*models.CallSession, error)
	// NextTurn atomically increments and returns the call's turn counter and
	// moves the session to state, creating it when the first webhook was
	// missed.
	NextTurn(ctx context.Context, callID, provider, state string) (int, error)
	SetState(ctx context.Context, callID, state string) error
	SaveReply(ctx context.Context, callID, transcript, reply, audio string) error
	SetRecordingStatus(ctx context.Context, callID, status string) error
	End(ctx context.Context, callID, state string) error
	CountByState(ctx context.Context) (map[string]int64, error)
}

// CallTurnRepository manages the per-turn log.
type CallTurnRepository interface {
	Create(ctx context.Context, t *models.CallTurn) error
	ListByCallID(ctx context.Context, callID string) ([]models.CallTurn, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

package livestate

import (
	"context"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/events"
	"github.com/lkaplan/livecomp/internal/models"
)

// Mutation is one atomic write against the live-state store: every
// non-nil document is updated with a compare-and-set on its previous
// version, and every event is inserted into the outbox, all in a
// single transaction. Documents carry their post-mutation version; the
// matching Prev field carries the version the service read.
type Mutation struct {
	MatchState        *models.MatchState
	MatchStatePrev    int64
	SessionState      *models.SessionState
	SessionStatePrev  int64
	DivisionState     *models.DivisionState
	DivisionStatePrev int64
	Scoresheet        *models.Scoresheet
	ScoresheetPrev    int64

	// GuardRoomID, set alongside SessionState, makes the commit fail
	// with ErrRoomBusy when any other session in that room is in
	// progress. The check runs inside the commit transaction, so two
	// racing starts in one room cannot both pass it.
	GuardRoomID *uuid.UUID

	Events []events.Event
}

// Repository is the storage surface the lifecycle service needs. The
// postgres implementation lives in postgres.go; tests substitute an
// in-memory fake.
type Repository interface {
	GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.JudgingSession, error)

	GetMatchState(ctx context.Context, matchID uuid.UUID) (*models.MatchState, error)
	GetSessionState(ctx context.Context, sessionID uuid.UUID) (*models.SessionState, error)
	GetDivisionState(ctx context.Context, divisionID uuid.UUID) (*models.DivisionState, error)
	GetScoresheet(ctx context.Context, scoresheetID uuid.UUID) (*models.Scoresheet, error)

	// NextUnplayedMatch returns the id of the lowest-numbered
	// not-started match of the given stage with a number greater than
	// afterNumber, or nil if none remains.
	NextUnplayedMatch(ctx context.Context, divisionID uuid.UUID, stage models.MatchStage, afterNumber int) (*uuid.UUID, error)

	// Commit applies the mutation atomically. Returns
	// ErrConcurrentModification if any version check fails and
	// ErrRoomBusy if the room guard does.
	Commit(ctx context.Context, mut Mutation) error
}

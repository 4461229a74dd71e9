package schedule

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/reconcile"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo  *Repository
	clock clockwork.Clock
}

func NewService(repo *Repository, clock clockwork.Clock) *Service {
	return &Service{repo: repo, clock: clock}
}

func (s *Service) CreateSchedule(ctx context.Context, req CreateScheduleRequest) error {
	if err := validateCreate(req); err != nil {
		return err
	}
	if err := s.repo.CreateSchedule(ctx, req); err != nil {
		return err
	}
	log.Info().
		Str("division_id", req.DivisionID.String()).
		Int("matches", len(req.Matches)).
		Int("sessions", len(req.Sessions)).
		Msg("schedule created")
	return nil
}

func (s *Service) ResetSchedule(ctx context.Context, divisionID uuid.UUID) error {
	if err := s.repo.ResetSchedule(ctx, divisionID, s.clock.Now()); err != nil {
		return err
	}
	log.Warn().Str("division_id", divisionID.String()).Msg("schedule reset")
	return nil
}

func (s *Service) SetParticipantTeam(ctx context.Context, matchID, participantID uuid.UUID, teamID *uuid.UUID) error {
	return s.repo.SetParticipantTeam(ctx, matchID, participantID, teamID)
}

// DivisionSnapshot builds the read model new viewers start from. Each
// live document is fetched in the same round as its schedule record so
// the snapshot is internally consistent per entity.
func (s *Service) DivisionSnapshot(ctx context.Context, divisionID uuid.UUID) (*reconcile.Snapshot, error) {
	divState, matches, matchStates, sessions, sessionStates, scoresheets, teams, err := s.repo.DivisionSnapshot(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	snap := &reconcile.Snapshot{
		DivisionID:  divisionID,
		Division:    *divState,
		Matches:     make(map[uuid.UUID]reconcile.MatchView, len(matches)),
		Sessions:    make(map[uuid.UUID]reconcile.SessionView, len(sessions)),
		Scoresheets: make(map[uuid.UUID]models.Scoresheet, len(scoresheets)),
		Teams:       make(map[uuid.UUID]models.Team, len(teams)),
	}

	statesByMatch := make(map[uuid.UUID]models.MatchState, len(matchStates))
	for _, st := range matchStates {
		statesByMatch[st.MatchID] = st
	}
	for _, m := range matches {
		snap.Matches[m.ID] = reconcile.MatchView{Match: m, State: statesByMatch[m.ID]}
	}

	statesBySession := make(map[uuid.UUID]models.SessionState, len(sessionStates))
	for _, st := range sessionStates {
		statesBySession[st.SessionID] = st
	}
	for _, sess := range sessions {
		snap.Sessions[sess.ID] = reconcile.SessionView{Session: sess, State: statesBySession[sess.ID]}
	}

	for _, sheet := range scoresheets {
		snap.Scoresheets[sheet.ID] = sheet
	}
	for _, t := range teams {
		snap.Teams[t.ID] = t
	}
	return snap, nil
}

func validateCreate(req CreateScheduleRequest) error {
	if req.DivisionID == uuid.Nil {
		return fmt.Errorf("division id is required")
	}
	seenMatch := make(map[int]bool, len(req.Matches))
	for _, m := range req.Matches {
		if seenMatch[m.Number] {
			return fmt.Errorf("duplicate match number %d", m.Number)
		}
		seenMatch[m.Number] = true
		tables := make(map[uuid.UUID]bool, len(m.Participants))
		for _, p := range m.Participants {
			if tables[p.TableID] {
				return fmt.Errorf("match %d assigns table %s twice", m.Number, p.TableID)
			}
			tables[p.TableID] = true
		}
	}
	seenSession := make(map[int]bool, len(req.Sessions))
	for _, sess := range req.Sessions {
		if seenSession[sess.Number] {
			return fmt.Errorf("duplicate session number %d", sess.Number)
		}
		seenSession[sess.Number] = true
	}
	return nil
}

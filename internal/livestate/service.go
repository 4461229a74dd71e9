// Package livestate is the only component allowed to mutate live-state
// documents. Every lifecycle operation is an atomic read-modify-write
// with an optimistic version check, and writes its events into the
// outbox in the same transaction, so a committed mutation can never
// lose its broadcast.
package livestate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lkaplan/livecomp/internal/events"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/rs/zerolog/log"
)

// Completions schedules the automatic completion of started entities
// after their fixed length elapses. Wired after construction to avoid
// a cycle between the service and the timer engine.
type Completions interface {
	ScheduleMatch(divisionID, matchID uuid.UUID, at time.Time)
	ScheduleSession(divisionID, sessionID uuid.UUID, at time.Time)
	CancelMatch(matchID uuid.UUID)
	CancelSession(sessionID uuid.UUID)
}

// Service implements the lifecycle state machine over the repository.
type Service struct {
	repo        Repository
	clock       clockwork.Clock
	matchLen    time.Duration
	sessionLen  time.Duration
	completions Completions
}

func NewService(repo Repository, clock clockwork.Clock, matchLen, sessionLen time.Duration) *Service {
	return &Service{
		repo:       repo,
		clock:      clock,
		matchLen:   matchLen,
		sessionLen: sessionLen,
	}
}

// SetCompletions attaches the auto-completion scheduler. Optional; the
// lifecycle works without it (completion then requires an operator).
func (s *Service) SetCompletions(c Completions) {
	s.completions = c
}

// StartMatch starts the division's loaded match. TEST-stage matches
// may be started directly without being loaded.
func (s *Service) StartMatch(ctx context.Context, divisionID, matchID uuid.UUID) (*models.MatchState, error) {
	match, st, err := s.matchForUpdate(ctx, divisionID, matchID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusNotStarted {
		return nil, &InvalidTransitionError{Op: "start match", EntityID: matchID, Status: st.Status, Reason: "match already started"}
	}

	div, err := s.repo.GetDivisionState(ctx, divisionID)
	if err != nil {
		return nil, err
	}
	if match.Stage != models.MatchStageTest {
		if div.LoadedMatchID == nil || *div.LoadedMatchID != matchID {
			return nil, &InvalidTransitionError{Op: "start match", EntityID: matchID, Status: st.Status, Reason: "match is not loaded"}
		}
	}

	now := s.clock.Now()
	delta := int64(now.Sub(match.ScheduledTime) / time.Second)

	stPrev := st.Version
	st.Status = models.StatusInProgress
	st.StartTime = &now
	st.StartDelta = &delta
	st.Version++

	divPrev := div.Version
	div.ActiveMatchID = &matchID
	if div.LoadedMatchID != nil && *div.LoadedMatchID == matchID {
		div.LoadedMatchID = nil
	}

	started, err := events.New(divisionID, events.TypeMatchStarted, matchID, st.Version, now, events.MatchStartedPayload{
		MatchID:    matchID,
		StartTime:  now,
		StartDelta: delta,
	})
	if err != nil {
		return nil, err
	}
	evs := []events.Event{started}

	// First ranking match played during practice advances the field stage.
	if match.Stage == models.MatchStageRanking && div.FieldStage == models.MatchStagePractice {
		div.FieldStage = models.MatchStageRanking
		div.Version++
		advanced, err := events.New(divisionID, events.TypeStageAdvanced, divisionID, div.Version, now, events.StageAdvancedPayload{
			Stage: string(div.FieldStage),
		})
		if err != nil {
			return nil, err
		}
		evs = append(evs, advanced)
	}

	// Pre-load the next unplayed match so referees see their prestart
	// screen without operator action. Test matches never load anything.
	if match.Stage != models.MatchStageTest {
		next, err := s.repo.NextUnplayedMatch(ctx, divisionID, div.FieldStage, match.Number)
		if err != nil {
			return nil, err
		}
		div.LoadedMatchID = next
		div.Version++
		loaded, err := events.New(divisionID, events.TypeMatchLoaded, divisionID, div.Version, now, events.MatchLoadedPayload{MatchID: next})
		if err != nil {
			return nil, err
		}
		evs = append(evs, loaded)
	}
	if div.Version == divPrev {
		div.Version++
	}

	mut := Mutation{
		MatchState:        st,
		MatchStatePrev:    stPrev,
		DivisionState:     div,
		DivisionStatePrev: divPrev,
		Events:            evs,
	}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}

	if s.completions != nil {
		s.completions.ScheduleMatch(divisionID, matchID, now.Add(s.matchLen))
	}

	log.Info().
		Str("division_id", divisionID.String()).
		Str("match_id", matchID.String()).
		Int64("start_delta", delta).
		Msg("match started")
	return st, nil
}

// CompleteMatch moves an in-progress match to completed and clears the
// division's active-match pointer.
func (s *Service) CompleteMatch(ctx context.Context, divisionID, matchID uuid.UUID) (*models.MatchState, error) {
	_, st, err := s.matchForUpdate(ctx, divisionID, matchID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusInProgress {
		return nil, &InvalidTransitionError{Op: "complete match", EntityID: matchID, Status: st.Status, Reason: "match is not in progress"}
	}

	div, err := s.repo.GetDivisionState(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stPrev := st.Version
	st.Status = models.StatusCompleted
	st.Version++

	divPrev := div.Version
	if div.ActiveMatchID != nil && *div.ActiveMatchID == matchID {
		div.ActiveMatchID = nil
	}
	div.Version++

	completed, err := events.New(divisionID, events.TypeMatchCompleted, matchID, st.Version, now, events.MatchCompletedPayload{MatchID: matchID})
	if err != nil {
		return nil, err
	}

	mut := Mutation{
		MatchState:        st,
		MatchStatePrev:    stPrev,
		DivisionState:     div,
		DivisionStatePrev: divPrev,
		Events:            []events.Event{completed},
	}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}

	if s.completions != nil {
		s.completions.CancelMatch(matchID)
	}

	log.Info().
		Str("division_id", divisionID.String()).
		Str("match_id", matchID.String()).
		Msg("match completed")
	return st, nil
}

// AbortMatch resets a match to not-started and re-loads it for the
// referees, unless it is a test match. Also valid for a not-started
// match that still carries a start time (recovery after a crashed
// start).
func (s *Service) AbortMatch(ctx context.Context, divisionID, matchID uuid.UUID) (*models.MatchState, error) {
	match, st, err := s.matchForUpdate(ctx, divisionID, matchID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusInProgress && !(st.Status == models.StatusNotStarted && st.StartTime != nil) {
		return nil, &InvalidTransitionError{Op: "abort match", EntityID: matchID, Status: st.Status, Reason: "match is not in progress"}
	}

	div, err := s.repo.GetDivisionState(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stPrev := st.Version
	st.Status = models.StatusNotStarted
	st.StartTime = nil
	st.StartDelta = nil
	st.Version++

	divPrev := div.Version
	if div.ActiveMatchID != nil && *div.ActiveMatchID == matchID {
		div.ActiveMatchID = nil
	}
	div.Version++

	aborted, err := events.New(divisionID, events.TypeMatchAborted, matchID, st.Version, now, events.MatchAbortedPayload{MatchID: matchID})
	if err != nil {
		return nil, err
	}
	evs := []events.Event{aborted}

	// Re-load the aborted match so it can be restarted from prestart.
	// A test match is never loaded, so the loaded pointer stays as it
	// was.
	if match.Stage != models.MatchStageTest {
		reload := matchID
		div.LoadedMatchID = &reload
		loaded, err := events.New(divisionID, events.TypeMatchLoaded, divisionID, div.Version, now, events.MatchLoadedPayload{MatchID: &reload})
		if err != nil {
			return nil, err
		}
		evs = append(evs, loaded)
	}

	mut := Mutation{
		MatchState:        st,
		MatchStatePrev:    stPrev,
		DivisionState:     div,
		DivisionStatePrev: divPrev,
		Events:            evs,
	}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}

	if s.completions != nil {
		s.completions.CancelMatch(matchID)
	}

	log.Info().
		Str("division_id", divisionID.String()).
		Str("match_id", matchID.String()).
		Msg("match aborted")
	return st, nil
}

// SetMatchCalled flags a match as called to the field (or clears the
// flag).
func (s *Service) SetMatchCalled(ctx context.Context, divisionID, matchID uuid.UUID, called bool) (*models.MatchState, error) {
	_, st, err := s.matchForUpdate(ctx, divisionID, matchID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stPrev := st.Version
	st.Called = called
	st.Version++

	ev, err := events.New(divisionID, events.TypeMatchCalled, matchID, st.Version, now, events.MatchCalledPayload{MatchID: matchID, Called: called})
	if err != nil {
		return nil, err
	}

	mut := Mutation{MatchState: st, MatchStatePrev: stPrev, Events: []events.Event{ev}}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}
	return st, nil
}

// SetMatchParticipant sets one flag for one participant. Valid in any
// match status; payloads carry the participant's full flag set so
// concurrent identical updates converge.
func (s *Service) SetMatchParticipant(ctx context.Context, divisionID, matchID, participantID uuid.UUID, field models.ParticipantField, value bool) (*models.MatchState, error) {
	_, st, err := s.matchForUpdate(ctx, divisionID, matchID)
	if err != nil {
		return nil, err
	}
	p, ok := st.Participants[participantID]
	if !ok {
		return nil, fmt.Errorf("participant %s in match %s: %w", participantID, matchID, ErrNotFound)
	}

	switch field {
	case models.ParticipantFieldPresent:
		p.Present = value
	case models.ParticipantFieldReady:
		p.Ready = value
	case models.ParticipantFieldQueued:
		p.Queued = value
	default:
		return nil, fmt.Errorf("unknown participant field %q", field)
	}

	now := s.clock.Now()
	stPrev := st.Version
	st.Participants[participantID] = p
	st.Version++

	ev, err := events.New(divisionID, events.TypeMatchParticipantUpdated, matchID, st.Version, now, events.MatchParticipantUpdatedPayload{
		MatchID:       matchID,
		ParticipantID: participantID,
		Present:       p.Present,
		Ready:         p.Ready,
		Queued:        p.Queued,
	})
	if err != nil {
		return nil, err
	}

	mut := Mutation{MatchState: st, MatchStatePrev: stPrev, Events: []events.Event{ev}}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}
	return st, nil
}

// StartSession starts a judging session. The room must not already
// have a running session.
func (s *Service) StartSession(ctx context.Context, divisionID, sessionID uuid.UUID) (*models.SessionState, error) {
	session, st, err := s.sessionForUpdate(ctx, divisionID, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusNotStarted {
		return nil, &InvalidTransitionError{Op: "start session", EntityID: sessionID, Status: st.Status, Reason: "session already started"}
	}

	div, err := s.repo.GetDivisionState(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	delta := int64(now.Sub(session.ScheduledTime) / time.Second)

	stPrev := st.Version
	st.Status = models.StatusInProgress
	st.StartTime = &now
	st.StartDelta = &delta
	st.Version++

	// Room exclusivity is enforced at the store, not here: a read-side
	// check would let two racing starts in the same room both pass.
	mut := Mutation{SessionState: st, SessionStatePrev: stPrev, GuardRoomID: &session.RoomID}

	if session.Number > div.CurrentSession {
		divPrev := div.Version
		div.CurrentSession = session.Number
		div.Version++
		mut.DivisionState = div
		mut.DivisionStatePrev = divPrev
	}

	ev, err := events.New(divisionID, events.TypeSessionStarted, sessionID, st.Version, now, events.SessionStartedPayload{
		SessionID:  sessionID,
		StartTime:  now,
		StartDelta: delta,
	})
	if err != nil {
		return nil, err
	}
	mut.Events = []events.Event{ev}

	if err := s.repo.Commit(ctx, mut); err != nil {
		if errors.Is(err, ErrRoomBusy) {
			return nil, &InvalidTransitionError{Op: "start session", EntityID: sessionID, Status: models.StatusNotStarted, Reason: "room already has a running session"}
		}
		return nil, err
	}

	if s.completions != nil {
		s.completions.ScheduleSession(divisionID, sessionID, now.Add(s.sessionLen))
	}

	log.Info().
		Str("division_id", divisionID.String()).
		Str("session_id", sessionID.String()).
		Int64("start_delta", delta).
		Msg("judging session started")
	return st, nil
}

// CompleteSession moves an in-progress session to completed.
func (s *Service) CompleteSession(ctx context.Context, divisionID, sessionID uuid.UUID) (*models.SessionState, error) {
	_, st, err := s.sessionForUpdate(ctx, divisionID, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusInProgress {
		return nil, &InvalidTransitionError{Op: "complete session", EntityID: sessionID, Status: st.Status, Reason: "session is not in progress"}
	}

	now := s.clock.Now()
	stPrev := st.Version
	st.Status = models.StatusCompleted
	st.Version++

	ev, err := events.New(divisionID, events.TypeSessionCompleted, sessionID, st.Version, now, events.SessionCompletedPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}

	mut := Mutation{SessionState: st, SessionStatePrev: stPrev, Events: []events.Event{ev}}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}

	if s.completions != nil {
		s.completions.CancelSession(sessionID)
	}

	log.Info().
		Str("division_id", divisionID.String()).
		Str("session_id", sessionID.String()).
		Msg("judging session completed")
	return st, nil
}

// AbortSession resets a session to not-started, clearing its start
// facts. Also valid for a not-started session with a recorded start.
func (s *Service) AbortSession(ctx context.Context, divisionID, sessionID uuid.UUID) (*models.SessionState, error) {
	_, st, err := s.sessionForUpdate(ctx, divisionID, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusInProgress && !(st.Status == models.StatusNotStarted && st.StartTime != nil) {
		return nil, &InvalidTransitionError{Op: "abort session", EntityID: sessionID, Status: st.Status, Reason: "session is not in progress"}
	}

	now := s.clock.Now()
	stPrev := st.Version
	st.Status = models.StatusNotStarted
	st.StartTime = nil
	st.StartDelta = nil
	st.Version++

	ev, err := events.New(divisionID, events.TypeSessionAborted, sessionID, st.Version, now, events.SessionAbortedPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}

	mut := Mutation{SessionState: st, SessionStatePrev: stPrev, Events: []events.Event{ev}}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}

	if s.completions != nil {
		s.completions.CancelSession(sessionID)
	}

	log.Info().
		Str("division_id", divisionID.String()).
		Str("session_id", sessionID.String()).
		Msg("judging session aborted")
	return st, nil
}

// SetSessionCalled flags a session's team as called to judging.
func (s *Service) SetSessionCalled(ctx context.Context, divisionID, sessionID uuid.UUID, called bool) (*models.SessionState, error) {
	return s.setSessionFlag(ctx, divisionID, sessionID, called, events.TypeSessionCalled)
}

// SetSessionQueued flags a session's team as queued outside the room.
func (s *Service) SetSessionQueued(ctx context.Context, divisionID, sessionID uuid.UUID, queued bool) (*models.SessionState, error) {
	return s.setSessionFlag(ctx, divisionID, sessionID, queued, events.TypeSessionQueued)
}

func (s *Service) setSessionFlag(ctx context.Context, divisionID, sessionID uuid.UUID, value bool, typ events.Type) (*models.SessionState, error) {
	_, st, err := s.sessionForUpdate(ctx, divisionID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stPrev := st.Version
	var payload any
	switch typ {
	case events.TypeSessionCalled:
		st.Called = value
		payload = events.SessionCalledPayload{SessionID: sessionID, Called: value}
	case events.TypeSessionQueued:
		st.Queued = value
		payload = events.SessionQueuedPayload{SessionID: sessionID, Queued: value}
	default:
		return nil, fmt.Errorf("unsupported session flag event %q", typ)
	}
	st.Version++

	ev, err := events.New(divisionID, typ, sessionID, st.Version, now, payload)
	if err != nil {
		return nil, err
	}

	mut := Mutation{SessionState: st, SessionStatePrev: stPrev, Events: []events.Event{ev}}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}
	return st, nil
}

// SetScoresheetStatus updates a scoresheet's status and, optionally,
// its escalated flag.
func (s *Service) SetScoresheetStatus(ctx context.Context, divisionID, scoresheetID uuid.UUID, status models.ScoresheetStatus, escalated *bool) (*models.Scoresheet, error) {
	sheet, err := s.repo.GetScoresheet(ctx, scoresheetID)
	if err != nil {
		return nil, err
	}
	if sheet.DivisionID != divisionID {
		return nil, fmt.Errorf("scoresheet %s in division %s: %w", scoresheetID, divisionID, ErrNotFound)
	}

	now := s.clock.Now()
	prev := sheet.Version
	sheet.Status = status
	if escalated != nil {
		sheet.Escalated = *escalated
	}
	sheet.Version++

	ev, err := events.New(divisionID, events.TypeScoresheetUpdated, scoresheetID, sheet.Version, now, events.ScoresheetUpdatedPayload{
		ScoresheetID: scoresheetID,
		MatchID:      sheet.MatchID,
		Status:       string(sheet.Status),
		Escalated:    sheet.Escalated,
	})
	if err != nil {
		return nil, err
	}

	mut := Mutation{Scoresheet: sheet, ScoresheetPrev: prev, Events: []events.Event{ev}}
	if err := s.repo.Commit(ctx, mut); err != nil {
		return nil, err
	}
	return sheet, nil
}

// GetMatchState is the point-read contract for viewers.
func (s *Service) GetMatchState(ctx context.Context, matchID uuid.UUID) (*models.MatchState, error) {
	return s.repo.GetMatchState(ctx, matchID)
}

// GetSessionState is the point-read contract for viewers.
func (s *Service) GetSessionState(ctx context.Context, sessionID uuid.UUID) (*models.SessionState, error) {
	return s.repo.GetSessionState(ctx, sessionID)
}

func (s *Service) matchForUpdate(ctx context.Context, divisionID, matchID uuid.UUID) (*models.Match, *models.MatchState, error) {
	match, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if match.DivisionID != divisionID {
		return nil, nil, fmt.Errorf("match %s in division %s: %w", matchID, divisionID, ErrNotFound)
	}
	st, err := s.repo.GetMatchState(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	return match, st, nil
}

func (s *Service) sessionForUpdate(ctx context.Context, divisionID, sessionID uuid.UUID) (*models.JudgingSession, *models.SessionState, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.DivisionID != divisionID {
		return nil, nil, fmt.Errorf("session %s in division %s: %w", sessionID, divisionID, ErrNotFound)
	}
	st, err := s.repo.GetSessionState(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, st, nil
}

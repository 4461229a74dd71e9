package reconcile

import (
	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/events"
	"github.com/lkaplan/livecomp/internal/models"
)

// Apply folds one event into a snapshot and returns the result. It is
// a pure function: the input snapshot is never modified, the same
// inputs always produce the same output, and it never panics.
//
// Events referencing an entity absent from the snapshot (e.g. a viewer
// scoped to one room receiving another room's event) return the
// snapshot unchanged. So do events whose version is not newer than the
// snapshot's last-seen version for that entity, which makes Apply
// idempotent and safe against out-of-order delivery.
func Apply(s Snapshot, ev events.Event) Snapshot {
	if ev.DivisionID != s.DivisionID {
		return s
	}

	payload, err := events.ParsePayload(ev)
	if err != nil || payload == nil {
		return s
	}

	switch p := payload.(type) {
	case events.MatchStartedPayload:
		return applyMatch(s, ev, p.MatchID, func(st *models.MatchState, out *Snapshot) {
			start := p.StartTime
			delta := p.StartDelta
			st.Status = models.StatusInProgress
			st.StartTime = &start
			st.StartDelta = &delta
			out.Division.ActiveMatchID = &p.MatchID
			if out.Division.LoadedMatchID != nil && *out.Division.LoadedMatchID == p.MatchID {
				out.Division.LoadedMatchID = nil
			}
		})

	case events.MatchCompletedPayload:
		return applyMatch(s, ev, p.MatchID, func(st *models.MatchState, out *Snapshot) {
			st.Status = models.StatusCompleted
			if out.Division.ActiveMatchID != nil && *out.Division.ActiveMatchID == p.MatchID {
				out.Division.ActiveMatchID = nil
			}
		})

	case events.MatchAbortedPayload:
		return applyMatch(s, ev, p.MatchID, func(st *models.MatchState, out *Snapshot) {
			st.Status = models.StatusNotStarted
			st.StartTime = nil
			st.StartDelta = nil
			if out.Division.ActiveMatchID != nil && *out.Division.ActiveMatchID == p.MatchID {
				out.Division.ActiveMatchID = nil
			}
		})

	case events.MatchCalledPayload:
		return applyMatch(s, ev, p.MatchID, func(st *models.MatchState, _ *Snapshot) {
			st.Called = p.Called
		})

	case events.MatchParticipantUpdatedPayload:
		return applyMatch(s, ev, p.MatchID, func(st *models.MatchState, _ *Snapshot) {
			if _, ok := st.Participants[p.ParticipantID]; !ok {
				return
			}
			st.Participants = cloneParticipants(st.Participants)
			st.Participants[p.ParticipantID] = models.ParticipantState{
				Present: p.Present,
				Ready:   p.Ready,
				Queued:  p.Queued,
			}
		})

	case events.MatchLoadedPayload:
		if ev.Version <= s.Division.Version {
			return s
		}
		out := s.clone()
		out.Division.LoadedMatchID = p.MatchID
		out.Division.Version = ev.Version
		return out

	case events.StageAdvancedPayload:
		if ev.Version <= s.Division.Version {
			return s
		}
		out := s.clone()
		out.Division.FieldStage = models.MatchStage(p.Stage)
		out.Division.Version = ev.Version
		return out

	case events.SessionStartedPayload:
		return applySession(s, ev, p.SessionID, func(sv *SessionView, out *Snapshot) {
			start := p.StartTime
			delta := p.StartDelta
			sv.State.Status = models.StatusInProgress
			sv.State.StartTime = &start
			sv.State.StartDelta = &delta
			if sv.Session.Number > out.Division.CurrentSession {
				out.Division.CurrentSession = sv.Session.Number
			}
		})

	case events.SessionCompletedPayload:
		return applySession(s, ev, p.SessionID, func(sv *SessionView, _ *Snapshot) {
			sv.State.Status = models.StatusCompleted
		})

	case events.SessionAbortedPayload:
		return applySession(s, ev, p.SessionID, func(sv *SessionView, _ *Snapshot) {
			sv.State.Status = models.StatusNotStarted
			sv.State.StartTime = nil
			sv.State.StartDelta = nil
		})

	case events.SessionCalledPayload:
		return applySession(s, ev, p.SessionID, func(sv *SessionView, _ *Snapshot) {
			sv.State.Called = p.Called
		})

	case events.SessionQueuedPayload:
		return applySession(s, ev, p.SessionID, func(sv *SessionView, _ *Snapshot) {
			sv.State.Queued = p.Queued
		})

	case events.ScoresheetUpdatedPayload:
		sheet, ok := s.Scoresheets[p.ScoresheetID]
		if !ok || ev.Version <= sheet.Version {
			return s
		}
		out := s.clone()
		sheet.Status = models.ScoresheetStatus(p.Status)
		sheet.Escalated = p.Escalated
		sheet.Version = ev.Version
		out.Scoresheets[p.ScoresheetID] = sheet
		return out

	case events.ScheduleResetPayload:
		out := s.clone()
		out.Stale = true
		return out

	default:
		return s
	}
}

func applyMatch(s Snapshot, ev events.Event, matchID uuid.UUID, update func(*models.MatchState, *Snapshot)) Snapshot {
	mv, ok := s.Matches[matchID]
	if !ok || ev.Version <= mv.State.Version {
		return s
	}
	out := s.clone()
	update(&mv.State, &out)
	mv.State.Version = ev.Version
	out.Matches[matchID] = mv
	return out
}

func applySession(s Snapshot, ev events.Event, sessionID uuid.UUID, update func(*SessionView, *Snapshot)) Snapshot {
	sv, ok := s.Sessions[sessionID]
	if !ok || ev.Version <= sv.State.Version {
		return s
	}
	out := s.clone()
	update(&sv, &out)
	sv.State.Version = ev.Version
	out.Sessions[sessionID] = sv
	return out
}

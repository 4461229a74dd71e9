// Package reconcile holds the viewer-side read model: a denormalized
// snapshot of one division's schedule and live state, plus the pure
// function that folds a broadcast event into it. Callers own the
// snapshot's lifetime; there is no ambient cache.
package reconcile

import (
	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
)

// MatchView pairs a match's schedule record with its live document.
type MatchView struct {
	Match models.Match      `json:"match"`
	State models.MatchState `json:"state"`
}

// SessionView pairs a judging session with its live document.
type SessionView struct {
	Session models.JudgingSession `json:"session"`
	State   models.SessionState   `json:"state"`
}

// Snapshot is a client-held view of one division. It is not
// authoritative: it is rebuilt from events via Apply, or refreshed
// wholesale on reconnect.
type Snapshot struct {
	DivisionID  uuid.UUID                       `json:"division_id"`
	Division    models.DivisionState            `json:"division"`
	Matches     map[uuid.UUID]MatchView         `json:"matches"`
	Sessions    map[uuid.UUID]SessionView       `json:"sessions"`
	Scoresheets map[uuid.UUID]models.Scoresheet `json:"scoresheets"`
	Teams       map[uuid.UUID]models.Team       `json:"teams"`

	// Stale is set when the server announced a schedule reset; the
	// only way forward is a full re-fetch.
	Stale bool `json:"stale,omitempty"`
}

// clone returns a snapshot whose maps can be written without touching
// the receiver. Views are value types, so copying the maps is enough.
func (s Snapshot) clone() Snapshot {
	out := s
	out.Matches = make(map[uuid.UUID]MatchView, len(s.Matches))
	for k, v := range s.Matches {
		out.Matches[k] = v
	}
	out.Sessions = make(map[uuid.UUID]SessionView, len(s.Sessions))
	for k, v := range s.Sessions {
		out.Sessions[k] = v
	}
	out.Scoresheets = make(map[uuid.UUID]models.Scoresheet, len(s.Scoresheets))
	for k, v := range s.Scoresheets {
		out.Scoresheets[k] = v
	}
	out.Teams = s.Teams
	return out
}

// cloneParticipants deep-copies a participant map before mutation.
func cloneParticipants(in map[uuid.UUID]models.ParticipantState) map[uuid.UUID]models.ParticipantState {
	out := make(map[uuid.UUID]models.ParticipantState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package display

import (
	"sort"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/reconcile"
)

// QueuerDisplay lists what the queuers should act on: entities that
// have been called to their station but whose teams are not queued yet.
type QueuerDisplay struct {
	CalledSessions []uuid.UUID `json:"called_sessions"`
	CalledMatches  []uuid.UUID `json:"called_matches"`
}

// Queuer derives the queueing work list for a division. Sessions are
// ordered by session number, matches by match number.
func Queuer(s reconcile.Snapshot) QueuerDisplay {
	var sessions []reconcile.SessionView
	for _, sv := range s.Sessions {
		if sv.State.Status == models.StatusNotStarted && sv.State.Called && !sv.State.Queued {
			sessions = append(sessions, sv)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Session.Number < sessions[j].Session.Number
	})

	var matches []reconcile.MatchView
	for _, mv := range s.Matches {
		if mv.State.Status == models.StatusNotStarted && mv.State.Called {
			matches = append(matches, mv)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Match.Number < matches[j].Match.Number
	})

	out := QueuerDisplay{}
	for _, sv := range sessions {
		out.CalledSessions = append(out.CalledSessions, sv.Session.ID)
	}
	for _, mv := range matches {
		out.CalledMatches = append(out.CalledMatches, mv.Match.ID)
	}
	return out
}

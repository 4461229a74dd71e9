// Package display computes viewer-specific display states as pure
// functions of a snapshot plus the current time. Display state is a
// projection, never stored, so it cannot drift from the underlying
// facts.
package display

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/reconcile"
)

// RefereeMode is what a referee's screen should show right now.
type RefereeMode string

const (
	RefereeModeScoresheet RefereeMode = "scoresheet-redirect"
	RefereeModeTimer      RefereeMode = "timer"
	RefereeModePrestart   RefereeMode = "prestart"
	RefereeModeIdle       RefereeMode = "idle"
)

// RefereeDisplay is the derived state for a referee bound to one
// table. MatchID and ParticipantID are set for every mode except idle;
// ScoresheetID only for the scoresheet redirect.
type RefereeDisplay struct {
	Mode          RefereeMode `json:"mode"`
	MatchID       *uuid.UUID  `json:"match_id,omitempty"`
	ParticipantID *uuid.UUID  `json:"participant_id,omitempty"`
	ScoresheetID  *uuid.UUID  `json:"scoresheet_id,omitempty"`
	// ElapsedSeconds is whole seconds since the match started, for
	// timer mode. Seconds match start_delta on the rest of the wire.
	ElapsedSeconds int64 `json:"elapsed_seconds,omitempty"`
}

// Referee derives the display for the referee at tableID. Priority,
// first match wins:
//
//  1. the latest completed match on this table whose participant was
//     present and still owes a scoresheet (exists, not submitted, not
//     escalated) -> scoresheet redirect
//  2. the division's active match, if it runs on this table -> timer
//  3. the division's loaded match, if it runs on this table -> prestart
//  4. idle
//
// A pending scoresheet outranks even a running match: the previous
// match is not over until its score is in.
func Referee(s reconcile.Snapshot, tableID uuid.UUID, now time.Time) RefereeDisplay {
	if d, ok := pendingScoresheet(s, tableID); ok {
		return d
	}

	if s.Division.ActiveMatchID != nil {
		if mv, ok := s.Matches[*s.Division.ActiveMatchID]; ok {
			if p := participantOnTable(mv.Match, tableID); p != nil {
				matchID := mv.Match.ID
				pid := p.ID
				return RefereeDisplay{
					Mode:           RefereeModeTimer,
					MatchID:        &matchID,
					ParticipantID:  &pid,
					ElapsedSeconds: elapsedSeconds(now, mv.State.StartTime),
				}
			}
		}
	}

	if s.Division.LoadedMatchID != nil {
		if mv, ok := s.Matches[*s.Division.LoadedMatchID]; ok {
			if p := participantOnTable(mv.Match, tableID); p != nil {
				matchID := mv.Match.ID
				pid := p.ID
				return RefereeDisplay{Mode: RefereeModePrestart, MatchID: &matchID, ParticipantID: &pid}
			}
		}
	}

	return RefereeDisplay{Mode: RefereeModeIdle}
}

func pendingScoresheet(s reconcile.Snapshot, tableID uuid.UUID) (RefereeDisplay, bool) {
	// Completed matches on this table, latest first.
	var completed []reconcile.MatchView
	for _, mv := range s.Matches {
		if mv.State.Status != models.StatusCompleted {
			continue
		}
		if participantOnTable(mv.Match, tableID) != nil {
			completed = append(completed, mv)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].Match.Number > completed[j].Match.Number
	})

	for _, mv := range completed {
		p := participantOnTable(mv.Match, tableID)
		if p == nil || p.TeamID == nil {
			continue
		}
		if !mv.State.Participants[p.ID].Present {
			continue
		}
		for _, sheet := range s.Scoresheets {
			if sheet.MatchID != mv.Match.ID || sheet.ParticipantID != p.ID {
				continue
			}
			if sheet.Status.Submitted() || sheet.Escalated {
				continue
			}
			matchID := mv.Match.ID
			pid := p.ID
			sheetID := sheet.ID
			return RefereeDisplay{
				Mode:          RefereeModeScoresheet,
				MatchID:       &matchID,
				ParticipantID: &pid,
				ScoresheetID:  &sheetID,
			}, true
		}
	}
	return RefereeDisplay{}, false
}

// elapsedSeconds clamps clock skew before the recorded start to zero.
func elapsedSeconds(now time.Time, start *time.Time) int64 {
	if start == nil {
		return 0
	}
	d := now.Sub(*start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func participantOnTable(m models.Match, tableID uuid.UUID) *models.MatchParticipant {
	for i := range m.Participants {
		if m.Participants[i].TableID == tableID {
			return &m.Participants[i]
		}
	}
	return nil
}

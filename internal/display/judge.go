package display

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/reconcile"
)

// JudgeMode is what a judge's screen should show right now.
type JudgeMode string

const (
	JudgeModeTimer    JudgeMode = "timer"
	JudgeModePrestart JudgeMode = "prestart"
	JudgeModeIdle     JudgeMode = "idle"
)

// JudgeDisplay is the derived state for a judge bound to one room.
type JudgeDisplay struct {
	Mode      JudgeMode  `json:"mode"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Called    bool       `json:"called,omitempty"`
	Queued    bool       `json:"queued,omitempty"`
	// ElapsedSeconds is whole seconds since the session started, for
	// timer mode.
	ElapsedSeconds int64 `json:"elapsed_seconds,omitempty"`
}

// Judge derives the display for the judges in roomID: a running
// session shows the staged timer, otherwise the next unplayed session
// shows its prestart with the call/queue facts, otherwise idle.
func Judge(s reconcile.Snapshot, roomID uuid.UUID, now time.Time) JudgeDisplay {
	var roomSessions []reconcile.SessionView
	for _, sv := range s.Sessions {
		if sv.Session.RoomID == roomID {
			roomSessions = append(roomSessions, sv)
		}
	}
	sort.Slice(roomSessions, func(i, j int) bool {
		return roomSessions[i].Session.Number < roomSessions[j].Session.Number
	})

	for _, sv := range roomSessions {
		if sv.State.Status == models.StatusInProgress {
			id := sv.Session.ID
			return JudgeDisplay{
				Mode:           JudgeModeTimer,
				SessionID:      &id,
				ElapsedSeconds: elapsedSeconds(now, sv.State.StartTime),
			}
		}
	}

	for _, sv := range roomSessions {
		if sv.State.Status == models.StatusNotStarted {
			id := sv.Session.ID
			return JudgeDisplay{
				Mode:      JudgeModePrestart,
				SessionID: &id,
				Called:    sv.State.Called,
				Queued:    sv.State.Queued,
			}
		}
	}

	return JudgeDisplay{Mode: JudgeModeIdle}
}

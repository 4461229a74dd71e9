package display

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionSnapshot(divisionID uuid.UUID) reconcile.Snapshot {
	return reconcile.Snapshot{
		DivisionID:  divisionID,
		Division:    models.DivisionState{DivisionID: divisionID, Version: 1},
		Matches:     map[uuid.UUID]reconcile.MatchView{},
		Sessions:    map[uuid.UUID]reconcile.SessionView{},
		Scoresheets: map[uuid.UUID]models.Scoresheet{},
	}
}

func addSession(s *reconcile.Snapshot, roomID uuid.UUID, number int, state models.SessionState) uuid.UUID {
	id := uuid.New()
	state.SessionID = id
	state.DivisionID = s.DivisionID
	if state.Version == 0 {
		state.Version = 1
	}
	s.Sessions[id] = reconcile.SessionView{
		Session: models.JudgingSession{
			ID:         id,
			DivisionID: s.DivisionID,
			RoomID:     roomID,
			Number:     number,
		},
		State: state,
	}
	return id
}

func TestJudgeTimerForRunningSession(t *testing.T) {
	snap := sessionSnapshot(uuid.New())
	roomID := uuid.New()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	addSession(&snap, roomID, 1, models.SessionState{Status: models.StatusCompleted})
	running := addSession(&snap, roomID, 2, models.SessionState{Status: models.StatusInProgress, StartTime: &start})
	addSession(&snap, roomID, 3, models.SessionState{Status: models.StatusNotStarted})

	d := Judge(snap, roomID, start.Add(10*time.Minute))
	assert.Equal(t, JudgeModeTimer, d.Mode)
	require.NotNil(t, d.SessionID)
	assert.Equal(t, running, *d.SessionID)
	assert.Equal(t, int64(600), d.ElapsedSeconds)
}

func TestJudgePrestartShowsLowestUnplayed(t *testing.T) {
	snap := sessionSnapshot(uuid.New())
	roomID := uuid.New()

	addSession(&snap, roomID, 1, models.SessionState{Status: models.StatusCompleted})
	next := addSession(&snap, roomID, 2, models.SessionState{Status: models.StatusNotStarted, Called: true})
	addSession(&snap, roomID, 3, models.SessionState{Status: models.StatusNotStarted})

	d := Judge(snap, roomID, time.Now())
	assert.Equal(t, JudgeModePrestart, d.Mode)
	require.NotNil(t, d.SessionID)
	assert.Equal(t, next, *d.SessionID)
	assert.True(t, d.Called)
	assert.False(t, d.Queued)
}

func TestJudgeIdleWhenRoomDone(t *testing.T) {
	snap := sessionSnapshot(uuid.New())
	roomID := uuid.New()
	addSession(&snap, roomID, 1, models.SessionState{Status: models.StatusCompleted})

	// Another room's unplayed session must not leak in.
	addSession(&snap, uuid.New(), 2, models.SessionState{Status: models.StatusNotStarted})

	d := Judge(snap, roomID, time.Now())
	assert.Equal(t, JudgeModeIdle, d.Mode)
}

func TestQueuerListsCalledUnqueued(t *testing.T) {
	snap := sessionSnapshot(uuid.New())
	roomID := uuid.New()

	second := addSession(&snap, roomID, 2, models.SessionState{Status: models.StatusNotStarted, Called: true})
	first := addSession(&snap, roomID, 1, models.SessionState{Status: models.StatusNotStarted, Called: true})
	addSession(&snap, roomID, 3, models.SessionState{Status: models.StatusNotStarted, Called: true, Queued: true})
	addSession(&snap, roomID, 4, models.SessionState{Status: models.StatusInProgress, Called: true})

	matchID := uuid.New()
	snap.Matches[matchID] = reconcile.MatchView{
		Match: models.Match{ID: matchID, DivisionID: snap.DivisionID, Number: 7},
		State: models.MatchState{MatchID: matchID, Status: models.StatusNotStarted, Called: true, Version: 1},
	}

	d := Queuer(snap)
	assert.Equal(t, []uuid.UUID{first, second}, d.CalledSessions)
	assert.Equal(t, []uuid.UUID{matchID}, d.CalledMatches)
}

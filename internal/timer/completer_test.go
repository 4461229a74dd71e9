package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycle struct {
	mu                sync.Mutex
	completedMatches  []uuid.UUID
	completedSessions []uuid.UUID
}

func (f *fakeLifecycle) CompleteMatch(_ context.Context, _, matchID uuid.UUID) (*models.MatchState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedMatches = append(f.completedMatches, matchID)
	return &models.MatchState{MatchID: matchID, Status: models.StatusCompleted}, nil
}

func (f *fakeLifecycle) CompleteSession(_ context.Context, _, sessionID uuid.UUID) (*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedSessions = append(f.completedSessions, sessionID)
	return &models.SessionState{SessionID: sessionID, Status: models.StatusCompleted}, nil
}

func (f *fakeLifecycle) matches() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.completedMatches...)
}

func (f *fakeLifecycle) sessions() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.completedSessions...)
}

func TestAutoCompleterFiresAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	lifecycle := &fakeLifecycle{}
	completer := NewAutoCompleter(clock, lifecycle)

	divisionID := uuid.New()
	matchID := uuid.New()
	completer.ScheduleMatch(divisionID, matchID, clock.Now().Add(150*time.Second))

	clock.Advance(149 * time.Second)
	assert.Empty(t, lifecycle.matches())

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return len(lifecycle.matches()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, matchID, lifecycle.matches()[0])
}

func TestAutoCompleterCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	lifecycle := &fakeLifecycle{}
	completer := NewAutoCompleter(clock, lifecycle)

	sessionID := uuid.New()
	completer.ScheduleSession(uuid.New(), sessionID, clock.Now().Add(time.Minute))
	completer.CancelSession(sessionID)

	clock.Advance(2 * time.Minute)
	assert.Empty(t, lifecycle.sessions())
}

func TestAutoCompleterRescheduleReplacesDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	lifecycle := &fakeLifecycle{}
	completer := NewAutoCompleter(clock, lifecycle)

	divisionID := uuid.New()
	matchID := uuid.New()
	completer.ScheduleMatch(divisionID, matchID, clock.Now().Add(time.Minute))
	completer.ScheduleMatch(divisionID, matchID, clock.Now().Add(5*time.Minute))

	clock.Advance(2 * time.Minute)
	assert.Empty(t, lifecycle.matches())

	clock.Advance(4 * time.Minute)
	require.Eventually(t, func() bool {
		return len(lifecycle.matches()) == 1
	}, time.Second, 10*time.Millisecond)
}

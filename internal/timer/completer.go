package timer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/rs/zerolog/log"
)

// Lifecycle is the slice of the live-state service the completer needs.
type Lifecycle interface {
	CompleteMatch(ctx context.Context, divisionID, matchID uuid.UUID) (*models.MatchState, error)
	CompleteSession(ctx context.Context, divisionID, sessionID uuid.UUID) (*models.SessionState, error)
}

// AutoCompleter completes matches and sessions when their fixed length
// elapses. Completion goes through the normal lifecycle operation, so
// an entity aborted in the meantime simply rejects the transition and
// nothing happens.
type AutoCompleter struct {
	clock     clockwork.Clock
	lifecycle Lifecycle

	mu       sync.Mutex
	matches  map[uuid.UUID]clockwork.Timer
	sessions map[uuid.UUID]clockwork.Timer
}

func NewAutoCompleter(clock clockwork.Clock, lifecycle Lifecycle) *AutoCompleter {
	return &AutoCompleter{
		clock:     clock,
		lifecycle: lifecycle,
		matches:   make(map[uuid.UUID]clockwork.Timer),
		sessions:  make(map[uuid.UUID]clockwork.Timer),
	}
}

// ScheduleMatch arranges for the match to complete at the given time.
// Re-scheduling an already-scheduled match replaces the old deadline.
func (a *AutoCompleter) ScheduleMatch(divisionID, matchID uuid.UUID, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.matches[matchID]; ok {
		t.Stop()
	}
	a.matches[matchID] = a.clock.AfterFunc(a.until(at), func() {
		a.fireMatch(divisionID, matchID)
	})
}

// ScheduleSession arranges for the session to complete at the given
// time.
func (a *AutoCompleter) ScheduleSession(divisionID, sessionID uuid.UUID, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.sessions[sessionID]; ok {
		t.Stop()
	}
	a.sessions[sessionID] = a.clock.AfterFunc(a.until(at), func() {
		a.fireSession(divisionID, sessionID)
	})
}

// CancelMatch drops a pending match completion, e.g. after an abort or
// a manual completion.
func (a *AutoCompleter) CancelMatch(matchID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.matches[matchID]; ok {
		t.Stop()
		delete(a.matches, matchID)
	}
}

// CancelSession drops a pending session completion.
func (a *AutoCompleter) CancelSession(sessionID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.sessions[sessionID]; ok {
		t.Stop()
		delete(a.sessions, sessionID)
	}
}

func (a *AutoCompleter) until(at time.Time) time.Duration {
	d := at.Sub(a.clock.Now())
	if d < 0 {
		d = 0
	}
	return d
}

func (a *AutoCompleter) fireMatch(divisionID, matchID uuid.UUID) {
	a.mu.Lock()
	delete(a.matches, matchID)
	a.mu.Unlock()

	if _, err := a.lifecycle.CompleteMatch(context.Background(), divisionID, matchID); err != nil {
		// Aborted or manually completed in the meantime.
		log.Debug().
			Err(err).
			Str("match_id", matchID.String()).
			Msg("auto-completion skipped")
		return
	}
	log.Info().Str("match_id", matchID.String()).Msg("match auto-completed")
}

func (a *AutoCompleter) fireSession(divisionID, sessionID uuid.UUID) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	if _, err := a.lifecycle.CompleteSession(context.Background(), divisionID, sessionID); err != nil {
		log.Debug().
			Err(err).
			Str("session_id", sessionID.String()).
			Msg("auto-completion skipped")
		return
	}
	log.Info().Str("session_id", sessionID.String()).Msg("session auto-completed")
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Status defines the lifecycle status of a match or judging session.
// Aborting is a transition back to StatusNotStarted, not a distinct
// terminal state.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// ParticipantState holds the per-team runtime flags for one match slot.
type ParticipantState struct {
	Present bool `json:"present"`
	Ready   bool `json:"ready"`
	Queued  bool `json:"queued"`
}

// ParticipantField names a single flag within ParticipantState.
type ParticipantField string

const (
	ParticipantFieldPresent ParticipantField = "present"
	ParticipantFieldReady   ParticipantField = "ready"
	ParticipantFieldQueued  ParticipantField = "queued"
)

// MatchState is the mutable live document for one match, stored
// separately from the Match schedule record. Version increases by one
// on every committed mutation and stamps every emitted event.
type MatchState struct {
	MatchID      uuid.UUID                       `json:"match_id"`
	DivisionID   uuid.UUID                       `json:"division_id"`
	Status       Status                          `json:"status"`
	Called       bool                            `json:"called"`
	StartTime    *time.Time                      `json:"start_time,omitempty"`
	StartDelta   *int64                          `json:"start_delta,omitempty"` // seconds, actual minus scheduled
	Participants map[uuid.UUID]ParticipantState  `json:"participants"`          // keyed by participant id
	Version      int64                           `json:"version"`
}

// SessionState is the mutable live document for one judging session.
type SessionState struct {
	SessionID  uuid.UUID  `json:"session_id"`
	DivisionID uuid.UUID  `json:"division_id"`
	Status     Status     `json:"status"`
	Called     bool       `json:"called"`
	Queued     bool       `json:"queued"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	StartDelta *int64     `json:"start_delta,omitempty"`
	Version    int64      `json:"version"`
}

// DivisionState tracks division-wide field pointers: which match is
// pre-loaded for the referees, which is running, and how far judging
// has progressed. One row per division, created with the division.
type DivisionState struct {
	DivisionID     uuid.UUID  `json:"division_id"`
	LoadedMatchID  *uuid.UUID `json:"loaded_match_id,omitempty"`
	ActiveMatchID  *uuid.UUID `json:"active_match_id,omitempty"`
	CurrentSession int        `json:"current_session"`
	FieldStage     MatchStage `json:"field_stage"`
	Version        int64      `json:"version"`
}

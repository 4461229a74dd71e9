// Package schedule owns the static side of the dual store: the
// rarely-mutated scheduling records. Live documents are created in the
// same transaction as their entities and deleted with them; they never
// exist independently.
package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
)

// ErrNotFound is returned when a schedule entity does not exist.
var ErrNotFound = errors.New("schedule: not found")

// ParticipantInput assigns a team slot to a table for one match.
type ParticipantInput struct {
	TableID uuid.UUID  `json:"table_id"`
	TeamID  *uuid.UUID `json:"team_id"`
}

// MatchInput describes one match to create.
type MatchInput struct {
	Stage         models.MatchStage  `json:"stage"`
	Round         int                `json:"round"`
	Number        int                `json:"number"`
	ScheduledTime time.Time          `json:"scheduled_time"`
	Participants  []ParticipantInput `json:"participants"`
}

// SessionInput describes one judging session to create.
type SessionInput struct {
	RoomID        uuid.UUID  `json:"room_id"`
	TeamID        *uuid.UUID `json:"team_id"`
	Number        int        `json:"number"`
	ScheduledTime time.Time  `json:"scheduled_time"`
}

// CreateScheduleRequest creates a division's full schedule in one
// operation.
type CreateScheduleRequest struct {
	DivisionID uuid.UUID      `json:"division_id"`
	Matches    []MatchInput   `json:"matches"`
	Sessions   []SessionInput `json:"sessions"`
}

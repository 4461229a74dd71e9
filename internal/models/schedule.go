package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStage defines which bracket of the tournament a match belongs to.
type MatchStage string

const (
	MatchStagePractice MatchStage = "PRACTICE"
	MatchStageRanking  MatchStage = "RANKING"
	MatchStageTest     MatchStage = "TEST"
)

// Division is the tenant unit: one sub-bracket of an event. All live
// state and event broadcast is scoped to a division.
type Division struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Team represents a competing team within a division.
type Team struct {
	ID         uuid.UUID `json:"id"`
	DivisionID uuid.UUID `json:"division_id"`
	Number     int       `json:"number"`
	Name       string    `json:"name"`
	Registered bool      `json:"registered"`
}

// RobotTable is a physical competition table on the field.
type RobotTable struct {
	ID         uuid.UUID `json:"id"`
	DivisionID uuid.UUID `json:"division_id"`
	Name       string    `json:"name"`
}

// JudgingRoom is a physical room where judging sessions are held.
type JudgingRoom struct {
	ID         uuid.UUID `json:"id"`
	DivisionID uuid.UUID `json:"division_id"`
	Name       string    `json:"name"`
}

// Match is the static scheduling record for one robot game match.
// Created during schedule generation and rarely mutated afterwards;
// runtime facts live in MatchState.
type Match struct {
	ID            uuid.UUID          `json:"id"`
	DivisionID    uuid.UUID          `json:"division_id"`
	Stage         MatchStage         `json:"stage"`
	Round         int                `json:"round"`
	Number        int                `json:"number"`
	ScheduledTime time.Time          `json:"scheduled_time"`
	Participants  []MatchParticipant `json:"participants"`
}

// MatchParticipant assigns a team to a table for one match. TeamID is
// nil for an empty slot (e.g. odd team counts).
type MatchParticipant struct {
	ID      uuid.UUID  `json:"id"`
	MatchID uuid.UUID  `json:"match_id"`
	TableID uuid.UUID  `json:"table_id"`
	TeamID  *uuid.UUID `json:"team_id,omitempty"`
}

// JudgingSession is the static scheduling record for one judging
// session. Runtime facts live in SessionState.
type JudgingSession struct {
	ID            uuid.UUID  `json:"id"`
	DivisionID    uuid.UUID  `json:"division_id"`
	RoomID        uuid.UUID  `json:"room_id"`
	TeamID        *uuid.UUID `json:"team_id,omitempty"`
	Number        int        `json:"number"`
	ScheduledTime time.Time  `json:"scheduled_time"`
}

package models

import "github.com/google/uuid"

// ScoresheetStatus tracks how far a referee has taken a scoresheet
// after its match completed.
type ScoresheetStatus string

const (
	ScoresheetStatusEmpty             ScoresheetStatus = "empty"
	ScoresheetStatusInProgress        ScoresheetStatus = "in-progress"
	ScoresheetStatusCompleted         ScoresheetStatus = "completed"
	ScoresheetStatusWaitingForHeadRef ScoresheetStatus = "waiting-for-head-ref"
	ScoresheetStatusReady             ScoresheetStatus = "ready"
)

// Scoresheet is the minimal scoresheet fact set needed to drive
// referee displays. Scoring content itself belongs to the scoring
// collaborator.
type Scoresheet struct {
	ID            uuid.UUID        `json:"id"`
	DivisionID    uuid.UUID        `json:"division_id"`
	MatchID       uuid.UUID        `json:"match_id"`
	ParticipantID uuid.UUID        `json:"participant_id"`
	TeamID        uuid.UUID        `json:"team_id"`
	Status        ScoresheetStatus `json:"status"`
	Escalated     bool             `json:"escalated"`
	Version       int64            `json:"version"`
}

// Submitted reports whether the scoresheet has passed out of referee
// hands, either finalized or handed to the head referee.
func (s ScoresheetStatus) Submitted() bool {
	return s == ScoresheetStatusReady || s == ScoresheetStatusWaitingForHeadRef
}

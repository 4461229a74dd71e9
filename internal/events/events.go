// Package events defines the closed set of live-state change events
// broadcast to division viewers. Every mutation of a live document
// emits exactly one event; payloads carry the resulting facts (not
// delta instructions) so applying an event twice is harmless.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of state change an event describes.
type Type string

const (
	TypeMatchStarted            Type = "MatchStarted"
	TypeMatchCompleted          Type = "MatchCompleted"
	TypeMatchAborted            Type = "MatchAborted"
	TypeMatchCalled             Type = "MatchCalled"
	TypeMatchParticipantUpdated Type = "MatchParticipantUpdated"
	TypeMatchLoaded             Type = "MatchLoaded"
	TypeStageAdvanced           Type = "StageAdvanced"
	TypeSessionStarted          Type = "SessionStarted"
	TypeSessionCompleted        Type = "SessionCompleted"
	TypeSessionAborted          Type = "SessionAborted"
	TypeSessionCalled           Type = "SessionCalled"
	TypeSessionQueued           Type = "SessionQueued"
	TypeScoresheetUpdated       Type = "ScoresheetUpdated"
	TypeScheduleReset           Type = "ScheduleReset"
)

// Event is the wire envelope delivered to viewers. EntityID is the id
// of the live document that changed (match, session, scoresheet, or
// the division itself for division-state events) and Version is that
// document's version after the mutation.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	DivisionID uuid.UUID       `json:"division_id"`
	Type       Type            `json:"type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Version    int64           `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// MatchStartedPayload carries the start facts so a viewer can apply
// the event without re-fetching.
type MatchStartedPayload struct {
	MatchID    uuid.UUID `json:"match_id"`
	StartTime  time.Time `json:"start_time"`
	StartDelta int64     `json:"start_delta"` // seconds
}

type MatchCompletedPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

type MatchAbortedPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

type MatchCalledPayload struct {
	MatchID uuid.UUID `json:"match_id"`
	Called  bool      `json:"called"`
}

// MatchParticipantUpdatedPayload carries the participant's full flag
// set after the update.
type MatchParticipantUpdatedPayload struct {
	MatchID       uuid.UUID `json:"match_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Present       bool      `json:"present"`
	Ready         bool      `json:"ready"`
	Queued        bool      `json:"queued"`
}

// MatchLoadedPayload announces the division's new loaded match. A nil
// MatchID clears the pointer.
type MatchLoadedPayload struct {
	MatchID *uuid.UUID `json:"match_id,omitempty"`
}

type StageAdvancedPayload struct {
	Stage string `json:"stage"`
}

type SessionStartedPayload struct {
	SessionID  uuid.UUID `json:"session_id"`
	StartTime  time.Time `json:"start_time"`
	StartDelta int64     `json:"start_delta"`
}

type SessionCompletedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type SessionAbortedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type SessionCalledPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Called    bool      `json:"called"`
}

type SessionQueuedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Queued    bool      `json:"queued"`
}

type ScoresheetUpdatedPayload struct {
	ScoresheetID uuid.UUID `json:"scoresheet_id"`
	MatchID      uuid.UUID `json:"match_id"`
	Status       string    `json:"status"`
	Escalated    bool      `json:"escalated"`
}

// ScheduleResetPayload tells viewers their snapshot is gone for good;
// the only recovery is a full re-fetch.
type ScheduleResetPayload struct {
	DivisionID uuid.UUID `json:"division_id"`
}

// New builds an envelope with a fresh id and the payload marshalled
// into Data.
func New(divisionID uuid.UUID, typ Type, entityID uuid.UUID, version int64, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:         uuid.New(),
		DivisionID: divisionID,
		Type:       typ,
		EntityID:   entityID,
		Version:    version,
		Timestamp:  at,
		Data:       data,
	}, nil
}

// ParsePayload decodes an event's Data into the payload struct for its
// type. Unknown types return nil with no error so consumers can skip
// events added by newer servers.
func ParsePayload(e Event) (any, error) {
	switch e.Type {
	case TypeMatchStarted:
		return decode[MatchStartedPayload](e)
	case TypeMatchCompleted:
		return decode[MatchCompletedPayload](e)
	case TypeMatchAborted:
		return decode[MatchAbortedPayload](e)
	case TypeMatchCalled:
		return decode[MatchCalledPayload](e)
	case TypeMatchParticipantUpdated:
		return decode[MatchParticipantUpdatedPayload](e)
	case TypeMatchLoaded:
		return decode[MatchLoadedPayload](e)
	case TypeStageAdvanced:
		return decode[StageAdvancedPayload](e)
	case TypeSessionStarted:
		return decode[SessionStartedPayload](e)
	case TypeSessionCompleted:
		return decode[SessionCompletedPayload](e)
	case TypeSessionAborted:
		return decode[SessionAbortedPayload](e)
	case TypeSessionCalled:
		return decode[SessionCalledPayload](e)
	case TypeSessionQueued:
		return decode[SessionQueuedPayload](e)
	case TypeScoresheetUpdated:
		return decode[ScoresheetUpdatedPayload](e)
	case TypeScheduleReset:
		return decode[ScheduleResetPayload](e)
	default:
		return nil, nil
	}
}

func decode[T any](e Event) (any, error) {
	var payload T
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return payload, nil
}

package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestValidateCreate(t *testing.T) {
	divisionID := uuid.New()
	tableA := uuid.New()
	tableB := uuid.New()
	teamID := uuid.New()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		req     CreateScheduleRequest
		wantErr string
	}{
		{
			name: "valid schedule",
			req: CreateScheduleRequest{
				DivisionID: divisionID,
				Matches: []MatchInput{
					{Stage: models.MatchStagePractice, Round: 1, Number: 1, ScheduledTime: at, Participants: []ParticipantInput{
						{TableID: tableA, TeamID: &teamID},
						{TableID: tableB},
					}},
					{Stage: models.MatchStagePractice, Round: 1, Number: 2, ScheduledTime: at.Add(10 * time.Minute)},
				},
				Sessions: []SessionInput{
					{RoomID: uuid.New(), TeamID: &teamID, Number: 1, ScheduledTime: at},
				},
			},
		},
		{
			name:    "missing division",
			req:     CreateScheduleRequest{},
			wantErr: "division id is required",
		},
		{
			name: "duplicate match number",
			req: CreateScheduleRequest{
				DivisionID: divisionID,
				Matches: []MatchInput{
					{Number: 1, ScheduledTime: at},
					{Number: 1, ScheduledTime: at.Add(10 * time.Minute)},
				},
			},
			wantErr: "duplicate match number 1",
		},
		{
			name: "table assigned twice in one match",
			req: CreateScheduleRequest{
				DivisionID: divisionID,
				Matches: []MatchInput{
					{Number: 1, ScheduledTime: at, Participants: []ParticipantInput{
						{TableID: tableA, TeamID: &teamID},
						{TableID: tableA},
					}},
				},
			},
			wantErr: "twice",
		},
		{
			name: "duplicate session number",
			req: CreateScheduleRequest{
				DivisionID: divisionID,
				Sessions: []SessionInput{
					{RoomID: uuid.New(), Number: 4, ScheduledTime: at},
					{RoomID: uuid.New(), Number: 4, ScheduledTime: at},
				},
			},
			wantErr: "duplicate session number 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCreate(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

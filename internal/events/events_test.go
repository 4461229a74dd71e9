package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadRoundTrip(t *testing.T) {
	divisionID := uuid.New()
	matchID := uuid.New()
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	ev, err := New(divisionID, TypeMatchStarted, matchID, 2, start, MatchStartedPayload{
		MatchID:    matchID,
		StartTime:  start,
		StartDelta: -15,
	})
	require.NoError(t, err)
	assert.Equal(t, divisionID, ev.DivisionID)
	assert.Equal(t, int64(2), ev.Version)

	payload, err := ParsePayload(ev)
	require.NoError(t, err)
	got, ok := payload.(MatchStartedPayload)
	require.True(t, ok)
	assert.Equal(t, matchID, got.MatchID)
	assert.Equal(t, int64(-15), got.StartDelta)
	assert.True(t, start.Equal(got.StartTime))
}

func TestParsePayloadUnknownTypeIsSkipped(t *testing.T) {
	ev := Event{Type: "SomethingFromTheFuture", Data: []byte(`{"x":1}`)}

	payload, err := ParsePayload(ev)
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestParsePayloadMalformedData(t *testing.T) {
	ev := Event{Type: TypeMatchCalled, Data: []byte(`{`)}

	_, err := ParsePayload(ev)
	require.Error(t, err)
}

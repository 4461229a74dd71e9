package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lkaplan/livecomp/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPositionEmitsWholeSeconds(t *testing.T) {
	pos := timer.JudgingSchedule(30 * time.Minute).StageAt(45 * time.Second)

	got := toTimerPosition(pos)
	assert.Equal(t, "setup", got.Stage)
	assert.Equal(t, int64(120), got.StageSeconds)
	assert.Equal(t, int64(75), got.RemainingSeconds)
	assert.Equal(t, int64(1755), got.TotalRemainingSeconds)
	assert.False(t, got.Finished)

	body, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"remaining_seconds":75`)
	assert.Contains(t, string(body), `"total_remaining_seconds":1755`)
}

func TestTimerPositionMatchCountdown(t *testing.T) {
	pos := timer.MatchSchedule(150 * time.Second).StageAt(150 * time.Second)

	got := toTimerPosition(pos)
	assert.Equal(t, "match", got.Stage)
	assert.Equal(t, int64(0), got.RemainingSeconds)
	assert.True(t, got.Finished)
}

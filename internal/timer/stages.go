// Package timer computes countdown state for running matches and
// judging sessions. Positions are always recomputed from the wall
// clock and the recorded start time; nothing here decrements a
// counter, so missed ticks or suspended clients can never cause drift.
package timer

import "time"

// Stage is one named phase of a session.
type Stage struct {
	ID       string
	Duration time.Duration
}

// Schedule is an ordered list of fixed-duration stages followed by one
// trailing stage that fills whatever remains of the total length.
type Schedule struct {
	Fixed   []Stage
	FinalID string
	Total   time.Duration
}

// Position reports where in a schedule a running session is. The
// transport layer owns the wire shape; these durations are exact.
type Position struct {
	Index     int
	Stage     Stage
	Remaining time.Duration
	// TotalRemaining is the time left in the whole session.
	TotalRemaining time.Duration
	Finished       bool
}

// FinalDuration is the filler stage's length: total minus the fixed
// stages, clamped to zero when the fixed stages alone exceed the total.
func (s Schedule) FinalDuration() time.Duration {
	var fixed time.Duration
	for _, st := range s.Fixed {
		fixed += st.Duration
	}
	d := s.Total - fixed
	if d < 0 {
		d = 0
	}
	return d
}

// StageAt computes the position after the given elapsed time. Negative
// elapsed (clock skew before the recorded start) clamps to zero. The
// output depends only on elapsed, never on any previous output.
func (s Schedule) StageAt(elapsed time.Duration) Position {
	if elapsed < 0 {
		elapsed = 0
	}

	totalRemaining := s.Total - elapsed
	if totalRemaining < 0 {
		totalRemaining = 0
	}

	var cum time.Duration
	for i, st := range s.Fixed {
		if elapsed < cum+st.Duration {
			return Position{
				Index:          i,
				Stage:          st,
				Remaining:      cum + st.Duration - elapsed,
				TotalRemaining: totalRemaining,
			}
		}
		cum += st.Duration
	}

	final := Stage{ID: s.FinalID, Duration: s.FinalDuration()}
	remaining := cum + final.Duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Position{
		Index:          len(s.Fixed),
		Stage:          final,
		Remaining:      remaining,
		TotalRemaining: totalRemaining,
		Finished:       remaining == 0,
	}
}

// At computes the position for a session started at startTime as of
// now.
func (s Schedule) At(now, startTime time.Time) Position {
	return s.StageAt(now.Sub(startTime))
}

// JudgingSchedule returns the standard judging session stages with a
// summary stage filling the remainder of the session length.
func JudgingSchedule(sessionLength time.Duration) Schedule {
	return Schedule{
		Fixed: []Stage{
			{ID: "setup", Duration: 2 * time.Minute},
			{ID: "innovation-presentation", Duration: 5 * time.Minute},
			{ID: "innovation-questions", Duration: 5 * time.Minute},
			{ID: "robot-presentation", Duration: 5 * time.Minute},
			{ID: "robot-questions", Duration: 5 * time.Minute},
		},
		FinalID: "final-thoughts",
		Total:   sessionLength,
	}
}

// MatchSchedule returns the single-stage countdown for a robot game
// match.
func MatchSchedule(matchLength time.Duration) Schedule {
	return Schedule{FinalID: "match", Total: matchLength}
}

package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lkaplan/livecomp/internal/events"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/outbox"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSchedule inserts every match, session, and participant together
// with their live-state documents and empty scoresheets in a single
// transaction. A schedule entity without a live document never exists,
// not even transiently.
func (r *Repository) CreateSchedule(ctx context.Context, req CreateScheduleRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create schedule: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO division_states (division_id, current_session, field_stage, version)
		VALUES ($1, 0, 'PRACTICE', 1)
		ON CONFLICT (division_id) DO NOTHING`, req.DivisionID); err != nil {
		return fmt.Errorf("ensure division state: %w", err)
	}

	for _, m := range req.Matches {
		matchID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO robot_game_matches (id, division_id, stage, round, number, scheduled_time)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			matchID, req.DivisionID, m.Stage, m.Round, m.Number, m.ScheduledTime); err != nil {
			return fmt.Errorf("insert match %d: %w", m.Number, err)
		}

		participants := make(map[uuid.UUID]models.ParticipantState, len(m.Participants))
		for _, p := range m.Participants {
			participantID := uuid.New()
			if _, err := tx.Exec(ctx, `
				INSERT INTO robot_game_match_participants (id, match_id, table_id, team_id)
				VALUES ($1, $2, $3, $4)`,
				participantID, matchID, p.TableID, p.TeamID); err != nil {
				return fmt.Errorf("insert participant for match %d: %w", m.Number, err)
			}
			participants[participantID] = models.ParticipantState{}

			if p.TeamID != nil {
				if _, err := tx.Exec(ctx, `
					INSERT INTO scoresheets (id, division_id, match_id, participant_id, team_id, status, escalated, version)
					VALUES ($1, $2, $3, $4, $5, 'empty', false, 1)`,
					uuid.New(), req.DivisionID, matchID, participantID, *p.TeamID); err != nil {
					return fmt.Errorf("insert scoresheet for match %d: %w", m.Number, err)
				}
			}
		}

		participantsJSON, err := json.Marshal(participants)
		if err != nil {
			return fmt.Errorf("marshal participants: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO match_states (match_id, division_id, status, called, participants, version)
			VALUES ($1, $2, 'not-started', false, $3, 1)`,
			matchID, req.DivisionID, participantsJSON); err != nil {
			return fmt.Errorf("insert match state for match %d: %w", m.Number, err)
		}
	}

	for _, s := range req.Sessions {
		sessionID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO judging_sessions (id, division_id, room_id, team_id, number, scheduled_time)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, req.DivisionID, s.RoomID, s.TeamID, s.Number, s.ScheduledTime); err != nil {
			return fmt.Errorf("insert session %d: %w", s.Number, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO judging_session_states (session_id, division_id, status, called, queued, version)
			VALUES ($1, $2, 'not-started', false, false, 1)`,
			sessionID, req.DivisionID); err != nil {
			return fmt.Errorf("insert session state for session %d: %w", s.Number, err)
		}
	}

	// Pre-load the first match so referees have a prestart screen from
	// the moment the schedule exists.
	if _, err := tx.Exec(ctx, `
		UPDATE division_states ds
		SET loaded_match_id = (
			SELECT m.id FROM robot_game_matches m
			WHERE m.division_id = $1 AND m.stage = 'PRACTICE'
			ORDER BY m.number LIMIT 1
		), version = ds.version + 1
		WHERE ds.division_id = $1`, req.DivisionID); err != nil {
		return fmt.Errorf("load first match: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create schedule: %w", err)
	}
	return nil
}

// ResetSchedule deletes a division's schedule entities and their live
// documents together, and tells every connected viewer their snapshot
// is gone.
func (r *Repository) ResetSchedule(ctx context.Context, divisionID uuid.UUID, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset schedule: %w", err)
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`DELETE FROM scoresheets WHERE division_id = $1`,
		`DELETE FROM match_states WHERE division_id = $1`,
		`DELETE FROM robot_game_match_participants WHERE match_id IN (SELECT id FROM robot_game_matches WHERE division_id = $1)`,
		`DELETE FROM robot_game_matches WHERE division_id = $1`,
		`DELETE FROM judging_session_states WHERE division_id = $1`,
		`DELETE FROM judging_sessions WHERE division_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, divisionID); err != nil {
			return fmt.Errorf("reset schedule: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE division_states
		SET loaded_match_id = NULL, active_match_id = NULL, current_session = 0,
		    field_stage = 'PRACTICE', version = version + 1
		WHERE division_id = $1`, divisionID); err != nil {
		return fmt.Errorf("reset division state: %w", err)
	}

	var version int64
	if err := tx.QueryRow(ctx, `
		SELECT version FROM division_states WHERE division_id = $1`, divisionID).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("division %s: %w", divisionID, ErrNotFound)
		}
		return fmt.Errorf("read division state version: %w", err)
	}

	ev, err := events.New(divisionID, events.TypeScheduleReset, divisionID, version, at, events.ScheduleResetPayload{DivisionID: divisionID})
	if err != nil {
		return err
	}
	if err := outbox.InsertTx(ctx, tx, ev); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, '')`, outbox.NotifyChannel); err != nil {
		return fmt.Errorf("notify outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset schedule: %w", err)
	}
	return nil
}

// SetParticipantTeam swaps the team assigned to a match slot. Only
// not-started matches are editable.
func (r *Repository) SetParticipantTeam(ctx context.Context, matchID, participantID uuid.UUID, teamID *uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set participant team: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.Status
	if err := tx.QueryRow(ctx, `
		SELECT status FROM match_states WHERE match_id = $1`, matchID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("match %s: %w", matchID, ErrNotFound)
		}
		return fmt.Errorf("read match status: %w", err)
	}
	if status != models.StatusNotStarted {
		return fmt.Errorf("match %s is not editable (status %s)", matchID, status)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE robot_game_match_participants SET team_id = $1
		WHERE id = $2 AND match_id = $3`, teamID, participantID, matchID)
	if err != nil {
		return fmt.Errorf("set participant team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s in match %s: %w", participantID, matchID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set participant team: %w", err)
	}
	return nil
}

// DivisionSnapshot assembles the joined read model a viewer starts
// from: every schedule entity paired with its live document.
func (r *Repository) DivisionSnapshot(ctx context.Context, divisionID uuid.UUID) (divState *models.DivisionState, matches []models.Match, matchStates []models.MatchState, sessions []models.JudgingSession, sessionStates []models.SessionState, scoresheets []models.Scoresheet, teams []models.Team, err error) {
	divState = &models.DivisionState{}
	err = r.pool.QueryRow(ctx, `
		SELECT division_id, loaded_match_id, active_match_id, current_session, field_stage, version
		FROM division_states WHERE division_id = $1`, divisionID).
		Scan(&divState.DivisionID, &divState.LoadedMatchID, &divState.ActiveMatchID, &divState.CurrentSession, &divState.FieldStage, &divState.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("division %s: %w", divisionID, ErrNotFound)
		}
		return
	}

	matches, err = r.divisionMatches(ctx, divisionID)
	if err != nil {
		return
	}
	matchStates, err = scanAll(ctx, r.pool, `
		SELECT match_id, division_id, status, called, start_time, start_delta, participants, version
		FROM match_states WHERE division_id = $1`, divisionID, scanMatchState)
	if err != nil {
		return
	}
	sessions, err = scanAll(ctx, r.pool, `
		SELECT id, division_id, room_id, team_id, number, scheduled_time
		FROM judging_sessions WHERE division_id = $1 ORDER BY number`, divisionID, scanSession)
	if err != nil {
		return
	}
	sessionStates, err = scanAll(ctx, r.pool, `
		SELECT session_id, division_id, status, called, queued, start_time, start_delta, version
		FROM judging_session_states WHERE division_id = $1`, divisionID, scanSessionState)
	if err != nil {
		return
	}
	scoresheets, err = scanAll(ctx, r.pool, `
		SELECT id, division_id, match_id, participant_id, team_id, status, escalated, version
		FROM scoresheets WHERE division_id = $1`, divisionID, scanScoresheet)
	if err != nil {
		return
	}
	teams, err = scanAll(ctx, r.pool, `
		SELECT id, division_id, number, name, registered
		FROM teams WHERE division_id = $1 ORDER BY number`, divisionID, scanTeam)
	return
}

func (r *Repository) divisionMatches(ctx context.Context, divisionID uuid.UUID) ([]models.Match, error) {
	matches, err := scanAll(ctx, r.pool, `
		SELECT id, division_id, stage, round, number, scheduled_time
		FROM robot_game_matches WHERE division_id = $1 ORDER BY number`, divisionID, scanMatch)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]int, len(matches))
	for i, m := range matches {
		byID[m.ID] = i
	}

	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.match_id, p.table_id, p.team_id
		FROM robot_game_match_participants p
		JOIN robot_game_matches m ON m.id = p.match_id
		WHERE m.division_id = $1`, divisionID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.MatchParticipant
		if err := rows.Scan(&p.ID, &p.MatchID, &p.TableID, &p.TeamID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if i, ok := byID[p.MatchID]; ok {
			matches[i].Participants = append(matches[i].Participants, p)
		}
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAll[T any](ctx context.Context, pool *pgxpool.Pool, query string, divisionID uuid.UUID, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, query, divisionID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanMatch(row rowScanner) (models.Match, error) {
	var m models.Match
	err := row.Scan(&m.ID, &m.DivisionID, &m.Stage, &m.Round, &m.Number, &m.ScheduledTime)
	if err != nil {
		err = fmt.Errorf("scan match: %w", err)
	}
	return m, err
}

func scanMatchState(row rowScanner) (models.MatchState, error) {
	var st models.MatchState
	var participants []byte
	err := row.Scan(&st.MatchID, &st.DivisionID, &st.Status, &st.Called, &st.StartTime, &st.StartDelta, &participants, &st.Version)
	if err != nil {
		return st, fmt.Errorf("scan match state: %w", err)
	}
	if err := json.Unmarshal(participants, &st.Participants); err != nil {
		return st, fmt.Errorf("unmarshal participants: %w", err)
	}
	return st, nil
}

func scanSession(row rowScanner) (models.JudgingSession, error) {
	var s models.JudgingSession
	err := row.Scan(&s.ID, &s.DivisionID, &s.RoomID, &s.TeamID, &s.Number, &s.ScheduledTime)
	if err != nil {
		err = fmt.Errorf("scan session: %w", err)
	}
	return s, err
}

func scanSessionState(row rowScanner) (models.SessionState, error) {
	var st models.SessionState
	err := row.Scan(&st.SessionID, &st.DivisionID, &st.Status, &st.Called, &st.Queued, &st.StartTime, &st.StartDelta, &st.Version)
	if err != nil {
		err = fmt.Errorf("scan session state: %w", err)
	}
	return st, err
}

func scanScoresheet(row rowScanner) (models.Scoresheet, error) {
	var s models.Scoresheet
	err := row.Scan(&s.ID, &s.DivisionID, &s.MatchID, &s.ParticipantID, &s.TeamID, &s.Status, &s.Escalated, &s.Version)
	if err != nil {
		err = fmt.Errorf("scan scoresheet: %w", err)
	}
	return s, err
}

func scanTeam(row rowScanner) (models.Team, error) {
	var t models.Team
	err := row.Scan(&t.ID, &t.DivisionID, &t.Number, &t.Name, &t.Registered)
	if err != nil {
		err = fmt.Errorf("scan team: %w", err)
	}
	return t, err
}

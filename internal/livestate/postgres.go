package livestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/outbox"
)

// PostgresRepository stores live-state documents in dedicated tables,
// separate from the schedule tables, with a version column for
// optimistic concurrency.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, division_id, stage, round, number, scheduled_time
		FROM robot_game_matches WHERE id = $1`, matchID)

	var m models.Match
	if err := row.Scan(&m.ID, &m.DivisionID, &m.Stage, &m.Round, &m.Number, &m.ScheduledTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
		}
		return nil, fmt.Errorf("get match: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, match_id, table_id, team_id
		FROM robot_game_match_participants WHERE match_id = $1`, matchID)
	if err != nil {
		return nil, fmt.Errorf("get match participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.MatchParticipant
		if err := rows.Scan(&p.ID, &p.MatchID, &p.TableID, &p.TeamID); err != nil {
			return nil, fmt.Errorf("scan match participant: %w", err)
		}
		m.Participants = append(m.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get match participants: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.JudgingSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, division_id, room_id, team_id, number, scheduled_time
		FROM judging_sessions WHERE id = $1`, sessionID)

	var s models.JudgingSession
	if err := row.Scan(&s.ID, &s.DivisionID, &s.RoomID, &s.TeamID, &s.Number, &s.ScheduledTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) GetMatchState(ctx context.Context, matchID uuid.UUID) (*models.MatchState, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT match_id, division_id, status, called, start_time, start_delta, participants, version
		FROM match_states WHERE match_id = $1`, matchID)

	var st models.MatchState
	var participants []byte
	if err := row.Scan(&st.MatchID, &st.DivisionID, &st.Status, &st.Called, &st.StartTime, &st.StartDelta, &participants, &st.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match state %s: %w", matchID, ErrNotFound)
		}
		return nil, fmt.Errorf("get match state: %w", err)
	}
	if err := json.Unmarshal(participants, &st.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	return &st, nil
}

func (r *PostgresRepository) GetSessionState(ctx context.Context, sessionID uuid.UUID) (*models.SessionState, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, division_id, status, called, queued, start_time, start_delta, version
		FROM judging_session_states WHERE session_id = $1`, sessionID)

	var st models.SessionState
	if err := row.Scan(&st.SessionID, &st.DivisionID, &st.Status, &st.Called, &st.Queued, &st.StartTime, &st.StartDelta, &st.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session state %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get session state: %w", err)
	}
	return &st, nil
}

func (r *PostgresRepository) GetDivisionState(ctx context.Context, divisionID uuid.UUID) (*models.DivisionState, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT division_id, loaded_match_id, active_match_id, current_session, field_stage, version
		FROM division_states WHERE division_id = $1`, divisionID)

	var st models.DivisionState
	if err := row.Scan(&st.DivisionID, &st.LoadedMatchID, &st.ActiveMatchID, &st.CurrentSession, &st.FieldStage, &st.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("division state %s: %w", divisionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get division state: %w", err)
	}
	return &st, nil
}

func (r *PostgresRepository) GetScoresheet(ctx context.Context, scoresheetID uuid.UUID) (*models.Scoresheet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, division_id, match_id, participant_id, team_id, status, escalated, version
		FROM scoresheets WHERE id = $1`, scoresheetID)

	var s models.Scoresheet
	if err := row.Scan(&s.ID, &s.DivisionID, &s.MatchID, &s.ParticipantID, &s.TeamID, &s.Status, &s.Escalated, &s.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scoresheet %s: %w", scoresheetID, ErrNotFound)
		}
		return nil, fmt.Errorf("get scoresheet: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) NextUnplayedMatch(ctx context.Context, divisionID uuid.UUID, stage models.MatchStage, afterNumber int) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT m.id
		FROM robot_game_matches m
		JOIN match_states st ON st.match_id = m.id
		WHERE m.division_id = $1 AND m.stage = $2 AND m.number > $3 AND st.status = 'not-started'
		ORDER BY m.number
		LIMIT 1`, divisionID, stage, afterNumber).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("next unplayed match: %w", err)
	}
	return &id, nil
}

// Commit applies every document update with a version compare-and-set
// and inserts the outbox rows in the same transaction, then notifies
// the relay. A mutation that commits always has its events on disk.
func (r *PostgresRepository) Commit(ctx context.Context, mut Mutation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if mut.MatchState != nil {
		participants, err := json.Marshal(mut.MatchState.Participants)
		if err != nil {
			return fmt.Errorf("marshal participants: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE match_states
			SET status = $1, called = $2, start_time = $3, start_delta = $4, participants = $5, version = $6
			WHERE match_id = $7 AND version = $8`,
			mut.MatchState.Status, mut.MatchState.Called, mut.MatchState.StartTime, mut.MatchState.StartDelta,
			participants, mut.MatchState.Version, mut.MatchState.MatchID, mut.MatchStatePrev)
		if err != nil {
			return fmt.Errorf("update match state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
	}

	if mut.SessionState != nil {
		if mut.GuardRoomID != nil {
			if err := checkRoomFree(ctx, tx, *mut.GuardRoomID, mut.SessionState.SessionID); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE judging_session_states
			SET status = $1, called = $2, queued = $3, start_time = $4, start_delta = $5, version = $6
			WHERE session_id = $7 AND version = $8`,
			mut.SessionState.Status, mut.SessionState.Called, mut.SessionState.Queued,
			mut.SessionState.StartTime, mut.SessionState.StartDelta, mut.SessionState.Version,
			mut.SessionState.SessionID, mut.SessionStatePrev)
		if err != nil {
			return fmt.Errorf("update session state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
	}

	if mut.DivisionState != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE division_states
			SET loaded_match_id = $1, active_match_id = $2, current_session = $3, field_stage = $4, version = $5
			WHERE division_id = $6 AND version = $7`,
			mut.DivisionState.LoadedMatchID, mut.DivisionState.ActiveMatchID, mut.DivisionState.CurrentSession,
			mut.DivisionState.FieldStage, mut.DivisionState.Version,
			mut.DivisionState.DivisionID, mut.DivisionStatePrev)
		if err != nil {
			return fmt.Errorf("update division state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
	}

	if mut.Scoresheet != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE scoresheets
			SET status = $1, escalated = $2, version = $3
			WHERE id = $4 AND version = $5`,
			mut.Scoresheet.Status, mut.Scoresheet.Escalated, mut.Scoresheet.Version,
			mut.Scoresheet.ID, mut.ScoresheetPrev)
		if err != nil {
			return fmt.Errorf("update scoresheet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
	}

	for _, ev := range mut.Events {
		if err := outbox.InsertTx(ctx, tx, ev); err != nil {
			return err
		}
	}
	if len(mut.Events) > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, '')`, outbox.NotifyChannel); err != nil {
			return fmt.Errorf("notify outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mutation: %w", err)
	}
	return nil
}

// checkRoomFree locks the other session-state rows of the room before
// reading their status, so a racing start in the same room blocks here
// and then re-reads the winner's committed status.
func checkRoomFree(ctx context.Context, tx pgx.Tx, roomID, sessionID uuid.UUID) error {
	rows, err := tx.Query(ctx, `
		SELECT st.status
		FROM judging_session_states st
		JOIN judging_sessions s ON s.id = st.session_id
		WHERE s.room_id = $1 AND st.session_id <> $2
		FOR UPDATE OF st`, roomID, sessionID)
	if err != nil {
		return fmt.Errorf("lock room sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.Status
		if err := rows.Scan(&status); err != nil {
			return fmt.Errorf("scan room session status: %w", err)
		}
		if status == models.StatusInProgress {
			return ErrRoomBusy
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock room sessions: %w", err)
	}
	return nil
}

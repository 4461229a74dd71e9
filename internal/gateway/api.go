package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lkaplan/livecomp/internal/display"
	"github.com/lkaplan/livecomp/internal/livestate"
	"github.com/lkaplan/livecomp/internal/models"
	"github.com/lkaplan/livecomp/internal/schedule"
	"github.com/lkaplan/livecomp/internal/timer"
)

// APIHandler exposes the lifecycle and schedule operations over JSON.
// Every mutation is division-scoped; the division id always comes from
// the URL so a stale client cannot mutate across divisions.
type APIHandler struct {
	live       *livestate.Service
	schedule   *schedule.Service
	clock      clockwork.Clock
	matchLen   time.Duration
	sessionLen time.Duration
}

func NewAPIHandler(live *livestate.Service, sched *schedule.Service, clock clockwork.Clock, matchLen, sessionLen time.Duration) *APIHandler {
	return &APIHandler{
		live:       live,
		schedule:   sched,
		clock:      clock,
		matchLen:   matchLen,
		sessionLen: sessionLen,
	}
}

// Routes mounts the division-scoped API under the given router.
func (h *APIHandler) Routes(r chi.Router) {
	r.Route("/divisions/{divisionID}", func(r chi.Router) {
		r.Post("/schedule", h.createSchedule)
		r.Delete("/schedule", h.resetSchedule)

		r.Route("/matches/{matchID}", func(r chi.Router) {
			r.Post("/start", h.startMatch)
			r.Post("/complete", h.completeMatch)
			r.Post("/abort", h.abortMatch)
			r.Put("/called", h.setMatchCalled)
			r.Put("/participants/{participantID}", h.setMatchParticipant)
			r.Put("/participants/{participantID}/team", h.setParticipantTeam)
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/start", h.startSession)
			r.Post("/complete", h.completeSession)
			r.Post("/abort", h.abortSession)
			r.Put("/called", h.setSessionCalled)
			r.Put("/queued", h.setSessionQueued)
		})

		r.Put("/scoresheets/{scoresheetID}/status", h.setScoresheetStatus)

		r.Get("/displays/referee", h.refereeDisplay)
		r.Get("/displays/judge", h.judgeDisplay)
		r.Get("/displays/queuer", h.queuerDisplay)
	})

	r.Get("/matches/{matchID}/state", h.getMatchState)
	r.Get("/matches/{matchID}/timer", h.matchTimer)
	r.Get("/sessions/{sessionID}/state", h.getSessionState)
	r.Get("/sessions/{sessionID}/timer", h.sessionTimer)
}

func (h *APIHandler) startMatch(w http.ResponseWriter, r *http.Request) {
	divisionID, matchID, ok := pathIDs(w, r, "divisionID", "matchID")
	if !ok {
		return
	}
	st, err := h.live.StartMatch(r.Context(), divisionID, matchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) completeMatch(w http.ResponseWriter, r *http.Request) {
	divisionID, matchID, ok := pathIDs(w, r, "divisionID", "matchID")
	if !ok {
		return
	}
	st, err := h.live.CompleteMatch(r.Context(), divisionID, matchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) abortMatch(w http.ResponseWriter, r *http.Request) {
	divisionID, matchID, ok := pathIDs(w, r, "divisionID", "matchID")
	if !ok {
		return
	}
	st, err := h.live.AbortMatch(r.Context(), divisionID, matchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) setMatchCalled(w http.ResponseWriter, r *http.Request) {
	divisionID, matchID, ok := pathIDs(w, r, "divisionID", "matchID")
	if !ok {
		return
	}
	var body struct {
		Called bool `json:"called"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	st, err := h.live.SetMatchCalled(r.Context(), divisionID, matchID, body.Called)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) setMatchParticipant(w http.ResponseWriter, r *http.Request) {
	divisionID, matchID, ok := pathIDs(w, r, "divisionID", "matchID")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	var body struct {
		Field models.ParticipantField `json:"field"`
		Value bool                    `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	st, err := h.live.SetMatchParticipant(r.Context(), divisionID, matchID, participantID, body.Field, body.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) setParticipantTeam(w http.ResponseWriter, r *http.Request) {
	_, matchID, ok := pathIDs(w, r, "divisionID", "matchID")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	var body struct {
		TeamID *uuid.UUID `json:"team_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.schedule.SetParticipantTeam(r.Context(), matchID, participantID, body.TeamID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) startSession(w http.ResponseWriter, r *http.Request) {
	divisionID, sessionID, ok := pathIDs(w, r, "divisionID", "sessionID")
	if !ok {
		return
	}
	st, err := h.live.StartSession(r.Context(), divisionID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) completeSession(w http.ResponseWriter, r *http.Request) {
	divisionID, sessionID, ok := pathIDs(w, r, "divisionID", "sessionID")
	if !ok {
		return
	}
	st, err := h.live.CompleteSession(r.Context(), divisionID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) abortSession(w http.ResponseWriter, r *http.Request) {
	divisionID, sessionID, ok := pathIDs(w, r, "divisionID", "sessionID")
	if !ok {
		return
	}
	st, err := h.live.AbortSession(r.Context(), divisionID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) setSessionCalled(w http.ResponseWriter, r *http.Request) {
	divisionID, sessionID, ok := pathIDs(w, r, "divisionID", "sessionID")
	if !ok {
		return
	}
	var body struct {
		Called bool `json:"called"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	st, err := h.live.SetSessionCalled(r.Context(), divisionID, sessionID, body.Called)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) setSessionQueued(w http.ResponseWriter, r *http.Request) {
	divisionID, sessionID, ok := pathIDs(w, r, "divisionID", "sessionID")
	if !ok {
		return
	}
	var body struct {
		Queued bool `json:"queued"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	st, err := h.live.SetSessionQueued(r.Context(), divisionID, sessionID, body.Queued)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) setScoresheetStatus(w http.ResponseWriter, r *http.Request) {
	divisionID, scoresheetID, ok := pathIDs(w, r, "divisionID", "scoresheetID")
	if !ok {
		return
	}
	var body struct {
		Status    models.ScoresheetStatus `json:"status"`
		Escalated *bool                   `json:"escalated,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sheet, err := h.live.SetScoresheetStatus(r.Context(), divisionID, scoresheetID, body.Status, body.Escalated)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (h *APIHandler) createSchedule(w http.ResponseWriter, r *http.Request) {
	divisionID, ok := pathID(w, r, "divisionID")
	if !ok {
		return
	}
	var req schedule.CreateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.DivisionID = divisionID
	if err := h.schedule.CreateSchedule(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *APIHandler) resetSchedule(w http.ResponseWriter, r *http.Request) {
	divisionID, ok := pathID(w, r, "divisionID")
	if !ok {
		return
	}
	if err := h.schedule.ResetSchedule(r.Context(), divisionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) refereeDisplay(w http.ResponseWriter, r *http.Request) {
	divisionID, ok := pathID(w, r, "divisionID")
	if !ok {
		return
	}
	tableID, err := uuid.Parse(r.URL.Query().Get("table_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table_id"})
		return
	}
	snap, err := h.schedule.DivisionSnapshot(r.Context(), divisionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, display.Referee(*snap, tableID, h.clock.Now()))
}

func (h *APIHandler) judgeDisplay(w http.ResponseWriter, r *http.Request) {
	divisionID, ok := pathID(w, r, "divisionID")
	if !ok {
		return
	}
	roomID, err := uuid.Parse(r.URL.Query().Get("room_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room_id"})
		return
	}
	snap, err := h.schedule.DivisionSnapshot(r.Context(), divisionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, display.Judge(*snap, roomID, h.clock.Now()))
}

func (h *APIHandler) queuerDisplay(w http.ResponseWriter, r *http.Request) {
	divisionID, ok := pathID(w, r, "divisionID")
	if !ok {
		return
	}
	snap, err := h.schedule.DivisionSnapshot(r.Context(), divisionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, display.Queuer(*snap))
}

// timerPosition is the wire shape for timer reads. Durations go out as
// whole seconds, matching start_delta everywhere else on the wire.
type timerPosition struct {
	Index                 int    `json:"index"`
	Stage                 string `json:"stage"`
	StageSeconds          int64  `json:"stage_seconds"`
	RemainingSeconds      int64  `json:"remaining_seconds"`
	TotalRemainingSeconds int64  `json:"total_remaining_seconds"`
	Finished              bool   `json:"finished"`
}

func toTimerPosition(p timer.Position) timerPosition {
	return timerPosition{
		Index:                 p.Index,
		Stage:                 p.Stage.ID,
		StageSeconds:          int64(p.Stage.Duration / time.Second),
		RemainingSeconds:      int64(p.Remaining / time.Second),
		TotalRemainingSeconds: int64(p.TotalRemaining / time.Second),
		Finished:              p.Finished,
	}
}

// matchTimer reports the countdown position for a running match,
// recomputed from the recorded start time on every request.
func (h *APIHandler) matchTimer(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchID")
	if !ok {
		return
	}
	st, err := h.live.GetMatchState(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return
	}
	if st.Status != models.StatusInProgress || st.StartTime == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "match is not running"})
		return
	}
	writeJSON(w, http.StatusOK, toTimerPosition(timer.MatchSchedule(h.matchLen).At(h.clock.Now(), *st.StartTime)))
}

// sessionTimer reports the staged position for a running judging
// session.
func (h *APIHandler) sessionTimer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	st, err := h.live.GetSessionState(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if st.Status != models.StatusInProgress || st.StartTime == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session is not running"})
		return
	}
	writeJSON(w, http.StatusOK, toTimerPosition(timer.JudgingSchedule(h.sessionLen).At(h.clock.Now(), *st.StartTime)))
}

func (h *APIHandler) getMatchState(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchID")
	if !ok {
		return
	}
	st, err := h.live.GetMatchState(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) getSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	st, err := h.live.GetSessionState(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func pathIDs(w http.ResponseWriter, r *http.Request, first, second string) (uuid.UUID, uuid.UUID, bool) {
	a, ok := pathID(w, r, first)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	b, ok := pathID(w, r, second)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return a, b, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, livestate.ErrNotFound), errors.Is(err, schedule.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, livestate.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case livestate.IsInvalidTransition(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// Package httpapi exposes the award, event and ranking operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/courserank/ranking-engine/internal/award"
	"github.com/courserank/ranking-engine/internal/events"
	"github.com/courserank/ranking-engine/internal/leaderboard"
	"github.com/courserank/ranking-engine/internal/model"
	"github.com/courserank/ranking-engine/internal/snapshot"
	"github.com/courserank/ranking-engine/internal/store"
)

// EventHandler processes LMS events.
type EventHandler interface {
	Handle(ctx context.Context, ev events.Event) (*events.Outcome, error)
}

// Records mirrors LMS-owned records.
type Records interface {
	PutCompletion(ctx context.Context, c *model.Completion) error
	AddGroupMember(ctx context.Context, groupID, userID int64) error
}

// Refresher rebuilds ranking snapshots on demand.
type Refresher interface {
	RefreshAll(ctx context.Context) (*snapshot.Summary, error)
}

// Handler serves the /api/v1 routes.
type Handler struct {
	events    EventHandler
	awarder   events.Awarder
	records   Records
	board     *leaderboard.Service
	refresher Refresher
	validate  *validator.Validate
}

// NewHandler wires the HTTP handlers.
func NewHandler(ev EventHandler, awarder events.Awarder, records Records, board *leaderboard.Service, refresher Refresher) *Handler {
	return &Handler{
		events:    ev,
		awarder:   awarder,
		records:   records,
		board:     board,
		refresher: refresher,
		validate:  validator.New(),
	}
}

// Routes registers every route on r. Mount it under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/events/activity-completed", h.ActivityCompleted)
	r.Post("/events/quiz-submitted", h.QuizSubmitted)
	r.Post("/awards", h.Award)

	r.Put("/completions/{completionID}", h.PutCompletion)
	r.Put("/groups/{groupID}/members/{userID}", h.AddGroupMember)

	r.Route("/courses/{courseID}", func(r chi.Router) {
		r.Get("/ranking", h.GetRanking)
		r.Get("/users/{userID}/position", h.GetUserPosition)
		r.Get("/users/{userID}/history", h.GetUserHistory)
		r.Get("/evolution", h.GetEvolution)
		r.Post("/cache/invalidate", h.InvalidateCache)
		r.Delete("/data", h.DeleteCourseData)
	})

	r.Get("/users/{userID}/export", h.ExportUser)
	r.Delete("/users/{userID}/data", h.DeleteUserData)

	r.Post("/admin/snapshot/refresh", h.RefreshSnapshots)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeValidationError reports each failing field with the rule it broke.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, award.ErrInvalidCompletion), errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicateAward):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, events.ErrCompletionMismatch):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, leaderboard.ErrInvalidWindow), errors.Is(err, leaderboard.ErrUnknownPeriod):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// pathID parses a positive integer URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
